// Package service implements the carbon ledger's write and verification
// paths: record construction, signing, and single-record and chain
// verification on top of a ledger.Store.
package service

import (
	"context"
	"time"

	"github.com/jmerrifield20/CarbonLedger/internal/carbon/ledger"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/jmerrifield20/CarbonLedger/internal/carbon/service")

// KeyManager signs digests with a carrier's active key and verifies
// signatures by key id. Verify must reject a key that is not held by
// carrierID with model.ErrSignerMismatch. *keys.Manager satisfies this
// interface.
type KeyManager interface {
	Sign(ctx context.Context, carrierID string, msg []byte) (sig []byte, keyID string, err error)
	Verify(ctx context.Context, carrierID, keyID string, msg, sig []byte) (bool, error)
}

// Metrics receives ledger events. *handler.MetricsRecorder satisfies it.
type Metrics interface {
	RecordCreated(source model.Source)
	RecordSigned()
	ChainConflict()
	Verification(kind string, valid bool)
}

type noopMetrics struct{}

func (noopMetrics) RecordCreated(model.Source) {}
func (noopMetrics) RecordSigned()              {}
func (noopMetrics) ChainConflict()             {}
func (noopMetrics) Verification(string, bool)  {}

// Config tunes retry and concurrency behaviour.
type Config struct {
	// MaxAppendAttempts bounds how often a create is retried after a chain conflict.
	MaxAppendAttempts int
	// RetryBackoff is the initial wait between attempts; it doubles each retry.
	RetryBackoff time.Duration
	// VerifyWorkers bounds concurrent verifications in BatchVerify.
	VerifyWorkers int
	// ChainWalkTimeout caps a single VerifyChain call; 0 disables the cap.
	ChainWalkTimeout time.Duration
}

// DefaultConfig returns the settings used when none are supplied.
func DefaultConfig() Config {
	return Config{
		MaxAppendAttempts: 5,
		RetryBackoff:      10 * time.Millisecond,
		VerifyWorkers:     8,
		ChainWalkTimeout:  30 * time.Second,
	}
}

// LedgerService contains the business logic of the carbon record ledger.
type LedgerService struct {
	store   ledger.Store
	keys    KeyManager // nil = signing disabled
	locks   *carrierLocks
	cfg     Config
	metrics Metrics
	now     func() time.Time
	logger  *zap.Logger
}

// NewLedgerService creates a LedgerService. keys may be nil to disable signing;
// signatures on stored records then verify as invalid.
func NewLedgerService(store ledger.Store, keys KeyManager, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		store:   store,
		keys:    keys,
		locks:   newCarrierLocks(),
		cfg:     DefaultConfig(),
		metrics: noopMetrics{},
		now:     time.Now,
		logger:  logger,
	}
}

// SetConfig replaces the service configuration. Zero fields keep their defaults.
func (s *LedgerService) SetConfig(cfg Config) {
	def := DefaultConfig()
	if cfg.MaxAppendAttempts <= 0 {
		cfg.MaxAppendAttempts = def.MaxAppendAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.VerifyWorkers <= 0 {
		cfg.VerifyWorkers = def.VerifyWorkers
	}
	s.cfg = cfg
}

// SetMetrics configures the metrics sink.
func (s *LedgerService) SetMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	s.metrics = m
}

// SetClock replaces the time source, mainly for tests.
func (s *LedgerService) SetClock(now func() time.Time) {
	s.now = now
}

// Store exposes the underlying record store for read-only collaborators.
func (s *LedgerService) Store() ledger.Store {
	return s.store
}

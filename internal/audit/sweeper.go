// Package audit periodically re-verifies every carrier chain in the ledger
// so tampering is noticed even when nobody asks for a verification.
package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
	"go.uber.org/zap"
)

// Config holds sweeper configuration.
type Config struct {
	Interval    time.Duration
	Concurrency int
}

// CarrierLister returns every carrier owning records. ledger.Store satisfies it.
type CarrierLister interface {
	Carriers(ctx context.Context) ([]string, error)
}

// ChainVerifier verifies a carrier's chain. *service.LedgerService satisfies it.
type ChainVerifier interface {
	VerifyChain(ctx context.Context, carrierID string) (*model.ChainVerificationResult, error)
}

// AlertFunc is an optional callback invoked when a chain turns broken.
type AlertFunc func(ctx context.Context, res *model.ChainVerificationResult)

// MetricsRecordFunc is an optional callback for recording sweep results.
type MetricsRecordFunc func(valid bool)

// ChainStatus is the last known state of a carrier chain.
type ChainStatus struct {
	CarrierID       string     `json:"carrier_id"`
	Valid           bool       `json:"valid"`
	TotalRecords    int        `json:"total_records"`
	VerifiedRecords int        `json:"verified_records"`
	BrokenAt        *uuid.UUID `json:"broken_at,omitempty"`
	CheckedAt       time.Time  `json:"checked_at"`
	Error           string     `json:"error,omitempty"`
}

// SweepReport summarises one pass over all carriers.
type SweepReport struct {
	Carriers int       `json:"carriers"`
	Valid    int       `json:"valid"`
	Broken   []string  `json:"broken"`
	Failed   int       `json:"failed"`
	Started  time.Time `json:"started"`
	Duration string    `json:"duration"`
}

// Sweeper runs periodic chain verification.
type Sweeper struct {
	lister    CarrierLister
	verifier  ChainVerifier
	cfg       Config
	mu        sync.Mutex
	status    map[string]*ChainStatus
	last      *SweepReport
	onAlert   AlertFunc
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a new Sweeper.
func New(lister CarrierLister, verifier ChainVerifier, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	return &Sweeper{
		lister:   lister,
		verifier: verifier,
		cfg:      cfg,
		status:   make(map[string]*ChainStatus),
		logger:   logger,
	}
}

// SetAlert configures the broken-chain callback.
func (s *Sweeper) SetAlert(fn AlertFunc) {
	s.onAlert = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (s *Sweeper) SetMetricsRecord(fn MetricsRecordFunc) {
	s.onMetrics = fn
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, s.cfg.Interval)
			s.SweepAll(sweepCtx)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// SweepAll verifies every carrier chain with bounded concurrency.
func (s *Sweeper) SweepAll(ctx context.Context) *SweepReport {
	started := time.Now().UTC()
	report := &SweepReport{Started: started, Broken: []string{}}

	carriers, err := s.lister.Carriers(ctx)
	if err != nil {
		s.logger.Error("audit: list carriers", zap.Error(err))
		report.Duration = time.Since(started).String()
		return report
	}
	report.Carriers = len(carriers)

	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, c := range carriers {
		wg.Add(1)
		go func(carrierID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := s.verifier.VerifyChain(ctx, carrierID)
			now := time.Now().UTC()

			s.mu.Lock()
			prev := s.status[carrierID]
			if err != nil {
				report.Failed++
				st := &ChainStatus{CarrierID: carrierID, CheckedAt: now, Error: err.Error()}
				if prev != nil {
					st.Valid = prev.Valid
				}
				s.status[carrierID] = st
				s.mu.Unlock()
				s.logger.Warn("audit: verify chain", zap.String("carrier_id", carrierID), zap.Error(err))
				return
			}
			s.status[carrierID] = &ChainStatus{
				CarrierID:       carrierID,
				Valid:           res.Valid,
				TotalRecords:    res.TotalRecords,
				VerifiedRecords: res.VerifiedRecords,
				BrokenAt:        res.BrokenAt,
				CheckedAt:       now,
			}
			if res.Valid {
				report.Valid++
			} else {
				report.Broken = append(report.Broken, carrierID)
			}
			s.mu.Unlock()

			if s.onMetrics != nil {
				s.onMetrics(res.Valid)
			}

			wasValid := prev == nil || prev.Valid
			if !res.Valid && wasValid {
				// Transition: valid → broken
				s.logger.Error("audit: chain broken",
					zap.String("carrier_id", carrierID),
					zap.Stringer("broken_at", res.BrokenAt),
					zap.Int("verified", res.VerifiedRecords),
				)
				if s.onAlert != nil {
					s.onAlert(ctx, res)
				}
			} else if res.Valid && !wasValid {
				s.logger.Info("audit: chain valid again", zap.String("carrier_id", carrierID))
			}
		}(c)
	}

	wg.Wait()
	sort.Strings(report.Broken)

	report.Duration = time.Since(started).String()
	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	s.logger.Info("audit: sweep finished",
		zap.Int("carriers", report.Carriers),
		zap.Int("broken", len(report.Broken)),
		zap.Int("failed", report.Failed),
		zap.String("duration", report.Duration),
	)
	return report
}

// Status returns the last known state of every swept carrier and the most
// recent sweep report, which is nil before the first sweep.
func (s *Sweeper) Status() ([]ChainStatus, *SweepReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChainStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CarrierID < out[j].CarrierID })
	var last *SweepReport
	if s.last != nil {
		cp := *s.last
		cp.Broken = append([]string(nil), s.last.Broken...)
		last = &cp
	}
	return out, last
}

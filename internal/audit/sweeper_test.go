package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
	"go.uber.org/zap"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type stubLister struct {
	carriers []string
	err      error
}

func (s *stubLister) Carriers(_ context.Context) ([]string, error) {
	return s.carriers, s.err
}

type stubVerifier struct {
	mu     sync.Mutex
	broken map[string]bool
	fail   map[string]bool
	calls  int
}

func (s *stubVerifier) VerifyChain(_ context.Context, carrierID string) (*model.ChainVerificationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail[carrierID] {
		return nil, errors.New("database unavailable")
	}
	res := &model.ChainVerificationResult{CarrierID: carrierID, Valid: true, TotalRecords: 3, VerifiedRecords: 3}
	if s.broken[carrierID] {
		id := uuid.New()
		res.Valid = false
		res.VerifiedRecords = 1
		res.BrokenAt = &id
	}
	return res, nil
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestSweepAll_reportsBrokenChains(t *testing.T) {
	lister := &stubLister{carriers: []string{"c", "a", "b"}}
	verifier := &stubVerifier{broken: map[string]bool{"b": true}}
	s := New(lister, verifier, Config{Concurrency: 2}, zap.NewNop())

	var (
		mu      sync.Mutex
		alerts  []string
		results []bool
	)
	s.SetAlert(func(_ context.Context, res *model.ChainVerificationResult) {
		mu.Lock()
		alerts = append(alerts, res.CarrierID)
		mu.Unlock()
	})
	s.SetMetricsRecord(func(valid bool) {
		mu.Lock()
		results = append(results, valid)
		mu.Unlock()
	})

	rep := s.SweepAll(context.Background())
	if rep.Carriers != 3 || rep.Valid != 2 || len(rep.Broken) != 1 || rep.Broken[0] != "b" {
		t.Errorf("report = %+v", rep)
	}
	if len(alerts) != 1 || alerts[0] != "b" {
		t.Errorf("alerts = %v, want [b]", alerts)
	}
	if len(results) != 3 {
		t.Errorf("metrics calls = %d, want 3", len(results))
	}

	status, last := s.Status()
	if len(status) != 3 || status[0].CarrierID != "a" || status[1].Valid {
		t.Errorf("status = %+v", status)
	}
	if last == nil || last.Carriers != 3 {
		t.Errorf("last report = %+v", last)
	}
}

func TestSweepAll_alertsOnlyOnTransition(t *testing.T) {
	verifier := &stubVerifier{broken: map[string]bool{"a": true}}
	s := New(&stubLister{carriers: []string{"a"}}, verifier, Config{}, zap.NewNop())

	alerts := 0
	s.SetAlert(func(context.Context, *model.ChainVerificationResult) { alerts++ })

	for i := 0; i < 3; i++ {
		s.SweepAll(context.Background())
	}
	if alerts != 1 {
		t.Errorf("alerts = %d, want 1 for a chain that stays broken", alerts)
	}
}

func TestSweepAll_verifierError(t *testing.T) {
	verifier := &stubVerifier{fail: map[string]bool{"a": true}}
	s := New(&stubLister{carriers: []string{"a", "b"}}, verifier, Config{}, zap.NewNop())

	rep := s.SweepAll(context.Background())
	if rep.Failed != 1 || rep.Valid != 1 {
		t.Errorf("report = %+v", rep)
	}
	status, _ := s.Status()
	if status[0].Error == "" {
		t.Errorf("status for failing carrier should carry the error: %+v", status[0])
	}
}

func TestSweepAll_listError(t *testing.T) {
	verifier := &stubVerifier{}
	s := New(&stubLister{err: errors.New("boom")}, verifier, Config{}, zap.NewNop())

	rep := s.SweepAll(context.Background())
	if rep.Carriers != 0 || verifier.calls != 0 {
		t.Errorf("report = %+v, calls = %d", rep, verifier.calls)
	}
}

func TestNew_defaults(t *testing.T) {
	s := New(nil, nil, Config{}, zap.NewNop())
	if s.cfg.Interval == 0 || s.cfg.Concurrency == 0 {
		t.Errorf("defaults not applied: %+v", s.cfg)
	}
	if _, last := s.Status(); last != nil {
		t.Error("no sweep has run yet")
	}
}

func TestStart_sweepsUntilCancelled(t *testing.T) {
	verifier := &stubVerifier{}
	s := New(&stubLister{carriers: []string{"a"}}, verifier, Config{Interval: 5 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, last := s.Status(); last != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no sweep ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

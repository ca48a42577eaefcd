package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
// Records live in one contiguous log; carriers and orders index into it.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryStore struct {
	mu        sync.RWMutex
	records   []*model.CarbonRecord
	byID      map[uuid.UUID]int
	byCarrier map[string][]int
	byOrder   map[string][]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[uuid.UUID]int),
		byCarrier: make(map[string][]int),
		byOrder:   make(map[string][]int),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, rec *model.CarbonRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.byCarrier[rec.CarrierID]
	var tipHash *string
	if len(chain) > 0 {
		tipHash = &s.records[chain[len(chain)-1]].RecordHash
	}
	if rec.Sequence != int64(len(chain))+1 || !sameHash(tipHash, rec.PrevRecordHash) {
		return fmt.Errorf("append record seq %d for carrier %q: %w", rec.Sequence, rec.CarrierID, model.ErrChainConflict)
	}
	if _, dup := s.byID[rec.ID]; dup {
		return fmt.Errorf("append record %s: duplicate id", rec.ID)
	}

	pos := len(s.records)
	s.records = append(s.records, rec.Clone())
	s.byID[rec.ID] = pos
	s.byCarrier[rec.CarrierID] = append(chain, pos)
	if rec.OrderID != "" {
		s.byOrder[rec.OrderID] = append(s.byOrder[rec.OrderID], pos)
	}
	return nil
}

// Tip implements Store.
func (s *MemoryStore) Tip(_ context.Context, carrierID string) (*model.CarbonRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.byCarrier[carrierID]
	if len(chain) == 0 {
		return nil, nil
	}
	return s.records[chain[len(chain)-1]].Clone(), nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*model.CarbonRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, model.ErrNotFound)
	}
	return s.records[pos].Clone(), nil
}

// GetBySequence implements Store.
func (s *MemoryStore) GetBySequence(_ context.Context, carrierID string, seq int64) (*model.CarbonRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.byCarrier[carrierID]
	if seq < 1 || seq > int64(len(chain)) {
		return nil, fmt.Errorf("carrier %q seq %d: %w", carrierID, seq, model.ErrNotFound)
	}
	return s.records[chain[seq-1]].Clone(), nil
}

// Len implements Store.
func (s *MemoryStore) Len(_ context.Context, carrierID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byCarrier[carrierID]), nil
}

// Walk implements Store. The chain is copied under the read lock, so fn runs
// without holding it and writers are never blocked by a long walk.
func (s *MemoryStore) Walk(ctx context.Context, carrierID string, fn func(*model.CarbonRecord) error) error {
	s.mu.RLock()
	chain := s.byCarrier[carrierID]
	snapshot := make([]*model.CarbonRecord, len(chain))
	for i, pos := range chain {
		snapshot[i] = s.records[pos].Clone()
	}
	s.mu.RUnlock()

	for _, r := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// ListByCarrier implements Store.
func (s *MemoryStore) ListByCarrier(_ context.Context, carrierID string, limit, offset int) ([]*model.CarbonRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.byCarrier[carrierID]
	out := make([]*model.CarbonRecord, 0, limit)
	for i := len(chain) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[chain[i]].Clone())
	}
	return out, nil
}

// ListByOrder implements Store.
func (s *MemoryStore) ListByOrder(_ context.Context, orderID string) ([]*model.CarbonRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byOrder[orderID]
	out := make([]*model.CarbonRecord, 0, len(idx))
	for _, pos := range idx {
		out = append(out, s.records[pos].Clone())
	}
	return out, nil
}

// Query implements Store.
func (s *MemoryStore) Query(ctx context.Context, f Filter, limit int) ([]*model.CarbonRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.records
	if f.CarrierID != "" {
		candidates = s.pick(s.byCarrier[f.CarrierID])
	} else if f.OrderID != "" {
		candidates = s.pick(s.byOrder[f.OrderID])
	}

	var out []*model.CarbonRecord
	for _, r := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !f.Match(r) {
			continue
		}
		out = append(out, r.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) pick(positions []int) []*model.CarbonRecord {
	out := make([]*model.CarbonRecord, len(positions))
	for i, pos := range positions {
		out[i] = s.records[pos]
	}
	return out
}

// Carriers implements Store.
func (s *MemoryStore) Carriers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byCarrier))
	for c := range s.byCarrier {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// SetSignature implements Store.
func (s *MemoryStore) SetSignature(_ context.Context, id uuid.UUID, signature, keyID string, signedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("record %s: %w", id, model.ErrNotFound)
	}
	r := s.records[pos]
	if r.IsSigned() {
		return fmt.Errorf("record %s: %w", id, model.ErrAlreadySigned)
	}
	r.Signature = signature
	r.SignerKeyID = keyID
	t := Timestamp(signedAt)
	r.SignedAt = &t
	return nil
}

// AppendCustody implements Store.
func (s *MemoryStore) AppendCustody(_ context.Context, id uuid.UUID, entry model.CustodyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("record %s: %w", id, model.ErrNotFound)
	}
	entry.Timestamp = Timestamp(entry.Timestamp)
	s.records[pos].ChainOfCustody = append(s.records[pos].ChainOfCustody, entry)
	return nil
}

func sameHash(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

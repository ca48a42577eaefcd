package keys

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
)

// MemoryKeyStore is an in-memory, thread-safe KeyStore.
type MemoryKeyStore struct {
	mu        sync.RWMutex
	keys      map[string]*StoredKey
	byCarrier map[string][]string
}

// NewMemoryKeyStore creates an empty MemoryKeyStore.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{
		keys:      make(map[string]*StoredKey),
		byCarrier: make(map[string][]string),
	}
}

// Activate implements KeyStore.
func (s *MemoryKeyStore) Activate(_ context.Context, key *StoredKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.keys[key.KeyID]; dup {
		return fmt.Errorf("key %s already exists", key.KeyID)
	}
	now := time.Now().UTC()
	for _, id := range s.byCarrier[key.CarrierID] {
		if k := s.keys[id]; k.Active {
			k.Active = false
			k.RetiredAt = &now
		}
	}
	cp := *key
	cp.Active = true
	s.keys[key.KeyID] = &cp
	s.byCarrier[key.CarrierID] = append(s.byCarrier[key.CarrierID], key.KeyID)
	return nil
}

// Active implements KeyStore.
func (s *MemoryKeyStore) Active(_ context.Context, carrierID string) (*StoredKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.byCarrier[carrierID] {
		if k := s.keys[id]; k.Active {
			cp := *k
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("carrier %q: %w", carrierID, model.ErrNoActiveKey)
}

// Get implements KeyStore.
func (s *MemoryKeyStore) Get(_ context.Context, keyID string) (*StoredKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("key %s: %w", keyID, model.ErrNotFound)
	}
	cp := *k
	return &cp, nil
}

// List implements KeyStore.
func (s *MemoryKeyStore) List(_ context.Context, carrierID string) ([]*StoredKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byCarrier[carrierID]
	out := make([]*StoredKey, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		cp := *s.keys[ids[i]]
		out = append(out, &cp)
	}
	return out, nil
}

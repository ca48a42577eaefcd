// Package keys manages per-carrier Ed25519 signing keys.
//
// Private keys are sealed with a symmetric key derived from a master secret
// before they reach a KeyStore, and only the Manager ever unseals them to
// produce signatures. A carrier may own many keys over time; exactly one is
// active for new signatures, and retired keys stay available for verification.
package keys

import (
	"context"
	"crypto/ed25519"
	"time"
)

// Algorithm is the only signature scheme issued by the Manager.
const Algorithm = "Ed25519"

// KeyPair is the public view of a signing key. PrivateKey is populated only
// in the response to GenerateKeyPair and is never retrievable afterwards.
type KeyPair struct {
	KeyID      string     `json:"key_id"`
	CarrierID  string     `json:"carrier_id"`
	Algorithm  string     `json:"algorithm"`
	PublicKey  string     `json:"public_key"`
	PrivateKey string     `json:"private_key,omitempty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	RetiredAt  *time.Time `json:"retired_at,omitempty"`
}

// StoredKey is the persisted form of a signing key.
type StoredKey struct {
	KeyID            string
	CarrierID        string
	Algorithm        string
	PublicKey        ed25519.PublicKey
	SealedPrivateKey []byte
	Active           bool
	CreatedAt        time.Time
	RetiredAt        *time.Time
}

// KeyStore persists signing keys. Implementations must make Activate atomic:
// after it returns, key is the carrier's only active key.
type KeyStore interface {
	// Activate stores key as the carrier's active key and retires the
	// previously active one.
	Activate(ctx context.Context, key *StoredKey) error

	// Active returns the carrier's active key or model.ErrNoActiveKey.
	Active(ctx context.Context, carrierID string) (*StoredKey, error)

	// Get returns a key by id or model.ErrNotFound.
	Get(ctx context.Context, keyID string) (*StoredKey, error)

	// List returns every key of a carrier, newest first.
	List(ctx context.Context, carrierID string) ([]*StoredKey, error)
}

package keys

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
	"go.uber.org/zap"
)

// Manager generates carrier keypairs and signs with the carrier's active key.
type Manager struct {
	store   KeyStore
	sealer  *Sealer
	entropy io.Reader
	logger  *zap.Logger
}

// NewManager creates a Manager over store. Private keys are sealed with sealer.
func NewManager(store KeyStore, sealer *Sealer, logger *zap.Logger) *Manager {
	return &Manager{
		store:   store,
		sealer:  sealer,
		entropy: rand.Reader,
		logger:  logger,
	}
}

// SetEntropySource replaces the randomness used for keys and nonces.
func (m *Manager) SetEntropySource(r io.Reader) {
	m.entropy = r
}

// GenerateKeyPair creates a new Ed25519 keypair for carrierID and makes it
// the carrier's active key. The returned KeyPair is the only place the
// private key is ever exposed.
func (m *Manager) GenerateKeyPair(ctx context.Context, carrierID string) (*KeyPair, error) {
	if strings.TrimSpace(carrierID) == "" {
		return nil, model.NewValidationError("carrier_id", "is required")
	}

	pub, priv, err := ed25519.GenerateKey(m.entropy)
	if err != nil {
		return nil, fmt.Errorf("%w: generate ed25519 key: %v", model.ErrKeyGeneration, err)
	}
	sealed, err := m.sealer.Seal(m.entropy, priv.Seed())
	if err != nil {
		return nil, fmt.Errorf("%w: seal private key: %v", model.ErrKeyGeneration, err)
	}

	sk := &StoredKey{
		KeyID:            KeyID(pub),
		CarrierID:        carrierID,
		Algorithm:        Algorithm,
		PublicKey:        pub,
		SealedPrivateKey: sealed,
		Active:           true,
		CreatedAt:        time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := m.store.Activate(ctx, sk); err != nil {
		return nil, fmt.Errorf("%w: store key: %v", model.ErrKeyGeneration, err)
	}

	m.logger.Info("signing key generated",
		zap.String("carrier_id", carrierID),
		zap.String("key_id", sk.KeyID),
	)

	kp := toKeyPair(sk)
	kp.PrivateKey = base64.StdEncoding.EncodeToString(priv)
	return kp, nil
}

// ListKeys returns the public view of every key a carrier has held.
func (m *Manager) ListKeys(ctx context.Context, carrierID string) ([]*KeyPair, error) {
	stored, err := m.store.List(ctx, carrierID)
	if err != nil {
		return nil, err
	}
	out := make([]*KeyPair, 0, len(stored))
	for _, sk := range stored {
		out = append(out, toKeyPair(sk))
	}
	return out, nil
}

// PublicKey returns the public half of keyID, active or retired.
func (m *Manager) PublicKey(ctx context.Context, keyID string) (ed25519.PublicKey, error) {
	sk, err := m.store.Get(ctx, keyID)
	if err != nil {
		return nil, err
	}
	return sk.PublicKey, nil
}

// Sign signs msg with the carrier's active key and reports which key was used.
func (m *Manager) Sign(ctx context.Context, carrierID string, msg []byte) ([]byte, string, error) {
	sk, err := m.store.Active(ctx, carrierID)
	if err != nil {
		return nil, "", err
	}
	seed, err := m.sealer.Open(sk.SealedPrivateKey)
	if err != nil {
		return nil, "", fmt.Errorf("unseal key %s: %w", sk.KeyID, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, "", fmt.Errorf("unseal key %s: unexpected seed length %d", sk.KeyID, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return ed25519.Sign(priv, msg), sk.KeyID, nil
}

// Verify checks sig over msg with keyID's public key, which must belong to
// carrierID. An unknown key returns model.ErrNotFound, a key owned by another
// carrier returns model.ErrSignerMismatch, and a bad signature returns
// (false, nil).
func (m *Manager) Verify(ctx context.Context, carrierID, keyID string, msg, sig []byte) (bool, error) {
	sk, err := m.store.Get(ctx, keyID)
	if err != nil {
		return false, err
	}
	if sk.CarrierID != carrierID {
		return false, fmt.Errorf("key %s is held by %s, not %s: %w", keyID, sk.CarrierID, carrierID, model.ErrSignerMismatch)
	}
	if len(sk.PublicKey) != ed25519.PublicKeySize {
		return false, errors.New("stored public key has wrong length")
	}
	return ed25519.Verify(sk.PublicKey, msg, sig), nil
}

// KeyID derives a stable identifier from a public key fingerprint.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "ed25519:" + hex.EncodeToString(sum[:12])
}

func toKeyPair(sk *StoredKey) *KeyPair {
	return &KeyPair{
		KeyID:     sk.KeyID,
		CarrierID: sk.CarrierID,
		Algorithm: sk.Algorithm,
		PublicKey: base64.StdEncoding.EncodeToString(sk.PublicKey),
		Active:    sk.Active,
		CreatedAt: sk.CreatedAt,
		RetiredAt: sk.RetiredAt,
	}
}

package keys

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	nonceSize   = 24
	sealingInfo = "carbon-ledger/signing-key-seal/v1"
)

// Sealer encrypts private keys at rest with NaCl secretbox.
type Sealer struct {
	key [32]byte
}

// NewSealer derives the sealing key from masterSecret with HKDF-SHA256.
func NewSealer(masterSecret []byte) (*Sealer, error) {
	if len(masterSecret) < 16 {
		return nil, errors.New("master secret must be at least 16 bytes")
	}
	s := &Sealer{}
	r := hkdf.New(sha256.New, masterSecret, nil, []byte(sealingInfo))
	if _, err := io.ReadFull(r, s.key[:]); err != nil {
		return nil, fmt.Errorf("derive sealing key: %w", err)
	}
	return s, nil
}

// Seal encrypts plaintext with a fresh nonce read from rand. The nonce is
// prepended to the ciphertext.
func (s *Sealer) Seal(rand io.Reader, plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand, nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, errors.New("sealed key too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, errors.New("sealed key failed authentication")
	}
	return out, nil
}

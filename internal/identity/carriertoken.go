// Package identity authenticates API callers. Carriers present short-lived
// EdDSA bearer tokens issued by the ledger in exchange for the admin secret.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// Token roles.
const (
	RoleCarrier = "carrier"
	RoleAdmin   = "admin"
)

// CarrierClaims are the JWT claims of a carrier bearer token.
type CarrierClaims struct {
	jwt.RegisteredClaims
	CarrierID string `json:"carrier_id"`
	Role      string `json:"role"` // "carrier" or "admin"
}

// CarrierTokenIssuer issues and verifies carrier tokens signed with Ed25519.
type CarrierTokenIssuer struct {
	key    ed25519.PrivateKey
	pub    ed25519.PublicKey
	issuer string
	ttl    time.Duration
}

// NewCarrierTokenIssuer creates a CarrierTokenIssuer.
//
//	issuer: the "iss" claim value; typically the ledger's base URL.
//	ttl:    token lifetime (default: 12 hours).
func NewCarrierTokenIssuer(key ed25519.PrivateKey, issuer string, ttl time.Duration) *CarrierTokenIssuer {
	if ttl == 0 {
		ttl = 12 * time.Hour
	}
	return &CarrierTokenIssuer{
		key:    key,
		pub:    key.Public().(ed25519.PublicKey),
		issuer: issuer,
		ttl:    ttl,
	}
}

// DeriveTokenKey derives the token signing key from a master secret, so a
// restarted ledger keeps accepting tokens it issued earlier.
func DeriveTokenKey(secret []byte) (ed25519.PrivateKey, error) {
	if len(secret) < 16 {
		return nil, errors.New("token secret must be at least 16 bytes")
	}
	seed := make([]byte, ed25519.SeedSize)
	r := hkdf.New(sha256.New, secret, nil, []byte("carbon-ledger/carrier-token/v1"))
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Issue creates a signed token for carrierID.
func (t *CarrierTokenIssuer) Issue(carrierID string) (string, error) {
	if carrierID == "" {
		return "", errors.New("carrier id is required")
	}
	return t.sign(carrierID, RoleCarrier, t.ttl)
}

// IssueAdmin creates a signed admin token.
func (t *CarrierTokenIssuer) IssueAdmin(ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = time.Hour
	}
	return t.sign("", RoleAdmin, ttl)
}

func (t *CarrierTokenIssuer) sign(carrierID, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	subject := carrierID
	if role == RoleAdmin {
		subject = RoleAdmin
	}
	claims := CarrierClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		CarrierID: carrierID,
		Role:      role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", role, err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (t *CarrierTokenIssuer) Verify(tokenStr string) (*CarrierClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&CarrierClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.pub, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify carrier token: %w", err)
	}
	claims, ok := token.Claims.(*CarrierClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid carrier token claims")
	}
	switch claims.Role {
	case RoleCarrier:
		if claims.CarrierID == "" {
			return nil, errors.New("carrier token without carrier id")
		}
	case RoleAdmin:
	default:
		return nil, fmt.Errorf("unknown token role %q", claims.Role)
	}
	return claims, nil
}

// TTL returns the default carrier token lifetime.
func (t *CarrierTokenIssuer) TTL() time.Duration { return t.ttl }

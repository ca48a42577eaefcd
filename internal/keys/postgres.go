package keys

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
)

const keyColumns = `key_id, carrier_id, algorithm, public_key, sealed_private_key, active, created_at, retired_at`

// PostgresKeyStore persists sealed signing keys to PostgreSQL.
type PostgresKeyStore struct {
	db *pgxpool.Pool
}

// NewPostgresKeyStore creates a PostgresKeyStore.
func NewPostgresKeyStore(db *pgxpool.Pool) *PostgresKeyStore {
	return &PostgresKeyStore{db: db}
}

// Activate implements KeyStore. Retiring the old key and inserting the new
// one happen in one transaction; the partial unique index on active keys
// rejects a concurrent activation for the same carrier.
func (s *PostgresKeyStore) Activate(ctx context.Context, key *StoredKey) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`UPDATE signing_keys SET active = false, retired_at = now()
		 WHERE carrier_id = $1 AND active`, key.CarrierID,
	); err != nil {
		return fmt.Errorf("retire active key: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO signing_keys (`+keyColumns+`) VALUES ($1, $2, $3, $4, $5, true, $6, NULL)`,
		key.KeyID, key.CarrierID, key.Algorithm, []byte(key.PublicKey), key.SealedPrivateKey, key.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit key: %w", err)
	}
	return nil
}

// Active implements KeyStore.
func (s *PostgresKeyStore) Active(ctx context.Context, carrierID string) (*StoredKey, error) {
	k, err := s.scanOne(ctx,
		`SELECT `+keyColumns+` FROM signing_keys WHERE carrier_id = $1 AND active`, carrierID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("carrier %q: %w", carrierID, model.ErrNoActiveKey)
	}
	return k, err
}

// Get implements KeyStore.
func (s *PostgresKeyStore) Get(ctx context.Context, keyID string) (*StoredKey, error) {
	k, err := s.scanOne(ctx, `SELECT `+keyColumns+` FROM signing_keys WHERE key_id = $1`, keyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("key %s: %w", keyID, model.ErrNotFound)
	}
	return k, err
}

// List implements KeyStore.
func (s *PostgresKeyStore) List(ctx context.Context, carrierID string) ([]*StoredKey, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+keyColumns+` FROM signing_keys WHERE carrier_id = $1 ORDER BY created_at DESC`, carrierID)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var out []*StoredKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *PostgresKeyStore) scanOne(ctx context.Context, query string, args ...any) (*StoredKey, error) {
	return scanKey(s.db.QueryRow(ctx, query, args...))
}

func scanKey(row pgx.Row) (*StoredKey, error) {
	var (
		k   StoredKey
		pub []byte
	)
	if err := row.Scan(&k.KeyID, &k.CarrierID, &k.Algorithm, &pub, &k.SealedPrivateKey,
		&k.Active, &k.CreatedAt, &k.RetiredAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan key: %w", err)
	}
	k.PublicKey = pub
	return &k, nil
}

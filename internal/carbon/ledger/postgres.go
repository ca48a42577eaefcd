package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
	"go.uber.org/zap"
)

const recordColumns = `id, carrier_id, seq, order_id, fleet_id,
	distance_km, cargo_weight_tonnes, fuel_consumed_liters, fuel_type,
	ttw_emissions_grams, wtt_emissions_grams, total_emissions_grams, emission_intensity,
	grade, source, record_hash, prev_record_hash,
	signature, signer_key_id, signed_at,
	source_system, source_timestamp, external_ref_id, chain_of_custody, created_at`

// PostgresStore persists carbon record chains to PostgreSQL.
// It implements the Store interface.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Append implements Store.
// A transaction-scoped advisory lock keyed by the carrier serialises writers
// of the same chain across processes; different carriers never contend.
// The tip is re-read under the lock and compared with what the caller saw.
func (s *PostgresStore) Append(ctx context.Context, rec *model.CarbonRecord) error {
	custody, err := json.Marshal(nonNilCustody(rec.ChainOfCustody))
	if err != nil {
		return fmt.Errorf("marshal custody: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", rec.CarrierID); err != nil {
		return fmt.Errorf("acquire carrier lock: %w", err)
	}

	var tipSeq int64
	var tipHash *string
	err = tx.QueryRow(ctx,
		"SELECT seq, record_hash FROM carbon_records WHERE carrier_id = $1 ORDER BY seq DESC LIMIT 1",
		rec.CarrierID,
	).Scan(&tipSeq, &tipHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("read chain tip: %w", err)
	}
	if rec.Sequence != tipSeq+1 || !sameHash(tipHash, rec.PrevRecordHash) {
		return fmt.Errorf("append record seq %d for carrier %q: %w", rec.Sequence, rec.CarrierID, model.ErrChainConflict)
	}

	_, err = tx.Exec(ctx, `INSERT INTO carbon_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		rec.ID, rec.CarrierID, rec.Sequence, rec.OrderID, rec.FleetID,
		rec.DistanceKm, rec.CargoWeightTonnes, rec.FuelConsumedLiters, rec.FuelType,
		rec.TTWEmissionsGrams, rec.WTTEmissionsGrams, rec.TotalEmissionsGrams, rec.EmissionIntensity,
		rec.Grade, string(rec.Source), rec.RecordHash, rec.PrevRecordHash,
		nullString(rec.Signature), nullString(rec.SignerKeyID), rec.SignedAt,
		rec.SourceSystem, rec.SourceTimestamp, rec.ExternalRefID, custody, rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "carbon_records_carrier_seq_key" {
			return fmt.Errorf("append record seq %d for carrier %q: %w", rec.Sequence, rec.CarrierID, model.ErrChainConflict)
		}
		return fmt.Errorf("insert carbon record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit carbon record: %w", err)
	}

	s.logger.Debug("carbon record appended",
		zap.String("carrier_id", rec.CarrierID),
		zap.Int64("seq", rec.Sequence),
		zap.String("record_hash", rec.RecordHash),
	)
	return nil
}

// Tip implements Store.
func (s *PostgresStore) Tip(ctx context.Context, carrierID string) (*model.CarbonRecord, error) {
	rec, err := s.scanOne(ctx,
		`SELECT `+recordColumns+` FROM carbon_records WHERE carrier_id = $1 ORDER BY seq DESC LIMIT 1`,
		carrierID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*model.CarbonRecord, error) {
	rec, err := s.scanOne(ctx, `SELECT `+recordColumns+` FROM carbon_records WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", id, err)
	}
	return rec, nil
}

// GetBySequence implements Store.
func (s *PostgresStore) GetBySequence(ctx context.Context, carrierID string, seq int64) (*model.CarbonRecord, error) {
	rec, err := s.scanOne(ctx,
		`SELECT `+recordColumns+` FROM carbon_records WHERE carrier_id = $1 AND seq = $2`,
		carrierID, seq)
	if err != nil {
		return nil, fmt.Errorf("carrier %q seq %d: %w", carrierID, seq, err)
	}
	return rec, nil
}

// Len implements Store.
func (s *PostgresStore) Len(ctx context.Context, carrierID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM carbon_records WHERE carrier_id = $1", carrierID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count carrier records: %w", err)
	}
	return n, nil
}

// Walk implements Store. It streams rows ordered by seq; a single statement
// reads one consistent snapshot. O(n) in chain length.
func (s *PostgresStore) Walk(ctx context.Context, carrierID string, fn func(*model.CarbonRecord) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM carbon_records WHERE carrier_id = $1 ORDER BY seq ASC`,
		carrierID)
	if err != nil {
		return fmt.Errorf("query chain: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ListByCarrier implements Store.
func (s *PostgresStore) ListByCarrier(ctx context.Context, carrierID string, limit, offset int) ([]*model.CarbonRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.scanMany(ctx,
		`SELECT `+recordColumns+` FROM carbon_records
		 WHERE carrier_id = $1 ORDER BY seq DESC LIMIT $2 OFFSET $3`,
		carrierID, limit, offset)
}

// ListByOrder implements Store.
func (s *PostgresStore) ListByOrder(ctx context.Context, orderID string) ([]*model.CarbonRecord, error) {
	return s.scanMany(ctx,
		`SELECT `+recordColumns+` FROM carbon_records WHERE order_id = $1 ORDER BY created_at ASC, seq ASC`,
		orderID)
}

// Query implements Store.
func (s *PostgresStore) Query(ctx context.Context, f Filter, limit int) ([]*model.CarbonRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CarrierID != "" {
		add("carrier_id = $%d", f.CarrierID)
	}
	if f.OrderID != "" {
		add("order_id = $%d", f.OrderID)
	}
	if f.FleetID != "" {
		add("fleet_id = $%d", f.FleetID)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	if f.MinGrade > 0 {
		add("grade >= $%d", f.MinGrade)
	}

	q := `SELECT ` + recordColumns + ` FROM carbon_records`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at ASC, carrier_id ASC, seq ASC"
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.scanMany(ctx, q, args...)
}

// Carriers implements Store.
func (s *PostgresStore) Carriers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT carrier_id FROM carbon_records ORDER BY carrier_id")
	if err != nil {
		return nil, fmt.Errorf("list carriers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan carrier: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetSignature implements Store. The signature IS NULL guard makes the
// update a compare-and-set, so concurrent signers cannot both win.
func (s *PostgresStore) SetSignature(ctx context.Context, id uuid.UUID, signature, keyID string, signedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE carbon_records SET signature = $2, signer_key_id = $3, signed_at = $4
		 WHERE id = $1 AND signature IS NULL`,
		id, signature, keyID, Timestamp(signedAt))
	if err != nil {
		return fmt.Errorf("set signature: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM carbon_records WHERE id = $1)", id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check record: %w", err)
	}
	if !exists {
		return fmt.Errorf("record %s: %w", id, model.ErrNotFound)
	}
	return fmt.Errorf("record %s: %w", id, model.ErrAlreadySigned)
}

// AppendCustody implements Store.
func (s *PostgresStore) AppendCustody(ctx context.Context, id uuid.UUID, entry model.CustodyEntry) error {
	entry.Timestamp = Timestamp(entry.Timestamp)
	b, err := json.Marshal([]model.CustodyEntry{entry})
	if err != nil {
		return fmt.Errorf("marshal custody entry: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE carbon_records SET chain_of_custody = chain_of_custody || $2::jsonb WHERE id = $1`,
		id, b)
	if err != nil {
		return fmt.Errorf("append custody: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) scanOne(ctx context.Context, query string, args ...any) (*model.CarbonRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, model.ErrNotFound
	}
	return scanRecord(rows)
}

func (s *PostgresStore) scanMany(ctx context.Context, query string, args ...any) ([]*model.CarbonRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []*model.CarbonRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(rows pgx.Rows) (*model.CarbonRecord, error) {
	var (
		rec         model.CarbonRecord
		source      string
		signature   *string
		signerKeyID *string
		custody     []byte
	)
	if err := rows.Scan(
		&rec.ID, &rec.CarrierID, &rec.Sequence, &rec.OrderID, &rec.FleetID,
		&rec.DistanceKm, &rec.CargoWeightTonnes, &rec.FuelConsumedLiters, &rec.FuelType,
		&rec.TTWEmissionsGrams, &rec.WTTEmissionsGrams, &rec.TotalEmissionsGrams, &rec.EmissionIntensity,
		&rec.Grade, &source, &rec.RecordHash, &rec.PrevRecordHash,
		&signature, &signerKeyID, &rec.SignedAt,
		&rec.SourceSystem, &rec.SourceTimestamp, &rec.ExternalRefID, &custody, &rec.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan carbon record: %w", err)
	}
	rec.Source = model.Source(source)
	if signature != nil {
		rec.Signature = *signature
	}
	if signerKeyID != nil {
		rec.SignerKeyID = *signerKeyID
	}
	if len(custody) > 0 {
		if err := json.Unmarshal(custody, &rec.ChainOfCustody); err != nil {
			return nil, fmt.Errorf("decode custody: %w", err)
		}
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.SourceTimestamp != nil {
		t := rec.SourceTimestamp.UTC()
		rec.SourceTimestamp = &t
	}
	if rec.SignedAt != nil {
		t := rec.SignedAt.UTC()
		rec.SignedAt = &t
	}
	rec.State = rec.ComputeState()
	return &rec, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNilCustody(c []model.CustodyEntry) []model.CustodyEntry {
	if c == nil {
		return []model.CustodyEntry{}
	}
	return c
}

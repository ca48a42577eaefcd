package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
)

// Filter selects records for export and aggregate queries. Zero values mean
// "no constraint".
type Filter struct {
	CarrierID string     `json:"carrier_id,omitempty"`
	OrderID   string     `json:"order_id,omitempty"`
	FleetID   string     `json:"fleet_id,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
	MinGrade  int        `json:"min_grade,omitempty"`
}

// Match reports whether r satisfies the filter.
func (f Filter) Match(r *model.CarbonRecord) bool {
	if f.CarrierID != "" && r.CarrierID != f.CarrierID {
		return false
	}
	if f.OrderID != "" && r.OrderID != f.OrderID {
		return false
	}
	if f.FleetID != "" && r.FleetID != f.FleetID {
		return false
	}
	if f.From != nil && r.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && r.CreatedAt.After(*f.To) {
		return false
	}
	if f.MinGrade > 0 && r.Grade < f.MinGrade {
		return false
	}
	return true
}

// Store is the append-only persistence interface for carbon records.
// Both MemoryStore and PostgresStore implement it. Returned records are
// always copies; mutating them never affects the store.
type Store interface {
	// Append commits rec as the next record of rec.CarrierID's chain.
	// rec.Sequence and rec.PrevRecordHash must describe the tip the caller
	// observed; if the chain moved on, ErrChainConflict is returned.
	Append(ctx context.Context, rec *model.CarbonRecord) error

	// Tip returns the newest record of a carrier, or nil when the chain is empty.
	Tip(ctx context.Context, carrierID string) (*model.CarbonRecord, error)

	// Get returns a record by id or model.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*model.CarbonRecord, error)

	// GetBySequence returns the record at a chain position or model.ErrNotFound.
	GetBySequence(ctx context.Context, carrierID string, seq int64) (*model.CarbonRecord, error)

	// Len returns the number of records in a carrier's chain.
	Len(ctx context.Context, carrierID string) (int, error)

	// Walk calls fn for every record of a carrier in ascending sequence order,
	// over a snapshot of committed records. It stops at the first error.
	// Implementations may hold a database connection for the whole walk, so
	// fn must not issue queries of its own.
	Walk(ctx context.Context, carrierID string, fn func(*model.CarbonRecord) error) error

	// ListByCarrier returns a page of a carrier's records, newest first.
	ListByCarrier(ctx context.Context, carrierID string, limit, offset int) ([]*model.CarbonRecord, error)

	// ListByOrder returns every record referencing orderID, oldest first.
	ListByOrder(ctx context.Context, orderID string) ([]*model.CarbonRecord, error)

	// Query returns records matching f, oldest first. limit <= 0 means no limit.
	Query(ctx context.Context, f Filter, limit int) ([]*model.CarbonRecord, error)

	// Carriers lists every carrier that owns at least one record.
	Carriers(ctx context.Context) ([]string, error)

	// SetSignature attaches a signature once; a second call returns
	// model.ErrAlreadySigned.
	SetSignature(ctx context.Context, id uuid.UUID, signature, keyID string, signedAt time.Time) error

	// AppendCustody adds a chain-of-custody entry to a record.
	AppendCustody(ctx context.Context, id uuid.UUID, entry model.CustodyEntry) error
}

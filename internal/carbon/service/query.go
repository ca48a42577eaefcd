package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// RecordPage is one page of a carrier's records, newest first.
type RecordPage struct {
	Records []*model.CarbonRecord `json:"records"`
	Total   int                   `json:"total"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}

// GetRecord returns one record.
func (s *LedgerService) GetRecord(ctx context.Context, id uuid.UUID) (*model.CarbonRecord, error) {
	return s.store.Get(ctx, id)
}

// GetRecordsByOrder returns every record referencing orderID.
func (s *LedgerService) GetRecordsByOrder(ctx context.Context, orderID string) ([]*model.CarbonRecord, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, model.NewValidationError("order_id", "is required")
	}
	recs, err := s.store.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []*model.CarbonRecord{}
	}
	return recs, nil
}

// ListCarrierRecords returns a page of a carrier's records.
func (s *LedgerService) ListCarrierRecords(ctx context.Context, carrierID string, limit, offset int) (*RecordPage, error) {
	if strings.TrimSpace(carrierID) == "" {
		return nil, model.NewValidationError("carrier_id", "is required")
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	total, err := s.store.Len(ctx, carrierID)
	if err != nil {
		return nil, err
	}
	recs, err := s.store.ListByCarrier(ctx, carrierID, limit, offset)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []*model.CarbonRecord{}
	}
	return &RecordPage{Records: recs, Total: total, Limit: limit, Offset: offset}, nil
}

// ChainTip returns the newest record of a carrier or model.ErrNotFound.
func (s *LedgerService) ChainTip(ctx context.Context, carrierID string) (*model.CarbonRecord, error) {
	tip, err := s.store.Tip(ctx, carrierID)
	if err != nil {
		return nil, err
	}
	if tip == nil {
		return nil, model.ErrNotFound
	}
	return tip, nil
}

// AppendCustody adds an audit-trail entry to a record. Custody entries sit
// outside the hashed envelope, so this never affects verification.
func (s *LedgerService) AppendCustody(ctx context.Context, id uuid.UUID, req *model.CustodyRequest) (*model.CarbonRecord, error) {
	verr := &model.ErrValidation{}
	if strings.TrimSpace(req.Actor) == "" {
		verr.Add("actor", "is required")
	}
	if strings.TrimSpace(req.Action) == "" {
		verr.Add("action", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	if err := s.store.AppendCustody(ctx, id, model.CustodyEntry{
		Actor:     req.Actor,
		Action:    req.Action,
		Timestamp: s.now(),
		System:    req.System,
	}); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

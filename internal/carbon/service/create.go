package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/ledger"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// defaultActor is recorded in the chain of custody when the input names no
// source system.
const defaultActor = "carbon-ledger"

// CreateRecord validates in, links it to the carrier's current tip and
// commits it. Writes for one carrier are serialised; a conflict with another
// process is retried with exponential backoff before ErrChainConflict surfaces.
func (s *LedgerService) CreateRecord(ctx context.Context, in *model.RecordInput) (*model.CarbonRecord, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	unlock, err := s.locks.lock(ctx, in.CarrierID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	backoff := s.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		tip, err := s.store.Tip(ctx, in.CarrierID)
		if err != nil {
			return nil, fmt.Errorf("read chain tip: %w", err)
		}

		rec, err := s.buildRecord(in, tip)
		if err != nil {
			return nil, err
		}

		err = s.store.Append(ctx, rec)
		if err == nil {
			s.metrics.RecordCreated(rec.Source)
			s.logger.Debug("carbon record created",
				zap.String("record_id", rec.ID.String()),
				zap.String("carrier_id", rec.CarrierID),
				zap.Int64("seq", rec.Sequence),
			)
			return rec, nil
		}
		if !errors.Is(err, model.ErrChainConflict) {
			return nil, err
		}

		s.metrics.ChainConflict()
		if attempt >= s.cfg.MaxAppendAttempts {
			s.logger.Error("chain conflict retries exhausted",
				zap.String("carrier_id", in.CarrierID),
				zap.Int("attempts", attempt),
			)
			return nil, err
		}
		s.logger.Warn("chain conflict, retrying",
			zap.String("carrier_id", in.CarrierID),
			zap.Int("attempt", attempt),
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
}

// buildRecord assembles the next record of the chain ending at tip.
func (s *LedgerService) buildRecord(in *model.RecordInput, tip *model.CarbonRecord) (*model.CarbonRecord, error) {
	createdAt := ledger.Timestamp(s.now())

	rec := &model.CarbonRecord{
		ID:                  uuid.New(),
		OrderID:             in.OrderID,
		FleetID:             in.FleetID,
		CarrierID:           in.CarrierID,
		Sequence:            1,
		DistanceKm:          in.DistanceKm,
		CargoWeightTonnes:   in.CargoWeightTonnes,
		FuelConsumedLiters:  in.FuelConsumedLiters,
		FuelType:            in.FuelType,
		TTWEmissionsGrams:   in.TTWEmissionsGrams,
		WTTEmissionsGrams:   in.WTTEmissionsGrams,
		TotalEmissionsGrams: in.TotalEmissionsGrams,
		EmissionIntensity:   in.EmissionIntensity,
		Grade:               in.Grade,
		Source:              in.Source,
		SourceSystem:        in.SourceSystem,
		ExternalRefID:       in.ExternalRefID,
		CreatedAt:           createdAt,
	}
	if rec.TotalEmissionsGrams == 0 {
		rec.TotalEmissionsGrams = rec.TTWEmissionsGrams + rec.WTTEmissionsGrams
	}
	if in.SourceTimestamp != nil {
		ts := ledger.Timestamp(*in.SourceTimestamp)
		rec.SourceTimestamp = &ts
	}
	if tip != nil {
		prev := tip.RecordHash
		rec.PrevRecordHash = &prev
		rec.Sequence = tip.Sequence + 1
	}

	actor := in.SourceSystem
	if actor == "" {
		actor = defaultActor
	}
	rec.ChainOfCustody = []model.CustodyEntry{{
		Actor:     actor,
		Action:    "created",
		Timestamp: createdAt,
		System:    defaultActor,
	}}

	h, err := ledger.HashRecord(rec)
	if err != nil {
		return nil, err
	}
	rec.RecordHash = h
	rec.State = rec.ComputeState()
	return rec, nil
}

// BatchCreate creates records in submission order. Failing items are skipped
// without consuming a chain slot, so later items keep extending the chain
// from the last committed record. The batch is not atomic.
func (s *LedgerService) BatchCreate(ctx context.Context, inputs []*model.RecordInput) *model.BatchCreateResult {
	ctx, span := tracer.Start(ctx, "LedgerService.BatchCreate")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(inputs)))

	res := &model.BatchCreateResult{
		Total:   len(inputs),
		Results: make([]model.BatchCreateItem, 0, len(inputs)),
	}
	for i, in := range inputs {
		item := model.BatchCreateItem{Index: i}
		if in == nil {
			item.Error = "item is empty"
			res.Errors++
			res.Results = append(res.Results, item)
			continue
		}
		rec, err := s.CreateRecord(ctx, in)
		if err != nil {
			item.Error = err.Error()
			res.Errors++
		} else {
			id := rec.ID
			item.Success = true
			item.RecordID = &id
			res.Success++
		}
		res.Results = append(res.Results, item)
	}

	span.SetAttributes(attribute.Int("batch.success", res.Success), attribute.Int("batch.errors", res.Errors))
	s.logger.Info("batch create finished",
		zap.Int("total", res.Total),
		zap.Int("success", res.Success),
		zap.Int("errors", res.Errors),
	)
	return res
}

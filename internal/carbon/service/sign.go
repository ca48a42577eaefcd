package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/ledger"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
	"go.uber.org/zap"
)

// SignRecord attaches the carrier's signature over the record hash. Signing
// is a one-time transition: a signed record returns ErrAlreadySigned. A record
// that no longer reproduces its hash is refused with ErrHashMismatch.
func (s *LedgerService) SignRecord(ctx context.Context, id uuid.UUID) (*model.CarbonRecord, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.keys == nil {
		return nil, fmt.Errorf("signing disabled: %w", model.ErrNoActiveKey)
	}
	if rec.IsSigned() {
		return nil, fmt.Errorf("record %s: %w", id, model.ErrAlreadySigned)
	}

	computed, err := ledger.HashRecord(rec)
	if err != nil {
		return nil, err
	}
	if computed != rec.RecordHash {
		s.logger.Error("refusing to sign record with mismatched hash",
			zap.String("record_id", id.String()),
			zap.String("stored", rec.RecordHash),
			zap.String("computed", computed),
		)
		return nil, fmt.Errorf("record %s: %w", id, model.ErrHashMismatch)
	}

	digest, err := ledger.Digest(rec.RecordHash)
	if err != nil {
		return nil, err
	}
	sig, keyID, err := s.keys.Sign(ctx, rec.CarrierID, digest)
	if err != nil {
		return nil, err
	}

	signedAt := ledger.Timestamp(s.now())
	if err := s.store.SetSignature(ctx, id, base64.StdEncoding.EncodeToString(sig), keyID, signedAt); err != nil {
		return nil, err
	}
	s.metrics.RecordSigned()

	if err := s.store.AppendCustody(ctx, id, model.CustodyEntry{
		Actor:     keyID,
		Action:    "signed",
		Timestamp: signedAt,
		System:    defaultActor,
	}); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("custody append failed (non-fatal)",
			zap.String("record_id", id.String()),
			zap.Error(err),
		)
	}

	s.logger.Info("carbon record signed",
		zap.String("record_id", id.String()),
		zap.String("carrier_id", rec.CarrierID),
		zap.String("key_id", keyID),
	)
	return s.store.Get(ctx, id)
}

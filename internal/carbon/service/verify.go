package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/ledger"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// errStopWalk ends a chain walk at the first broken record.
var errStopWalk = errors.New("stop walk")

// VerifyRecord re-derives a record's hash and checks its signature and its
// link to the predecessor. Integrity failures are reported in the result;
// the returned error is reserved for lookup and infrastructure failures.
func (s *LedgerService) VerifyRecord(ctx context.Context, id uuid.UUID) (*model.VerificationResult, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	res := &model.VerificationResult{
		RecordID:   rec.ID,
		RecordHash: rec.RecordHash,
		Errors:     []model.VerificationError{},
	}

	computed, err := ledger.HashRecord(rec)
	if err != nil {
		return nil, err
	}
	res.ComputedHash = computed
	res.HashValid = computed == rec.RecordHash
	if !res.HashValid {
		res.Errors = append(res.Errors, model.VerificationError{
			Code:    model.CodeHashMismatch,
			Message: fmt.Sprintf("stored hash %s does not match computed %s", rec.RecordHash, computed),
		})
	}

	chainErr, err := s.checkLink(ctx, rec)
	if err != nil {
		return nil, err
	}
	res.ChainValid = chainErr == nil
	if chainErr != nil {
		res.Errors = append(res.Errors, *chainErr)
	}

	if rec.IsSigned() {
		valid, sigErr, err := s.checkSignature(ctx, rec)
		if err != nil {
			return nil, err
		}
		res.SignatureValid = &valid
		if sigErr != nil {
			res.Errors = append(res.Errors, *sigErr)
		}
	}

	res.Valid = res.HashValid && res.ChainValid && (res.SignatureValid == nil || *res.SignatureValid)
	s.metrics.Verification("record", res.Valid)
	return res, nil
}

// checkLink compares rec.PrevRecordHash with its stored predecessor.
func (s *LedgerService) checkLink(ctx context.Context, rec *model.CarbonRecord) (*model.VerificationError, error) {
	if rec.Sequence <= 1 {
		if rec.PrevRecordHash != nil {
			return &model.VerificationError{
				Code:    model.CodeChainBroken,
				Message: "genesis record must not reference a predecessor",
			}, nil
		}
		return nil, nil
	}

	pred, err := s.store.GetBySequence(ctx, rec.CarrierID, rec.Sequence-1)
	if errors.Is(err, model.ErrNotFound) {
		return &model.VerificationError{
			Code:    model.CodeChainBroken,
			Message: fmt.Sprintf("predecessor at sequence %d is missing", rec.Sequence-1),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return linkError(rec, pred), nil
}

// linkError reports why rec does not follow pred, or nil if it does.
// A nil pred means rec must be the genesis record.
func linkError(rec, pred *model.CarbonRecord) *model.VerificationError {
	if pred == nil {
		if rec.Sequence != 1 {
			return &model.VerificationError{
				Code:    model.CodeChainBroken,
				Message: fmt.Sprintf("chain starts at sequence %d", rec.Sequence),
			}
		}
		if rec.PrevRecordHash != nil {
			return &model.VerificationError{
				Code:    model.CodeChainBroken,
				Message: "genesis record must not reference a predecessor",
			}
		}
		return nil
	}
	if rec.Sequence != pred.Sequence+1 {
		return &model.VerificationError{
			Code:    model.CodeChainBroken,
			Message: fmt.Sprintf("sequence gap: %d follows %d", rec.Sequence, pred.Sequence),
		}
	}
	if rec.PrevRecordHash == nil || *rec.PrevRecordHash != pred.RecordHash {
		got := "null"
		if rec.PrevRecordHash != nil {
			got = *rec.PrevRecordHash
		}
		return &model.VerificationError{
			Code:    model.CodeChainBroken,
			Message: fmt.Sprintf("prev_record_hash %s does not match predecessor hash %s", got, pred.RecordHash),
		}
	}
	return nil
}

// checkSignature verifies rec's signature over its stored record hash.
func (s *LedgerService) checkSignature(ctx context.Context, rec *model.CarbonRecord) (bool, *model.VerificationError, error) {
	invalid := func(code, msg string) (bool, *model.VerificationError, error) {
		return false, &model.VerificationError{Code: code, Message: msg}, nil
	}
	if s.keys == nil {
		return invalid(model.CodeUnknownSigner, "no key manager configured")
	}

	sig, err := base64.StdEncoding.DecodeString(rec.Signature)
	if err != nil {
		return invalid(model.CodeSignatureInvalid, "signature is not valid base64")
	}
	digest, err := ledger.Digest(rec.RecordHash)
	if err != nil {
		return invalid(model.CodeSignatureInvalid, "record hash is not a SHA-256 digest")
	}

	ok, err := s.keys.Verify(ctx, rec.CarrierID, rec.SignerKeyID, digest, sig)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return invalid(model.CodeUnknownSigner, fmt.Sprintf("signer key %q is unknown", rec.SignerKeyID))
	case errors.Is(err, model.ErrSignerMismatch):
		return invalid(model.CodeSignerMismatch, fmt.Sprintf("signer key %s is not held by carrier %s", rec.SignerKeyID, rec.CarrierID))
	}
	if err != nil {
		return false, nil, err
	}
	if !ok {
		return invalid(model.CodeSignatureInvalid, fmt.Sprintf("signature does not verify with key %s", rec.SignerKeyID))
	}
	return true, nil, nil
}

// BatchVerify verifies each id independently with bounded concurrency.
// Results keep the input order; unknown or malformed ids count as invalid.
func (s *LedgerService) BatchVerify(ctx context.Context, ids []string) (*model.BatchVerifyResult, error) {
	ctx, span := tracer.Start(ctx, "LedgerService.BatchVerify")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(ids)))

	items := make([]model.BatchVerifyItem, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.VerifyWorkers)

	for i, raw := range ids {
		g.Go(func() error {
			item := model.BatchVerifyItem{RecordID: raw}
			id, err := uuid.Parse(raw)
			if err != nil {
				item.Error = "invalid record id"
				items[i] = item
				return nil
			}
			res, err := s.VerifyRecord(gctx, id)
			if err != nil {
				item.Error = err.Error()
			} else {
				item.Result = res
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &model.BatchVerifyResult{Total: len(ids), Results: items}
	for _, it := range items {
		if it.Result != nil && it.Result.Valid {
			out.Valid++
		} else {
			out.Invalid++
		}
	}
	return out, nil
}

// VerifyChain walks a carrier's chain from genesis, re-hashing each record
// and checking each link. It stops at the first hash mismatch, broken link or
// sequence gap. Invalid signatures are counted but do not stop the walk.
// Signatures of the walked records are checked once the walk has returned,
// so key lookups never run while the store holds its cursor open.
// Cancelling ctx (or exceeding the configured walk timeout) aborts the walk
// with the context error.
func (s *LedgerService) VerifyChain(ctx context.Context, carrierID string) (*model.ChainVerificationResult, error) {
	if s.cfg.ChainWalkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ChainWalkTimeout)
		defer cancel()
	}
	ctx, span := tracer.Start(ctx, "LedgerService.VerifyChain",
		trace.WithAttributes(attribute.String("carrier.id", carrierID)))
	defer span.End()

	total, err := s.store.Len(ctx, carrierID)
	if err != nil {
		return nil, err
	}

	res := &model.ChainVerificationResult{
		CarrierID:    carrierID,
		Valid:        true,
		TotalRecords: total,
		Errors:       []model.VerificationError{},
	}

	var (
		prev   *model.CarbonRecord
		walked int
		broken *model.VerificationError
		signed []*model.CarbonRecord
	)
	err = s.store.Walk(ctx, carrierID, func(rec *model.CarbonRecord) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		walked++

		var problem *model.VerificationError
		if linkErr := linkError(rec, prev); linkErr != nil {
			problem = linkErr
		} else {
			computed, err := ledger.HashRecord(rec)
			if err != nil {
				return err
			}
			if computed != rec.RecordHash {
				problem = &model.VerificationError{
					Code:    model.CodeHashMismatch,
					Message: fmt.Sprintf("record %s: stored hash %s does not match computed %s", rec.ID, rec.RecordHash, computed),
				}
			}
		}
		if problem != nil {
			id := rec.ID
			res.Valid = false
			res.BrokenAt = &id
			broken = problem
			return errStopWalk
		}

		if rec.IsSigned() {
			signed = append(signed, rec)
		}
		res.VerifiedRecords++
		prev = rec
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		span.RecordError(err)
		return nil, err
	}

	for _, rec := range signed {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return nil, err
		}
		valid, sigErr, err := s.checkSignature(ctx, rec)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if !valid {
			res.InvalidSignatures++
			sigErr.Message = fmt.Sprintf("record %s: %s", rec.ID, sigErr.Message)
			res.Errors = append(res.Errors, *sigErr)
		}
	}
	if broken != nil {
		res.Errors = append(res.Errors, *broken)
	}
	if walked > res.TotalRecords {
		res.TotalRecords = walked
	}

	span.SetAttributes(
		attribute.Bool("chain.valid", res.Valid),
		attribute.Int("chain.verified", res.VerifiedRecords),
	)
	s.metrics.Verification("chain", res.Valid)
	if !res.Valid {
		s.logger.Warn("carrier chain integrity check failed",
			zap.String("carrier_id", carrierID),
			zap.Int("verified", res.VerifiedRecords),
			zap.Stringer("broken_at", res.BrokenAt),
		)
	}
	return res, nil
}

package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
)

// canonicalFields returns the hashed envelope of a record. encoding/json
// sorts map keys, which gives a stable field order; numbers are rendered as
// fixed six-decimal strings so formatting never depends on the encoder.
func canonicalFields(r *model.CarbonRecord) map[string]any {
	var prev any
	if r.PrevRecordHash != nil {
		prev = *r.PrevRecordHash
	}
	var srcTS any
	if r.SourceTimestamp != nil {
		srcTS = formatTime(*r.SourceTimestamp)
	}
	return map[string]any{
		"id":                    r.ID.String(),
		"order_id":              r.OrderID,
		"fleet_id":              r.FleetID,
		"carrier_id":            r.CarrierID,
		"sequence":              strconv.FormatInt(r.Sequence, 10),
		"distance_km":           formatFloat(r.DistanceKm),
		"cargo_weight_tonnes":   formatFloat(r.CargoWeightTonnes),
		"fuel_consumed_liters":  formatFloat(r.FuelConsumedLiters),
		"fuel_type":             r.FuelType,
		"ttw_emissions_grams":   formatFloat(r.TTWEmissionsGrams),
		"wtt_emissions_grams":   formatFloat(r.WTTEmissionsGrams),
		"total_emissions_grams": formatFloat(r.TotalEmissionsGrams),
		"emission_intensity":    formatFloat(r.EmissionIntensity),
		"grade":                 strconv.Itoa(r.Grade),
		"source":                string(r.Source),
		"prev_record_hash":      prev,
		"source_system":         r.SourceSystem,
		"source_timestamp":      srcTS,
		"external_ref_id":       r.ExternalRefID,
		"created_at":            formatTime(r.CreatedAt),
	}
}

// Canonical returns the deterministic byte encoding that RecordHash covers.
func Canonical(r *model.CarbonRecord) ([]byte, error) {
	b, err := json.Marshal(canonicalFields(r))
	if err != nil {
		return nil, fmt.Errorf("canonicalize record: %w", err)
	}
	return b, nil
}

// HashRecord computes the hex-encoded SHA-256 of the record's canonical form.
func HashRecord(r *model.CarbonRecord) (string, error) {
	b, err := Canonical(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Digest decodes a hex record hash into the raw bytes that get signed.
func Digest(recordHash string) ([]byte, error) {
	d, err := hex.DecodeString(recordHash)
	if err != nil {
		return nil, fmt.Errorf("decode record hash: %w", err)
	}
	if len(d) != sha256.Size {
		return nil, fmt.Errorf("decode record hash: want %d bytes, got %d", sha256.Size, len(d))
	}
	return d, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Timestamp returns t in UTC truncated to the microsecond precision that
// PostgreSQL timestamptz preserves, so hashes survive a database round trip.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

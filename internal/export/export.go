// Package export renders filtered record sets as JSON, CSV and an
// ISO 14083 style emissions summary. Every export is built fully in memory,
// so a failing export never yields partial output.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/jmerrifield20/CarbonLedger/internal/carbon/ledger"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/jmerrifield20/CarbonLedger/internal/export")

// DefaultMaxRecords caps a single export.
const DefaultMaxRecords = 50000

// sourceWeights drive the data quality score.
var sourceWeights = map[model.Source]float64{
	model.SourceTelematics: 1.0,
	model.SourceFuelLog:    0.8,
	model.SourceModeled:    0.4,
	model.SourceDefault:    0.1,
}

// Metadata describes a JSON export.
type Metadata struct {
	Filter      ledger.Filter `json:"filter"`
	Count       int           `json:"count"`
	GeneratedAt time.Time     `json:"generated_at"`
	GeneratedBy string        `json:"generated_by"`
}

// JSONExport is the body of a JSON export.
type JSONExport struct {
	Metadata Metadata              `json:"metadata"`
	Records  []*model.CarbonRecord `json:"records"`
}

// Breakdown is one bucket of a summary rollup.
type Breakdown struct {
	Records             int     `json:"records"`
	DistanceKm          float64 `json:"distance_km"`
	CargoTonneKm        float64 `json:"cargo_tonne_km"`
	TotalEmissionsGrams float64 `json:"total_emissions_grams"`
}

func (b *Breakdown) add(r *model.CarbonRecord) {
	b.Records++
	b.DistanceKm += r.DistanceKm
	b.CargoTonneKm += r.CargoTonneKm()
	b.TotalEmissionsGrams += r.TotalEmissionsGrams
}

// IntegrityStats counts signature and hash status over the exported set.
type IntegrityStats struct {
	Signed      int `json:"signed"`
	Unsigned    int `json:"unsigned"`
	HashValid   int `json:"hash_valid"`
	HashInvalid int `json:"hash_invalid"`
}

// Summary is an ISO 14083 style rollup of a filtered record set.
type Summary struct {
	Filter              ledger.Filter         `json:"filter"`
	RecordCount         int                   `json:"record_count"`
	TotalDistanceKm     float64               `json:"total_distance_km"`
	TotalCargoTonneKm   float64               `json:"total_cargo_tonne_km"`
	TotalEmissionsGrams float64               `json:"total_emissions_grams"`
	TTWEmissionsGrams   float64               `json:"ttw_emissions_grams"`
	WTTEmissionsGrams   float64               `json:"wtt_emissions_grams"`
	WeightedAverageEI   float64               `json:"weighted_average_ei"`
	ByGrade             map[int]*Breakdown    `json:"by_grade"`
	ByFuelType          map[string]*Breakdown `json:"by_fuel_type"`
	DataQualityScore    float64               `json:"data_quality_score"`
	Integrity           IntegrityStats        `json:"integrity"`
	GeneratedAt         time.Time             `json:"generated_at"`
	GeneratedBy         string                `json:"generated_by"`
}

// Exporter reads records through a ledger.Store.
type Exporter struct {
	store       ledger.Store
	generatedBy string
	maxRecords  int
	now         func() time.Time
	logger      *zap.Logger
}

// NewExporter creates an Exporter. generatedBy is stamped into every output.
func NewExporter(store ledger.Store, generatedBy string, logger *zap.Logger) *Exporter {
	if generatedBy == "" {
		generatedBy = "carbon-ledger"
	}
	return &Exporter{
		store:       store,
		generatedBy: generatedBy,
		maxRecords:  DefaultMaxRecords,
		now:         time.Now,
		logger:      logger,
	}
}

// SetMaxRecords changes the export cap; n <= 0 restores the default.
func (e *Exporter) SetMaxRecords(n int) {
	if n <= 0 {
		n = DefaultMaxRecords
	}
	e.maxRecords = n
}

// SetClock replaces the time source, mainly for tests.
func (e *Exporter) SetClock(now func() time.Time) {
	e.now = now
}

// ValidateFilter rejects inverted date ranges and out-of-range grades.
func ValidateFilter(f ledger.Filter) error {
	verr := &model.ErrValidation{}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		verr.Add("from", "must not be after to")
	}
	if f.MinGrade < 0 || f.MinGrade > 3 {
		verr.Add("min_grade", "must be between 0 and 3")
	}
	return verr.OrNil()
}

func (e *Exporter) load(ctx context.Context, f ledger.Filter) ([]*model.CarbonRecord, error) {
	if err := ValidateFilter(f); err != nil {
		return nil, err
	}
	recs, err := e.store.Query(ctx, f, e.maxRecords+1)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	if len(recs) > e.maxRecords {
		e.logger.Warn("export refused above record cap", zap.Int("max_records", e.maxRecords))
		return nil, model.NewValidationError("filter", fmt.Sprintf("matches more than %d records; narrow the filter", e.maxRecords))
	}
	if recs == nil {
		recs = []*model.CarbonRecord{}
	}
	return recs, nil
}

// ExportJSON returns the filtered records with metadata.
func (e *Exporter) ExportJSON(ctx context.Context, f ledger.Filter) (*JSONExport, error) {
	recs, err := e.load(ctx, f)
	if err != nil {
		return nil, err
	}
	return &JSONExport{
		Metadata: Metadata{
			Filter:      f,
			Count:       len(recs),
			GeneratedAt: e.now().UTC(),
			GeneratedBy: e.generatedBy,
		},
		Records: recs,
	}, nil
}

var (
	csvHeader = []string{
		"id", "order_id", "fleet_id", "carrier_id", "sequence",
		"distance_km", "cargo_weight_tonnes", "fuel_consumed_liters", "fuel_type",
		"ttw_emissions_grams", "wtt_emissions_grams", "total_emissions_grams",
		"emission_intensity", "grade", "source",
		"source_system", "external_ref_id", "created_at",
	}
	csvIntegrityHeader = []string{
		"record_hash", "prev_record_hash", "signature", "signer_key_id", "signed_at",
	}
)

// ExportCSV renders the filtered records as RFC 4180 CSV with a fixed column
// order. includeIntegrity appends the hash and signature columns.
func (e *Exporter) ExportCSV(ctx context.Context, f ledger.Filter, includeIntegrity bool) ([]byte, error) {
	recs, err := e.load(ctx, f)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := csvHeader
	if includeIntegrity {
		header = append(append([]string{}, csvHeader...), csvIntegrityHeader...)
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range recs {
		row := []string{
			r.ID.String(), r.OrderID, r.FleetID, r.CarrierID, strconv.FormatInt(r.Sequence, 10),
			num(r.DistanceKm), num(r.CargoWeightTonnes), num(r.FuelConsumedLiters), r.FuelType,
			num(r.TTWEmissionsGrams), num(r.WTTEmissionsGrams), num(r.TotalEmissionsGrams),
			num(r.EmissionIntensity), strconv.Itoa(r.Grade), string(r.Source),
			r.SourceSystem, r.ExternalRefID, r.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if includeIntegrity {
			prev, signedAt := "", ""
			if r.PrevRecordHash != nil {
				prev = *r.PrevRecordHash
			}
			if r.SignedAt != nil {
				signedAt = r.SignedAt.UTC().Format(time.RFC3339Nano)
			}
			row = append(row, r.RecordHash, prev, r.Signature, r.SignerKeyID, signedAt)
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}
	return buf.Bytes(), nil
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ExportSummary aggregates the filtered records.
func (e *Exporter) ExportSummary(ctx context.Context, f ledger.Filter) (*Summary, error) {
	ctx, span := tracer.Start(ctx, "Exporter.ExportSummary")
	defer span.End()

	recs, err := e.load(ctx, f)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("export.records", len(recs)))

	s := &Summary{
		Filter:      f,
		RecordCount: len(recs),
		ByGrade:     map[int]*Breakdown{},
		ByFuelType:  map[string]*Breakdown{},
		GeneratedAt: e.now().UTC(),
		GeneratedBy: e.generatedBy,
	}

	var eiWeighted, quality float64
	for _, r := range recs {
		tkm := r.CargoTonneKm()
		s.TotalDistanceKm += r.DistanceKm
		s.TotalCargoTonneKm += tkm
		s.TotalEmissionsGrams += r.TotalEmissionsGrams
		s.TTWEmissionsGrams += r.TTWEmissionsGrams
		s.WTTEmissionsGrams += r.WTTEmissionsGrams
		eiWeighted += r.EmissionIntensity * tkm
		quality += sourceWeights[r.Source]

		bucket(s.ByGrade, r.Grade).add(r)
		fuel := r.FuelType
		if fuel == "" {
			fuel = "UNKNOWN"
		}
		bucket(s.ByFuelType, fuel).add(r)

		if r.IsSigned() {
			s.Integrity.Signed++
		} else {
			s.Integrity.Unsigned++
		}
		if h, err := ledger.HashRecord(r); err == nil && h == r.RecordHash {
			s.Integrity.HashValid++
		} else {
			s.Integrity.HashInvalid++
		}
	}

	if s.TotalCargoTonneKm > 0 {
		s.WeightedAverageEI = eiWeighted / s.TotalCargoTonneKm
	}
	if len(recs) > 0 {
		s.DataQualityScore = math.Round(quality/float64(len(recs))*10000) / 100
	}
	if s.Integrity.HashInvalid > 0 {
		e.logger.Warn("summary covers records with invalid hashes",
			zap.Int("hash_invalid", s.Integrity.HashInvalid),
		)
	}
	return s, nil
}

func bucket[K comparable](m map[K]*Breakdown, k K) *Breakdown {
	b, ok := m[k]
	if !ok {
		b = &Breakdown{}
		m[k] = b
	}
	return b
}

// Package anomaly screens carbon records for implausible measurements.
// Each monitored field is compared with a rolling baseline of the carrier's
// (or, when that is too thin, the fleet's) recent records, and a small set of
// plausibility rules checks the record's internal consistency.
package anomaly

import (
	"time"

	"github.com/google/uuid"
)

// Alert types.
const (
	TypeStatistical         = "statistical_deviation"
	TypeInconsistentTotals  = "inconsistent_totals"
	TypeFuelWithoutDistance = "fuel_without_distance"
	TypeIntensityMismatch   = "intensity_mismatch"
)

// Severity labels.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Range is an inclusive expected interval for a field.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within r.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Alert is a single violation found on a record.
type Alert struct {
	Type          string  `json:"type"`
	Severity      string  `json:"severity"`
	Field         string  `json:"field"`
	ActualValue   float64 `json:"actual_value"`
	ExpectedRange *Range  `json:"expected_range,omitempty"`
	// Deviation is the z-score for statistical alerts and the relative
	// error for plausibility alerts.
	Deviation float64 `json:"deviation"`
	Message   string  `json:"message"`
}

// Report is the outcome of screening one record.
type Report struct {
	RecordID     uuid.UUID `json:"record_id"`
	CarrierID    string    `json:"carrier_id"`
	IsAnomalous  bool      `json:"is_anomalous"`
	AnomalyScore float64   `json:"anomaly_score"`
	// BaselineScope is "carrier", "fleet" or "none" when history was too thin.
	BaselineScope string    `json:"baseline_scope"`
	BaselineSize  int       `json:"baseline_size"`
	Alerts        []Alert   `json:"alerts"`
	CheckedAt     time.Time `json:"checked_at"`
}

// CarrierReport aggregates the reports of a carrier's recent window.
type CarrierReport struct {
	CarrierID        string    `json:"carrier_id"`
	TotalRecords     int       `json:"total_records"`
	AnomalousRecords int       `json:"anomalous_records"`
	AnomalyRate      float64   `json:"anomaly_rate"`
	AvgAnomalyScore  float64   `json:"avg_anomaly_score"`
	Reports          []*Report `json:"reports"`
}

// BatchItem is the per-id outcome of a batch check.
type BatchItem struct {
	RecordID string  `json:"record_id"`
	Report   *Report `json:"report,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// BatchReport aggregates a batch check.
type BatchReport struct {
	Total           int         `json:"total"`
	Anomalous       int         `json:"anomalous"`
	Normal          int         `json:"normal"`
	Errors          int         `json:"errors"`
	AvgAnomalyScore float64     `json:"avg_anomaly_score"`
	Results         []BatchItem `json:"results"`
}

// WindowOptions bounds DetectCarrierAnomalies. Zero values take defaults.
type WindowOptions struct {
	LastDays int `form:"lastDays"`
	Limit    int `form:"limit"`
}

// severityLabel maps an absolute z-score to a severity:
//
//	> 3 → "high"
//	> 2 → "medium"
//	else → "low"
func severityLabel(absZ float64) string {
	switch {
	case absZ > 3:
		return SeverityHigh
	case absZ > 2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

package client

import (
	"encoding/json"
	"time"
)

// RecordInput is the payload for CreateRecord and BatchCreate.
type RecordInput struct {
	OrderID             string     `json:"order_id"`
	FleetID             string     `json:"fleet_id"`
	CarrierID           string     `json:"carrier_id"`
	DistanceKm          float64    `json:"distance_km"`
	CargoWeightTonnes   float64    `json:"cargo_weight_tonnes"`
	FuelConsumedLiters  float64    `json:"fuel_consumed_liters"`
	FuelType            string     `json:"fuel_type"`
	TTWEmissionsGrams   float64    `json:"ttw_emissions_grams"`
	WTTEmissionsGrams   float64    `json:"wtt_emissions_grams"`
	TotalEmissionsGrams float64    `json:"total_emissions_grams,omitempty"`
	EmissionIntensity   float64    `json:"emission_intensity"`
	Grade               int        `json:"grade"`
	Source              string     `json:"source"`
	SourceSystem        string     `json:"source_system,omitempty"`
	SourceTimestamp     *time.Time `json:"source_timestamp,omitempty"`
	ExternalRefID       string     `json:"external_ref_id,omitempty"`
}

// CustodyEntry is one step in a record's chain of custody.
type CustodyEntry struct {
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	System    string    `json:"system,omitempty"`
}

// Record is a stored carbon record.
type Record struct {
	ID                  string         `json:"id"`
	OrderID             string         `json:"order_id"`
	FleetID             string         `json:"fleet_id"`
	CarrierID           string         `json:"carrier_id"`
	Sequence            int64          `json:"sequence"`
	DistanceKm          float64        `json:"distance_km"`
	CargoWeightTonnes   float64        `json:"cargo_weight_tonnes"`
	FuelConsumedLiters  float64        `json:"fuel_consumed_liters"`
	FuelType            string         `json:"fuel_type"`
	TTWEmissionsGrams   float64        `json:"ttw_emissions_grams"`
	WTTEmissionsGrams   float64        `json:"wtt_emissions_grams"`
	TotalEmissionsGrams float64        `json:"total_emissions_grams"`
	EmissionIntensity   float64        `json:"emission_intensity"`
	Grade               int            `json:"grade"`
	Source              string         `json:"source"`
	RecordHash          string         `json:"record_hash"`
	PrevRecordHash      *string        `json:"prev_record_hash"`
	Signature           string         `json:"signature,omitempty"`
	SignerKeyID         string         `json:"signer_key_id,omitempty"`
	SignedAt            *time.Time     `json:"signed_at,omitempty"`
	SourceSystem        string         `json:"source_system,omitempty"`
	ExternalRefID       string         `json:"external_ref_id,omitempty"`
	ChainOfCustody      []CustodyEntry `json:"chain_of_custody"`
	CreatedAt           time.Time      `json:"created_at"`
	State               string         `json:"state"`
}

// RecordPage is a page of a carrier's records.
type RecordPage struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// BatchCreateResult is the outcome of BatchCreate.
type BatchCreateResult struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Errors  int `json:"errors"`
	Results []struct {
		Index    int    `json:"index"`
		Success  bool   `json:"success"`
		RecordID string `json:"record_id,omitempty"`
		Error    string `json:"error,omitempty"`
	} `json:"results"`
}

// KeyPair describes a signing key. PrivateKey is only set by GenerateKeyPair.
type KeyPair struct {
	KeyID      string    `json:"key_id"`
	CarrierID  string    `json:"carrier_id"`
	Algorithm  string    `json:"algorithm"`
	PublicKey  string    `json:"public_key"`
	PrivateKey string    `json:"private_key,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// VerificationError is a structured integrity failure.
type VerificationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// VerificationResult is the outcome of VerifyRecord.
type VerificationResult struct {
	RecordID       string              `json:"record_id"`
	Valid          bool                `json:"valid"`
	HashValid      bool                `json:"hash_valid"`
	RecordHash     string              `json:"record_hash"`
	ComputedHash   string              `json:"computed_hash"`
	SignatureValid *bool               `json:"signature_valid"`
	ChainValid     bool                `json:"chain_valid"`
	Errors         []VerificationError `json:"errors"`
}

// BatchVerifyResult is the outcome of BatchVerify.
type BatchVerifyResult struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
	Results []struct {
		RecordID string              `json:"record_id"`
		Result   *VerificationResult `json:"result,omitempty"`
		Error    string              `json:"error,omitempty"`
	} `json:"results"`
}

// ChainVerification is the outcome of VerifyChain.
type ChainVerification struct {
	CarrierID         string              `json:"carrier_id"`
	Valid             bool                `json:"valid"`
	TotalRecords      int                 `json:"total_records"`
	VerifiedRecords   int                 `json:"verified_records"`
	BrokenAt          string              `json:"broken_at,omitempty"`
	InvalidSignatures int                 `json:"invalid_signatures"`
	Errors            []VerificationError `json:"errors"`
}

// ChainTip is the newest record of a carrier.
type ChainTip struct {
	CarrierID  string `json:"carrier_id"`
	Sequence   int64  `json:"sequence"`
	RecordID   string `json:"record_id"`
	RecordHash string `json:"record_hash"`
}

// Alert is one anomaly finding.
type Alert struct {
	Type          string  `json:"type"`
	Severity      string  `json:"severity"`
	Field         string  `json:"field"`
	ActualValue   float64 `json:"actual_value"`
	ExpectedRange *struct {
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	} `json:"expected_range,omitempty"`
	Deviation float64 `json:"deviation"`
	Message   string  `json:"message"`
}

// AnomalyReport is the screening outcome of one record.
type AnomalyReport struct {
	RecordID      string  `json:"record_id"`
	CarrierID     string  `json:"carrier_id"`
	IsAnomalous   bool    `json:"is_anomalous"`
	AnomalyScore  float64 `json:"anomaly_score"`
	BaselineScope string  `json:"baseline_scope"`
	BaselineSize  int     `json:"baseline_size"`
	Alerts        []Alert `json:"alerts"`
}

// CarrierAnomalies aggregates a carrier's recent window.
type CarrierAnomalies struct {
	CarrierID        string          `json:"carrier_id"`
	TotalRecords     int             `json:"total_records"`
	AnomalousRecords int             `json:"anomalous_records"`
	AnomalyRate      float64         `json:"anomaly_rate"`
	AvgAnomalyScore  float64         `json:"avg_anomaly_score"`
	Reports          []AnomalyReport `json:"reports"`
}

// BatchAnomalyResult is the outcome of BatchAnomalyCheck.
type BatchAnomalyResult struct {
	Total           int     `json:"total"`
	Anomalous       int     `json:"anomalous"`
	Normal          int     `json:"normal"`
	Errors          int     `json:"errors"`
	AvgAnomalyScore float64 `json:"avg_anomaly_score"`
	Results         []struct {
		RecordID string         `json:"record_id"`
		Report   *AnomalyReport `json:"report,omitempty"`
		Error    string         `json:"error,omitempty"`
	} `json:"results"`
}

// ExportFilter selects records for the export endpoints.
type ExportFilter struct {
	CarrierID string
	OrderID   string
	FleetID   string
	From      *time.Time
	To        *time.Time
	MinGrade  int
}

// Breakdown is one bucket of a summary.
type Breakdown struct {
	Records             int     `json:"records"`
	DistanceKm          float64 `json:"distance_km"`
	CargoTonneKm        float64 `json:"cargo_tonne_km"`
	TotalEmissionsGrams float64 `json:"total_emissions_grams"`
}

// Summary is the ISO 14083 style rollup returned by ExportSummary.
type Summary struct {
	RecordCount         int                  `json:"record_count"`
	TotalDistanceKm     float64              `json:"total_distance_km"`
	TotalCargoTonneKm   float64              `json:"total_cargo_tonne_km"`
	TotalEmissionsGrams float64              `json:"total_emissions_grams"`
	TTWEmissionsGrams   float64              `json:"ttw_emissions_grams"`
	WTTEmissionsGrams   float64              `json:"wtt_emissions_grams"`
	WeightedAverageEI   float64              `json:"weighted_average_ei"`
	ByGrade             map[string]Breakdown `json:"by_grade"`
	ByFuelType          map[string]Breakdown `json:"by_fuel_type"`
	DataQualityScore    float64              `json:"data_quality_score"`
	Integrity           map[string]int       `json:"integrity"`
	GeneratedAt         time.Time            `json:"generated_at"`
	GeneratedBy         string               `json:"generated_by"`
}

// JSONExport is the body of ExportJSON.
type JSONExport struct {
	Metadata json.RawMessage `json:"metadata"`
	Records  []Record        `json:"records"`
}

// Token is a carrier bearer token issued by IssueToken.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	CarrierID   string `json:"carrier_id"`
}

// SweepReport summarises one audit sweep.
type SweepReport struct {
	Carriers int      `json:"carriers"`
	Valid    int      `json:"valid"`
	Broken   []string `json:"broken"`
	Failed   int      `json:"failed"`
	Duration string   `json:"duration"`
}

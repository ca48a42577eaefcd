package model

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies how the emission figures of a record were obtained.
type Source string

const (
	SourceTelematics Source = "TELEMATICS"
	SourceFuelLog    Source = "FUEL_LOG"
	SourceModeled    Source = "MODELED"
	SourceDefault    Source = "DEFAULT"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceTelematics, SourceFuelLog, SourceModeled, SourceDefault:
		return true
	}
	return false
}

// RecordState is the signature lifecycle state of a record.
type RecordState string

const (
	StateCreated RecordState = "CREATED"
	StateSigned  RecordState = "SIGNED"
)

// CustodyEntry is one step in a record's chain of custody.
type CustodyEntry struct {
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	System    string    `json:"system,omitempty"`
}

// CarbonRecord is one immutable emissions observation in a carrier's chain.
//
// Everything except Signature, SignerKeyID, SignedAt and ChainOfCustody is
// covered by RecordHash and frozen at creation.
type CarbonRecord struct {
	ID        uuid.UUID `json:"id"`
	OrderID   string    `json:"order_id"`
	FleetID   string    `json:"fleet_id"`
	CarrierID string    `json:"carrier_id"`
	Sequence  int64     `json:"sequence"`

	DistanceKm          float64 `json:"distance_km"`
	CargoWeightTonnes   float64 `json:"cargo_weight_tonnes"`
	FuelConsumedLiters  float64 `json:"fuel_consumed_liters"`
	FuelType            string  `json:"fuel_type"`
	TTWEmissionsGrams   float64 `json:"ttw_emissions_grams"`
	WTTEmissionsGrams   float64 `json:"wtt_emissions_grams"`
	TotalEmissionsGrams float64 `json:"total_emissions_grams"`
	EmissionIntensity   float64 `json:"emission_intensity"`
	Grade               int     `json:"grade"`
	Source              Source  `json:"source"`

	RecordHash     string  `json:"record_hash"`
	PrevRecordHash *string `json:"prev_record_hash"`

	Signature   string     `json:"signature,omitempty"`
	SignerKeyID string     `json:"signer_key_id,omitempty"`
	SignedAt    *time.Time `json:"signed_at,omitempty"`

	SourceSystem    string         `json:"source_system,omitempty"`
	SourceTimestamp *time.Time     `json:"source_timestamp,omitempty"`
	ExternalRefID   string         `json:"external_ref_id,omitempty"`
	ChainOfCustody  []CustodyEntry `json:"chain_of_custody"`

	CreatedAt time.Time `json:"created_at"`

	// State is derived from the signature at read time and never stored.
	State RecordState `json:"state"`
}

// IsGenesis reports whether r is the first record of its carrier's chain.
func (r *CarbonRecord) IsGenesis() bool {
	return r.PrevRecordHash == nil
}

// IsSigned reports whether a signature has been attached.
func (r *CarbonRecord) IsSigned() bool {
	return r.Signature != ""
}

// ComputeState derives the lifecycle state from the signature fields.
func (r *CarbonRecord) ComputeState() RecordState {
	if r.IsSigned() {
		return StateSigned
	}
	return StateCreated
}

// CargoTonneKm returns the transport work of the shipment in tonne-kilometres.
func (r *CarbonRecord) CargoTonneKm() float64 {
	return r.DistanceKm * r.CargoWeightTonnes
}

// Clone returns a deep copy so callers can never alias a stored record.
func (r *CarbonRecord) Clone() *CarbonRecord {
	cp := *r
	if r.PrevRecordHash != nil {
		h := *r.PrevRecordHash
		cp.PrevRecordHash = &h
	}
	if r.SignedAt != nil {
		t := *r.SignedAt
		cp.SignedAt = &t
	}
	if r.SourceTimestamp != nil {
		t := *r.SourceTimestamp
		cp.SourceTimestamp = &t
	}
	cp.ChainOfCustody = append([]CustodyEntry(nil), r.ChainOfCustody...)
	cp.State = cp.ComputeState()
	return &cp
}

// RecordInput is the payload accepted by the record builder. Emission figures
// are computed upstream and taken as given.
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
	TotalEmissionsGrams float64    `json:"total_emissions_grams"`
	EmissionIntensity   float64    `json:"emission_intensity"`
	Grade               int        `json:"grade"`
	Source              Source     `json:"source"`
	SourceSystem        string     `json:"source_system,omitempty"`
	SourceTimestamp     *time.Time `json:"source_timestamp,omitempty"`
	ExternalRefID       string     `json:"external_ref_id,omitempty"`
}

// CustodyRequest is the payload for appending a chain-of-custody entry.
type CustodyRequest struct {
	Actor  string `json:"actor"  binding:"required"`
	Action string `json:"action" binding:"required"`
	System string `json:"system"`
}

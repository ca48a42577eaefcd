package model

import (
	"math"
	"strings"
)

// Validate checks a RecordInput against the ledger's admission rules and
// returns an *ErrValidation naming every offending field.
func (in *RecordInput) Validate() error {
	verr := &ErrValidation{}

	if strings.TrimSpace(in.CarrierID) == "" {
		verr.Add("carrier_id", "is required")
	}

	numbers := []struct {
		field string
		v     float64
	}{
		{"distance_km", in.DistanceKm},
		{"cargo_weight_tonnes", in.CargoWeightTonnes},
		{"fuel_consumed_liters", in.FuelConsumedLiters},
		{"ttw_emissions_grams", in.TTWEmissionsGrams},
		{"wtt_emissions_grams", in.WTTEmissionsGrams},
		{"total_emissions_grams", in.TotalEmissionsGrams},
		{"emission_intensity", in.EmissionIntensity},
	}
	finite := make(map[string]bool, len(numbers))
	for _, n := range numbers {
		if math.IsNaN(n.v) || math.IsInf(n.v, 0) {
			verr.Add(n.field, "must be a finite number")
			continue
		}
		finite[n.field] = true
	}

	if finite["distance_km"] && in.DistanceKm < 0 {
		verr.Add("distance_km", "must be >= 0")
	}
	if finite["cargo_weight_tonnes"] && in.CargoWeightTonnes <= 0 {
		verr.Add("cargo_weight_tonnes", "must be > 0")
	}
	if finite["fuel_consumed_liters"] && in.FuelConsumedLiters < 0 {
		verr.Add("fuel_consumed_liters", "must be >= 0")
	}
	if in.Grade < 1 || in.Grade > 3 {
		verr.Add("grade", "must be 1, 2 or 3")
	}
	if !in.Source.Valid() {
		verr.Add("source", "must be one of TELEMATICS, FUEL_LOG, MODELED, DEFAULT")
	}

	return verr.OrNil()
}

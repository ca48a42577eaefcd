package anomaly

import (
	"fmt"
	"math"

	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
)

// ruleFunc inspects a single record and returns zero or more alerts.
type ruleFunc func(r *model.CarbonRecord) []Alert

var defaultRules = []ruleFunc{
	ruleInconsistentTotals,
	ruleFuelWithoutDistance,
	ruleIntensityMismatch,
}

// relErr returns |a-b| relative to the larger magnitude.
func relErr(a, b float64) float64 {
	den := math.Max(math.Abs(a), math.Abs(b))
	if den == 0 {
		return 0
	}
	return math.Abs(a-b) / den
}

// ruleInconsistentTotals flags a total that is not TTW + WTT within 1%.
func ruleInconsistentTotals(r *model.CarbonRecord) []Alert {
	sum := r.TTWEmissionsGrams + r.WTTEmissionsGrams
	if sum == 0 {
		return nil
	}
	d := relErr(r.TotalEmissionsGrams, sum)
	if d <= 0.01 {
		return nil
	}
	return []Alert{{
		Type:        TypeInconsistentTotals,
		Severity:    SeverityLow,
		Field:       "total_emissions_grams",
		ActualValue: r.TotalEmissionsGrams,
		Deviation:   d,
		Message:     fmt.Sprintf("total %.2f g differs from ttw+wtt %.2f g", r.TotalEmissionsGrams, sum),
	}}
}

func ruleFuelWithoutDistance(r *model.CarbonRecord) []Alert {
	if r.FuelConsumedLiters <= 0 || r.DistanceKm > 0 {
		return nil
	}
	return []Alert{{
		Type:        TypeFuelWithoutDistance,
		Severity:    SeverityLow,
		Field:       "fuel_consumed_liters",
		ActualValue: r.FuelConsumedLiters,
		Message:     fmt.Sprintf("%.2f l of fuel reported for a zero-distance shipment", r.FuelConsumedLiters),
	}}
}

// ruleIntensityMismatch compares the reported EI with total / tonne-km.
func ruleIntensityMismatch(r *model.CarbonRecord) []Alert {
	tkm := r.CargoTonneKm()
	if tkm <= 0 || r.TotalEmissionsGrams <= 0 {
		return nil
	}
	implied := r.TotalEmissionsGrams / tkm
	d := relErr(r.EmissionIntensity, implied)
	if d <= 0.05 {
		return nil
	}
	return []Alert{{
		Type:        TypeIntensityMismatch,
		Severity:    SeverityLow,
		Field:       "emission_intensity",
		ActualValue: r.EmissionIntensity,
		Deviation:   d,
		Message:     fmt.Sprintf("reported intensity %.4f g/tkm, totals imply %.4f g/tkm", r.EmissionIntensity, implied),
	}}
}

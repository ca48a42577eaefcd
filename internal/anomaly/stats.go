package anomaly

import (
	"math"

	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
)

// field is a monitored measurement. value reports false when the record
// carries no meaningful value for it.
type field struct {
	name  string
	value func(r *model.CarbonRecord) (float64, bool)
}

var monitored = []field{
	{"fuel_per_km", func(r *model.CarbonRecord) (float64, bool) {
		if r.DistanceKm <= 0 {
			return 0, false
		}
		return r.FuelConsumedLiters / r.DistanceKm, true
	}},
	{"emission_intensity", func(r *model.CarbonRecord) (float64, bool) {
		return r.EmissionIntensity, true
	}},
	{"fuel_consumed_liters", func(r *model.CarbonRecord) (float64, bool) {
		return r.FuelConsumedLiters, true
	}},
	{"total_emissions_grams", func(r *model.CarbonRecord) (float64, bool) {
		return r.TotalEmissionsGrams, true
	}},
}

// baseline is the mean and floored standard deviation of one field.
type baseline struct {
	mean  float64
	sigma float64
	n     int
}

// minRelativeSigma keeps constant histories scoreable.
const minRelativeSigma = 0.05

func newBaseline(values []float64) baseline {
	n := len(values)
	if n == 0 {
		return baseline{}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	sigma := math.Sqrt(sq / float64(n))
	sigma = math.Max(sigma, minRelativeSigma*math.Abs(mean))
	sigma = math.Max(sigma, 1e-9)
	return baseline{mean: mean, sigma: sigma, n: n}
}

func (b baseline) z(x float64) float64 {
	return (x - b.mean) / b.sigma
}

func (b baseline) expected() Range {
	return Range{Min: b.mean - 2*b.sigma, Max: b.mean + 2*b.sigma}
}

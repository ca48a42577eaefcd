// cmd/seed populates a running ledger with demo carrier chains for development.
//
// Every carrier gets a signing key and a run of signed records with realistic
// spread; the last record of the first carrier burns ten times the usual fuel
// so the anomaly endpoints have something to flag. Seeding goes through the
// public HTTP API, so running it twice simply extends the chains.
//
// Usage:
//
//	go run ./cmd/seed
//	LEDGER_URL=http://localhost:8080 go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/jmerrifield20/CarbonLedger/pkg/client"
	"golang.org/x/sync/errgroup"
)

const defaultLedger = "http://localhost:8080"

type carrierDef struct {
	id       string
	fleet    string
	fuelType string
	source   string
	grade    int
	records  int
	// litres per km and grams CO2e per litre (tank-to-wheel)
	lPerKm   float64
	ttwPerL  float64
	wttShare float64
}

var carriers = []carrierDef{
	{id: "nordfracht", fleet: "NF-HEAVY", fuelType: "DIESEL", source: "TELEMATICS", grade: 1, records: 24, lPerKm: 0.31, ttwPerL: 2640, wttShare: 0.24},
	{id: "alpen-logistik", fleet: "AL-REGIO", fuelType: "DIESEL", source: "FUEL_LOG", grade: 2, records: 16, lPerKm: 0.27, ttwPerL: 2640, wttShare: 0.24},
	{id: "green-haul", fleet: "GH-LNG", fuelType: "LNG", source: "MODELED", grade: 3, records: 12, lPerKm: 0.42, ttwPerL: 1580, wttShare: 0.35},
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	base := os.Getenv("LEDGER_URL")
	if base == "" {
		base = defaultLedger
	}
	c, err := client.New(base)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for i, def := range carriers {
		g.Go(func() error {
			return seedCarrier(gctx, c, def, i == 0, rand.New(rand.NewPCG(uint64(i+1), 2026)))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Println()
	for _, def := range carriers {
		res, err := c.VerifyChain(ctx, def.id)
		if err != nil {
			return fmt.Errorf("verify %s: %w", def.id, err)
		}
		fmt.Printf("  %-16s chain valid=%t  %d/%d records\n", def.id, res.Valid, res.VerifiedRecords, res.TotalRecords)
	}

	sum, err := c.ExportSummary(ctx, client.ExportFilter{})
	if err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	fmt.Printf("\nseed complete: %d records, %.0f kg CO2e, data quality %.2f\n",
		sum.RecordCount, sum.TotalEmissionsGrams/1000, sum.DataQualityScore)
	return nil
}

func seedCarrier(ctx context.Context, c *client.Client, def carrierDef, withOutlier bool, rng *rand.Rand) error {
	if _, err := c.GenerateKeyPair(ctx, def.id); err != nil {
		return fmt.Errorf("%s: generate key: %w", def.id, err)
	}

	for n := 0; n < def.records; n++ {
		in := shipment(def, n, rng)
		if withOutlier && n == def.records-1 {
			in.FuelConsumedLiters *= 10
		}
		rec, err := c.CreateRecord(ctx, in)
		if err != nil {
			return fmt.Errorf("%s: create record %d: %w", def.id, n, err)
		}
		if _, err := c.SignRecord(ctx, rec.ID); err != nil {
			return fmt.Errorf("%s: sign %s: %w", def.id, rec.ID, err)
		}
		if _, err := c.AppendCustody(ctx, rec.ID, "seed", "imported", "cmd/seed"); err != nil {
			return fmt.Errorf("%s: custody %s: %w", def.id, rec.ID, err)
		}
		if withOutlier && n == def.records-1 {
			rep, err := c.DetectAnomalies(ctx, rec.ID)
			if err == nil {
				fmt.Printf("  outlier %s scored %.2f (anomalous=%t)\n", rec.ID, rep.AnomalyScore, rep.IsAnomalous)
			}
		}
	}
	fmt.Printf("  seeded %-16s %d records\n", def.id, def.records)
	return nil
}

// shipment draws one plausible trip for a carrier. Emission figures are
// derived from fuel so the ledger's consistency rules hold.
func shipment(def carrierDef, n int, rng *rand.Rand) client.RecordInput {
	distance := 120 + rng.Float64()*680
	cargo := 4 + rng.Float64()*18
	fuel := distance * def.lPerKm * (0.92 + rng.Float64()*0.16)
	ttw := fuel * def.ttwPerL
	wtt := ttw * def.wttShare
	total := ttw + wtt
	src := time.Now().UTC().Add(-time.Duration(def.records-n) * 6 * time.Hour)

	return client.RecordInput{
		OrderID:             fmt.Sprintf("ORD-%s-%04d", def.fleet, n+1),
		FleetID:             def.fleet,
		CarrierID:           def.id,
		DistanceKm:          round(distance, 1),
		CargoWeightTonnes:   round(cargo, 2),
		FuelConsumedLiters:  round(fuel, 2),
		FuelType:            def.fuelType,
		TTWEmissionsGrams:   round(ttw, 0),
		WTTEmissionsGrams:   round(wtt, 0),
		TotalEmissionsGrams: round(ttw, 0) + round(wtt, 0),
		EmissionIntensity:   round(total/(distance*cargo), 3),
		Grade:               def.grade,
		Source:              def.source,
		SourceSystem:        "seed-telematics",
		SourceTimestamp:     &src,
		ExternalRefID:       fmt.Sprintf("%s-%d", def.id, n+1),
	}
}

func round(v float64, places int) float64 {
	p := 1.0
	for i := 0; i < places; i++ {
		p *= 10
	}
	return float64(int64(v*p+0.5)) / p
}

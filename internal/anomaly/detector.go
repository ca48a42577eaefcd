package anomaly

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/ledger"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/jmerrifield20/CarbonLedger/internal/anomaly")

// Config tunes the detector.
type Config struct {
	BaselineDays  int     // history window used as baseline
	BaselineLimit int     // newest records kept from that window
	MinSamples    int     // below this a baseline is not trusted
	Threshold     float64 // anomaly score that flags a record
	Workers       int     // concurrency of BatchCheck
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		BaselineDays:  90,
		BaselineLimit: 500,
		MinSamples:    5,
		Threshold:     3.0,
		Workers:       8,
	}
}

const (
	defaultLastDays = 30
	defaultLimit    = 100
	maxLimit        = 1000
)

// Detector scores records against their historical baselines. It only reads
// from the store.
type Detector struct {
	store  ledger.Store
	cfg    Config
	rules  []ruleFunc
	now    func() time.Time
	logger *zap.Logger
}

// NewDetector returns a Detector with the default configuration and rule set.
func NewDetector(store ledger.Store, logger *zap.Logger) *Detector {
	return &Detector{
		store:  store,
		cfg:    DefaultConfig(),
		rules:  defaultRules,
		now:    time.Now,
		logger: logger,
	}
}

// SetConfig replaces the configuration; zero fields keep their defaults.
func (d *Detector) SetConfig(cfg Config) {
	def := DefaultConfig()
	if cfg.BaselineDays <= 0 {
		cfg.BaselineDays = def.BaselineDays
	}
	if cfg.BaselineLimit <= 0 {
		cfg.BaselineLimit = def.BaselineLimit
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	d.cfg = cfg
}

// SetClock replaces the time source, mainly for tests.
func (d *Detector) SetClock(now func() time.Time) {
	d.now = now
}

// DetectAnomalies screens a single record.
func (d *Detector) DetectAnomalies(ctx context.Context, id uuid.UUID) (*Report, error) {
	rec, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	pools := newPoolCache(d)
	return d.score(ctx, rec, pools)
}

// DetectCarrierAnomalies screens the carrier's newest records within the
// last opts.LastDays days.
func (d *Detector) DetectCarrierAnomalies(ctx context.Context, carrierID string, opts WindowOptions) (*CarrierReport, error) {
	if carrierID == "" {
		return nil, model.NewValidationError("carrier_id", "is required")
	}
	verr := &model.ErrValidation{}
	if opts.LastDays < 0 {
		verr.Add("lastDays", "must be >= 0")
	}
	if opts.Limit < 0 {
		verr.Add("limit", "must be >= 0")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	if opts.LastDays == 0 {
		opts.LastDays = defaultLastDays
	}
	if opts.Limit == 0 {
		opts.Limit = defaultLimit
	}
	if opts.Limit > maxLimit {
		opts.Limit = maxLimit
	}

	ctx, span := tracer.Start(ctx, "Detector.DetectCarrierAnomalies")
	defer span.End()
	span.SetAttributes(attribute.String("carrier.id", carrierID))

	from := d.now().AddDate(0, 0, -opts.LastDays)
	recs, err := d.store.Query(ctx, ledger.Filter{CarrierID: carrierID, From: &from}, 0)
	if err != nil {
		return nil, err
	}
	recs = newest(recs, opts.Limit)

	out := &CarrierReport{CarrierID: carrierID, Reports: make([]*Report, 0, len(recs))}
	pools := newPoolCache(d)
	var scoreSum float64
	for _, rec := range recs {
		rep, err := d.score(ctx, rec, pools)
		if err != nil {
			return nil, err
		}
		out.Reports = append(out.Reports, rep)
		scoreSum += rep.AnomalyScore
		if rep.IsAnomalous {
			out.AnomalousRecords++
		}
	}
	out.TotalRecords = len(out.Reports)
	if out.TotalRecords > 0 {
		out.AnomalyRate = float64(out.AnomalousRecords) / float64(out.TotalRecords)
		out.AvgAnomalyScore = scoreSum / float64(out.TotalRecords)
	}
	span.SetAttributes(attribute.Int("anomaly.total", out.TotalRecords), attribute.Int("anomaly.flagged", out.AnomalousRecords))
	return out, nil
}

// BatchCheck screens each id independently with bounded concurrency.
// Results keep the input order.
func (d *Detector) BatchCheck(ctx context.Context, ids []string) (*BatchReport, error) {
	ctx, span := tracer.Start(ctx, "Detector.BatchCheck")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(ids)))

	items := make([]BatchItem, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for i, raw := range ids {
		g.Go(func() error {
			items[i] = BatchItem{RecordID: raw}
			id, err := uuid.Parse(raw)
			if err != nil {
				items[i].Error = "invalid record id"
				return nil
			}
			rep, err := d.DetectAnomalies(gctx, id)
			if err != nil {
				items[i].Error = err.Error()
				return nil
			}
			items[i].Report = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &BatchReport{Total: len(ids), Results: items}
	var scoreSum float64
	for _, it := range items {
		switch {
		case it.Report == nil:
			out.Errors++
		case it.Report.IsAnomalous:
			out.Anomalous++
			scoreSum += it.Report.AnomalyScore
		default:
			out.Normal++
			scoreSum += it.Report.AnomalyScore
		}
	}
	if scored := out.Anomalous + out.Normal; scored > 0 {
		out.AvgAnomalyScore = scoreSum / float64(scored)
	}
	return out, nil
}

// score screens rec against the baseline chosen from pools.
func (d *Detector) score(ctx context.Context, rec *model.CarbonRecord, pools *poolCache) (*Report, error) {
	rep := &Report{
		RecordID:      rec.ID,
		CarrierID:     rec.CarrierID,
		BaselineScope: "none",
		Alerts:        []Alert{},
		CheckedAt:     d.now().UTC(),
	}

	history, scope, err := d.baselineFor(ctx, rec, pools)
	if err != nil {
		return nil, err
	}
	rep.BaselineSize = len(history)

	outside := false
	if scope != "" {
		rep.BaselineScope = scope
		for _, f := range monitored {
			x, ok := f.value(rec)
			if !ok {
				continue
			}
			var values []float64
			for _, h := range history {
				if v, ok := f.value(h); ok {
					values = append(values, v)
				}
			}
			if len(values) < d.cfg.MinSamples {
				continue
			}
			b := newBaseline(values)
			z := b.z(x)
			absZ := math.Abs(z)
			rep.AnomalyScore = math.Max(rep.AnomalyScore, absZ)

			exp := b.expected()
			if exp.Contains(x) {
				continue
			}
			outside = true
			rep.Alerts = append(rep.Alerts, Alert{
				Type:          TypeStatistical,
				Severity:      severityLabel(absZ),
				Field:         f.name,
				ActualValue:   x,
				ExpectedRange: &exp,
				Deviation:     z,
				Message: fmt.Sprintf("%s %.4f is %.1fσ from the %s mean %.4f",
					f.name, x, absZ, scope, b.mean),
			})
		}
	}

	for _, rule := range d.rules {
		rep.Alerts = append(rep.Alerts, rule(rec)...)
	}

	rep.IsAnomalous = rep.AnomalyScore >= d.cfg.Threshold || outside
	if rep.IsAnomalous {
		d.logger.Info("anomalous carbon record",
			zap.String("record_id", rec.ID.String()),
			zap.String("carrier_id", rec.CarrierID),
			zap.Float64("score", rep.AnomalyScore),
		)
	}
	return rep, nil
}

// baselineFor returns the history rec is compared with and its scope. Only
// records that precede rec count as history. The carrier's own history wins;
// the fleet's is used when the carrier's is too thin. An empty scope means no
// baseline was trustworthy.
func (d *Detector) baselineFor(ctx context.Context, rec *model.CarbonRecord, pools *poolCache) ([]*model.CarbonRecord, string, error) {
	carrier, err := pools.get(ctx, ledger.Filter{CarrierID: rec.CarrierID})
	if err != nil {
		return nil, "", err
	}
	history := newest(priorTo(carrier, rec), d.cfg.BaselineLimit)
	if len(history) >= d.cfg.MinSamples {
		return history, "carrier", nil
	}

	if rec.FleetID != "" {
		fleet, err := pools.get(ctx, ledger.Filter{FleetID: rec.FleetID})
		if err != nil {
			return nil, "", err
		}
		fh := newest(priorTo(fleet, rec), d.cfg.BaselineLimit)
		if len(fh) >= d.cfg.MinSamples {
			return fh, "fleet", nil
		}
		if len(fh) > len(history) {
			history = fh
		}
	}
	return history, "", nil
}

// poolCache memoises baseline queries for the duration of one call.
type poolCache struct {
	d     *Detector
	from  time.Time
	pools map[ledger.Filter][]*model.CarbonRecord
}

func newPoolCache(d *Detector) *poolCache {
	return &poolCache{
		d:     d,
		from:  d.now().AddDate(0, 0, -d.cfg.BaselineDays),
		pools: make(map[ledger.Filter][]*model.CarbonRecord),
	}
}

func (p *poolCache) get(ctx context.Context, f ledger.Filter) ([]*model.CarbonRecord, error) {
	if recs, ok := p.pools[f]; ok {
		return recs, nil
	}
	q := f
	from := p.from
	q.From = &from
	recs, err := p.d.store.Query(ctx, q, 0)
	if err != nil {
		return nil, fmt.Errorf("load baseline: %w", err)
	}
	p.pools[f] = recs
	return recs, nil
}

// newest keeps the last n of an oldest-first slice.
func newest(recs []*model.CarbonRecord, n int) []*model.CarbonRecord {
	if n > 0 && len(recs) > n {
		return recs[len(recs)-n:]
	}
	return recs
}

// priorTo keeps the records that precede rec: earlier positions of its own
// chain, and records of other carriers created no later than rec.
func priorTo(recs []*model.CarbonRecord, rec *model.CarbonRecord) []*model.CarbonRecord {
	out := make([]*model.CarbonRecord, 0, len(recs))
	for _, r := range recs {
		switch {
		case r.ID == rec.ID:
		case r.CarrierID == rec.CarrierID:
			if r.Sequence < rec.Sequence {
				out = append(out, r)
			}
		case !r.CreatedAt.After(rec.CreatedAt):
			out = append(out, r)
		}
	}
	return out
}

package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	carbonRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carbon_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	carbonRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "carbon_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	carbonRecordsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carbon_records_created_total",
		Help: "Total carbon records appended, by data source.",
	}, []string{"source"})

	carbonRecordsSignedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carbon_records_signed_total",
		Help: "Total carbon records signed.",
	})

	carbonChainConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carbon_chain_conflicts_total",
		Help: "Total appends that lost a race for the chain tip.",
	})

	carbonVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carbon_verifications_total",
		Help: "Total verifications by kind (record, chain) and result.",
	}, []string{"kind", "result"})

	carbonChainSweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carbon_chain_sweeps_total",
		Help: "Total chains checked by the audit sweeper, by result.",
	}, []string{"result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		carbonRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		carbonRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// MetricsRecorder feeds ledger events into the Prometheus collectors.
type MetricsRecorder struct{}

// RecordCreated implements service.Metrics.
func (MetricsRecorder) RecordCreated(source model.Source) {
	carbonRecordsCreatedTotal.WithLabelValues(string(source)).Inc()
}

// RecordSigned implements service.Metrics.
func (MetricsRecorder) RecordSigned() { carbonRecordsSignedTotal.Inc() }

// ChainConflict implements service.Metrics.
func (MetricsRecorder) ChainConflict() { carbonChainConflictsTotal.Inc() }

// Verification implements service.Metrics.
func (MetricsRecorder) Verification(kind string, valid bool) {
	carbonVerificationsTotal.WithLabelValues(kind, resultLabel(valid)).Inc()
}

// RecordChainSweep records one audit sweeper result.
func RecordChainSweep(valid bool) {
	carbonChainSweepsTotal.WithLabelValues(resultLabel(valid)).Inc()
}

func resultLabel(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

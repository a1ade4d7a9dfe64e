package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ad-selection-engine/internal/engine"
	"ad-selection-engine/internal/errortypes"
	"ad-selection-engine/internal/throttle"
)

// Telemetry exports auction stage latencies and entry call outcomes to prometheus.
type Telemetry struct {
	stages     *prometheus.HistogramVec
	results    *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	candidates *prometheus.HistogramVec
}

var _ engine.Telemetry = (*Telemetry)(nil)

// NewTelemetry registers the auction collectors with reg.
func NewTelemetry(reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ad_selection_stage_duration_seconds",
			Help:    "Latency of each auction stage",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ad_selection_calls_total",
			Help: "Entry calls by api and final status",
		}, []string{"api", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ad_selection_call_duration_seconds",
			Help:    "End to end latency of entry calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"api"}),
		candidates: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ad_selection_candidates",
			Help:    "Custom audiences and bids entering scoring",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"kind"}),
	}
	reg.MustRegister(t.stages, t.results, t.latency, t.candidates)
	return t
}

func (t *Telemetry) ObserveStage(stage engine.Stage, d time.Duration) {
	t.stages.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (t *Telemetry) ObserveResult(api throttle.API, status errortypes.Status, d time.Duration) {
	t.results.WithLabelValues(string(api), status.String()).Inc()
	t.latency.WithLabelValues(string(api)).Observe(d.Seconds())
}

func (t *Telemetry) ObserveCandidates(audiences, bids int) {
	t.candidates.WithLabelValues("audiences").Observe(float64(audiences))
	t.candidates.WithLabelValues("bids").Observe(float64(bids))
}

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ad_selection_http_requests_total",
			Help: "Total HTTP requests by route and code",
		}, []string{"route", "code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ad_selection_http_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ad_selection_http_in_flight",
		Help: "In-flight HTTP requests",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Measure records latency and response codes. route labels the counter so
// per-id paths do not explode cardinality.
func Measure(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			InFlight.Inc()
			defer InFlight.Dec()

			rr := &rec{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rr, r)

			Latency.Observe(time.Since(start).Seconds())
			RequestsTotal.WithLabelValues(route(r), strconv.Itoa(rr.code)).Inc()
		})
	}
}

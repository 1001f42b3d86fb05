// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal     *prometheus.CounterVec
	urlsAdmittedTotal prometheus.Counter
	urlsDroppedTotal *prometheus.CounterVec
	duplicatesTotal  *prometheus.CounterVec
	trapsTotal       *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	queueDepth       prometheus.Histogram
	inflight         prometheus.Gauge
	hostsParked      prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors. Safe to call multiple
// times; only the first call registers collectors, matching the teacher's
// sync.Once idiom in internal/metrics/metrics.go.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetches_total",
				Help: "Total fetch attempts, labeled by outcome status and fetch mode.",
			},
			[]string{"status", "mode"},
		)

		urlsAdmittedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "urls_admitted_total",
				Help: "Total URLs admitted to the frontier.",
			},
		)

		urlsDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urls_dropped_total",
				Help: "Total URLs rejected at admission, labeled by reason.",
			},
			[]string{"reason"},
		)

		duplicatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duplicates_total",
				Help: "Total duplicate detections, labeled by dedup tier.",
			},
			[]string{"tier"},
		)

		trapsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traps_total",
				Help: "Total trap-rule firings, labeled by rule kind.",
			},
			[]string{"kind"},
		)

		fetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetch_duration_seconds",
				Help:    "Fetch latency, labeled by fetch mode.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"mode"},
		)

		queueDepth = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "queue_depth",
				Help:    "Sampled frontier depth over time.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 16),
			},
		)

		inflight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "inflight",
				Help: "Number of fetches currently in flight.",
			},
		)

		hostsParked = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hosts_parked",
				Help: "Number of hosts currently circuit-open.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records the outcome of one fetch attempt.
func ObserveFetch(status string, mode string, duration time.Duration) {
	fetchesTotal.WithLabelValues(status, mode).Inc()
	fetchDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveAdmitted increments the admitted-URL counter.
func ObserveAdmitted() {
	urlsAdmittedTotal.Inc()
}

// ObserveDropped increments the dropped-URL counter for reason.
func ObserveDropped(reason string) {
	urlsDroppedTotal.WithLabelValues(reason).Inc()
}

// ObserveDuplicate increments the duplicate counter for the caller-supplied
// tier label; the worker reports every content duplicate as "content".
func ObserveDuplicate(tier string) {
	duplicatesTotal.WithLabelValues(tier).Inc()
}

// ObserveTrap increments the trap counter for kind.
func ObserveTrap(kind string) {
	trapsTotal.WithLabelValues(kind).Inc()
}

// SetQueueDepth samples the current frontier depth.
func SetQueueDepth(depth int) {
	queueDepth.Observe(float64(depth))
}

// IncInflight increments the inflight gauge.
func IncInflight() { inflight.Inc() }

// DecInflight decrements the inflight gauge.
func DecInflight() { inflight.Dec() }

// SetHostsParked sets the hosts-parked gauge.
func SetHostsParked(n int) {
	hostsParked.Set(float64(n))
}

// Package metrics exposes the Prometheus collectors of the engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "igichat"

// Load results.
const (
	LoadOK             = "ok"
	LoadFailed         = "failed"
	LoadRolledBack     = "rolled_back"
	LoadRollbackFailed = "rollback_failed"
	LoadSkipped        = "skipped"
)

var (
	modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "loads_total",
			Help:      "Total number of model loads and swaps by result",
		},
		[]string{"domain", "result"},
	)

	modelLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "load_duration_seconds",
			Help:      "Duration of model loads and swaps in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"domain"},
	)

	inferenceTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "turns_total",
			Help:      "Total number of evaluated turns by kind and terminal state",
		},
		[]string{"domain", "kind", "state"},
	)

	inferenceTurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "turn_duration_seconds",
			Help:      "Duration of evaluated turns in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"domain", "kind"},
	)

	domainReady = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "domain_ready",
			Help:      "Whether a model instance is ready for the domain",
		},
		[]string{"domain"},
	)

	catalogEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "entries",
			Help:      "Number of catalog entries by availability status",
		},
		[]string{"domain", "status"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		modelLoadsTotal, modelLoadDuration,
		inferenceTurnsTotal, inferenceTurnDuration,
		domainReady, catalogEntries,
		httpRequestsTotal, httpRequestDuration,
	)
}

// ObserveLoad records a finished load or swap.
func ObserveLoad(domain, result string, d time.Duration) {
	modelLoadsTotal.WithLabelValues(domain, result).Inc()
	modelLoadDuration.WithLabelValues(domain).Observe(d.Seconds())
}

// ObserveTurn records a finished turn.
func ObserveTurn(domain, kind, state string, d time.Duration) {
	inferenceTurnsTotal.WithLabelValues(domain, kind, state).Inc()
	inferenceTurnDuration.WithLabelValues(domain, kind).Observe(d.Seconds())
}

// SetReady updates the readiness gauge of domain.
func SetReady(domain string, ready bool) {
	v := 0.0
	if ready {
		v = 1
	}
	domainReady.WithLabelValues(domain).Set(v)
}

// SetCatalog updates the catalog gauges of domain.
func SetCatalog(domain string, counts map[string]int) {
	catalogEntries.DeletePartialMatch(prometheus.Labels{"domain": domain})
	for status, n := range counts {
		catalogEntries.WithLabelValues(domain, status).Set(float64(n))
	}
}

// ObserveHTTP records a served HTTP request.
func ObserveHTTP(path, method string, status int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(path, method).Observe(d.Seconds())
}

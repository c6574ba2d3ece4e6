package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testserve",
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Number of server processes spawned.",
		}, []string{"name"},
	)
	serverReuses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testserve",
			Subsystem: "server",
			Name:      "reuses_total",
			Help:      "Number of EnsureStarted calls satisfied by a healthy running server.",
		}, []string{"name"},
	)
	serverStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testserve",
			Subsystem: "server",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"name"},
	)
	healthTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testserve",
			Subsystem: "server",
			Name:      "health_timeouts_total",
			Help:      "Number of startup health waits that hit their deadline.",
		}, []string{"name"},
	)
	orphansReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "testserve",
			Subsystem: "registry",
			Name:      "orphans_reclaimed_total",
			Help:      "Registry records reclaimed by orphan cleanup.",
		},
	)
	trackedServers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "testserve",
			Subsystem: "server",
			Name:      "tracked",
			Help:      "Servers currently tracked by this process.",
		},
	)
	healthWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "testserve",
			Subsystem: "server",
			Name:      "health_wait_seconds",
			Help:      "Observed time from process spawn to first successful readiness probe.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serverStarts, serverReuses, serverStops, healthTimeouts, orphansReclaimed, trackedServers, healthWaitSeconds}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		serverStarts.WithLabelValues(name).Inc()
	}
}
func IncReuse(name string) {
	if regOK.Load() {
		serverReuses.WithLabelValues(name).Inc()
	}
}
func IncStop(name string) {
	if regOK.Load() {
		serverStops.WithLabelValues(name).Inc()
	}
}
func IncHealthTimeout(name string) {
	if regOK.Load() {
		healthTimeouts.WithLabelValues(name).Inc()
	}
}
func AddOrphansReclaimed(n int) {
	if regOK.Load() && n > 0 {
		orphansReclaimed.Add(float64(n))
	}
}
func IncTracked() {
	if regOK.Load() {
		trackedServers.Inc()
	}
}
func DecTracked() {
	if regOK.Load() {
		trackedServers.Dec()
	}
}
func ObserveHealthWait(name string, seconds float64) {
	if regOK.Load() {
		healthWaitSeconds.WithLabelValues(name).Observe(seconds)
	}
}

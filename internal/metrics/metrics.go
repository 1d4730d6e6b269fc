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

	spawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geenii",
			Subsystem: "sidecar",
			Name:      "spawns_total",
			Help:      "Number of successful sidecar spawns.",
		}, []string{"name"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geenii",
			Subsystem: "sidecar",
			Name:      "spawn_failures_total",
			Help:      "Number of failed sidecar spawn attempts.",
		}, []string{"name"},
	)
	kills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geenii",
			Subsystem: "sidecar",
			Name:      "kills_total",
			Help:      "Number of kill signals issued to an owned sidecar handle.",
		}, []string{"name"},
	)
	sweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geenii",
			Subsystem: "sidecar",
			Name:      "sweeps_total",
			Help:      "Number of orphan sweeps by outcome.",
		}, []string{"name", "result"},
	)
	relayEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geenii",
			Subsystem: "sidecar",
			Name:      "relay_events_total",
			Help:      "Number of sidecar events drained by the relay, by kind.",
		}, []string{"name", "kind"},
	)
	running = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "geenii",
			Subsystem: "sidecar",
			Name:      "running",
			Help:      "1 while the ownership slot holds a sidecar handle.",
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{spawns, spawnFailures, kills, sweeps, relayEvents, running, cpuPercent, memoryRSS}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with this registry: keep the existing collector
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

// Registered reports whether Register has succeeded.
func Registered() bool { return regOK.Load() }

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register has been called.

func IncSpawn(name string) {
	if regOK.Load() {
		spawns.WithLabelValues(name).Inc()
		running.WithLabelValues(name).Set(1)
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(name).Inc()
	}
}

func IncKill(name string) {
	if regOK.Load() {
		kills.WithLabelValues(name).Inc()
	}
}

func IncSweep(name, result string) {
	if regOK.Load() {
		sweeps.WithLabelValues(name, result).Inc()
	}
}

func IncRelayEvent(name, kind string) {
	if regOK.Load() {
		relayEvents.WithLabelValues(name, kind).Inc()
	}
}

func SetRunning(name string, v bool) {
	if !regOK.Load() {
		return
	}
	if v {
		running.WithLabelValues(name).Set(1)
	} else {
		running.WithLabelValues(name).Set(0)
	}
}

// Package profiler exposes world-coordination health as Prometheus
// metrics: the core treats this purely as an out-of-scope observer that
// reads counters the world already maintains, never as a
// participant in the stop protocol itself.
package profiler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Source is the subset of the core's state a Profiler samples. It is an
// interface so the profiler can be tested without a live world.State.
type Source interface {
	TimeWaiting() uint64
	PendingThreads() int
	ShouldStop() bool
}

// Profiler registers and serves the gauges/counters that describe the
// world-coordination core's behavior over time.
type Profiler struct {
	registry *prometheus.Registry

	stopEpisodes  prometheus.Counter
	timeWaitingNs prometheus.Gauge
	pendingGauge  prometheus.Gauge
	stoppedGauge  prometheus.Gauge

	source Source
}

// New creates a Profiler bound to source, registering its collectors on a
// fresh registry so the caller controls exactly what this process exposes.
func New(source Source) *Profiler {
	p := &Profiler{
		registry: prometheus.NewRegistry(),
		source:   source,
		stopEpisodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inos_core",
			Subsystem: "world",
			Name:      "stop_episodes_total",
			Help:      "Number of stop-the-world episodes observed.",
		}),
		timeWaitingNs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "inos_core",
			Subsystem: "world",
			Name:      "time_waiting_nanoseconds",
			Help:      "Cumulative nanoseconds every stopper has spent waiting for pending threads to check in.",
		}),
		pendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "inos_core",
			Subsystem: "world",
			Name:      "pending_threads",
			Help:      "Current number of threads counted as dependent on the world.",
		}),
		stoppedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "inos_core",
			Subsystem: "world",
			Name:      "stopped",
			Help:      "1 if a stop-the-world episode is in progress, 0 otherwise.",
		}),
	}

	p.registry.MustRegister(p.stopEpisodes, p.timeWaitingNs, p.pendingGauge, p.stoppedGauge)
	return p
}

// Registry returns the underlying Prometheus registry, for wiring into an
// HTTP handler via promhttp.HandlerFor.
func (p *Profiler) Registry() *prometheus.Registry {
	return p.registry
}

// RecordStopEpisode increments the stop-episode counter. The caller (the
// collector in cmd/inos-core, after its StopTheWorld call) owns the
// decision of when an episode has happened; the profiler only counts.
func (p *Profiler) RecordStopEpisode() {
	p.stopEpisodes.Inc()
}

// Sample refreshes the gauges from the bound source. It is cheap enough
// to call on every scrape or on a short ticker.
func (p *Profiler) Sample() {
	p.timeWaitingNs.Set(float64(p.source.TimeWaiting()))
	p.pendingGauge.Set(float64(p.source.PendingThreads()))
	if p.source.ShouldStop() {
		p.stoppedGauge.Set(1)
	} else {
		p.stoppedGauge.Set(0)
	}
}

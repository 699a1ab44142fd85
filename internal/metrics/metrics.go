// Package metrics wraps a handful of Prometheus collectors around the
// collector and scheduler, grounded on the Voskan-arena-cache and
// jra3-system-agent manifests (both instrument their core with
// github.com/prometheus/client_golang counters/gauges rather than logging
// alone). A *Registry is optional: every method is nil-receiver-safe, so an
// embedder that doesn't want a /metrics endpoint can simply not construct
// one and the core runs unmetered.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds the core's Prometheus collectors. The zero value is not
// usable directly; construct with New. A nil *Registry is valid and every
// method on it is a no-op.
type Registry struct {
	reg *prometheus.Registry

	collectionsTotal   *prometheus.CounterVec
	bytesReclaimed     prometheus.Counter
	liveThreads        prometheus.Gauge
	readyQueueDepth    prometheus.Gauge
	finalizersQueued   prometheus.Gauge
}

// New constructs a Registry and registers its collectors with a fresh
// prometheus.Registry, returned alongside for the embedder to expose over
// HTTP if it chooses to.
func New() (*Registry, *prometheus.Registry) {
	promReg := prometheus.NewRegistry()
	r := &Registry{
		reg: promReg,
		collectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "squawk",
			Subsystem: "gc",
			Name:      "collections_total",
			Help:      "Number of collections run, labeled by kind (young, full).",
		}, []string{"kind"}),
		bytesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "squawk",
			Subsystem: "gc",
			Name:      "bytes_reclaimed_total",
			Help:      "Total bytes reclaimed across all collections.",
		}),
		liveThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "squawk",
			Subsystem: "sched",
			Name:      "live_threads",
			Help:      "Number of threads not yet terminated.",
		}),
		readyQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "squawk",
			Subsystem: "sched",
			Name:      "ready_queue_depth",
			Help:      "Number of threads currently on the ready queue.",
		}),
		finalizersQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "squawk",
			Subsystem: "sched",
			Name:      "finalizers_queued",
			Help:      "Number of objects awaiting finalizer execution.",
		}),
	}
	promReg.MustRegister(r.collectionsTotal, r.bytesReclaimed, r.liveThreads, r.readyQueueDepth, r.finalizersQueued)
	return r, promReg
}

// CollectionRun records one completed collection of the given kind
// ("young" or "full") and the bytes it reclaimed.
func (r *Registry) CollectionRun(kind string, bytesReclaimed uint64) {
	if r == nil {
		return
	}
	r.collectionsTotal.WithLabelValues(kind).Inc()
	r.bytesReclaimed.Add(float64(bytesReclaimed))
}

// SetLiveThreads records the current live-thread count.
func (r *Registry) SetLiveThreads(n int) {
	if r == nil {
		return
	}
	r.liveThreads.Set(float64(n))
}

// SetReadyQueueDepth records the current ready-queue depth.
func (r *Registry) SetReadyQueueDepth(n int) {
	if r == nil {
		return
	}
	r.readyQueueDepth.Set(float64(n))
}

// SetFinalizersQueued records the current finalizer-runner queue depth.
func (r *Registry) SetFinalizersQueued(n int) {
	if r == nil {
		return
	}
	r.finalizersQueued.Set(float64(n))
}

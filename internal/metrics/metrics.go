// Package metrics exposes Prometheus collectors for the scheduler,
// IOManager, and HTTP server, registered against a caller-supplied
// registry so embedding binaries control what else shares the registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups every gauge/counter/histogram this module exports.
type Collectors struct {
	FibersRunning   prometheus.Gauge
	FibersScheduled prometheus.Counter
	FiberYields     prometheus.Counter

	EpollEvents     prometheus.Counter
	PendingFDEvents prometheus.Gauge
	TimerFires      prometheus.Counter

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPConnectionsOpen  prometheus.Gauge
	PoolConnectionsIdle  prometheus.Gauge
	PoolConnectionsDials prometheus.Counter
}

// New creates and registers all collectors against reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		FibersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corenet", Subsystem: "scheduler", Name: "fibers_running",
			Help: "Number of fibers currently running on a worker.",
		}),
		FibersScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corenet", Subsystem: "scheduler", Name: "fibers_scheduled_total",
			Help: "Total number of fibers scheduled.",
		}),
		FiberYields: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corenet", Subsystem: "scheduler", Name: "fiber_yields_total",
			Help: "Total number of fiber yields across all workers.",
		}),
		EpollEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corenet", Subsystem: "iomanager", Name: "epoll_events_total",
			Help: "Total number of epoll events dispatched.",
		}),
		PendingFDEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corenet", Subsystem: "iomanager", Name: "pending_fd_events",
			Help: "Number of fd read/write interests currently armed.",
		}),
		TimerFires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corenet", Subsystem: "timer", Name: "fires_total",
			Help: "Total number of timer callbacks fired.",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corenet", Subsystem: "http", Name: "requests_total",
			Help: "Total HTTP requests served, by status class.",
		}, []string{"status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "corenet", Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request handling latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
		HTTPConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corenet", Subsystem: "http", Name: "connections_open",
			Help: "Number of currently open server connections.",
		}),
		PoolConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corenet", Subsystem: "http_pool", Name: "connections_idle",
			Help: "Number of idle connections currently held in the client pool.",
		}),
		PoolConnectionsDials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corenet", Subsystem: "http_pool", Name: "dials_total",
			Help: "Total number of new connections dialed due to a pool miss.",
		}),
	}

	reg.MustRegister(
		c.FibersRunning, c.FibersScheduled, c.FiberYields,
		c.EpollEvents, c.PendingFDEvents, c.TimerFires,
		c.HTTPRequestsTotal, c.HTTPRequestDuration, c.HTTPConnectionsOpen,
		c.PoolConnectionsIdle, c.PoolConnectionsDials,
	)
	return c
}

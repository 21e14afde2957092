// Package metrics wraps the process-wide prometheus.Registry with the
// counters and gauges the Control Plane API and middleware update.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns every metric this process exports.
type Registry struct {
	reg *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestErrors     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimited       prometheus.Counter
	activeGameServers prometheus.Gauge
	serverStarts      prometheus.Counter
	serverStops       prometheus.Counter
	serverCrashes     prometheus.Counter
}

// New registers every metric on a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "control_plane_requests_total",
			Help: "Total HTTP requests handled.",
		}, []string{"path"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "control_plane_request_errors_total",
			Help: "Total HTTP requests that returned a 5xx.",
		}, []string{"path"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "control_plane_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "control_plane_rate_limited_total",
			Help: "Total requests rejected by the rate limiter.",
		}),
		activeGameServers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "control_plane_active_game_servers",
			Help: "Number of game servers currently running (0 or 1, per I1).",
		}),
		serverStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "control_plane_server_starts_total",
			Help: "Total successful server starts.",
		}),
		serverStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "control_plane_server_stops_total",
			Help: "Total successful server stops requested through the API.",
		}),
		serverCrashes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "control_plane_server_crashes_total",
			Help: "Total crash-watcher detected crashes.",
		}),
	}
	reg.MustRegister(
		r.requestsTotal, r.requestErrors, r.requestDuration, r.rateLimited,
		r.activeGameServers, r.serverStarts, r.serverStops, r.serverCrashes,
	)
	return r
}

func (r *Registry) IncRequest(path string)     { r.requestsTotal.WithLabelValues(path).Inc() }
func (r *Registry) IncError(path string)       { r.requestErrors.WithLabelValues(path).Inc() }
func (r *Registry) IncRateLimited()            { r.rateLimited.Inc() }
func (r *Registry) SetActiveGameServers(v int) { r.activeGameServers.Set(float64(v)) }
func (r *Registry) IncServerStart()            { r.serverStarts.Inc() }
func (r *Registry) IncServerStop()             { r.serverStops.Inc() }
func (r *Registry) IncServerCrash()            { r.serverCrashes.Inc() }

func (r *Registry) ObserveRequestDuration(path string, d time.Duration) {
	r.requestDuration.WithLabelValues(path).Observe(d.Seconds())
}

// Handler exposes the registry in the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

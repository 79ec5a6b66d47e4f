// Package metrics exposes crawl activity as Prometheus collectors
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"webspider/pkg/models"
)

const namespace = "webspider"

// Recorder holds the collectors of one process, registered on a private registry
type Recorder struct {
	registry *prometheus.Registry

	FetchesTotal    *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	BytesTotal      prometheus.Counter
	DiscoveredTotal prometheus.Counter
	RunsTotal       *prometheus.CounterVec
	FrontierPending prometheus.Gauge
	InFlight        prometheus.Gauge
	Running         prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewRecorder creates and registers all collectors, plus the Go and process collectors
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		FetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Completed fetches by outcome and error kind.",
		}, []string{"status", "error_kind"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of fetches, retries included.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"status"}),
		BytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_bytes_total",
			Help:      "Response body bytes read from successful fetches.",
		}),
		DiscoveredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "urls_discovered_total",
			Help:      "URLs admitted to the frontier.",
		}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Crawl runs by how they ended.",
		}, []string{"result"}),
		FrontierPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frontier_pending",
			Help:      "URLs waiting in the frontier.",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetches_in_flight",
			Help:      "URLs popped from the frontier and not yet completed.",
		}),
		Running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "crawl_running",
			Help:      "1 while a crawl run is active.",
		}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Control API requests.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Duration of control API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Registry returns the registry backing the recorder
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveFetch records one completed fetch
func (r *Recorder) ObserveFetch(result models.FetchResult) {
	status := "success"
	if !result.Success {
		status = "failure"
	}
	r.FetchesTotal.WithLabelValues(status, result.ErrorKind.String()).Inc()
	r.FetchDuration.WithLabelValues(status).Observe(result.Duration.Seconds())
	if result.Bytes > 0 {
		r.BytesTotal.Add(float64(result.Bytes))
	}
}

// RecordDiscovered counts n URLs admitted to the frontier
func (r *Recorder) RecordDiscovered(n int) {
	if n > 0 {
		r.DiscoveredTotal.Add(float64(n))
	}
}

// SetFrontier publishes the current queue sizes
func (r *Recorder) SetFrontier(pending, inFlight int) {
	r.FrontierPending.Set(float64(pending))
	r.InFlight.Set(float64(inFlight))
}

// RunStarted flips the running gauge on
func (r *Recorder) RunStarted() {
	r.Running.Set(1)
}

// RunFinished flips the running gauge off and counts the run; stopped reports whether Stop ended it
func (r *Recorder) RunFinished(stopped bool) {
	r.Running.Set(0)
	r.SetFrontier(0, 0)
	result := "completed"
	if stopped {
		result = "stopped"
	}
	r.RunsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTP records one control API request
func (r *Recorder) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// Package metrics exposes Prometheus collectors for archive runs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tabarchiver"

// Recorder owns the collectors of one process. It satisfies
// crawler.FetchObserver and orchestrator.Observer.
type Recorder struct {
	gatherer prometheus.Gatherer

	fetchAttempts   *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	fetchRetries    *prometheus.CounterVec
	retryDelay      *prometheus.HistogramVec
	artists         *prometheus.CounterVec
	tabs            *prometheus.CounterVec
	errors          *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpRequestTime *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg gets a private registry.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		fetchAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Page loads attempted, labeled by loader variant and outcome.",
		}, []string{"variant", "outcome"}),
		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of single page loads.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"variant"}),
		fetchRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Retries scheduled after a failed load.",
		}, []string{"variant"}),
		retryDelay: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_delay_seconds",
			Help:      "Backoff delays slept before a retry.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 30},
		}, []string{"variant"}),
		artists: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artists_total",
			Help:      "Artists processed, labeled by run mode.",
		}, []string{"mode"}),
		tabs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tabs_total",
			Help:      "Tabs handled by the download phase, labeled by type and outcome.",
		}, []string{"type", "outcome"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors recorded in the run summary, labeled by stage and kind.",
		}, []string{"stage", "kind"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpRequestTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// ObserveFetch counts one load attempt.
func (r *Recorder) ObserveFetch(variant, outcome string, elapsed time.Duration) {
	r.fetchAttempts.WithLabelValues(variant, outcome).Inc()
	r.fetchDuration.WithLabelValues(variant).Observe(elapsed.Seconds())
}

// ObserveRetry counts a scheduled retry and its delay.
func (r *Recorder) ObserveRetry(variant string, delay time.Duration) {
	r.fetchRetries.WithLabelValues(variant).Inc()
	r.retryDelay.WithLabelValues(variant).Observe(delay.Seconds())
}

// ArtistProcessed counts a finished artist.
func (r *Recorder) ArtistProcessed(mode string) {
	r.artists.WithLabelValues(mode).Inc()
}

// TabArchived counts a tab outcome.
func (r *Recorder) TabArchived(tabType, outcome string) {
	r.tabs.WithLabelValues(tabType, outcome).Inc()
}

// ErrorRecorded counts a summary error.
func (r *Recorder) ErrorRecorded(stage, kind string) {
	r.errors.WithLabelValues(stage, kind).Inc()
}

// ObserveHTTPRequest records one request served by the metrics endpoint.
func (r *Recorder) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	r.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	r.httpRequestTime.WithLabelValues(method, route).Observe(duration.Seconds())
}

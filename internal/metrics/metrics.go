// Package metrics exposes Prometheus collectors for the article watcher.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal                *prometheus.CounterVec
	cycleDurationSeconds       *prometheus.HistogramVec
	commentsInsertedTotal      prometheus.Counter
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commentater_cycles_total",
				Help: "Total number of scheduler cycles, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		cycleDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commentater_cycle_duration_seconds",
				Help:    "Histogram of scheduler cycle durations, labeled by outcome.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		)

		commentsInsertedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "commentater_comments_inserted_total",
				Help: "Total number of unanswered comments written by reconciliation.",
			},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commentater_fetches_total",
				Help: "Total number of article page fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commentater_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commentater_fetch_rate_limit_delay_seconds",
				Help:    "Time fetches spent waiting for the per-site rate limiter.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "commentater_active_workers",
				Help: "Number of worker loops currently running.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle records one scheduler cycle.
func ObserveCycle(outcome string, duration time.Duration) {
	cyclesTotal.WithLabelValues(outcome).Inc()
	cycleDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveCommentsInserted adds n freshly written comments.
func ObserveCommentsInserted(n int) {
	if n > 0 {
		commentsInsertedTotal.Add(float64(n))
	}
}

// ObserveFetch increments the fetch metrics.
func ObserveFetch(site string, status string, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	fetchesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRateLimitDelay records how long a fetch waited for its site's limiter.
func ObserveRateLimitDelay(site string, delay time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(delay.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

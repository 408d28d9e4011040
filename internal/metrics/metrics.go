// Package metrics exposes Prometheus collectors for the extraction service.
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
	extractionPagesTotal        *prometheus.CounterVec
	extractionAttemptsTotal     *prometheus.CounterVec
	extractionAppearancesTotal  *prometheus.CounterVec
	extractionJobsTotal         *prometheus.CounterVec
	extractionRunSeconds        *prometheus.HistogramVec
	extractionActiveRuns        prometheus.Gauge
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		extractionPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extraction_pages_total",
				Help: "Total number of candidate pages processed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		extractionAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extraction_scrape_attempts_total",
				Help: "Total number of strategy attempts, labeled by strategy and result.",
			},
			[]string{"strategy", "result"},
		)

		extractionAppearancesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extraction_speaker_appearances_total",
				Help: "Total number of speaker appearances extracted, labeled by site.",
			},
			[]string{"site"},
		)

		extractionJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extraction_jobs_total",
				Help: "Total number of jobs reaching a terminal status, labeled by status.",
			},
			[]string{"status"},
		)

		extractionRunSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extraction_run_duration_seconds",
				Help:    "Histogram of end-to-end run durations, labeled by terminal status.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		)

		extractionActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "extraction_active_runs",
				Help: "Number of extraction runs currently in flight.",
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

// ObservePage increments the per-page counters.
func ObservePage(site string, outcome string) {
	extractionPagesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveAttempt increments the strategy attempt counter.
func ObserveAttempt(strategy string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	extractionAttemptsTotal.WithLabelValues(strategy, result).Inc()
}

// ObserveAppearances adds extracted appearance counts for a site.
func ObserveAppearances(site string, count int) {
	if count > 0 {
		extractionAppearancesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(count))
	}
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	extractionJobsTotal.WithLabelValues(status).Inc()
}

// ObserveRunDuration records an end-to-end run duration.
func ObserveRunDuration(status string, duration time.Duration) {
	extractionRunSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// IncActiveRuns increments the in-flight run gauge.
func IncActiveRuns() {
	extractionActiveRuns.Inc()
}

// DecActiveRuns decrements the in-flight run gauge.
func DecActiveRuns() {
	extractionActiveRuns.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Package metrics exposes Prometheus collectors for the monitor and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/viktor-monitor/viktor/internal/models"
)

var (
	// Upstream metrics
	Fetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viktor_fetches_total",
			Help: "Total number of analysis run fetches from the backend",
		},
		[]string{"source", "status"}, // status: success|error|stale
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viktor_cache_hits_total",
			Help: "Total number of run reads served from the local cache",
		},
		[]string{"source"},
	)

	// Cycle metrics
	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "viktor_cycle_duration_seconds",
			Help:    "Report cycle duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"source", "status"},
	)

	Correlation = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "viktor_confidence_correlation",
			Help: "Pearson correlation between buying confidence and performance in the latest report",
		},
		[]string{"source"},
	)

	PositiveRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "viktor_positive_rate_percent",
			Help: "Share of points with a positive performance in the latest report",
		},
		[]string{"source"},
	)

	Points = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "viktor_points",
			Help: "Number of scatter points in the latest report",
		},
		[]string{"source"},
	)

	// HTTP metrics
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viktor_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"route", "code"},
	)
)

var registerOnce sync.Once

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(Fetches)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CycleDuration)
		prometheus.MustRegister(Correlation)
		prometheus.MustRegister(PositiveRate)
		prometheus.MustRegister(Points)
		prometheus.MustRegister(HTTPRequests)
	})
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordFetch records one backend fetch outcome.
func RecordFetch(source models.Source, status string) {
	Fetches.WithLabelValues(string(source), status).Inc()
}

// RecordCacheHit records a read served from cache
func RecordCacheHit(source models.Source) {
	CacheHits.WithLabelValues(string(source)).Inc()
}

// RecordCycle records the duration and outcome of a report cycle.
func RecordCycle(source models.Source, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	CycleDuration.WithLabelValues(string(source), status).Observe(duration.Seconds())
}

// RecordReport publishes the headline numbers of a report.
func RecordReport(report *models.Report) {
	source := string(report.Source)
	Correlation.WithLabelValues(source).Set(report.Metrics.Correlation)
	PositiveRate.WithLabelValues(source).Set(report.Metrics.PositiveRate)
	Points.WithLabelValues(source).Set(float64(len(report.Points)))
}

// RecordHTTPRequest records one handled API request.
func RecordHTTPRequest(route string, code int) {
	HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

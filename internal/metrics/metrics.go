// Package metrics holds the Prometheus collectors of the scanning engine.
package metrics

import (
	"sync"
	"time"

	"vulnvault/internal/model"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics represents the collection of all scan metrics
type Metrics struct {
	ScansTotal      *prometheus.CounterVec
	ScanDuration    *prometheus.HistogramVec
	ScansInProgress prometheus.Gauge
	FilesScanned    prometheus.Counter
	FindingsTotal   *prometheus.CounterVec
	DetectorFaults  *prometheus.CounterVec

	FeedRequests *prometheus.CounterVec
	FeedLatency  prometheus.Histogram

	SuggestionsTotal *prometheus.CounterVec
	AlertsTotal      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}

	m.ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnvault_scans_total",
			Help: "Total number of scans by input kind and outcome",
		},
		[]string{"kind", "status"},
	)

	m.ScanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vulnvault_scan_duration_seconds",
			Help:    "Duration of scans in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 180, 600},
		},
		[]string{"kind"},
	)

	m.ScansInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vulnvault_scans_in_progress",
			Help: "Number of scans currently running",
		},
	)

	m.FilesScanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vulnvault_files_scanned_total",
			Help: "Total number of files evaluated by the rule engine",
		},
	)

	m.FindingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnvault_findings_total",
			Help: "Total number of findings by category and severity",
		},
		[]string{"category", "severity"},
	)

	m.DetectorFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnvault_detector_faults_total",
			Help: "Total number of detector panics isolated during scans",
		},
		[]string{"detector"},
	)

	m.FeedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnvault_advisory_requests_total",
			Help: "Advisory feed requests by outcome (ok, retry, error)",
		},
		[]string{"outcome"},
	)

	m.FeedLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vulnvault_advisory_request_duration_seconds",
			Help:    "Duration of advisory feed requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.SuggestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnvault_suggestions_total",
			Help: "Fix suggestion requests by provider and outcome",
		},
		[]string{"provider", "status"},
	)

	m.AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnvault_alerts_total",
			Help: "Scan alerts sent by channel and outcome",
		},
		[]string{"channel", "status"},
	)

	if reg != nil {
		reg.MustRegister(
			m.ScansTotal,
			m.ScanDuration,
			m.ScansInProgress,
			m.FilesScanned,
			m.FindingsTotal,
			m.DetectorFaults,
			m.FeedRequests,
			m.FeedLatency,
			m.SuggestionsTotal,
			m.AlertsTotal,
		)
	}
	return m
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics registered with the default
// Prometheus registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// ObserveScan records one finished scan.
func (m *Metrics) ObserveScan(kind string, res *model.ScanResult, elapsed time.Duration) {
	m.ScanDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if res == nil {
		m.ScansTotal.WithLabelValues(kind, "failed").Inc()
		return
	}
	status := "complete"
	if !res.Complete() {
		status = "incomplete"
	}
	m.ScansTotal.WithLabelValues(kind, status).Inc()
	for _, f := range res.Findings {
		m.FindingsTotal.WithLabelValues(string(f.Category), string(f.Severity)).Inc()
	}
}

// ObserveFeed records one advisory feed request.
func (m *Metrics) ObserveFeed(outcome string, elapsed time.Duration) {
	m.FeedRequests.WithLabelValues(outcome).Inc()
	m.FeedLatency.Observe(elapsed.Seconds())
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects pipeline counters on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	startTime time.Time
	registry  *prometheus.Registry

	filesTotal    *prometheus.CounterVec
	scanDuration  prometheus.Histogram
	scansRejected prometheus.Counter

	aiRequests *prometheus.CounterVec
	aiLatency  *prometheus.HistogramVec
	aiFallback prometheus.Counter

	extractions *prometheus.CounterVec
	transitions *prometheus.CounterVec
	splitParts  prometheus.Histogram
	moveErrors  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paperflow",
			Name:      "scan_files_total",
			Help:      "Files seen by the folder scanner, by outcome.",
		}, []string{"result"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "paperflow",
			Name:      "scan_duration_seconds",
			Help:      "Wall time of complete scans.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		scansRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paperflow",
			Name:      "scan_rejected_total",
			Help:      "Scans refused because another scan held the lock.",
		}),
		aiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paperflow",
			Name:      "ai_requests_total",
			Help:      "AI completions by provider and outcome.",
		}, []string{"provider", "outcome"}),
		aiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "paperflow",
			Name:      "ai_request_duration_seconds",
			Help:      "AI completion latency.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider"}),
		aiFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paperflow",
			Name:      "ai_fallback_total",
			Help:      "Remote failures retried on the local model.",
		}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paperflow",
			Name:      "field_extractions_total",
			Help:      "Field values produced, by cascade source.",
		}, []string{"source"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paperflow",
			Name:      "document_transitions_total",
			Help:      "Lifecycle transitions by target status.",
		}, []string{"status"}),
		splitParts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "paperflow",
			Name:      "split_parts",
			Help:      "Number of parts per split PDF.",
			Buckets:   []float64{2, 3, 4, 6, 8, 12, 20},
		}),
		moveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paperflow",
			Name:      "file_move_errors_total",
			Help:      "Failed file custody transfers.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.filesTotal, m.scanDuration, m.scansRejected,
		m.aiRequests, m.aiLatency, m.aiFallback,
		m.extractions, m.transitions, m.splitParts, m.moveErrors,
	)
	return m
}

// RecordFile counts one scanned file: imported, skipped, archived or error
func (m *Metrics) RecordFile(result string) {
	if m == nil {
		return
	}
	m.filesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordScan(d time.Duration) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordScanRejected() {
	if m == nil {
		return
	}
	m.scansRejected.Inc()
}

func (m *Metrics) RecordAIRequest(provider string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.aiRequests.WithLabelValues(provider, outcome).Inc()
	m.aiLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) RecordAIFallback() {
	if m == nil {
		return
	}
	m.aiFallback.Inc()
}

func (m *Metrics) RecordExtraction(source string) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordSplit(parts int) {
	if m == nil {
		return
	}
	m.splitParts.Observe(float64(parts))
}

func (m *Metrics) RecordMoveError() {
	if m == nil {
		return
	}
	m.moveErrors.Inc()
}

// Uptime returns time since New
func (m *Metrics) Uptime() time.Duration {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime)
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

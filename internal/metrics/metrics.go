package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Analysis counters
	UploadAnalyses   atomic.Uint64
	WebcamAnalyses   atomic.Uint64
	AnalysisFailures atomic.Uint64
	EngineErrors     atomic.Uint64
	UploadsRejected  atomic.Uint64

	// Recording state
	RecordingActive atomic.Uint64 // 0 = inactive, 1 = active
	RecordingsTotal atomic.Uint64

	// Status channel
	BroadcastClients  atomic.Uint64
	BroadcastMessages atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vitals_upload_analyses_total",
			Help: "Total uploaded-video analyses started",
		},
		func() float64 { return float64(m.UploadAnalyses.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vitals_webcam_analyses_total",
			Help: "Total webcam-capture analyses started",
		},
		func() float64 { return float64(m.WebcamAnalyses.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vitals_analysis_failures_total",
			Help: "Total analyses that ended in error",
		},
		func() float64 { return float64(m.AnalysisFailures.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vitals_engine_errors_total",
			Help: "Total estimation engine failures",
		},
		func() float64 { return float64(m.EngineErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vitals_uploads_rejected_total",
			Help: "Total uploads rejected before analysis",
		},
		func() float64 { return float64(m.UploadsRejected.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vitals_recording_active",
			Help: "Webcam recording active (0=inactive, 1=active)",
		},
		func() float64 { return float64(m.RecordingActive.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vitals_recordings_total",
			Help: "Total webcam recording sessions started",
		},
		func() float64 { return float64(m.RecordingsTotal.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vitals_broadcast_clients",
			Help: "Connected status listeners",
		},
		func() float64 { return float64(m.BroadcastClients.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vitals_broadcast_messages_total",
			Help: "Total status messages broadcast",
		},
		func() float64 { return float64(m.BroadcastMessages.Load()) },
	))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package metrics

import (
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Pipeline counters
	FramesRead      atomic.Uint64
	ReadErrors      atomic.Uint64
	InferenceRuns   atomic.Uint64
	InferenceErrors atomic.Uint64

	// Detection counters
	DetectionsTotal  atomic.Uint64
	InPerimeter      atomic.Uint64
	OutsidePerimeter atomic.Uint64

	// Alert counters
	AlertsTriggered  atomic.Uint64
	AlertsSuppressed atomic.Uint64

	// Rates, stored as math.Float64bits
	FPS          atomic.Uint64
	DetectionFPS atomic.Uint64

	// Latency tracking
	TickLatencyMs atomic.Uint64

	// Service state (0 or 1)
	ServiceRunning  atomic.Uint64
	CameraConnected atomic.Uint64

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

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ids_frames_read_total",
			Help: "Total frames read from the camera source",
		},
		func() float64 { return float64(m.FramesRead.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ids_read_errors_total",
			Help: "Total frame read failures",
		},
		func() float64 { return float64(m.ReadErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ids_inference_runs_total",
			Help: "Total inference calls issued",
		},
		func() float64 { return float64(m.InferenceRuns.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ids_inference_errors_total",
			Help: "Total failed inference calls",
		},
		func() float64 { return float64(m.InferenceErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ids_detections_total",
			Help: "Total objects detected across all frames",
		},
		func() float64 { return float64(m.DetectionsTotal.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ids_detections_in_perimeter_total",
			Help: "Total detections inside the perimeter zone",
		},
		func() float64 { return float64(m.InPerimeter.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ids_detections_outside_perimeter_total",
			Help: "Total detections outside the perimeter zone",
		},
		func() float64 { return float64(m.OutsidePerimeter.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ids_alerts_triggered_total",
			Help: "Total alerts that fired",
		},
		func() float64 { return float64(m.AlertsTriggered.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ids_alerts_suppressed_total",
			Help: "Total alerts suppressed by the cooldown",
		},
		func() float64 { return float64(m.AlertsSuppressed.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ids_fps",
			Help: "Current frame processing rate",
		},
		func() float64 { return math.Float64frombits(m.FPS.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ids_detection_fps",
			Help: "Current inference rate after frame skipping",
		},
		func() float64 { return math.Float64frombits(m.DetectionFPS.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ids_tick_latency_ms",
			Help: "Latest full tick duration in milliseconds",
		},
		func() float64 { return float64(m.TickLatencyMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ids_service_running",
			Help: "Detection service running (0=stopped, 1=running)",
		},
		func() float64 { return float64(m.ServiceRunning.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ids_camera_connected",
			Help: "Camera connected (0=disconnected, 1=connected)",
		},
		func() float64 { return float64(m.CameraConnected.Load()) },
	))
}

// SetRates stores the current frame and detection rates
func (m *Metrics) SetRates(fps, detectionFPS float64) {
	m.FPS.Store(math.Float64bits(fps))
	m.DetectionFPS.Store(math.Float64bits(detectionFPS))
}

// UpdateTickLatency records the duration of the last full tick
func (m *Metrics) UpdateTickLatency(d time.Duration) {
	m.TickLatencyMs.Store(uint64(d.Milliseconds()))
}

// SetRunning records the service running flag
func (m *Metrics) SetRunning(running bool) {
	if running {
		m.ServiceRunning.Store(1)
	} else {
		m.ServiceRunning.Store(0)
	}
}

// SetCameraConnected records the camera connection flag
func (m *Metrics) SetCameraConnected(connected bool) {
	if connected {
		m.CameraConnected.Store(1)
	} else {
		m.CameraConnected.Store(0)
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the guardian engine.
type Metrics struct {
	registry             *prometheus.Registry
	framesIngestedTotal  *prometheus.CounterVec
	detectionsTotal      *prometheus.CounterVec
	alertsTotal          *prometheus.CounterVec
	gatewaySendsTotal    prometheus.Counter
	gatewayFailuresTotal prometheus.Counter
	activeViewers        prometheus.Gauge
	qualityLadderIndex   prometheus.Gauge
	errorsTotal          prometheus.Counter
}

// New creates and registers Prometheus metrics for the engine.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	framesIngestedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_frames_ingested_total",
		Help: "Total number of frames accepted over the ingestion endpoint",
	}, []string{"camera"})
	detectionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_detections_total",
		Help: "Total number of detection passes run",
	}, []string{"camera"})
	alertsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_alerts_total",
		Help: "Total number of full alerts fired (snapshot + notification + recording)",
	}, []string{"camera"})
	gatewaySendsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guardian_gateway_sends_total",
		Help: "Total number of status events sent to the gateway",
	})
	gatewayFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guardian_gateway_failures_total",
		Help: "Total number of failed gateway sends",
	})
	activeViewers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "guardian_active_viewers",
		Help: "Number of currently open live feed connections",
	})
	qualityLadderIndex := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "guardian_quality_ladder_index",
		Help: "Current index into the adaptive quality ladder (0 = lowest)",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guardian_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		framesIngestedTotal,
		detectionsTotal,
		alertsTotal,
		gatewaySendsTotal,
		gatewayFailuresTotal,
		activeViewers,
		qualityLadderIndex,
		errorsTotal,
	)

	return &Metrics{
		registry:             registry,
		framesIngestedTotal:  framesIngestedTotal,
		detectionsTotal:      detectionsTotal,
		alertsTotal:          alertsTotal,
		gatewaySendsTotal:    gatewaySendsTotal,
		gatewayFailuresTotal: gatewayFailuresTotal,
		activeViewers:        activeViewers,
		qualityLadderIndex:   qualityLadderIndex,
		errorsTotal:          errorsTotal,
	}
}

// IncFramesIngested increments the ingested frame counter for a camera.
func (m *Metrics) IncFramesIngested(camID string) {
	m.framesIngestedTotal.WithLabelValues(camID).Inc()
}

// IncDetections increments the detection pass counter for a camera.
func (m *Metrics) IncDetections(camID string) {
	m.detectionsTotal.WithLabelValues(camID).Inc()
}

// IncAlerts increments the alert counter for a camera.
func (m *Metrics) IncAlerts(camID string) {
	m.alertsTotal.WithLabelValues(camID).Inc()
}

// IncGatewaySends increments the gateway send counter.
func (m *Metrics) IncGatewaySends() {
	m.gatewaySendsTotal.Inc()
}

// IncGatewayFailures increments the gateway failure counter.
func (m *Metrics) IncGatewayFailures() {
	m.gatewayFailuresTotal.Inc()
}

// AddActiveViewers adjusts the active viewer gauge by delta.
func (m *Metrics) AddActiveViewers(delta int) {
	m.activeViewers.Add(float64(delta))
}

// SetQualityLadderIndex sets the current quality ladder index gauge.
func (m *Metrics) SetQualityLadderIndex(idx int) {
	m.qualityLadderIndex.Set(float64(idx))
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the relay.
//
// A nil *Metrics is valid and records nothing, so components and tests can
// run without a registry.
type Metrics struct {
	ActiveCalls        prometheus.Gauge
	RelayListeners     prometheus.Gauge
	WebhookEvents      *prometheus.CounterVec
	RelayFrames        *prometheus.CounterVec
	SpeakAttempts      *prometheus.CounterVec
	ControlPlaneErrors *prometheus.CounterVec
	SpeakLatency       prometheus.Histogram

	gatherer prometheus.Gatherer
}

// NewMetrics registers every instrument on reg.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveCalls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of non-terminal call sessions.",
		}),
		RelayListeners: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_listeners",
			Help:      "Number of call ids with a bound live listener.",
		}),
		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Control-plane notifications by kind and outcome.",
		}, []string{"kind", "outcome"}),
		RelayFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_frames_total",
			Help:      "Producer audio frames by forwarding result.",
		}, []string{"result"}),
		SpeakAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speak_attempts_total",
			Help:      "Speech delivery attempts by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		ControlPlaneErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_plane_errors_total",
			Help:      "Control-plane request failures by operation.",
		}, []string{"op"}),
		SpeakLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speak_latency_ms",
			Help:      "Latency of a speak request across all strategies in milliseconds.",
			Buckets:   []float64{50, 100, 200, 400, 800, 1500, 3000, 6000},
		}),
		gatherer: reg,
	}
}

func (m *Metrics) ObserveWebhook(kind, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveFrame(result string) {
	if m == nil {
		return
	}
	m.RelayFrames.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSpeakAttempt(strategy, outcome string) {
	if m == nil {
		return
	}
	m.SpeakAttempts.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) ObserveSpeakLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.SpeakLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveControlPlaneError(op string) {
	if m == nil {
		return
	}
	m.ControlPlaneErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) SetActiveCalls(n int) {
	if m == nil {
		return
	}
	m.ActiveCalls.Set(float64(n))
}

func (m *Metrics) SetRelayListeners(n int) {
	if m == nil {
		return
	}
	m.RelayListeners.Set(float64(n))
}

// Handler serves the registry this Metrics was built on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	ToolCalls        *prometheus.CounterVec
	ClipStartLatency prometheus.Histogram

	stageWindow *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active quiz sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "External provider errors by provider and code.",
		}, []string{"provider", "code"}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Agent callback tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		ClipStartLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clip_start_latency_ms",
			Help:      "Latency from tool call to playback start in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 700, 1000, 2000},
		}),
		stageWindow: newStageWindow(256),
	}
}

func (m *Metrics) ObserveClipStartLatency(d time.Duration) {
	m.ClipStartLatency.Observe(float64(d.Milliseconds()))
	m.stageWindow.Observe(StageClipStart, float64(d.Milliseconds()))
}

// ObserveStage records a latency sample in the rolling perf window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageWindow.Observe(stage, float64(d.Milliseconds()))
}

// PerfSnapshot summarizes the rolling latency window for the perf endpoint.
func (m *Metrics) PerfSnapshot() StageSnapshot {
	return m.stageWindow.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

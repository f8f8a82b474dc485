// Package metrics exports live session signals to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/persona-live/pkg/live"
)

// Recorder implements live.Observer on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	SessionsActive    prometheus.Gauge
	SessionsTotal     *prometheus.CounterVec
	SessionDuration   prometheus.Histogram
	HandshakeErrors   *prometheus.CounterVec
	TransportDrops    prometheus.Counter
	TurnsTotal        prometheus.Counter
	FirstAudioLatency prometheus.Histogram
	TurnLatency       prometheus.Histogram
	ToolCallsTotal    *prometheus.CounterVec
	ToolCallDuration  *prometheus.HistogramVec
	BargeInsTotal     prometheus.Counter
}

var _ live.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder with every metric registered under
// namespace. Go runtime and process collectors are included.
func NewRecorder(namespace string) *Recorder {
	if namespace == "" {
		namespace = "persona_live"
	}

	r := &Recorder{
		registry: prometheus.NewRegistry(),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of ACTIVE live sessions",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Live session start attempts by outcome",
		}, []string{"status"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Time live sessions spent ACTIVE",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		HandshakeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_errors_total",
			Help:      "Failed handshakes by retryability",
		}, []string{"retryable"}),
		TransportDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_drops_total",
			Help:      "Provider connections lost while ACTIVE",
		}),
		TurnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Finalized conversational turns",
		}),
		FirstAudioLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_seconds",
			Help:      "Time from first user transcript to first assistant audio",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5},
		}),
		TurnLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_seconds",
			Help:      "Time from first user transcript to turn completion",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 13, 21},
		}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and outcome",
		}, []string{"tool", "status"}),
		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"tool"}),
		BargeInsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Assistant speech cut off by the user",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.SessionsActive,
		r.SessionsTotal,
		r.SessionDuration,
		r.HandshakeErrors,
		r.TransportDrops,
		r.TurnsTotal,
		r.FirstAudioLatency,
		r.TurnLatency,
		r.ToolCallsTotal,
		r.ToolCallDuration,
		r.BargeInsTotal,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// SessionStarted implements live.Observer.
func (r *Recorder) SessionStarted(string) {
	r.SessionsActive.Inc()
	r.SessionsTotal.WithLabelValues("active").Inc()
}

// SessionEnded implements live.Observer.
func (r *Recorder) SessionEnded(_ string, d time.Duration) {
	r.SessionsActive.Dec()
	r.SessionDuration.Observe(d.Seconds())
}

// HandshakeFailed implements live.Observer.
func (r *Recorder) HandshakeFailed(_ string, err error) {
	r.SessionsTotal.WithLabelValues("error").Inc()
	retryable := "false"
	if live.IsRetryable(err) {
		retryable = "true"
	}
	r.HandshakeErrors.WithLabelValues(retryable).Inc()
}

// TransportDropped implements live.Observer.
func (r *Recorder) TransportDropped(string) {
	r.TransportDrops.Inc()
}

// TurnCompleted implements live.Observer.
func (r *Recorder) TurnCompleted(_ string, m live.TurnMetrics) {
	r.TurnsTotal.Inc()
	if m.FirstAudioLatency > 0 {
		r.FirstAudioLatency.Observe(m.FirstAudioLatency.Seconds())
	}
	if m.TotalLatency > 0 {
		r.TurnLatency.Observe(m.TotalLatency.Seconds())
	}
}

// ToolCalled implements live.Observer.
func (r *Recorder) ToolCalled(_ string, tool string, ok bool, d time.Duration) {
	status := "success"
	if !ok {
		status = "error"
	}
	r.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	r.ToolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// BargeIn implements live.Observer.
func (r *Recorder) BargeIn(string) {
	r.BargeInsTotal.Inc()
}

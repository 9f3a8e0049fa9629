package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	StatusTransitions *prometheus.CounterVec
	InboundFrames     *prometheus.CounterVec
	OutboundChunks    *prometheus.CounterVec
	PlaybackResults   *prometheus.CounterVec
	SetupFailures     *prometheus.CounterVec
	TextFallbacks     *prometheus.CounterVec
	StageLatency      *prometheus.HistogramVec

	sessions *sessionLog
}

func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the instruments on reg.
func NewMetricsWith(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active voice sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		StatusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Session status transitions.",
		}, []string{"from", "to"}),
		InboundFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_frames_total",
			Help:      "Inbound realtime frames by kind.",
		}, []string{"kind"}),
		OutboundChunks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_chunks_total",
			Help:      "Outbound audio chunks by result.",
		}, []string{"result"}),
		PlaybackResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_results_total",
			Help:      "Audio playback outcomes.",
		}, []string{"result"}),
		SetupFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "setup_failures_total",
			Help:      "Session setup failures by kind.",
		}, []string{"kind"}),
		TextFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "text_fallback_total",
			Help:      "Text fallback requests by result.",
		}, []string{"result"}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Session stage latency in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 800, 1200, 2000, 4000, 8000},
		}, []string{"stage"}),
		sessions: newSessionLog(128),
	}
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) SetActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.ActiveSessions.Set(1)
		return
	}
	m.ActiveSessions.Set(0)
}

func (m *Metrics) InboundFrame(kind string) {
	if m == nil {
		return
	}
	m.InboundFrames.WithLabelValues(kind).Inc()
}

func (m *Metrics) OutboundChunk(result string) {
	if m == nil {
		return
	}
	m.OutboundChunks.WithLabelValues(result).Inc()
}

func (m *Metrics) Playback(result string) {
	if m == nil {
		return
	}
	m.PlaybackResults.WithLabelValues(result).Inc()
}

// SetupFailure counts a failed start and marks the session's outcome.
func (m *Metrics) SetupFailure(sessionID, kind string) {
	if m == nil {
		return
	}
	m.SetupFailures.WithLabelValues(kind).Inc()
	m.sessions.fail(sessionID, kind)
}

func (m *Metrics) TextFallback(result string) {
	if m == nil {
		return
	}
	m.TextFallbacks.WithLabelValues(result).Inc()
}

// ObserveStage records one stage latency of a session in the histogram and
// in the per-session log served by StageSnapshot.
func (m *Metrics) ObserveStage(sessionID, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageLatency.WithLabelValues(stage).Observe(float64(d) / float64(time.Millisecond))
	m.sessions.record(sessionID, stage, d)
}

func (m *Metrics) StageSnapshot() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC(), Outcomes: map[string]int{}}
	}
	return m.sessions.snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

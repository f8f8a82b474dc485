package live

import (
	"sync"
	"time"
)

// TurnMetrics tracks latency for one conversational turn. Durations are
// measured from the first user speech of the turn.
type TurnMetrics struct {
	UserSpeechTime   time.Time
	FirstAudioTime   time.Time
	ResponseDoneTime time.Time

	FirstAudioLatency time.Duration
	TotalLatency      time.Duration

	AudioFramesIn  int
	AudioFramesOut int
	ToolCalls      int
}

// MetricsCollector collects latency metrics across turns. It is
// goroutine-safe.
type MetricsCollector struct {
	mu      sync.Mutex
	current TurnMetrics
	history []TurnMetrics
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{history: make([]TurnMetrics, 0, 100)}
}

// MarkUserSpeech records the first user transcript of a turn.
func (m *MetricsCollector) MarkUserSpeech() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.UserSpeechTime.IsZero() {
		m.current.UserSpeechTime = time.Now()
	}
}

// MarkFirstAudio records the first assistant audio frame of a turn.
func (m *MetricsCollector) MarkFirstAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.AudioFramesOut++
	if m.current.FirstAudioTime.IsZero() {
		m.current.FirstAudioTime = time.Now()
		if !m.current.UserSpeechTime.IsZero() {
			m.current.FirstAudioLatency = m.current.FirstAudioTime.Sub(m.current.UserSpeechTime)
		}
	}
}

// IncrementAudioIn counts one captured frame.
func (m *MetricsCollector) IncrementAudioIn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.AudioFramesIn++
}

// IncrementToolCalls counts one tool call.
func (m *MetricsCollector) IncrementToolCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ToolCalls++
}

// MarkResponseDone closes the current turn, archives it and returns it.
func (m *MetricsCollector) MarkResponseDone() TurnMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current.ResponseDoneTime = time.Now()
	if !m.current.UserSpeechTime.IsZero() {
		m.current.TotalLatency = m.current.ResponseDoneTime.Sub(m.current.UserSpeechTime)
	}
	done := m.current
	m.history = append(m.history, done)
	if len(m.history) > 100 {
		m.history = m.history[1:]
	}
	m.current = TurnMetrics{}
	return done
}

// Reset discards the in-flight turn.
func (m *MetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = TurnMetrics{}
}

// Average returns mean latencies over recent turns.
func (m *MetricsCollector) Average() TurnMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return TurnMetrics{}
	}
	var avg TurnMetrics
	for _, h := range m.history {
		avg.FirstAudioLatency += h.FirstAudioLatency
		avg.TotalLatency += h.TotalLatency
	}
	n := time.Duration(len(m.history))
	avg.FirstAudioLatency /= n
	avg.TotalLatency /= n
	return avg
}

// FormatLatency returns a one-line summary for logs.
func (t TurnMetrics) FormatLatency() string {
	return formatDuration(t.FirstAudioLatency) + " first audio | " +
		formatDuration(t.TotalLatency) + " total"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}

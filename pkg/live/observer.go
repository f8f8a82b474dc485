package live

import "time"

// Observer receives session lifecycle and latency signals. Implementations
// must be safe for concurrent use and must not block.
type Observer interface {
	SessionStarted(assistantID string)
	SessionEnded(assistantID string, duration time.Duration)
	HandshakeFailed(assistantID string, err error)
	TransportDropped(assistantID string)
	TurnCompleted(assistantID string, m TurnMetrics)
	ToolCalled(assistantID, tool string, ok bool, duration time.Duration)
	BargeIn(assistantID string)
}

// NopObserver ignores every signal. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) SessionStarted(string) {}
func (NopObserver) SessionEnded(string, time.Duration) {}
func (NopObserver) HandshakeFailed(string, error) {}
func (NopObserver) TransportDropped(string) {}
func (NopObserver) TurnCompleted(string, TurnMetrics) {}
func (NopObserver) ToolCalled(string, string, bool, time.Duration) {}
func (NopObserver) BargeIn(string) {}

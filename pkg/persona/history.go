package persona

import (
	"strings"
	"sync"
	"time"
)

// DefaultHistoryLimit caps the turns kept per assistant.
const DefaultHistoryLimit = 50

// Entry is one finalized turn.
type Entry struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	Timestamp time.Time `json:"timestamp"`
}

// History keeps recent turns per assistant, newest first.
type History struct {
	mu      sync.RWMutex
	limit   int
	entries map[string][]Entry
	now     func() time.Time
}

// NewHistory creates a history keeping up to limit turns per assistant.
// A non-positive limit uses DefaultHistoryLimit.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit, entries: make(map[string][]Entry), now: time.Now}
}

// Record prepends a turn. Turns whose texts are both blank are skipped.
func (h *History) Record(assistantID, user, assistant string) bool {
	if strings.TrimSpace(user) == "" && strings.TrimSpace(assistant) == "" {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	entry := Entry{User: user, Assistant: assistant, Timestamp: h.now().UTC()}
	list := append([]Entry{entry}, h.entries[assistantID]...)
	if len(list) > h.limit {
		list = list[:h.limit]
	}
	h.entries[assistantID] = list
	return true
}

// Recent returns up to n turns newest first. n <= 0 returns all.
func (h *History) Recent(assistantID string, n int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := h.entries[assistantID]
	if n <= 0 || n > len(list) {
		n = len(list)
	}
	out := make([]Entry, n)
	copy(out, list[:n])
	return out
}

// Clear forgets an assistant's turns.
func (h *History) Clear(assistantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, assistantID)
}

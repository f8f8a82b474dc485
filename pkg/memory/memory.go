// Package memory provides long-term memory for assistants: short facts the
// model saved about the user with the save_to_memory tool.
//
// Three stores are available:
//   - Local: in-process, optionally persisted to a JSON file
//   - RedisStore: shared across gateway replicas
//   - Discard (via Writer): public and preview sessions that must not persist
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Local is an in-process Store. When created with a Backend every mutation
// is written through.
type Local struct {
	Items  []Item `json:"items"`
	NextID int64  `json:"next_id"`

	backend Backend
	mu      sync.RWMutex
	now     func() time.Time
}

var _ Store = (*Local)(nil)

// NewLocal creates a store without persistence.
func NewLocal() *Local {
	return &Local{NextID: 1, now: time.Now}
}

// NewLocalWithBackend creates a store persisted to backend, loading any
// existing data.
func NewLocalWithBackend(backend Backend) (*Local, error) {
	l := NewLocal()
	l.backend = backend
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

// NewLocalWithFile creates a store persisted to a JSON file.
func NewLocalWithFile(path string) (*Local, error) {
	return NewLocalWithBackend(NewJSONFile(path))
}

// Add implements Store.
func (l *Local) Add(ctx context.Context, assistantID, content string) (Item, error) {
	if err := validContent(content); err != nil {
		return Item{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, it := range l.Items {
		if it.AssistantID == assistantID && it.Content == content {
			return Item{}, ErrDuplicate
		}
	}

	item := Item{ID: l.NextID, AssistantID: assistantID, Content: content, CreatedAt: l.now().UTC()}
	l.NextID++
	l.Items = append(l.Items, item)
	return item, l.saveLocked()
}

// List implements Store.
func (l *Local) List(ctx context.Context, assistantID string) ([]Item, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []Item{}
	for _, it := range l.Items {
		if assistantID == "" || it.AssistantID == assistantID {
			out = append(out, it)
		}
	}
	return out, nil
}

// Update implements Store.
func (l *Local) Update(ctx context.Context, id int64, content string) error {
	if err := validContent(content); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	for _, it := range l.Items {
		if it.ID != id && it.AssistantID == l.Items[idx].AssistantID && it.Content == content {
			return ErrDuplicate
		}
	}
	l.Items[idx].Content = content
	return l.saveLocked()
}

// Delete implements Store.
func (l *Local) Delete(ctx context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	l.Items = append(l.Items[:idx], l.Items[idx+1:]...)
	return l.saveLocked()
}

// Close releases the backend.
func (l *Local) Close() error {
	if l.backend == nil {
		return nil
	}
	return l.backend.Close()
}

// Stats returns item counts per assistant.
func (l *Local) Stats() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]int)
	for _, it := range l.Items {
		stats[it.AssistantID]++
	}
	return stats
}

func (l *Local) indexLocked(id int64) int {
	for i, it := range l.Items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (l *Local) saveLocked() error {
	if l.backend == nil {
		return nil
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}
	return l.backend.Save(data)
}

func (l *Local) load() error {
	data, err := l.backend.Load()
	if err != nil || data == nil {
		return err
	}

	var loaded Local
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.Items = loaded.Items
	l.NextID = max(loaded.NextID, 1)
	for _, it := range l.Items {
		if it.ID >= l.NextID {
			l.NextID = it.ID + 1
		}
	}
	return nil
}

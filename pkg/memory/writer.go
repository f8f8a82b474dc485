package memory

import (
	"context"
	"errors"

	"github.com/teslashibe/persona-live/pkg/live"
)

// Writer adapts a Store to the save_to_memory tool of one assistant.
// Saving content the assistant already remembers succeeds silently.
type Writer struct {
	store       Store
	assistantID string
}

var _ live.MemoryWriter = (*Writer)(nil)

// NewWriter binds store to assistantID.
func NewWriter(store Store, assistantID string) *Writer {
	return &Writer{store: store, assistantID: assistantID}
}

// Write implements live.MemoryWriter.
func (w *Writer) Write(ctx context.Context, content string) error {
	_, err := w.store.Add(ctx, w.assistantID, content)
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}

// Discard accepts and drops every save. Public and preview sessions use it
// so visitors never write to the owner's memory.
var Discard live.MemoryWriter = live.MemoryWriterFunc(func(context.Context, string) error { return nil })

package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sentinel errors returned by stores.
var (
	// ErrDuplicate indicates the assistant already remembers identical content.
	ErrDuplicate = errors.New("memory: duplicate content")

	// ErrNotFound indicates no item has the requested id.
	ErrNotFound = errors.New("memory: item not found")

	// ErrEmptyContent indicates blank content.
	ErrEmptyContent = errors.New("memory: content is empty")
)

// Item is one remembered fact.
type Item struct {
	ID          int64     `json:"id"`
	AssistantID string    `json:"assistant_id"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists memory items per assistant.
// Content is compared exactly when detecting duplicates.
type Store interface {
	// Add remembers content for assistantID.
	Add(ctx context.Context, assistantID, content string) (Item, error)

	// List returns assistantID's items oldest first. An empty assistantID
	// lists every assistant's items.
	List(ctx context.Context, assistantID string) ([]Item, error)

	// Update replaces an item's content.
	Update(ctx context.Context, id int64, content string) error

	// Delete forgets an item.
	Delete(ctx context.Context, id int64) error

	// Close releases any resources held by the store.
	Close() error
}

// Contents returns the content of each item in order.
func Contents(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Content
	}
	return out
}

func validContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	return nil
}

// Backend persists a Local store's serialized state.
type Backend interface {
	// Save persists the given data.
	Save(data []byte) error

	// Load retrieves the stored data, or nil if nothing was saved yet.
	Load() ([]byte, error)

	// Close releases any resources held by the backend.
	Close() error
}

// JSONFile implements Backend for file-based JSON persistence.
type JSONFile struct {
	Path string
}

// NewJSONFile creates a JSON file backend.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{Path: path}
}

// Save writes data to a temporary file and renames it over Path so readers
// never observe a partial write.
func (f *JSONFile) Save(data []byte) error {
	if f.Path == "" {
		return nil
	}

	dir := filepath.Dir(f.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}

// Load reads data from the JSON file.
func (f *JSONFile) Load() ([]byte, error) {
	if f.Path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Close is a no-op for JSON files.
func (f *JSONFile) Close() error {
	return nil
}

var _ Backend = (*JSONFile)(nil)

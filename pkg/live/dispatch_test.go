package live

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_SaveToMemory(t *testing.T) {
	var got []string
	memory := MemoryWriterFunc(func(ctx context.Context, content string) error {
		got = append(got, content)
		return nil
	})
	d := NewDispatcher(memory, nil, nil)

	res := d.Dispatch(context.Background(), ToolCall{
		ID:        "c1",
		Name:      ToolSaveToMemory,
		Arguments: map[string]any{"content": "  Prefers tea over coffee "},
	})

	assert.True(t, res.OK())
	assert.Equal(t, "c1", res.CallID)
	assert.Equal(t, map[string]any{"result": savedToMemory}, res.Response)
	assert.False(t, res.Searched)
	assert.Equal(t, []string{"Prefers tea over coffee"}, got)
}

func TestDispatcher_SaveToMemoryFailures(t *testing.T) {
	tests := []struct {
		name   string
		memory MemoryWriter
		args   map[string]any
		wantOK bool
	}{
		{
			name: "store error",
			memory: MemoryWriterFunc(func(context.Context, string) error {
				return errors.New("disk full")
			}),
			args:   map[string]any{"content": "likes jazz"},
			wantOK: false,
		},
		{
			name:   "no store",
			args:   map[string]any{"content": "likes jazz"},
			wantOK: true,
		},
		{
			name: "missing content",
			memory: MemoryWriterFunc(func(context.Context, string) error {
				t.Error("store must not be called without content")
				return nil
			}),
			args:   map[string]any{"content": 42},
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(tt.memory, nil, nil)
			res := d.Dispatch(context.Background(), ToolCall{ID: "c1", Name: ToolSaveToMemory, Arguments: tt.args})

			assert.Equal(t, tt.wantOK, res.OK())
			assert.Equal(t, savedToMemory, res.Response["result"], "the model always hears success")
			if !tt.wantOK {
				assert.ErrorIs(t, res.Err, ErrToolCall)
			}
		})
	}
}

func TestDispatcher_WebSearch(t *testing.T) {
	var query string
	search := SearcherFunc(func(ctx context.Context, q string) (SearchResult, error) {
		query = q
		return SearchResult{
			Summary: "The Eiffel Tower is 330 m tall.",
			Sources: []GroundingSource{{URI: "https://example.org/eiffel", Title: "Eiffel Tower"}},
		}, nil
	})
	d := NewDispatcher(nil, search, nil)

	res := d.Dispatch(context.Background(), ToolCall{
		ID:        "c2",
		Name:      ToolWebSearch,
		Arguments: map[string]any{"query": "eiffel tower height"},
	})

	require.True(t, res.OK())
	assert.Equal(t, "eiffel tower height", query)
	assert.True(t, res.Searched)
	assert.Equal(t, "The Eiffel Tower is 330 m tall.", res.Response["result"])
	assert.Len(t, res.Sources, 1)

	fr := res.functionResponse()
	assert.Equal(t, "c2", fr.ID)
	assert.Equal(t, ToolWebSearch, fr.Name)
}

func TestDispatcher_WebSearchFallback(t *testing.T) {
	failing := SearcherFunc(func(context.Context, string) (SearchResult, error) {
		return SearchResult{}, errors.New("503")
	})
	panicking := SearcherFunc(func(context.Context, string) (SearchResult, error) {
		panic("nil map")
	})

	tests := []struct {
		name   string
		search Searcher
		args   map[string]any
	}{
		{"searcher error", failing, map[string]any{"query": "news"}},
		{"searcher panic", panicking, map[string]any{"query": "news"}},
		{"no searcher", nil, map[string]any{"query": "news"}},
		{"empty query", failing, map[string]any{"query": "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(nil, tt.search, nil)
			res := d.Dispatch(context.Background(), ToolCall{ID: "c3", Name: ToolWebSearch, Arguments: tt.args})

			assert.False(t, res.OK())
			assert.ErrorIs(t, res.Err, ErrToolCall)
			assert.True(t, res.Searched)
			assert.NotNil(t, res.Sources)
			assert.Empty(t, res.Sources)
			assert.Equal(t, SearchFallbackSummary, res.Response["result"])
			assert.Equal(t, "c3", res.CallID)
		})
	}
}

func TestDispatcher_UnknownTool(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	res := d.Dispatch(context.Background(), ToolCall{ID: "c4", Name: "launch_rocket"})

	assert.False(t, res.OK())
	assert.Equal(t, "unknown function: launch_rocket", res.Response["error"])
	assert.Equal(t, "c4", res.CallID)
}

func TestToolDeclarations(t *testing.T) {
	decls := ToolDeclarations()
	require.Len(t, decls, 2)
	for _, d := range decls {
		assert.NotEmpty(t, d.Description)
		assert.Contains(t, string(d.Parameters), `"OBJECT"`)
	}
	assert.Contains(t, string(decls[0].Parameters), `"content"`)
	assert.Contains(t, string(decls[1].Parameters), `"query"`)
}

package live

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Dispatcher routes tool calls to the session's collaborators and always
// produces exactly one result per call.
type Dispatcher struct {
	memory MemoryWriter
	search Searcher
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher. Either collaborator may be nil.
func NewDispatcher(memory MemoryWriter, search Searcher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{memory: memory, search: search, logger: logger}
}

// Dispatch runs call to completion. A failing or panicking collaborator
// still yields a result the model can consume.
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall) (res ToolResult) {
	res = ToolResult{CallID: call.ID, Name: call.Name}
	logger := d.logger.With("tool", call.Name, "call_id", call.ID)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: panic: %v", ErrToolCall, r)
			logger.Error("tool call panicked", "panic", r)
			res = d.fallback(call, err)
		}
	}()

	switch call.Name {
	case ToolSaveToMemory:
		return d.saveToMemory(ctx, call, logger)
	case ToolWebSearch:
		return d.webSearch(ctx, call, logger)
	default:
		logger.Warn("model called unknown tool")
		res.Response = map[string]any{"error": "unknown function: " + call.Name}
		res.Err = fmt.Errorf("%w: unknown function %q", ErrToolCall, call.Name)
		return res
	}
}

func (d *Dispatcher) saveToMemory(ctx context.Context, call ToolCall, logger *slog.Logger) ToolResult {
	res := ToolResult{CallID: call.ID, Name: call.Name, Response: map[string]any{"result": savedToMemory}}

	content := strings.TrimSpace(stringArg(call.Arguments, "content"))
	switch {
	case content == "":
		logger.Warn("save_to_memory called without content")
	case d.memory == nil:
		logger.Debug("no memory store configured, dropping fact")
	default:
		if err := d.memory.Write(ctx, content); err != nil {
			res.Err = fmt.Errorf("%w: save_to_memory: %v", ErrToolCall, err)
			logger.Error("failed to save memory", "error", err)
		}
	}
	return res
}

func (d *Dispatcher) webSearch(ctx context.Context, call ToolCall, logger *slog.Logger) ToolResult {
	query := strings.TrimSpace(stringArg(call.Arguments, "query"))
	if d.search == nil {
		return d.fallback(call, fmt.Errorf("%w: no searcher configured", ErrToolCall))
	}
	if query == "" {
		return d.fallback(call, fmt.Errorf("%w: web_search called without query", ErrToolCall))
	}

	result, err := d.search.Search(ctx, query)
	if err != nil {
		logger.Error("web search failed", "query", query, "error", err)
		return d.fallback(call, fmt.Errorf("%w: web_search: %v", ErrToolCall, err))
	}

	logger.Info("web search complete", "query", query, "sources", len(result.Sources))
	return ToolResult{
		CallID:   call.ID,
		Name:     call.Name,
		Response: map[string]any{"result": result.Summary},
		Searched: true,
		Sources:  result.Sources,
	}
}

// fallback is the result for a call whose collaborator failed.
func (d *Dispatcher) fallback(call ToolCall, err error) ToolResult {
	switch call.Name {
	case ToolWebSearch:
		return ToolResult{
			CallID:   call.ID,
			Name:     call.Name,
			Response: map[string]any{"result": SearchFallbackSummary},
			Searched: true,
			Sources:  []GroundingSource{},
			Err:      err,
		}
	case ToolSaveToMemory:
		return ToolResult{CallID: call.ID, Name: call.Name, Response: map[string]any{"result": savedToMemory}, Err: err}
	default:
		return ToolResult{CallID: call.ID, Name: call.Name, Response: map[string]any{"error": "unknown function: " + call.Name}, Err: err}
	}
}

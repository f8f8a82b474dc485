package live

import (
	"encoding/json"

	"github.com/teslashibe/persona-live/pkg/transport"
)

// Tool names the model may call.
const (
	ToolSaveToMemory = "save_to_memory"
	ToolWebSearch    = "web_search"
)

// SearchFallbackSummary is returned to the model when a search fails.
const SearchFallbackSummary = "I'm sorry, I encountered an issue while searching the web. Please try again."

const savedToMemory = "Saved to memory."

// ToolCall is one model-initiated function call.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResult answers exactly one ToolCall.
type ToolResult struct {
	CallID   string
	Name     string
	Response map[string]any

	// Searched is set for web_search results; Sources then replaces the
	// turn's grounding sources (possibly with none).
	Searched bool
	Sources  []GroundingSource

	// Err records a collaborator failure for logging and metrics only.
	Err error
}

// OK reports whether the collaborator succeeded.
func (r ToolResult) OK() bool {
	return r.Err == nil
}

func (r ToolResult) functionResponse() transport.FunctionResponse {
	return transport.FunctionResponse{ID: r.CallID, Name: r.Name, Response: r.Response}
}

// ToolDeclarations returns the function declarations offered to the model.
func ToolDeclarations() []transport.FunctionDeclaration {
	return []transport.FunctionDeclaration{
		{
			Name:        ToolSaveToMemory,
			Description: "Saves a piece of information about the user to long-term memory so it can be recalled in future conversations. Use it when the user shares a preference, fact or detail worth remembering.",
			Parameters: json.RawMessage(`{
				"type": "OBJECT",
				"properties": {
					"content": {"type": "STRING", "description": "The information to remember, phrased as a standalone fact."}
				},
				"required": ["content"]
			}`),
		},
		{
			Name:        ToolWebSearch,
			Description: "Searches the web for current, real-time information and returns a short summary. Use it for recent events, news, weather or anything that needs up-to-date facts.",
			Parameters: json.RawMessage(`{
				"type": "OBJECT",
				"properties": {
					"query": {"type": "STRING", "description": "The search query."}
				},
				"required": ["query"]
			}`),
		},
	}
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

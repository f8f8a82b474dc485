package persona

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teslashibe/persona-live/pkg/memory"
)

const (
	defaultAttitude = "Practical"
	defaultPrompt   = "Be a helpful assistant."
	noMemories      = "No information is stored in long-term memory."
	noHistory       = "No recent conversation history."

	// historyContextTurns is how many recent turns the instruction carries.
	historyContextTurns = 3
)

const searchGuidance = "You have access to a tool called 'web_search' which can find current, real-time information. " +
	"You MUST use this tool when the user asks about recent events, news, or any topic that requires up-to-date information " +
	`(e.g., "what's the latest news?", "search for...", "how is the weather today?"). ` +
	"For all other questions, including general knowledge, creative tasks, and persona-based responses, rely on your internal knowledge."

const memoryGuidance = "You also have a tool called 'save_to_memory'. Use it when the user shares a preference, plan or personal detail worth remembering in future conversations."

// SystemInstruction assembles the instruction a session starts with from
// the persona, its long-term memories and recent history (newest first).
func SystemInstruction(p Persona, memories []string, history []Entry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are an AI assistant named %s.\n", p.Name)
	fmt.Fprintf(&b, "Your personality traits are: %s.\n", strings.Join(p.Personality, ", "))
	fmt.Fprintf(&b, "Your attitude is: %s.\n", orDefault(p.Attitude, defaultAttitude))
	fmt.Fprintf(&b, "Your core instruction is: %s\n\n", orDefault(p.Prompt, defaultPrompt))
	b.WriteString(searchGuidance)
	b.WriteString("\n")
	b.WriteString(memoryGuidance)
	b.WriteString("\n\n")
	b.WriteString("Based on this persona, engage in a conversation with the user.\n")
	b.WriteString("Key information about the user to remember and draw upon (long-term memory):\n")
	b.WriteString(memoryContext(memories))
	b.WriteString("\n\nRecent conversation history (for context):\n")
	b.WriteString(historyContext(history))
	return b.String()
}

func memoryContext(memories []string) string {
	if len(memories) == 0 {
		return noMemories
	}
	return strings.Join(memories, "\n")
}

// historyContext renders up to historyContextTurns entries oldest first.
func historyContext(history []Entry) string {
	n := min(len(history), historyContextTurns)
	if n == 0 {
		return noHistory
	}

	parts := make([]string, 0, n)
	for i := n - 1; i >= 0; i-- {
		e := history[i]
		parts = append(parts, fmt.Sprintf("User: %q\nAssistant: %q", e.User, e.Assistant))
	}
	return strings.Join(parts, "\n\n")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// MemoryScope is the assistant id whose memories p reads. The Memory Vault
// reads everyone's, which stores express as the empty id.
func (p Persona) MemoryScope() string {
	if p.IsMemoryVault() {
		return ""
	}
	return p.ID
}

// Instructions returns a function for live.Config.Instructions that
// rebuilds p's system instruction from store and history on every Start.
// Public sessions get neither, so visitors never see the owner's data.
func Instructions(p Persona, store memory.Store, history *History, public bool, logger *slog.Logger) func(context.Context) string {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) string {
		if public || store == nil {
			return SystemInstruction(p, nil, nil)
		}

		items, err := store.List(ctx, p.MemoryScope())
		if err != nil {
			logger.Warn("failed to load memories", "assistant_id", p.ID, "error", err)
		}
		var recent []Entry
		if history != nil {
			recent = history.Recent(p.ID, historyContextTurns)
		}
		return SystemInstruction(p, memory.Contents(items), recent)
	}
}

// Package persona describes the assistants a user can talk to and builds
// the system instruction a live session starts with.
package persona

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/persona-live/pkg/live"
)

// MemoryVaultID identifies the built-in assistant that answers from every
// assistant's memories.
const MemoryVaultID = "memory-vault"

var (
	// ErrNotFound indicates no persona has the requested id.
	ErrNotFound = errors.New("persona: not found")

	// ErrInvalid indicates a persona file failed validation.
	ErrInvalid = errors.New("persona: invalid")
)

// Persona is one configured assistant.
type Persona struct {
	ID          string     `yaml:"id" json:"id"`
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Voice       live.Voice `yaml:"voice" json:"voice"`
	Personality []string   `yaml:"personality" json:"personality"`
	Attitude    string     `yaml:"attitude" json:"attitude"`
	Prompt      string     `yaml:"prompt" json:"prompt"`

	// Public personas may be opened by visitors; their saves are discarded.
	Public bool `yaml:"public" json:"public"`
	// Embeddable personas may be opened from third-party pages.
	Embeddable bool `yaml:"embeddable" json:"embeddable"`
}

// Validate checks required fields and fills defaults.
func (p *Persona) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: %s: name is required", ErrInvalid, p.ID)
	}
	if p.Voice == "" {
		p.Voice = live.DefaultVoice
	}
	if !p.Voice.Valid() {
		return fmt.Errorf("%w: %s: unknown voice %q", ErrInvalid, p.ID, p.Voice)
	}
	return nil
}

// IsMemoryVault reports whether p reads every assistant's memories.
func (p Persona) IsMemoryVault() bool {
	return p.ID == MemoryVaultID
}

// MemoryVault returns the built-in memory assistant.
func MemoryVault() Persona {
	return Persona{
		ID:          MemoryVaultID,
		Name:        "Memory Vault",
		Description: "Your personal memory assistant. Ask me anything you've told your other assistants to remember. You can also add new memories directly here.",
		Voice:       live.VoiceZephyr,
		Personality: []string{"Analytical", "Helpful", "Precise"},
		Attitude:    "Practical",
		Prompt: "You are Memory Vault, a specialized AI assistant designed to help the user recall information from their personal memory bank. " +
			"Your knowledge base consists of all the memories the user has saved across all of their assistants. " +
			"When the user asks a question, answer it based on the provided memory context. If you don't know the answer based on the memories, say so. " +
			"You can also save new information the user gives you, which will be added to their global memory bank.",
	}
}

// Load reads one persona file.
func Load(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("failed to read file: %w", err)
	}

	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("failed to parse YAML %s: %w", filepath.Base(path), err)
	}
	if err := p.Validate(); err != nil {
		return Persona{}, err
	}
	return p, nil
}

// Registry holds the personas a gateway serves. The Memory Vault is always
// present.
type Registry struct {
	mu       sync.RWMutex
	personas map[string]Persona
}

// NewRegistry creates a registry holding only the Memory Vault.
func NewRegistry() *Registry {
	vault := MemoryVault()
	return &Registry{personas: map[string]Persona{vault.ID: vault}}
}

// LoadDir creates a registry from every .yaml and .yml file in dir.
// A missing directory yields a registry with only the Memory Vault.
func LoadDir(dir string) (*Registry, error) {
	r := NewRegistry()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("persona: read dir: %w", err)
	}

	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		p, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a persona.
func (r *Registry) Register(p Persona) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.personas[p.ID] = p
	return nil
}

// Get returns the persona with id.
func (r *Registry) Get(id string) (Persona, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.personas[id]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return p, nil
}

// List returns every persona sorted by name.
func (r *Registry) List() []Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Persona, 0, len(r.personas))
	for _, p := range r.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

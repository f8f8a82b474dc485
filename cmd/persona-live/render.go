package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/teslashibe/persona-live/pkg/live"
)

var (
	// Styles
	statusStyles = map[live.Status]lipgloss.Style{
		live.StatusIdle:       lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
		live.StatusConnecting: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		live.StatusActive:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		live.StatusError:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}

	nameStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true)

	speakingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Italic(true)

	sourceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

// statusLine renders the one-line summary printed on every status change.
func statusLine(name string, snap live.Snapshot) string {
	style, ok := statusStyles[snap.Status]
	if !ok {
		style = statusStyles[live.StatusIdle]
	}

	parts := []string{nameStyle.Render(name), style.Render(snap.Status.String())}
	if snap.IsSpeaking {
		parts = append(parts, speakingStyle.Render("speaking"))
	}
	if snap.Error != "" {
		parts = append(parts, snap.Error)
	}
	return strings.Join(parts, " ")
}

// console serializes output from the status, turn and stdin goroutines.
type console struct {
	mu   sync.Mutex
	out  io.Writer
	name string
	last string
}

func newConsole(out io.Writer, name string) *console {
	return &console{out: out, name: name}
}

// status prints the status line if it changed since the last call.
func (c *console) status(snap live.Snapshot) {
	line := statusLine(c.name, snap)

	c.mu.Lock()
	defer c.mu.Unlock()
	if line == c.last {
		return
	}
	c.last = line
	fmt.Fprintln(c.out, line)
}

// turn prints one finalized exchange with any cited sources.
func (c *console) turn(user, assistant string, sources []live.GroundingSource) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if user != "" {
		fmt.Fprintf(c.out, "%s %s\n", userStyle.Render("you:"), user)
	}
	if assistant != "" {
		fmt.Fprintf(c.out, "%s %s\n", nameStyle.Render(c.name+":"), assistant)
	}
	for _, src := range sources {
		title := src.Title
		if title == "" {
			title = src.URI
		}
		fmt.Fprintf(c.out, "  %s\n", sourceStyle.Render(title+" "+src.URI))
	}
}

func (c *console) println(a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, a...)
}

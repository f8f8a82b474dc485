package gateway

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	statusws "github.com/gofiber/websocket/v2"

	"github.com/teslashibe/persona-live/pkg/hub"
	"github.com/teslashibe/persona-live/pkg/memory"
	"github.com/teslashibe/persona-live/pkg/persona"
	"github.com/teslashibe/persona-live/pkg/protocol"
)

// MemoryRequest is the body for creating or editing a memory.
type MemoryRequest struct {
	Content string `json:"content"`
}

// handleHealth reports liveness and a few gauges
func (s *Server) handleHealth(c *fiber.Ctx) error {
	s.mu.RLock()
	sessions := len(s.sessions)
	s.mu.RUnlock()

	return c.JSON(fiber.Map{
		"status":     "ok",
		"sessions":   sessions,
		"dashboards": s.statusHub.ClientCount(),
	})
}

// handleListSessions returns every open session with its turn latencies
func (s *Server) handleListSessions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"sessions": s.sessionInfos()})
}

// handleListAssistants returns the configured personas
func (s *Server) handleListAssistants(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"assistants": s.opts.Personas.List()})
}

// handleHistory returns the recent turns of one assistant, newest first
func (s *Server) handleHistory(c *fiber.Ctx) error {
	p, err := s.opts.Personas.Get(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	limit := c.QueryInt("limit", persona.DefaultHistoryLimit)
	return c.JSON(fiber.Map{
		"assistant_id": p.ID,
		"history":      s.opts.History.Recent(p.ID, limit),
	})
}

// handleClearHistory forgets an assistant's recent turns.
func (s *Server) handleClearHistory(c *fiber.Ctx) error {
	p, err := s.opts.Personas.Get(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	s.opts.History.Clear(p.ID)
	return c.SendStatus(fiber.StatusNoContent)
}

// handleListMemories returns what an assistant remembers. The Memory Vault
// sees every assistant's memories.
func (s *Server) handleListMemories(c *fiber.Ctx) error {
	p, err := s.opts.Personas.Get(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	items, err := s.opts.Memory.List(c.UserContext(), p.MemoryScope())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"assistant_id": p.ID, "memories": items})
}

// handleAddMemory saves a memory typed into the dashboard
func (s *Server) handleAddMemory(c *fiber.Ctx) error {
	p, err := s.opts.Personas.Get(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	var req MemoryRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}

	item, err := s.opts.Memory.Add(c.UserContext(), p.ID, req.Content)
	if err != nil {
		return memoryError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(item)
}

// handleUpdateMemory replaces the content of one memory
func (s *Server) handleUpdateMemory(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid memory id")
	}
	var req MemoryRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if err := s.opts.Memory.Update(c.UserContext(), id, req.Content); err != nil {
		return memoryError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleDeleteMemory forgets one memory
func (s *Server) handleDeleteMemory(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid memory id")
	}
	if err := s.opts.Memory.Delete(c.UserContext(), id); err != nil {
		return memoryError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleStatusWS registers a dashboard with the status hub. Current
// snapshots are sent first; later ones arrive through the hub.
func (s *Server) handleStatusWS(c *statusws.Conn) {
	for _, snap := range s.Snapshots() {
		msg, err := protocol.NewStatusMessage(snap)
		if err != nil {
			continue
		}
		data, err := msg.Bytes()
		if err != nil {
			continue
		}
		if err := c.WriteMessage(statusws.TextMessage, data); err != nil {
			return
		}
	}

	client := hub.NewClient(s.statusHub, c)
	if client == nil {
		return
	}
	client.Run()
}

func memoryError(err error) error {
	switch {
	case errors.Is(err, memory.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, memory.ErrDuplicate):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, memory.ErrEmptyContent):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return err
	}
}

func queryFlag(c *fiber.Ctx, key string) bool {
	switch strings.ToLower(c.Query(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Package gateway serves live sessions to browsers over websockets.
//
// Each connection to /ws/session/:assistantID owns one live.Session. The
// browser streams PCM16 microphone frames as binary messages and controls
// the session with JSON envelopes from the protocol package; the gateway
// answers with binary playback frames plus status, turn and clear
// envelopes. Dashboards on /ws/status receive every session's snapshots.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	statusws "github.com/gofiber/websocket/v2"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/persona-live/pkg/hub"
	"github.com/teslashibe/persona-live/pkg/live"
	"github.com/teslashibe/persona-live/pkg/memory"
	"github.com/teslashibe/persona-live/pkg/metrics"
	"github.com/teslashibe/persona-live/pkg/persona"
	"github.com/teslashibe/persona-live/pkg/transport"
)

const shutdownTimeout = 5 * time.Second

// ErrNoPersonas is returned by New when Options.Personas is nil.
var ErrNoPersonas = errors.New("gateway: persona registry is required")

// Options configures a Server.
type Options struct {
	// Addr is the listen address used by Run.
	Addr string

	Personas *persona.Registry
	Memory   memory.Store
	History  *persona.History
	Search   live.Searcher
	Recorder *metrics.Recorder

	// NewTransport creates the provider connection for each session.
	NewTransport transport.Factory

	APIKey           string
	TokenSource      oauth2.TokenSource
	Model            string
	HandshakeTimeout time.Duration

	Logger *slog.Logger
}

// Server is the browser gateway.
type Server struct {
	app       *fiber.App
	opts      Options
	logger    *slog.Logger
	statusHub *hub.Hub

	mu       sync.RWMutex
	sessions map[string]*live.Session
}

// New creates a gateway. Memory, History and Recorder get in-process
// defaults when nil; NewTransport defaults to the Gemini Live transport.
func New(opts Options) (*Server, error) {
	if opts.Personas == nil {
		return nil, ErrNoPersonas
	}
	if opts.APIKey == "" && opts.TokenSource == nil {
		return nil, live.ErrMissingAPIKey
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Memory == nil {
		opts.Memory = memory.NewLocal()
	}
	if opts.History == nil {
		opts.History = persona.NewHistory(persona.DefaultHistoryLimit)
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NewRecorder("")
	}
	if opts.NewTransport == nil {
		opts.NewTransport = transport.GeminiFactory(transport.WithLogger(opts.Logger))
	}

	s := &Server{
		opts:      opts,
		logger:    opts.Logger.With("component", "gateway"),
		statusHub: hub.New("status", opts.Logger),
		sessions:  make(map[string]*live.Session),
	}

	app := fiber.New(fiber.Config{
		AppName:               "persona-live",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	app.Get("/healthz", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(opts.Recorder.Handler()))

	api := app.Group("/api")
	api.Get("/sessions", s.handleListSessions)
	api.Get("/assistants", s.handleListAssistants)
	api.Get("/assistants/:id/history", s.handleHistory)
	api.Delete("/assistants/:id/history", s.handleClearHistory)
	api.Get("/assistants/:id/memories", s.handleListMemories)
	api.Post("/assistants/:id/memories", s.handleAddMemory)
	api.Patch("/memories/:id", s.handleUpdateMemory)
	api.Delete("/memories/:id", s.handleDeleteMemory)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/status", statusws.New(s.handleStatusWS))
	app.Get("/ws/session/:assistantID", s.admitSession, websocket.New(s.handleSessionWS))

	s.app = app
	return s, nil
}

// App exposes the fiber app for in-process requests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens on Options.Addr until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	addr := s.opts.Addr
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then closes every
// open session.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("gateway listening", "addr", ln.Addr().String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.statusHub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return s.app.Listener(ln)
	})
	g.Go(func() error {
		<-ctx.Done()
		s.closeSessions()
		return s.app.ShutdownWithTimeout(shutdownTimeout)
	})
	return g.Wait()
}

func (s *Server) track(sess *live.Session) {
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
}

func (s *Server) untrack(sess *live.Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID())
	s.mu.Unlock()
}

// Snapshots returns the state of every open session ordered by session id.
func (s *Server) Snapshots() []live.Snapshot {
	s.mu.RLock()
	snaps := make([]live.Snapshot, 0, len(s.sessions))
	for _, sess := range s.sessions {
		snaps = append(snaps, sess.Snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].SessionID < snaps[j].SessionID })
	return snaps
}

// sessionInfo is a session snapshot with its mean turn latencies.
type sessionInfo struct {
	live.Snapshot
	FirstAudioLatencyMS int64 `json:"first_audio_latency_ms"`
	TotalLatencyMS      int64 `json:"total_latency_ms"`
}

func (s *Server) sessionInfos() []sessionInfo {
	s.mu.RLock()
	infos := make([]sessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		m := sess.Metrics()
		infos = append(infos, sessionInfo{
			Snapshot:            sess.Snapshot(),
			FirstAudioLatencyMS: m.FirstAudioLatency.Milliseconds(),
			TotalLatencyMS:      m.TotalLatency.Milliseconds(),
		})
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
	return infos
}

func (s *Server) closeSessions() {
	s.mu.RLock()
	open := make([]*live.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.RUnlock()

	for _, sess := range open {
		sess.Close()
	}
}

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/persona-live/pkg/audioio"
	"github.com/teslashibe/persona-live/pkg/hub"
	"github.com/teslashibe/persona-live/pkg/live"
	"github.com/teslashibe/persona-live/pkg/memory"
	"github.com/teslashibe/persona-live/pkg/persona"
	"github.com/teslashibe/persona-live/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second

	localPersona = "persona"
	localPublic  = "public"
	localRate    = "rate"
)

var (
	errClientGone    = errors.New("gateway: client disconnected")
	errSessionClosed = errors.New("gateway: session closed")
)

// admitSession resolves the persona before the websocket upgrade so
// unknown or restricted assistants are refused with a plain HTTP status.
func (s *Server) admitSession(c *fiber.Ctx) error {
	p, err := s.opts.Personas.Get(c.Params("assistantID"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	embed := queryFlag(c, "embed")
	if embed && !p.Embeddable {
		return fiber.NewError(fiber.StatusForbidden, "embedding is disabled for this assistant")
	}
	public := queryFlag(c, "public") || embed
	if public && !p.Public && !p.Embeddable {
		return fiber.NewError(fiber.StatusForbidden, "this assistant is not public")
	}

	c.Locals(localPersona, p)
	c.Locals(localPublic, public)
	c.Locals(localRate, c.QueryInt("rate", audioio.InputSampleRate))
	return c.Next()
}

func (s *Server) handleSessionWS(ws *websocket.Conn) {
	p, ok := ws.Locals(localPersona).(persona.Persona)
	if !ok {
		return
	}
	public, _ := ws.Locals(localPublic).(bool)
	rate, _ := ws.Locals(localRate).(int)

	conn, err := s.newConnection(ws, p, public, rate)
	if err != nil {
		s.logger.Error("failed to create session", "assistant_id", p.ID, "error", err)
		if msg, merr := protocol.NewErrorMessage(err.Error(), false); merr == nil {
			if data, berr := msg.Bytes(); berr == nil {
				ws.WriteMessage(websocket.TextMessage, data)
			}
		}
		return
	}
	conn.serve()
}

// connection couples one browser socket to one live.Session.
type connection struct {
	srv     *Server
	ws      *websocket.Conn
	persona persona.Persona
	public  bool
	logger  *slog.Logger

	out     *outbox
	mic     *micBridge
	session *live.Session
}

func (s *Server) newConnection(ws *websocket.Conn, p persona.Persona, public bool, rate int) (*connection, error) {
	c := &connection{
		srv:     s,
		ws:      ws,
		persona: p,
		public:  public,
		out:     newOutbox(),
	}
	c.mic = newMicBridge(rate, s.opts.Logger)
	speaker := newSpeakerBridge(c.out, c.sendClear)

	var writer live.MemoryWriter = memory.NewWriter(s.opts.Memory, p.ID)
	if public {
		writer = memory.Discard
	}

	sess, err := live.New(live.Config{
		AssistantID:      p.ID,
		Model:            s.opts.Model,
		Voice:            p.Voice,
		Instructions:     persona.Instructions(p, s.opts.Memory, s.opts.History, public, s.opts.Logger),
		APIKey:           s.opts.APIKey,
		TokenSource:      s.opts.TokenSource,
		Memory:           writer,
		Search:           s.opts.Search,
		OnTurnComplete:   c.onTurn,
		Observer:         s.opts.Recorder,
		Logger:           s.opts.Logger,
		HandshakeTimeout: s.opts.HandshakeTimeout,
	}, s.opts.NewTransport, c.mic, speaker)
	if err != nil {
		return nil, err
	}
	c.session = sess
	c.logger = s.logger.With("session_id", sess.ID(), "assistant_id", p.ID, "public", public)
	return c, nil
}

func (c *connection) serve() {
	c.srv.track(c.session)
	defer c.srv.untrack(c.session)
	defer c.session.Close()

	c.logger.Info("browser connected")

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return c.readPump(ctx) })
	g.Go(func() error { return c.writePump(ctx) })
	g.Go(func() error { return c.forwardStatus(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		c.ws.Close()
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, errClientGone) && !errors.Is(err, errSessionClosed) {
		c.logger.Warn("connection ended", "error", err)
		return
	}
	c.logger.Info("browser disconnected")
}

func (c *connection) readPump(ctx context.Context) error {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return errClientGone
		}

		if mt == websocket.BinaryMessage {
			c.mic.Push(data, 0)
			continue
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.logger.Debug("ignoring malformed message", "error", err)
			c.sendError(err.Error(), false)
			continue
		}
		c.handleMessage(ctx, msg)
	}
}

func (c *connection) handleMessage(ctx context.Context, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeStart:
		// Start blocks for the handshake; stop must still be readable.
		go c.start(ctx)

	case protocol.TypeStop:
		c.session.Stop()

	case protocol.TypeText:
		text, err := msg.GetTextData()
		if err != nil {
			c.sendError("invalid text message", false)
			return
		}
		if err := c.session.SendText(text.Text); err != nil {
			c.sendError(err.Error(), false)
		}

	case protocol.TypeAudio:
		audio, err := msg.GetAudioData()
		if err != nil {
			c.sendError("invalid audio message", false)
			return
		}
		pcm, err := audio.DecodeAudioData()
		if err != nil {
			c.sendError("invalid audio payload", false)
			return
		}
		c.mic.Push(pcm, audio.SampleRate)

	case protocol.TypePing:
		ping, err := msg.GetPingData()
		if err != nil {
			return
		}
		if pong, err := protocol.NewPongMessage(ping.ID, ping.Timestamp, time.Now().UnixMilli()); err == nil {
			c.sendMessage(pong)
		}

	default:
		c.logger.Debug("ignoring message", "type", msg.Type)
	}
}

func (c *connection) start(ctx context.Context) {
	err := c.session.Start(ctx)
	if err == nil || errors.Is(err, live.ErrStartAborted) {
		return
	}
	c.logger.Warn("session start failed", "error", err)

	text := c.session.Snapshot().Error
	if text == "" {
		text = err.Error()
	}
	c.sendError(text, live.IsRetryable(err))
}

func (c *connection) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		// Control frames go ahead of queued audio.
		select {
		case data := <-c.out.ctrl:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case data := <-c.out.ctrl:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return err
			}
		case pcm := <-c.out.audio:
			if err := c.write(websocket.BinaryMessage, pcm); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (c *connection) write(mt int, data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(mt, data)
}

// forwardStatus relays snapshots to the browser and the dashboard hub.
func (c *connection) forwardStatus(ctx context.Context) error {
	snaps, cancel := c.session.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snaps:
			if !ok {
				return errSessionClosed
			}
			msg, err := protocol.NewStatusMessage(snap)
			if err != nil {
				continue
			}
			data, err := msg.Bytes()
			if err != nil {
				continue
			}
			c.sendControl(data)
			c.srv.statusHub.Broadcast(hub.NewJSONMessage(data))
		}
	}
}

func (c *connection) onTurn(user, assistant string) {
	if !c.public {
		c.srv.opts.History.Record(c.persona.ID, user, assistant)
	}
	if msg, err := protocol.NewTurnMessage(c.session.ID(), c.persona.ID, user, assistant); err == nil {
		c.sendMessage(msg)
	}
}

func (c *connection) sendClear() {
	if msg, err := protocol.NewClearMessage("interrupted"); err == nil {
		c.sendMessage(msg)
	}
}

func (c *connection) sendError(text string, retryable bool) {
	if msg, err := protocol.NewErrorMessage(text, retryable); err == nil {
		c.sendMessage(msg)
	}
}

func (c *connection) sendMessage(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		return
	}
	c.sendControl(data)
}

func (c *connection) sendControl(data []byte) {
	if !c.out.sendControl(data) {
		c.logger.Warn("control queue full, dropping message")
	}
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/persona-live/internal/config"
	"github.com/teslashibe/persona-live/internal/log"
	"github.com/teslashibe/persona-live/pkg/audioio"
	"github.com/teslashibe/persona-live/pkg/live"
	"github.com/teslashibe/persona-live/pkg/memory"
	"github.com/teslashibe/persona-live/pkg/persona"
	"github.com/teslashibe/persona-live/pkg/transport"
)

var (
	talkPersona string
	talkBackend string
	talkDevice  string
	talkPublic  bool
)

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Talk to a persona through the local microphone",
	Long: `Open a live session using this machine's microphone and speaker.

Lines typed on stdin are sent as text. Type /quit or press Ctrl+C to end.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := log.With("component", "talk")

		d, err := openDeps(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer d.Close()

		p, err := d.personas.Get(talkPersona)
		if err != nil {
			return fmt.Errorf("%w (available: %s)", err, personaIDs(d.personas))
		}

		micCfg := audioio.DefaultConfig()
		micCfg.Backend = audioio.Backend(talkBackend)
		micCfg.Device = talkDevice
		mic, err := audioio.NewSource(micCfg, logger)
		if err != nil {
			return err
		}
		speakerCfg := audioio.PlaybackConfig()
		speakerCfg.Backend = audioio.Backend(talkBackend)
		speaker, err := audioio.NewSink(speakerCfg, logger)
		if err != nil {
			mic.Close()
			return err
		}

		var writer live.MemoryWriter = memory.NewWriter(d.store, p.ID)
		if talkPublic {
			writer = memory.Discard
		}

		out := newConsole(cmd.OutOrStdout(), p.Name)
		var sess *live.Session
		sess, err = live.New(live.Config{
			AssistantID:  p.ID,
			Model:        cfg.LiveModel,
			Voice:        p.Voice,
			Instructions: persona.Instructions(p, d.store, d.history, talkPublic, logger),
			APIKey:       cfg.APIKey,
			TokenSource:  d.tokens,
			Memory:       writer,
			Search:       d.search,
			OnTurnComplete: func(user, assistant string) {
				if !talkPublic {
					d.history.Record(p.ID, user, assistant)
				}
				out.turn(user, assistant, sess.Snapshot().GroundingSources)
			},
			Observer:         d.recorder,
			Logger:           logger,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}, transport.GeminiFactory(transport.WithLogger(logger)), mic, speaker)
		if err != nil {
			mic.Close()
			speaker.Close()
			return err
		}
		defer sess.Close()

		return converse(ctx, sess, out, cmd.InOrStdin())
	},
}

// converse starts sess, mirrors its status to out and forwards typed lines
// until ctx ends, stdin closes, /quit is typed or the session fails.
func converse(ctx context.Context, sess *live.Session, out *console, in io.Reader) error {
	updates, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	failed := make(chan string, 1)
	go func() {
		for snap := range updates {
			out.status(snap)
			if snap.Status == live.StatusError {
				select {
				case failed <- snap.Error:
				default:
				}
			}
		}
	}()

	if err := sess.Start(ctx); err != nil {
		return err
	}
	out.println("Connected. Speak, or type a message and press Enter.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return sess.Stop()
		case msg := <-failed:
			return errors.New(msg)
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep talking until interrupted
				lines = nil
				continue
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case "/quit", "/exit":
				return sess.Stop()
			}
			if err := sess.SendText(line); err != nil {
				out.println("send failed:", err)
			}
		}
	}
}

func personaIDs(r *persona.Registry) string {
	var ids []string
	for _, p := range r.List() {
		ids = append(ids, p.ID)
	}
	return strings.Join(ids, ", ")
}

func init() {
	talkCmd.Flags().StringVarP(&talkPersona, "persona", "p", "", "Persona id to talk to (required)")
	talkCmd.Flags().StringVar(&talkBackend, "backend", string(audioio.BackendAuto), "Audio backend: auto, portaudio, mock")
	talkCmd.Flags().StringVar(&talkDevice, "device", "", "Input device name (default system input)")
	talkCmd.Flags().BoolVar(&talkPublic, "public", false, "Guest mode: no memories or history are read or saved")
	talkCmd.MarkFlagRequired("persona")
}

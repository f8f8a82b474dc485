package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/persona-live/internal/config"
	"github.com/teslashibe/persona-live/internal/log"
	"github.com/teslashibe/persona-live/pkg/gateway"
	"github.com/teslashibe/persona-live/pkg/transport"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve live sessions to browsers",
	Long: `Start the browser gateway.

Routes:
  GET /ws/session/:assistantID   live session (binary PCM16 + JSON control)
  GET /ws/status                 snapshots of every session for dashboards
  GET /api/...                   assistants, history and memories
  GET /metrics                   Prometheus metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Addr = serveAddr
		}

		logger := log.L()
		d, err := openDeps(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer d.Close()

		srv, err := gateway.New(gateway.Options{
			Addr:             cfg.Addr,
			Personas:         d.personas,
			Memory:           d.store,
			History:          d.history,
			Search:           d.search,
			Recorder:         d.recorder,
			NewTransport:     transport.GeminiFactory(transport.WithLogger(logger)),
			APIKey:           cfg.APIKey,
			TokenSource:      d.tokens,
			Model:            cfg.LiveModel,
			HandshakeTimeout: cfg.HandshakeTimeout,
			Logger:           logger,
		})
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default $PERSONA_LIVE_ADDR or :8080)")
}

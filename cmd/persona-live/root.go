package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/persona-live/internal/config"
	"github.com/teslashibe/persona-live/internal/log"
)

var (
	logLevel string
	envFiles []string
	version  = "dev"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "persona-live",
	Short: "Real-time voice conversations with AI personas",
	Long: `persona-live runs full-duplex voice sessions against the Gemini Live API.

Each persona has its own voice, personality and long-term memory. During a
conversation the assistant can save facts about you and search the web for
current information.

Quick Start:
  persona-live serve                        # Serve browsers on PERSONA_LIVE_ADDR
  persona-live talk --persona nova          # Talk through the local microphone

Configuration is read from the environment (and .env): GOOGLE_API_KEY,
PERSONA_DIR, REDIS_URL, MEMORY_FILE, LOG_LEVEL.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFiles...); err != nil {
			return err
		}
		level := logLevel
		if level == "" {
			level = config.String("LOG_LEVEL", config.DefaultLogLevel)
		}
		log.Init(level)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default $LOG_LEVEL or info)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Extra .env files to load (default .env)")

	rootCmd.AddCommand(serveCmd, talkCmd)
}

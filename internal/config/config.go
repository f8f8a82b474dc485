// Package config provides environment-driven configuration for persona-live commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults used when the corresponding environment variable is unset.
const (
	DefaultLiveModel   = "models/gemini-2.0-flash-live-001"
	DefaultSearchModel = "gemini-2.5-flash"
	DefaultAddr        = ":8080"
	DefaultPersonaDir  = "./personas"
	DefaultLogLevel    = "info"
)

// ErrMissingAPIKey is returned by Load when neither an API key nor ADC is configured.
var ErrMissingAPIKey = errors.New("config: GOOGLE_API_KEY is required (or set GOOGLE_USE_ADC=true)")

// Config holds settings shared by the serve and talk commands.
type Config struct {
	APIKey      string
	UseADC      bool
	LiveModel   string
	SearchModel string
	Addr        string
	PersonaDir  string
	RedisURL    string
	MemoryFile  string
	LogLevel    string

	// SearchEngineID enables Programmable Search as a web_search fallback.
	SearchEngineID string

	// HandshakeTimeout bounds how long a session waits for the provider to
	// acknowledge setup.
	HandshakeTimeout time.Duration
}

// LoadDotEnv loads variables from the given .env files (".env" when none
// are named). Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads Config from the environment.
func Load() (Config, error) {
	cfg := Config{
		APIKey:           os.Getenv("GOOGLE_API_KEY"),
		UseADC:           Bool("GOOGLE_USE_ADC", false),
		LiveModel:        String("PERSONA_LIVE_MODEL", DefaultLiveModel),
		SearchModel:      String("PERSONA_SEARCH_MODEL", DefaultSearchModel),
		Addr:             String("PERSONA_LIVE_ADDR", DefaultAddr),
		PersonaDir:       String("PERSONA_DIR", DefaultPersonaDir),
		RedisURL:         os.Getenv("REDIS_URL"),
		MemoryFile:       os.Getenv("MEMORY_FILE"),
		LogLevel:         String("LOG_LEVEL", DefaultLogLevel),
		SearchEngineID:   os.Getenv("GOOGLE_CSE_ID"),
		HandshakeTimeout: Duration("PERSONA_HANDSHAKE_TIMEOUT", 15*time.Second),
	}
	if cfg.APIKey == "" && !cfg.UseADC {
		return cfg, ErrMissingAPIKey
	}
	return cfg, nil
}

// String returns the env var or def when unset or blank.
func String(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// Bool parses the env var with strconv.ParseBool, falling back to def.
func Bool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Duration parses the env var with time.ParseDuration, falling back to def.
func Duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

package main

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teslashibe/persona-live/internal/config"
	"github.com/teslashibe/persona-live/pkg/live"
	"github.com/teslashibe/persona-live/pkg/memory"
	"github.com/teslashibe/persona-live/pkg/metrics"
	"github.com/teslashibe/persona-live/pkg/persona"
	"github.com/teslashibe/persona-live/pkg/search"
)

// adcScopes are requested when authenticating with Application Default
// Credentials instead of an API key.
var adcScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/generative-language",
}

// deps are the collaborators shared by serve and talk.
type deps struct {
	personas *persona.Registry
	store    memory.Store
	history  *persona.History
	search   live.Searcher
	tokens   oauth2.TokenSource
	recorder *metrics.Recorder
}

func openDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (*deps, error) {
	personas, err := persona.LoadDir(cfg.PersonaDir)
	if err != nil {
		return nil, fmt.Errorf("load personas: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	d := &deps{
		personas: personas,
		store:    store,
		history:  persona.NewHistory(persona.DefaultHistoryLimit),
		recorder: metrics.NewRecorder(""),
	}

	if cfg.UseADC {
		d.tokens, err = google.DefaultTokenSource(ctx, adcScopes...)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("application default credentials: %w", err)
		}
	}

	d.search, err = openSearch(ctx, cfg, d.tokens, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	logger.Info("dependencies ready",
		"personas", len(personas.List()),
		"memory", storeKind(cfg),
		"adc", cfg.UseADC,
	)
	return d, nil
}

// openSearch chains grounded Gemini summaries with Programmable Search.
// A nil Searcher makes every web_search call answer with the fallback.
func openSearch(ctx context.Context, cfg config.Config, tokens oauth2.TokenSource, logger *slog.Logger) (live.Searcher, error) {
	var searchers []live.Searcher
	if cfg.APIKey != "" {
		g, err := search.NewGemini(ctx, cfg.APIKey,
			search.WithModel(cfg.SearchModel),
			search.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		searchers = append(searchers, g)
	}
	if cfg.SearchEngineID != "" {
		cs, err := search.NewCustomSearch(ctx, search.CustomSearchConfig{
			EngineID:    cfg.SearchEngineID,
			APIKey:      cfg.APIKey,
			TokenSource: tokens,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		searchers = append(searchers, cs)
	}

	if len(searchers) == 0 {
		logger.Warn("web_search disabled: set GOOGLE_API_KEY or GOOGLE_CSE_ID")
		return nil, nil
	}
	chain, err := search.NewChain(logger, searchers...)
	if err != nil {
		return nil, err
	}
	return chain, nil
}

func (d *deps) Close() error {
	return d.store.Close()
}

// openStore picks Redis, then a JSON file, then process memory.
func openStore(ctx context.Context, cfg config.Config) (memory.Store, error) {
	switch {
	case cfg.RedisURL != "":
		return memory.OpenRedis(ctx, cfg.RedisURL)
	case cfg.MemoryFile != "":
		return memory.NewLocalWithFile(cfg.MemoryFile)
	default:
		return memory.NewLocal(), nil
	}
}

func storeKind(cfg config.Config) string {
	switch {
	case cfg.RedisURL != "":
		return "redis"
	case cfg.MemoryFile != "":
		return "file"
	default:
		return "memory"
	}
}

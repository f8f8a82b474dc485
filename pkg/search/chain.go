package search

import (
	"context"
	"errors"
	"log/slog"

	"github.com/teslashibe/persona-live/pkg/live"
)

// ErrNoSearchers is returned by NewChain when given no searchers.
var ErrNoSearchers = errors.New("search: no searchers configured")

// Chain tries multiple searchers in order until one succeeds.
type Chain struct {
	searchers []live.Searcher
	logger    *slog.Logger
}

var _ live.Searcher = (*Chain)(nil)

// NewChain creates a searcher chain. Nil searchers are skipped.
func NewChain(logger *slog.Logger, searchers ...live.Searcher) (*Chain, error) {
	var list []live.Searcher
	for _, s := range searchers {
		if s != nil {
			list = append(list, s)
		}
	}
	if len(list) == 0 {
		return nil, ErrNoSearchers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{searchers: list, logger: logger.With("component", "search.chain")}, nil
}

// Search tries each searcher until one succeeds. The error joins every
// failure when all of them fail.
func (c *Chain) Search(ctx context.Context, query string) (live.SearchResult, error) {
	var errs []error
	for i, s := range c.searchers {
		res, err := s.Search(ctx, query)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback searcher succeeded", "searcher_index", i)
			}
			return res, nil
		}

		errs = append(errs, err)
		c.logger.Warn("searcher failed, trying next", "searcher_index", i, "error", err)
		if ctx.Err() != nil {
			return live.SearchResult{}, ctx.Err()
		}
	}
	return live.SearchResult{}, errors.Join(errs...)
}

// Len returns the number of searchers in the chain.
func (c *Chain) Len() int {
	return len(c.searchers)
}

package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"

	"github.com/teslashibe/persona-live/pkg/live"
)

// DefaultResults is how many Programmable Search results feed a summary.
const DefaultResults = 5

var (
	// ErrMissingEngineID indicates a custom searcher without a search engine id.
	ErrMissingEngineID = errors.New("search: search engine id is required")

	// ErrNoResults indicates the search engine found nothing.
	ErrNoResults = errors.New("search: no results")
)

// CustomSearchConfig configures a Programmable Search Engine searcher.
type CustomSearchConfig struct {
	// EngineID is the cx parameter of the search engine.
	EngineID string

	// APIKey authenticates unless TokenSource is set.
	APIKey string

	// TokenSource supplies OAuth2 tokens (Application Default Credentials).
	TokenSource oauth2.TokenSource

	// Results caps the number of results. Default: DefaultResults.
	Results int

	// Endpoint overrides the API host.
	Endpoint string

	Logger *slog.Logger
}

// CustomSearch answers queries from Google Programmable Search. The summary
// is the result snippets in rank order, which the model paraphrases.
type CustomSearch struct {
	svc     *customsearch.Service
	cx      string
	results int64
	logger  *slog.Logger
}

var _ live.Searcher = (*CustomSearch)(nil)

// NewCustomSearch creates a Programmable Search searcher.
func NewCustomSearch(ctx context.Context, cfg CustomSearchConfig) (*CustomSearch, error) {
	if cfg.EngineID == "" {
		return nil, ErrMissingEngineID
	}
	if cfg.Results <= 0 {
		cfg.Results = DefaultResults
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []option.ClientOption{}
	switch {
	case cfg.TokenSource != nil:
		opts = append(opts, option.WithTokenSource(cfg.TokenSource))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	default:
		return nil, ErrMissingAPIKey
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("search: create custom search service: %w", err)
	}

	return &CustomSearch{
		svc:     svc,
		cx:      cfg.EngineID,
		results: int64(cfg.Results),
		logger:  cfg.Logger.With("component", "search.custom"),
	}, nil
}

// Search returns the top results for query.
func (c *CustomSearch) Search(ctx context.Context, query string) (live.SearchResult, error) {
	res, err := c.svc.Cse.List().Q(query).Cx(c.cx).Num(c.results).Context(ctx).Do()
	if err != nil {
		return live.SearchResult{}, fmt.Errorf("search: custom search: %w", err)
	}
	return summarizeResults(res)
}

func summarizeResults(res *customsearch.Search) (live.SearchResult, error) {
	var lines []string
	sources := []live.GroundingSource{}
	seen := make(map[string]bool)

	for _, item := range res.Items {
		if item == nil || item.Link == "" || seen[item.Link] {
			continue
		}
		seen[item.Link] = true
		sources = append(sources, live.GroundingSource{URI: item.Link, Title: item.Title})

		snippet := strings.Join(strings.Fields(item.Snippet), " ")
		if snippet == "" {
			snippet = item.Title
		}
		lines = append(lines, fmt.Sprintf("%s: %s", item.Title, snippet))
	}

	if len(lines) == 0 {
		return live.SearchResult{}, ErrNoResults
	}
	return live.SearchResult{Summary: strings.Join(lines, "\n"), Sources: sources}, nil
}

// Package search answers the assistant's web_search tool with a
// Google-Search-grounded Gemini summary.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/teslashibe/persona-live/internal/httpc"
	"github.com/teslashibe/persona-live/pkg/live"
)

// DefaultModel is the summarization model.
const DefaultModel = "gemini-2.5-flash"

var (
	// ErrMissingAPIKey indicates the searcher was built without credentials.
	ErrMissingAPIKey = errors.New("search: API key is required")

	// ErrEmptySummary indicates the model returned neither text nor sources.
	ErrEmptySummary = errors.New("search: empty summary")
)

// Option configures a Gemini searcher.
type Option func(*options)

type options struct {
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.model = model
		}
	}
}

// WithBaseURL points the client at a different API host.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithHTTPClient replaces the shared HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Gemini runs one grounded generateContent call per query.
type Gemini struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

var _ live.Searcher = (*Gemini)(nil)

// NewGemini creates a searcher using the Gemini API backend.
func NewGemini(ctx context.Context, apiKey string, opts ...Option) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	o := options{
		model:      DefaultModel,
		httpClient: httpc.Client,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  o.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: o.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("search: create genai client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  o.model,
		logger: o.logger.With("component", "search"),
	}, nil
}

// Search summarizes web results for query and returns the pages the
// summary was grounded on.
func (g *Gemini) Search(ctx context.Context, query string) (live.SearchResult, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(Instruction(query), genai.RoleUser),
		Tools:             []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}

	res, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(query), cfg)
	if err != nil {
		return live.SearchResult{}, fmt.Errorf("search: generate content: %w", err)
	}

	summary := strings.TrimSpace(res.Text())
	sources := Sources(res)
	if summary == "" {
		if len(sources) == 0 {
			return live.SearchResult{}, ErrEmptySummary
		}
		// Grounded but silent: let the model speak from the page titles.
		summary = titleSummary(sources)
	}

	g.logger.Debug("search summarized", "query", query, "sources", len(sources))
	return live.SearchResult{Summary: summary, Sources: sources}, nil
}

func titleSummary(sources []live.GroundingSource) string {
	titles := make([]string, 0, len(sources))
	for _, src := range sources {
		if src.Title != "" {
			titles = append(titles, src.Title)
		} else {
			titles = append(titles, src.URI)
		}
	}
	return "Relevant pages: " + strings.Join(titles, "; ") + "."
}

// Instruction is the system instruction for one query.
func Instruction(query string) string {
	return fmt.Sprintf("You are a web search and summarization expert. Your task is to provide a concise, helpful summary based on the search results for the user's query: %q.", query)
}

// Sources extracts web grounding chunks from the first candidate, in order,
// skipping chunks without a URI and repeated URIs.
func Sources(res *genai.GenerateContentResponse) []live.GroundingSource {
	sources := []live.GroundingSource{}
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].GroundingMetadata == nil {
		return sources
	}

	seen := make(map[string]bool)
	for _, chunk := range res.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" || seen[chunk.Web.URI] {
			continue
		}
		seen[chunk.Web.URI] = true
		sources = append(sources, live.GroundingSource{URI: chunk.Web.URI, Title: chunk.Web.Title})
	}
	return sources
}

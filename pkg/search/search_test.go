package search

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/teslashibe/persona-live/pkg/live"
)

const groundedResponse = `{
  "candidates": [{
    "content": {"role": "model", "parts": [{"text": "  Rain is expected in Lisbon tomorrow.  "}]},
    "groundingMetadata": {
      "groundingChunks": [
        {"web": {"uri": "https://weather.example/lisbon", "title": "Lisbon weather"}},
        {"retrievedContext": {"uri": "gs://bucket/doc"}},
        {"web": {"uri": "https://weather.example/lisbon", "title": "duplicate"}},
        {"web": {"uri": "https://news.example/storm", "title": "Storm warning"}}
      ]
    }
  }]
}`

func fakeGemini(t *testing.T, status int, body string, requests chan<- string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if requests != nil {
			requests <- r.URL.Path + "\n" + r.Header.Get("x-goog-api-key") + "\n" + string(raw)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGemini_Search(t *testing.T) {
	requests := make(chan string, 1)
	srv := fakeGemini(t, http.StatusOK, groundedResponse, requests)

	g, err := NewGemini(context.Background(), "k-123", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	res, err := g.Search(context.Background(), "lisbon weather tomorrow")
	require.NoError(t, err)

	assert.Equal(t, "Rain is expected in Lisbon tomorrow.", res.Summary)
	assert.Equal(t, []live.GroundingSource{
		{URI: "https://weather.example/lisbon", Title: "Lisbon weather"},
		{URI: "https://news.example/storm", Title: "Storm warning"},
	}, res.Sources)

	req := <-requests
	assert.Contains(t, req, "gemini-2.5-flash:generateContent")
	assert.Contains(t, req, "k-123")
	assert.Contains(t, req, "googleSearch")
	assert.Contains(t, req, "summarization expert")
	assert.Contains(t, req, "lisbon weather tomorrow")
}

func TestGemini_SearchErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := fakeGemini(t, http.StatusInternalServerError, `{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`, nil)
		g, err := NewGemini(context.Background(), "k", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
		require.NoError(t, err)

		_, err = g.Search(context.Background(), "anything")
		assert.Error(t, err)
	})

	t.Run("empty summary", func(t *testing.T) {
		srv := fakeGemini(t, http.StatusOK, `{"candidates":[{"content":{"role":"model","parts":[{"text":" "}]}}]}`, nil)
		g, err := NewGemini(context.Background(), "k", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
		require.NoError(t, err)

		_, err = g.Search(context.Background(), "anything")
		assert.True(t, errors.Is(err, ErrEmptySummary))
	})

	t.Run("empty summary keeps sources", func(t *testing.T) {
		body := `{"candidates":[{
		  "content":{"role":"model","parts":[{"text":"  "}]},
		  "groundingMetadata":{"groundingChunks":[
		    {"web":{"uri":"https://weather.example/lisbon","title":"Lisbon weather"}},
		    {"web":{"uri":"https://news.example/storm"}}
		  ]}
		}]}`
		srv := fakeGemini(t, http.StatusOK, body, nil)
		g, err := NewGemini(context.Background(), "k", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
		require.NoError(t, err)

		res, err := g.Search(context.Background(), "lisbon weather")
		require.NoError(t, err)
		assert.Equal(t, []live.GroundingSource{
			{URI: "https://weather.example/lisbon", Title: "Lisbon weather"},
			{URI: "https://news.example/storm"},
		}, res.Sources)
		assert.Equal(t, "Relevant pages: Lisbon weather; https://news.example/storm.", res.Summary)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := NewGemini(context.Background(), "")
		assert.ErrorIs(t, err, ErrMissingAPIKey)
	})
}

func TestSources(t *testing.T) {
	assert.Empty(t, Sources(nil))
	assert.NotNil(t, Sources(&genai.GenerateContentResponse{}))

	res := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		GroundingMetadata: &genai.GroundingMetadata{GroundingChunks: []*genai.GroundingChunk{
			{Web: &genai.GroundingChunkWeb{URI: "", Title: "no uri"}},
			{Web: &genai.GroundingChunkWeb{URI: "https://a.example", Title: "A"}},
		}},
	}}}
	assert.Equal(t, []live.GroundingSource{{URI: "https://a.example", Title: "A"}}, Sources(res))
}

func TestInstruction(t *testing.T) {
	got := Instruction("best ramen in Osaka")
	assert.True(t, strings.HasSuffix(got, `query: "best ramen in Osaka".`))
}

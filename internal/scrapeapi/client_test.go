package scrapeapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventscope/extractor/internal/extraction"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, APIKey: "test-key"}, nil)
	require.NoError(t, err)
	return c
}

func TestMap(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/map", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://conf.example", req["url"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"links":   []string{"https://conf.example/speakers", "https://conf.example/agenda"},
		})
	})

	res, err := c.Map(context.Background(), "https://conf.example")
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalLinks)
	assert.Len(t, res.Links, 2)
}

func TestMapErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "upstream down"})
	})

	_, err := c.Map(context.Background(), "https://conf.example")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Status)
	assert.Contains(t, statusErr.Error(), "upstream down")
}

func TestScrapeWithSchemaAndActions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/scrape", r.URL.Path)

		var req scrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://conf.example/speakers", req.URL)
		assert.Contains(t, req.Formats, "json")
		require.NotNil(t, req.JSONOptions)
		assert.NotEmpty(t, req.JSONOptions.Prompt)
		require.Len(t, req.Actions, 2)
		assert.Equal(t, "scroll", req.Actions[1].Type)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"json":     map[string]any{"speakers": []any{map[string]any{"name": "Jane Doe"}}},
				"markdown": "# Speakers",
				"metadata": map[string]any{"title": "Speakers"},
			},
		})
	})

	res, err := c.Scrape(context.Background(), "https://conf.example/speakers", extraction.ScrapeOptions{
		ExtractSchema: map[string]any{"type": "object"},
		ExtractPrompt: "extract speakers",
		Actions: []extraction.PageAction{
			{Type: "wait", Milliseconds: 1000},
			{Type: "scroll"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "# Speakers", res.Markdown)
	assert.NotEmpty(t, res.StructuredJSON)
	assert.Equal(t, "Speakers", res.Metadata["title"])
}

func TestScrapeFailureFlag(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "render timed out"})
	})

	_, err := c.Scrape(context.Background(), "https://conf.example/slow", extraction.ScrapeOptions{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Contains(t, statusErr.Detail, "render timed out")
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)
}

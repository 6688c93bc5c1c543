package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSearch(t *testing.T) {
	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"query": "quantum computing",
			"results": [
				{"title": "Q1", "url": "https://a.example.com", "content": "qubits", "score": 0.9},
				{"title": "Q2", "url": "https://b.example.com", "content": "error correction", "score": 0.8}
			],
			"images": ["https://img.example.com/1.png", {"url": "https://img.example.com/2.png", "description": "chart"}, ""]
		}`))
	}))
	defer srv.Close()

	c := NewTavilyClient(Config{APIKey: "tvly-test", BaseURL: srv.URL}, nil, zaptest.NewLogger(t))
	resp, err := c.Search(context.Background(), "quantum computing")
	require.NoError(t, err)

	assert.Equal(t, "quantum computing", got.Query)
	assert.Equal(t, 3, got.MaxResults)
	assert.Equal(t, "advanced", got.SearchDepth)
	assert.True(t, got.IncludeImages)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, "qubits", resp.Results[0].Content)
	assert.Equal(t, "https://b.example.com", resp.Results[1].URL)
	assert.Equal(t, []string{"https://img.example.com/1.png", "https://img.example.com/2.png"}, resp.Images)
}

func TestSearchRequiresKey(t *testing.T) {
	c := NewTavilyClient(Config{}, nil, nil)
	_, err := c.Search(context.Background(), "q")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestSearchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewTavilyClient(Config{APIKey: "bad", BaseURL: srv.URL}, nil, nil)
	_, err := c.Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

// Package websearch queries the Tavily search API.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/srujansrutha/amri/internal/circuitbreaker"
	ometrics "github.com/srujansrutha/amri/internal/metrics"
	"github.com/srujansrutha/amri/internal/tracing"
)

const defaultBaseURL = "https://api.tavily.com"

// ErrMissingAPIKey is returned when no Tavily key is configured.
var ErrMissingAPIKey = errors.New("tavily api key is not configured")

// Config for the Tavily client.
type Config struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	MaxResults  int           `mapstructure:"max_results"`
	SearchDepth string        `mapstructure:"search_depth"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Result is one search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Response carries hits and any image URLs Tavily found.
type Response struct {
	Results []Result `json:"results"`
	Images  []string `json:"-"`
}

type searchRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	SearchDepth   string `json:"search_depth"`
	IncludeImages bool   `json:"include_images"`
}

type searchResponse struct {
	Results []Result          `json:"results"`
	Images  []json.RawMessage `json:"images"`
}

// TavilyClient runs searches through a circuit breaker.
type TavilyClient struct {
	cfg    Config
	httpw  *circuitbreaker.HTTPWrapper
	logger *zap.Logger
}

// NewTavilyClient applies defaults (3 results, advanced depth).
func NewTavilyClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *TavilyClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
	}
	if cfg.SearchDepth == "" {
		cfg.SearchDepth = "advanced"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TavilyClient{
		cfg:    cfg,
		httpw:  circuitbreaker.NewHTTPWrapper(httpClient, "tavily", "websearch", logger),
		logger: logger,
	}
}

// Search runs one query with image results enabled.
func (c *TavilyClient) Search(ctx context.Context, query string) (Response, error) {
	if c.cfg.APIKey == "" {
		return Response{}, ErrMissingAPIKey
	}
	start := time.Now()
	resp, err := c.search(ctx, query)
	ometrics.RecordExternalCall("tavily", "search", err, time.Since(start).Seconds())
	if err != nil {
		return Response{}, err
	}
	c.logger.Debug("Web search completed",
		zap.String("query", query),
		zap.Int("results", len(resp.Results)),
		zap.Int("images", len(resp.Images)),
	)
	return resp, nil
}

func (c *TavilyClient) search(ctx context.Context, query string) (Response, error) {
	url := c.cfg.BaseURL + "/search"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	body, err := json.Marshal(searchRequest{
		APIKey:        c.cfg.APIKey,
		Query:         query,
		MaxResults:    c.cfg.MaxResults,
		SearchDepth:   c.cfg.SearchDepth,
		IncludeImages: true,
	})
	if err != nil {
		return Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("tavily search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Response{}, fmt.Errorf("tavily search status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Response{}, fmt.Errorf("decode tavily response: %w", err)
	}
	return Response{Results: sr.Results, Images: imageURLs(sr.Images)}, nil
}

// imageURLs accepts both plain URL strings and {url, description} objects.
func imageURLs(raw []json.RawMessage) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			if s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(r, &obj); err == nil && obj.URL != "" {
			out = append(out, obj.URL)
		}
	}
	return out
}

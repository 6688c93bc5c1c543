// Package llm is a thin chat-completion client for any OpenAI-compatible
// endpoint. Gemini and Ollama are reached through their OpenAI-compatible
// APIs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	ometrics "github.com/srujansrutha/amri/internal/metrics"
	"github.com/srujansrutha/amri/internal/tracing"
)

const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
)

// ErrEmptyResponse is returned when the provider answers with no choices.
var ErrEmptyResponse = errors.New("llm returned no choices")

// Config selects the provider and model.
type Config struct {
	Provider      string        `mapstructure:"provider"`
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	VisionModel   string        `mapstructure:"vision_model"`
	EmbedModel    string        `mapstructure:"embed_model"`
	OllamaBaseURL string        `mapstructure:"ollama_base_url"`
	Temperature   float32       `mapstructure:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// Resolve fills provider-specific defaults.
func (c Config) Resolve() (Config, error) {
	switch strings.ToLower(c.Provider) {
	case "", ProviderGemini:
		c.Provider = ProviderGemini
		if c.BaseURL == "" {
			c.BaseURL = geminiBaseURL
		}
		if c.Model == "" {
			c.Model = "gemini-2.0-flash"
		}
		if c.EmbedModel == "" {
			c.EmbedModel = "text-embedding-004"
		}
	case ProviderOllama:
		c.Provider = ProviderOllama
		if c.BaseURL == "" {
			base := c.OllamaBaseURL
			if base == "" {
				base = "http://localhost:11434"
			}
			c.BaseURL = strings.TrimRight(base, "/") + "/v1"
		}
		if c.APIKey == "" {
			c.APIKey = "ollama"
		}
		if c.Model == "" {
			c.Model = "mistral:7b"
		}
		if c.EmbedModel == "" {
			c.EmbedModel = "nomic-embed-text"
		}
	case ProviderOpenAI:
		c.Provider = ProviderOpenAI
		if c.Model == "" {
			c.Model = "gpt-4o"
		}
		if c.EmbedModel == "" {
			c.EmbedModel = "text-embedding-3-small"
		}
	default:
		return c, fmt.Errorf("unknown llm provider %q", c.Provider)
	}
	if c.VisionModel == "" {
		c.VisionModel = c.Model
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c, nil
}

// NewOpenAIClient builds the go-openai client for a resolved config. The
// same client serves chat and embeddings.
func NewOpenAIClient(cfg Config) *openai.Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return openai.NewClientWithConfig(oc)
}

// Client issues chat completions.
type Client struct {
	cfg    Config
	api    *openai.Client
	logger *zap.Logger
}

// New resolves cfg and wraps api. api may be nil, in which case one is built
// from cfg.
func New(cfg Config, api *openai.Client, logger *zap.Logger) (*Client, error) {
	resolved, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	if api == nil {
		api = NewOpenAIClient(resolved)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: resolved, api: api, logger: logger}, nil
}

// Config returns the resolved configuration.
func (c *Client) Config() Config { return c.cfg }

// Complete sends an optional system message and one user prompt.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
	return c.chat(ctx, "complete", c.cfg.Model, msgs)
}

// DescribeImage asks the vision model about one image URL.
func (c *Client) DescribeImage(ctx context.Context, imageURL, instruction string) (string, error) {
	msgs := []openai.ChatCompletionMessage{{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: instruction},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageURL}},
		},
	}}
	return c.chat(ctx, "describe_image", c.cfg.VisionModel, msgs)
}

func (c *Client) chat(ctx context.Context, op, model string, msgs []openai.ChatCompletionMessage) (string, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "llm."+op)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err == nil && len(resp.Choices) == 0 {
		err = ErrEmptyResponse
	}
	ometrics.RecordExternalCall(c.cfg.Provider, op, err, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%s %s: %w", c.cfg.Provider, op, err)
	}

	c.logger.Debug("LLM call completed",
		zap.String("provider", c.cfg.Provider),
		zap.String("model", model),
		zap.String("operation", op),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("took", time.Since(start)),
	)
	return resp.Choices[0].Message.Content, nil
}

package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	ometrics "github.com/srujansrutha/amri/internal/metrics"
	"github.com/srujansrutha/amri/internal/tracing"
)

// Service provides embedding generation with a two-level cache: an
// in-process LRU first, then an optional shared cache.
type Service struct {
	cfg    Config
	client *openai.Client
	cache  EmbeddingCache
	lru    *LocalLRU
	logger *zap.Logger
}

// NewService builds a service over any OpenAI-compatible embeddings endpoint.
// cache may be nil.
func NewService(cfg Config, client *openai.Client, cache EmbeddingCache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cfg.withDefaults()
	return &Service{cfg: c, client: client, cache: cache, lru: NewLocalLRU(c.MaxLRU), logger: logger}
}

// GetConfig returns the effective configuration
func (s *Service) GetConfig() Config {
	return s.cfg
}

// Embed returns the vector for text using the configured model.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.GenerateEmbedding(ctx, text, "")
}

// GenerateEmbedding returns the vector for a single text
func (s *Service) GenerateEmbedding(ctx context.Context, text string, model string) ([]float32, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}
	m := model
	if m == "" {
		m = s.cfg.Model
	}
	key := MakeKey(m, text)

	if v, ok := s.lru.Get(ctx, key); ok {
		ometrics.RecordEmbeddingMetrics(m, "lru_hit", 0)
		return v, nil
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, key); ok {
			s.lru.Set(ctx, key, v, s.cfg.LRUTTL)
			ometrics.RecordEmbeddingMetrics(m, "cache_hit", 0)
			return v, nil
		}
	}

	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "embeddings.create")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(m),
	})
	if err != nil {
		ometrics.RecordEmbeddingMetrics(m, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		ometrics.RecordEmbeddingMetrics(m, "empty", time.Since(start).Seconds())
		return nil, fmt.Errorf("no embeddings returned")
	}
	out := resp.Data[0].Embedding
	ometrics.RecordEmbeddingMetrics(m, "ok", time.Since(start).Seconds())
	s.logger.Debug("Embedding generated",
		zap.String("model", m),
		zap.Int("dimensions", len(out)),
		zap.Duration("took", time.Since(start)),
	)

	s.lru.Set(ctx, key, out, s.cfg.LRUTTL)
	if s.cache != nil {
		s.cache.Set(ctx, key, out, s.cfg.CacheTTL)
	}
	return out, nil
}

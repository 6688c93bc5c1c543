package semcache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/srujansrutha/amri/internal/circuitbreaker"
	"github.com/srujansrutha/amri/internal/embeddings"
	ometrics "github.com/srujansrutha/amri/internal/metrics"
)

const (
	defaultKeyPrefix = "cache:"
	indexSuffix      = "index"
)

// RedisCache stores each entry as a hash with its own EXPIRE and tracks the
// keys in an index set. Entries whose hash has expired are pruned from the
// index lazily on lookup.
type RedisCache struct {
	client    *circuitbreaker.RedisWrapper
	embedder  Embedder
	ttl       time.Duration
	prefix    string
	threshold threshold
	logger    *zap.Logger
	now       func() time.Time
}

// NewRedisCache creates a cache on a breaker-wrapped client.
func NewRedisCache(client *circuitbreaker.RedisWrapper, embedder Embedder, opts Options, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	c := &RedisCache{
		client:   client,
		embedder: embedder,
		ttl:      opts.TTL,
		prefix:   defaultKeyPrefix,
		logger:   logger,
		now:      time.Now,
	}
	c.threshold.store(opts.Threshold)
	return c
}

// WithPrefix overrides the key prefix (default "cache:").
func (c *RedisCache) WithPrefix(prefix string) *RedisCache {
	if prefix != "" {
		c.prefix = prefix
	}
	return c
}

// SetThreshold changes the hit threshold. Values outside (0,1] are ignored.
func (c *RedisCache) SetThreshold(v float64) { c.threshold.store(v) }

// Threshold returns the current hit threshold.
func (c *RedisCache) Threshold() float64 { return c.threshold.load() }

func (c *RedisCache) indexKey() string { return c.prefix + indexSuffix }

func (c *RedisCache) Save(ctx context.Context, topic, report string) error {
	if strings.TrimSpace(topic) == "" {
		return ErrEmptyTopic
	}
	vec, err := c.embedder.Embed(ctx, topic)
	if err != nil {
		return fmt.Errorf("embed topic: %w", err)
	}

	key := c.prefix + uuid.New().String()
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"query":      topic,
			"report":     report,
			"vector":     embeddings.EncodeVector(vec),
			"created_at": strconv.FormatInt(c.now().UnixNano(), 10),
		})
		pipe.Expire(ctx, key, c.ttl)
		pipe.SAdd(ctx, c.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save cache entry: %w", err)
	}
	c.logger.Debug("Semantic cache entry saved", zap.String("key", key), zap.String("query", topic))
	return nil
}

func (c *RedisCache) Lookup(ctx context.Context, topic string) (string, bool, error) {
	vec, err := c.embedder.Embed(ctx, topic)
	if err != nil {
		return "", false, fmt.Errorf("embed topic: %w", err)
	}

	entries, err := c.load(ctx)
	if err != nil {
		return "", false, err
	}
	best, dist, ok := nearest(vec, entries, c.now(), c.ttl)
	if !ok {
		return "", false, nil
	}
	ometrics.CacheDistance.Observe(dist)
	if dist >= c.threshold.load() {
		return "", false, nil
	}
	c.logger.Debug("Semantic cache hit",
		zap.String("query", best.Query),
		zap.Float64("distance", dist),
	)
	return best.Report, true, nil
}

func (c *RedisCache) load(ctx context.Context) ([]Entry, error) {
	keys, err := c.client.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read cache index: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.StringStringMapCmd, len(keys))
	_, err = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read cache entries: %w", err)
	}

	entries := make([]Entry, 0, len(keys))
	var vanished []interface{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			vanished = append(vanished, keys[i])
			continue
		}
		e, err := parseEntry(fields)
		if err != nil {
			c.logger.Warn("Skipping malformed cache entry", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	if len(vanished) > 0 {
		if err := c.client.SRem(ctx, c.indexKey(), vanished...).Err(); err != nil {
			c.logger.Warn("Failed to prune cache index", zap.Error(err))
		}
	}
	return entries, nil
}

func parseEntry(fields map[string]string) (Entry, error) {
	vec, err := embeddings.DecodeVector([]byte(fields["vector"]))
	if err != nil {
		return Entry{}, err
	}
	ns, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("created_at: %w", err)
	}
	return Entry{
		Query:     fields["query"],
		Report:    fields["report"],
		Vector:    vec,
		CreatedAt: time.Unix(0, ns),
	}, nil
}

package semcache

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	ometrics "github.com/srujansrutha/amri/internal/metrics"
)

// threshold is a hot-reloadable hit threshold.
type threshold struct{ bits atomic.Uint64 }

func (t *threshold) load() float64 { return math.Float64frombits(t.bits.Load()) }

func (t *threshold) store(v float64) {
	if v > 0 && v <= 1 {
		t.bits.Store(math.Float64bits(v))
	}
}

// MemoryCache keeps entries in process memory. Used for single-node runs and
// tests.
type MemoryCache struct {
	embedder  Embedder
	ttl       time.Duration
	threshold threshold
	logger    *zap.Logger

	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache(embedder Embedder, opts Options, logger *zap.Logger) *MemoryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	c := &MemoryCache{embedder: embedder, ttl: opts.TTL, logger: logger, now: time.Now}
	c.threshold.store(opts.Threshold)
	return c
}

// WithClock overrides the time source.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// SetThreshold changes the hit threshold. Values outside (0,1] are ignored.
func (c *MemoryCache) SetThreshold(v float64) { c.threshold.store(v) }

// Threshold returns the current hit threshold.
func (c *MemoryCache) Threshold() float64 { return c.threshold.load() }

func (c *MemoryCache) Lookup(ctx context.Context, topic string) (string, bool, error) {
	vec, err := c.embedder.Embed(ctx, topic)
	if err != nil {
		return "", false, err
	}

	c.mu.Lock()
	best, dist, ok := nearest(vec, c.entries, c.now(), c.ttl)
	c.mu.Unlock()
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

func (c *MemoryCache) Save(ctx context.Context, topic, report string) error {
	if strings.TrimSpace(topic) == "" {
		return ErrEmptyTopic
	}
	vec, err := c.embedder.Embed(ctx, topic)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	live := c.entries[:0]
	for _, e := range c.entries {
		if now.Sub(e.CreatedAt) < c.ttl {
			live = append(live, e)
		}
	}
	c.entries = append(live, Entry{Query: topic, Report: report, Vector: vec, CreatedAt: now})
	return nil
}

// Len returns the number of stored entries, expired ones included until the
// next Save.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

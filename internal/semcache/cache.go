// Package semcache is the similarity-keyed report cache that gates a research
// run. A topic hits when its embedding is within the distance threshold of the
// single nearest stored topic.
package semcache

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	// DefaultThreshold is the cosine distance below which a topic hits.
	DefaultThreshold = 0.15
	// DefaultTTL bounds how long a cached report may be served.
	DefaultTTL = 24 * time.Hour
)

// ErrEmptyTopic is returned by Save when there is nothing to key the entry on.
var ErrEmptyTopic = errors.New("semantic cache: empty topic")

// Cache is the lookup/insert contract used by the engine.
type Cache interface {
	Lookup(ctx context.Context, topic string) (report string, hit bool, err error)
	Save(ctx context.Context, topic, report string) error
}

// Embedder turns text into a vector. embeddings.Service satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Entry is one cached report.
type Entry struct {
	Query     string
	Report    string
	Vector    []float32
	CreatedAt time.Time
}

// Options shared by the cache implementations.
type Options struct {
	Threshold float64
	TTL       time.Duration
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 || o.Threshold > 1 {
		o.Threshold = DefaultThreshold
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	return o
}

// CosineDistance returns 1 - cos(a, b). Mismatched or zero vectors are
// maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// nearest picks the closest live entry. ok is false when nothing is live.
func nearest(vec []float32, entries []Entry, now time.Time, ttl time.Duration) (best Entry, dist float64, ok bool) {
	dist = math.Inf(1)
	for _, e := range entries {
		if now.Sub(e.CreatedAt) >= ttl {
			continue
		}
		if d := CosineDistance(vec, e.Vector); d < dist {
			best, dist, ok = e, d, true
		}
	}
	return best, dist, ok
}

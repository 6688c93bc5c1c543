package embeddings

import "time"

// Config controls the embedding service behavior
type Config struct {
	// Model is the embedding model (e.g., text-embedding-3-small, nomic-embed-text)
	Model string `mapstructure:"model"`
	// Timeout for a single provider call
	Timeout time.Duration `mapstructure:"timeout"`
	// CacheTTL sets TTL for Redis-backed embedding entries
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// LRUTTL sets TTL for in-process entries
	LRUTTL time.Duration `mapstructure:"lru_ttl"`
	// MaxLRU controls in-process LRU size
	MaxLRU int `mapstructure:"max_lru"`
}

// DefaultConfig mirrors the defaults used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		Model:    "text-embedding-3-small",
		Timeout:  10 * time.Second,
		CacheTTL: time.Hour,
		LRUTTL:   30 * time.Minute,
		MaxLRU:   2048,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.LRUTTL <= 0 {
		c.LRUTTL = d.LRUTTL
	}
	if c.MaxLRU <= 0 {
		c.MaxLRU = d.MaxLRU
	}
	return c
}

// Package config loads the orchestrator configuration from defaults, an
// optional YAML file, .env and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/srujansrutha/amri/internal/embeddings"
	"github.com/srujansrutha/amri/internal/llm"
	"github.com/srujansrutha/amri/internal/tracing"
	"github.com/srujansrutha/amri/internal/vectordb"
	"github.com/srujansrutha/amri/internal/websearch"
)

// Checkpoint backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite3"
)

// Config is the orchestrator configuration.
type Config struct {
	Service    ServiceConfig     `mapstructure:"service"`
	Logging    LoggingConfig     `mapstructure:"logging"`
	Redis      RedisConfig       `mapstructure:"redis"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Checkpoint CheckpointConfig  `mapstructure:"checkpoint"`
	Cache      CacheConfig       `mapstructure:"cache"`
	Workflow   WorkflowConfig    `mapstructure:"workflow"`
	RateLimit  RateLimitConfig   `mapstructure:"rate_limit"`
	Health     HealthConfig      `mapstructure:"health"`
	LLM        llm.Config        `mapstructure:"llm"`
	Embeddings embeddings.Config `mapstructure:"embeddings"`
	Tavily     websearch.Config  `mapstructure:"tavily"`
	Vector     vectordb.Config   `mapstructure:"vector"`
	Tracing    tracing.Config    `mapstructure:"tracing"`
}

// ServiceConfig contains listener settings.
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	AdminPort       int           `mapstructure:"admin_port"`
	AuthToken       string        `mapstructure:"auth_token"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	Encoding    string `mapstructure:"encoding"` // "json" or "console"
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	PoolSize int    `mapstructure:"pool_size"`
}

// DatabaseConfig is used by the SQL checkpoint backends. For sqlite3 the DSN
// is a file path.
type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type CheckpointConfig struct {
	Backend     string `mapstructure:"backend"`
	Format      string `mapstructure:"format"`
	Compression string `mapstructure:"compression"`
	Table       string `mapstructure:"table"`
}

// CacheConfig controls the semantic report cache.
type CacheConfig struct {
	Backend     string        `mapstructure:"backend"`
	Threshold   float64       `mapstructure:"threshold"`
	TTL         time.Duration `mapstructure:"ttl"`
	FailOpen    bool          `mapstructure:"fail_open"`
	SaveTimeout time.Duration `mapstructure:"save_timeout"`
}

type WorkflowConfig struct {
	LeaseTTL  time.Duration `mapstructure:"lease_ttl"`
	MaxImages int           `mapstructure:"max_images"`
	RAGTopK   int           `mapstructure:"rag_top_k"`
}

// RateLimitConfig bounds research requests. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		errs = append(errs, fmt.Errorf("service port must be between 1 and 65535, got %d", c.Service.Port))
	}
	if c.Service.AdminPort < 0 || c.Service.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("admin port must be between 0 and 65535, got %d", c.Service.AdminPort))
	}

	switch c.Checkpoint.Backend {
	case BackendMemory, BackendRedis:
	case BackendPostgres, BackendSQLite:
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("checkpoint backend %s requires database.dsn", c.Checkpoint.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend))
	}
	if f := c.Checkpoint.Format; f != "json" && f != "msgpack" {
		errs = append(errs, fmt.Errorf("unknown checkpoint format %q", f))
	}
	if z := c.Checkpoint.Compression; z != "none" && z != "zstd" {
		errs = append(errs, fmt.Errorf("unknown checkpoint compression %q", z))
	}

	if b := c.Cache.Backend; b != BackendMemory && b != BackendRedis {
		errs = append(errs, fmt.Errorf("unknown cache backend %q", b))
	}
	if c.Cache.Threshold <= 0 || c.Cache.Threshold > 1 {
		errs = append(errs, fmt.Errorf("cache threshold must be in (0, 1], got %v", c.Cache.Threshold))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache ttl must be positive"))
	}
	if (c.Checkpoint.Backend == BackendRedis || c.Cache.Backend == BackendRedis) && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required for redis backends"))
	}

	switch strings.ToLower(c.LLM.Provider) {
	case llm.ProviderGemini, llm.ProviderOllama, llm.ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLM.Provider))
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate limit values must not be negative"))
	}
	switch c.Logging.Encoding {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log encoding %q", c.Logging.Encoding))
	}
	return errors.Join(errs...)
}

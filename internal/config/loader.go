package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DefaultPath is read when CONFIG_PATH is unset.
const DefaultPath = "config/amri.yaml"

// envBindings keeps the variable names operators already use.
var envBindings = map[string]string{
	"redis.url":             "REDIS_URL",
	"vector.url":            "QDRANT_URL",
	"llm.ollama_base_url":   "OLLAMA_BASE_URL",
	"tavily.api_key":        "TAVILY_API_KEY",
	"llm.provider":          "LLM_PROVIDER",
	"llm.api_key":           "LLM_API_KEY",
	"llm.model":             "LLM_MODEL",
	"database.dsn":          "DATABASE_URL",
	"logging.level":         "LOG_LEVEL",
	"service.port":          "PORT",
	"service.auth_token":    "API_TOKEN",
	"tracing.otlp_endpoint": "OTEL_EXPORTER_OTLP_ENDPOINT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8000)
	v.SetDefault("service.admin_port", 2112)
	v.SetDefault("service.auth_token", "")
	v.SetDefault("service.request_timeout", 10*time.Minute)
	v.SetDefault("service.shutdown_timeout", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.encoding", "json")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("checkpoint.backend", BackendRedis)
	v.SetDefault("checkpoint.format", "json")
	v.SetDefault("checkpoint.compression", "none")
	v.SetDefault("checkpoint.table", "research_checkpoints")

	v.SetDefault("cache.backend", BackendRedis)
	v.SetDefault("cache.threshold", 0.15)
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("cache.fail_open", false)
	v.SetDefault("cache.save_timeout", 30*time.Second)

	v.SetDefault("workflow.lease_ttl", 15*time.Minute)
	v.SetDefault("workflow.max_images", 2)
	v.SetDefault("workflow.rag_top_k", 3)

	v.SetDefault("rate_limit.requests_per_second", 0.0)
	v.SetDefault("rate_limit.burst", 0)

	v.SetDefault("health.check_interval", 30*time.Second)
	v.SetDefault("health.timeout", 5*time.Second)

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.vision_model", "")
	v.SetDefault("llm.embed_model", "")
	v.SetDefault("llm.ollama_base_url", "http://localhost:11434")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 0)
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("embeddings.model", "")
	v.SetDefault("embeddings.timeout", 10*time.Second)
	v.SetDefault("embeddings.cache_ttl", time.Hour)
	v.SetDefault("embeddings.lru_ttl", 30*time.Minute)
	v.SetDefault("embeddings.max_lru", 2048)

	v.SetDefault("tavily.api_key", "")
	v.SetDefault("tavily.base_url", "https://api.tavily.com")
	v.SetDefault("tavily.max_results", 3)
	v.SetDefault("tavily.search_depth", "advanced")
	v.SetDefault("tavily.timeout", 30*time.Second)

	v.SetDefault("vector.enabled", true)
	v.SetDefault("vector.url", "http://localhost:6333")
	v.SetDefault("vector.collection", "research_papers")
	v.SetDefault("vector.top_k", 3)
	v.SetDefault("vector.threshold", 0.0)
	v.SetDefault("vector.timeout", 5*time.Second)
	v.SetDefault("vector.vector_size", 0)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "amri-orchestrator")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
}

// Loader reads configuration and can watch the file for changes.
type Loader struct {
	v      *viper.Viper
	path   string
	hasCfg bool
	logger *zap.Logger

	mu      sync.Mutex
	current *Config
}

// NewLoader prepares a loader for path. An empty path means CONFIG_PATH or
// DefaultPath. A missing file is not an error; defaults and env apply.
func NewLoader(path string, logger *zap.Logger) *Loader {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("AMRI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		_ = v.BindEnv(key, env, "AMRI_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
	return &Loader{v: v, path: path, logger: logger}
}

// WithLogger replaces the logger, typically once the configured logger has
// been built from the first Load.
func (l *Loader) WithLogger(logger *zap.Logger) *Loader {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// Path returns the config file path the loader reads.
func (l *Loader) Path() string { return l.path }

// Load reads .env, the config file and the environment, then validates.
func (l *Loader) Load() (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("Failed to read .env", zap.Error(err))
	}

	if _, err := os.Stat(l.path); err == nil {
		l.v.SetConfigFile(l.path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", l.path, err)
		}
		l.hasCfg = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config %s: %w", l.path, err)
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Current returns the last successfully loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Watch reloads the file on change and hands valid configurations to
// onChange. Invalid edits are logged and ignored. Without a config file
// Watch does nothing and returns false.
func (l *Loader) Watch(onChange func(old, updated *Config)) bool {
	if !l.hasCfg {
		return false
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			l.logger.Error("Configuration reload rejected",
				zap.String("file", e.Name),
				zap.String("op", e.Op.String()),
				zap.Error(err),
			)
			return
		}
		l.mu.Lock()
		old := l.current
		l.current = cfg
		l.mu.Unlock()
		l.logger.Info("Configuration reloaded", zap.String("file", e.Name))
		if onChange != nil {
			onChange(old, cfg)
		}
	})
	l.v.WatchConfig()
	return true
}

// Load is a shortcut for NewLoader("", nil).Load().
func Load() (*Config, error) {
	return NewLoader("", nil).Load()
}

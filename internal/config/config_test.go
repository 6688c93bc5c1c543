package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "amri.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"), zaptest.NewLogger(t)).Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Service.Port)
	assert.Equal(t, BackendRedis, cfg.Checkpoint.Backend)
	assert.Equal(t, "research_checkpoints", cfg.Checkpoint.Table)
	assert.Equal(t, 0.15, cfg.Cache.Threshold)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 15*time.Minute, cfg.Workflow.LeaseTTL)
	assert.Equal(t, 2, cfg.Workflow.MaxImages)
	assert.Equal(t, "research_papers", cfg.Vector.Collection)
	assert.Equal(t, 3, cfg.Tavily.MaxResults)
	assert.Equal(t, "advanced", cfg.Tavily.SearchDepth)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
service:
  port: 9000
checkpoint:
  backend: sqlite3
  format: msgpack
  compression: zstd
database:
  dsn: /tmp/amri.db
cache:
  backend: memory
  threshold: 0.2
  ttl: 1h
`)
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("QDRANT_URL", "http://qdrant:6333")
	t.Setenv("LLM_PROVIDER", "ollama")
	t.Setenv("TAVILY_API_KEY", "tvly-test")
	t.Setenv("AMRI_WORKFLOW_MAX_IMAGES", "4")

	cfg, err := NewLoader(path, zaptest.NewLogger(t)).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Service.Port)
	assert.Equal(t, BackendSQLite, cfg.Checkpoint.Backend)
	assert.Equal(t, "msgpack", cfg.Checkpoint.Format)
	assert.Equal(t, "zstd", cfg.Checkpoint.Compression)
	assert.Equal(t, "/tmp/amri.db", cfg.Database.DSN)
	assert.Equal(t, 0.2, cfg.Cache.Threshold)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	assert.Equal(t, "http://qdrant:6333", cfg.Vector.URL)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "tvly-test", cfg.Tavily.APIKey)
	assert.Equal(t, 4, cfg.Workflow.MaxImages)
}

func TestCONFIGPATH(t *testing.T) {
	path := writeConfig(t, "service:\n  port: 8123\n")
	t.Setenv("CONFIG_PATH", path)

	l := NewLoader("", nil)
	assert.Equal(t, path, l.Path())
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Service.Port)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, "cache:\n  threshold: 1.5\n")
	_, err := NewLoader(path, nil).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache threshold")
}

func TestValidate(t *testing.T) {
	base, err := NewLoader(filepath.Join(t.TempDir(), "none.yaml"), nil).Load()
	require.NoError(t, err)
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Service.Port = 0 }, "service port"},
		{"unknown backend", func(c *Config) { c.Checkpoint.Backend = "etcd" }, "checkpoint backend"},
		{"sql without dsn", func(c *Config) { c.Checkpoint.Backend = BackendPostgres }, "database.dsn"},
		{"bad format", func(c *Config) { c.Checkpoint.Format = "xml" }, "checkpoint format"},
		{"bad compression", func(c *Config) { c.Checkpoint.Compression = "gzip" }, "compression"},
		{"zero threshold", func(c *Config) { c.Cache.Threshold = 0 }, "cache threshold"},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache ttl"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "anthropic-local" }, "llm provider"},
		{"redis without url", func(c *Config) { c.Redis.URL = "" }, "redis.url"},
		{"bad encoding", func(c *Config) { c.Logging.Encoding = "xml" }, "log encoding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWatchReloadsFile(t *testing.T) {
	path := writeConfig(t, "cache:\n  backend: memory\n  threshold: 0.15\n")
	l := NewLoader(path, zaptest.NewLogger(t))
	_, err := l.Load()
	require.NoError(t, err)

	var calls atomic.Int32
	require.True(t, l.Watch(func(_, updated *Config) { calls.Add(1) }))

	require.NoError(t, os.WriteFile(path, []byte("cache:\n  backend: memory\n  threshold: 0.3\n"), 0o600))
	require.Eventually(t, func() bool {
		return l.Current().Cache.Threshold == 0.3
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestWatchWithoutFile(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	_, err := l.Load()
	require.NoError(t, err)
	assert.False(t, l.Watch(nil))
}

func TestNewLogger(t *testing.T) {
	logger, level, err := NewLogger(LoggingConfig{Level: "warn", Encoding: "json"})
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	assert.Equal(t, zapcore.WarnLevel, level.Level())
	level.SetLevel(zapcore.DebugLevel)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, _, err = NewLogger(LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

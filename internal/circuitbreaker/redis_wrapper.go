package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisWrapper wraps a Redis client with a circuit breaker. Only the commands
// used by the checkpoint store, semantic cache and thread leases are exposed.
type RedisWrapper struct {
	client  *redis.Client
	cb      *CircuitBreaker
	service string
	logger  *zap.Logger
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker. service labels
// the breaker metrics (e.g. "checkpoint-store", "semantic-cache").
func NewRedisWrapper(client *redis.Client, service string, logger *zap.Logger) *RedisWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := DefaultConfig()
	base.MaxRequests = 5
	base.Interval = 30 * time.Second
	base.Timeout = 15 * time.Second
	base.FailureThreshold = 3
	cb := NewCircuitBreaker("redis", ConfigFromEnv("REDIS", base), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("redis", service, cb)

	return &RedisWrapper{client: client, cb: cb, service: service, logger: logger}
}

// guard runs fn through the breaker. redis.Nil is a valid answer, not a
// failure, so fn must filter it before returning.
func (rw *RedisWrapper) guard(ctx context.Context, fn func() error) error {
	err := rw.cb.Execute(ctx, fn)
	GlobalMetricsCollector.RecordRequest("redis", rw.service, rw.cb.State(), err == nil)
	return err
}

func notNil(err error) error {
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Ping wraps Redis Ping with circuit breaker
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var cmd *redis.StatusCmd
	err := rw.guard(ctx, func() error {
		cmd = rw.client.Ping(ctx)
		return cmd.Err()
	})
	if cmd == nil {
		cmd = redis.NewStatusCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// Get wraps Redis Get with circuit breaker
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var cmd *redis.StringCmd
	err := rw.guard(ctx, func() error {
		cmd = rw.client.Get(ctx, key)
		return notNil(cmd.Err())
	})
	if cmd == nil {
		cmd = redis.NewStringCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// Set wraps Redis Set with circuit breaker
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	var cmd *redis.StatusCmd
	err := rw.guard(ctx, func() error {
		cmd = rw.client.Set(ctx, key, value, expiration)
		return cmd.Err()
	})
	if cmd == nil {
		cmd = redis.NewStatusCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// SetNX wraps Redis SetNX with circuit breaker
func (rw *RedisWrapper) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	var cmd *redis.BoolCmd
	err := rw.guard(ctx, func() error {
		cmd = rw.client.SetNX(ctx, key, value, expiration)
		return cmd.Err()
	})
	if cmd == nil {
		cmd = redis.NewBoolCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// Del wraps Redis Del with circuit breaker
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var cmd *redis.IntCmd
	err := rw.guard(ctx, func() error {
		cmd = rw.client.Del(ctx, keys...)
		return cmd.Err()
	})
	if cmd == nil {
		cmd = redis.NewIntCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// Incr wraps Redis Incr with circuit breaker
func (rw *RedisWrapper) Incr(ctx context.Context, key string) *redis.IntCmd {
	var cmd *redis.IntCmd
	err := rw.guard(ctx, func() error {
		cmd = rw.client.Incr(ctx, key)
		return cmd.Err()
	})
	if cmd == nil {
		cmd = redis.NewIntCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// SRem wraps Redis SRem with circuit breaker
func (rw *RedisWrapper) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	var cmd *redis.IntCmd
	err := rw.guard(ctx, func() error {
		cmd = rw.client.SRem(ctx, key, members...)
		return cmd.Err()
	})
	if cmd == nil {
		cmd = redis.NewIntCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// SMembers wraps Redis SMembers with circuit breaker
func (rw *RedisWrapper) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	var cmd *redis.StringSliceCmd
	err := rw.guard(ctx, func() error {
		cmd = rw.client.SMembers(ctx, key)
		return cmd.Err()
	})
	if cmd == nil {
		cmd = redis.NewStringSliceCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// Eval wraps Redis Eval with circuit breaker
func (rw *RedisWrapper) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	var cmd *redis.Cmd
	err := rw.guard(ctx, func() error {
		cmd = rw.client.Eval(ctx, script, keys, args...)
		return notNil(cmd.Err())
	})
	if cmd == nil {
		cmd = redis.NewCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// TxPipelined runs fn inside MULTI/EXEC through the breaker
func (rw *RedisWrapper) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	var cmds []redis.Cmder
	err := rw.guard(ctx, func() error {
		var err error
		cmds, err = rw.client.TxPipelined(ctx, fn)
		return notNil(err)
	})
	return cmds, err
}

// Pipelined batches commands in one round trip through the breaker
func (rw *RedisWrapper) Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	var cmds []redis.Cmder
	err := rw.guard(ctx, func() error {
		var err error
		cmds, err = rw.client.Pipelined(ctx, fn)
		return notNil(err)
	})
	return cmds, err
}

// Close closes the underlying client
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// GetClient returns the underlying Redis client for operations not covered by wrapper
func (rw *RedisWrapper) GetClient() *redis.Client {
	return rw.client
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}

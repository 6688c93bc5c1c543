package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/srujansrutha/amri/internal/circuitbreaker"
)

const defaultRedisPrefix = "checkpoint:"

// RedisStore keeps one key per thread. Checkpoints never expire; completed
// threads stay readable for audit.
type RedisStore struct {
	client *circuitbreaker.RedisWrapper
	codec  *Codec
	prefix string
	logger *zap.Logger
}

// NewRedisStore creates a store on a breaker-wrapped client.
func NewRedisStore(client *circuitbreaker.RedisWrapper, codec *Codec, logger *zap.Logger) *RedisStore {
	if codec == nil {
		codec = DefaultCodec()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, codec: codec, prefix: defaultRedisPrefix, logger: logger}
}

// WithPrefix overrides the key prefix (default "checkpoint:").
func (s *RedisStore) WithPrefix(prefix string) *RedisStore {
	if prefix != "" {
		s.prefix = prefix
	}
	return s
}

func (s *RedisStore) key(threadID string) string        { return s.prefix + threadID }
func (s *RedisStore) versionKey(threadID string) string { return s.prefix + threadID + ":version" }

// putIfVersionScript bumps the version and writes the payload only when the
// stored version equals ARGV[1]. A missing version key counts as 0.
const putIfVersionScript = `
local cur = tonumber(redis.call('GET', KEYS[2]) or '0')
if cur ~= tonumber(ARGV[1]) then
	return -1
end
local v = redis.call('INCR', KEYS[2])
redis.call('SET', KEYS[1], ARGV[2])
return v
`

// Put bumps the version and writes the payload in one MULTI/EXEC. The
// version key is authoritative; Get reads it alongside the payload.
func (s *RedisStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	cp.UpdatedAt = time.Now().UTC()
	b, err := s.codec.Encode(cp)
	if err != nil {
		return err
	}

	var incr *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, s.versionKey(cp.ThreadID))
		pipe.Set(ctx, s.key(cp.ThreadID), b, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	cp.Version = incr.Val()
	s.logger.Debug("Checkpoint written",
		zap.String("thread_id", cp.ThreadID),
		zap.Int64("version", cp.Version),
		zap.Int("bytes", len(b)),
	)
	return nil
}

// PutIfVersion writes cp only if the stored version still equals expected.
func (s *RedisStore) PutIfVersion(ctx context.Context, cp *Checkpoint, expected int64) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	cp.Version = expected + 1
	cp.UpdatedAt = time.Now().UTC()
	b, err := s.codec.Encode(cp)
	if err != nil {
		return err
	}

	keys := []string{s.key(cp.ThreadID), s.versionKey(cp.ThreadID)}
	v, err := s.client.Eval(ctx, putIfVersionScript, keys, expected, b).Int64()
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if v < 0 {
		return ErrVersionConflict
	}
	cp.Version = v
	return nil
}

func (s *RedisStore) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	var payload, version *redis.StringCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		payload = pipe.Get(ctx, s.key(threadID))
		version = pipe.Get(ctx, s.versionKey(threadID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	b, err := payload.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := s.codec.Decode(b, &cp); err != nil {
		return nil, err
	}
	if v, err := version.Int64(); err == nil {
		cp.Version = v
	}
	return &cp, nil
}

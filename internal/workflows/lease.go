package workflows

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/srujansrutha/amri/internal/circuitbreaker"
)

// Leaser grants one in-flight execution per thread. Acquire returns
// ErrThreadBusy when the thread is already held.
type Leaser interface {
	Acquire(ctx context.Context, threadID string) (release func(), err error)
}

// LocalLeaser serializes threads within one process.
type LocalLeaser struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLeaser() *LocalLeaser {
	return &LocalLeaser{held: make(map[string]struct{})}
}

func (l *LocalLeaser) Acquire(_ context.Context, threadID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[threadID]; busy {
		return nil, ErrThreadBusy
	}
	l.held[threadID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, threadID)
			l.mu.Unlock()
		})
	}, nil
}

// releaseScript deletes the lease only if we still own it.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisLeaser serializes threads across processes sharing a Redis. A lease
// expires after TTL so a crashed holder cannot wedge a thread forever.
type RedisLeaser struct {
	client *circuitbreaker.RedisWrapper
	ttl    time.Duration
	prefix string
}

func NewRedisLeaser(client *circuitbreaker.RedisWrapper, ttl time.Duration) *RedisLeaser {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLeaser{client: client, ttl: ttl, prefix: "lease:"}
}

func (l *RedisLeaser) Acquire(ctx context.Context, threadID string) (func(), error) {
	key := l.prefix + threadID
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, ErrThreadBusy
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = l.client.Eval(rctx, releaseScript, []string{key}, token).Err()
		})
	}, nil
}

package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
	"golang.org/x/time/rate"
)

// Limiter is a thin wrapper around github.com/vnmchuo/ratelimiter
type Limiter struct {
	store        extratelimit.Limiter
	pollInterval time.Duration
}

// NewLimiter shares its budget through redis.
func NewLimiter(rdb *redis.Client, rpm int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(rpm)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store, pollInterval: 250 * time.Millisecond}
}

// NewMemoryLimiter keeps its budget in process.
func NewMemoryLimiter(rpm int64) *Limiter {
	return &Limiter{store: newMemoryStore(rpm), pollInterval: 250 * time.Millisecond}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store, pollInterval: time.Millisecond}
}

func (l *Limiter) Allow(ctx context.Context, key string, n int) (bool, error) {
	res, err := l.store.AllowN(ctx, limiterKey(key), n)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

// Wait blocks until one request for key is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		ok, err := l.Allow(ctx, key, 1)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

func (l *Limiter) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return l.store.Status(ctx, limiterKey(key))
}

func limiterKey(key string) string {
	return fmt.Sprintf("ratelimit:gateway:%s", key)
}

// memoryStore satisfies extratelimit.Limiter with one token bucket per key.
type memoryStore struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

func newMemoryStore(rpm int64) *memoryStore {
	if rpm <= 0 {
		rpm = 1
	}
	return &memoryStore{
		limit:   rate.Every(time.Minute / time.Duration(rpm)),
		burst:   int(rpm),
		buckets: make(map[string]*rate.Limiter),
	}
}

func (m *memoryStore) bucket(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = rate.NewLimiter(m.limit, m.burst)
		m.buckets[key] = b
	}
	return b
}

func (m *memoryStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.bucket(key).AllowN(time.Now(), n)}, nil
}

func (m *memoryStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return m.AllowN(ctx, key, 1)
}

func (m *memoryStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	tokens := m.bucket(key).Tokens()
	res := &extratelimit.Result{
		Allowed:   tokens >= 1,
		Remaining: int64(math.Max(tokens, 0)),
		Limit:     m.burst,
	}
	if tokens < 1 {
		res.ResetAfter = time.Duration((1 - tokens) / float64(m.limit) * float64(time.Second))
	}
	return res, nil
}

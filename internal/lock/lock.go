package lock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aegisshield/citation-engine/internal/apperror"
)

// Unlock releases a held lock. Calling it more than once is safe.
type Unlock func()

// Locker serializes work on a key.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// AcquireAll takes every key in sorted order so that two callers needing
// overlapping key sets cannot deadlock. On failure the locks already held are
// released.
func AcquireAll(ctx context.Context, l Locker, keys ...string) (Unlock, error) {
	sorted := dedupe(keys)

	held := make([]Unlock, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}

	for _, key := range sorted {
		unlock, err := l.Lock(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, unlock)
	}

	return once(release), nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func once(fn func()) Unlock {
	var o sync.Once
	return func() { o.Do(fn) }
}

func timeoutError(key string, cause error) error {
	return apperror.Retryable(cause, "timed out waiting for lock %s", key)
}

// KeyedMutex is an in-process Locker. Entries are dropped once no goroutine
// holds or waits for them.
type KeyedMutex struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates a locker whose Lock gives up after timeout. A zero
// timeout waits until the context is done.
func NewKeyedMutex(timeout time.Duration) *KeyedMutex {
	return &KeyedMutex{
		timeout: timeout,
		locks:   make(map[string]*keyLock),
	}
}

func (m *KeyedMutex) Lock(ctx context.Context, key string) (Unlock, error) {
	m.mu.Lock()
	kl, ok := m.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = kl
	}
	kl.refs++
	m.mu.Unlock()

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	select {
	case kl.ch <- struct{}{}:
		return once(func() {
			<-kl.ch
			m.release(key, kl)
		}), nil
	case <-ctx.Done():
		m.release(key, kl)
		return nil, timeoutError(key, ctx.Err())
	}
}

func (m *KeyedMutex) release(key string, kl *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(m.locks, key)
	}
}

// size reports the number of tracked keys.
func (m *KeyedMutex) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every replica. Each lock carries a TTL so
// a crashed holder cannot block the key forever.
type RedisLocker struct {
	client     redis.UniversalClient
	keyPrefix  string
	ttl        time.Duration
	timeout    time.Duration
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewRedisLocker(client redis.UniversalClient, keyPrefix string, ttl, timeout time.Duration, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		client:     client,
		keyPrefix:  keyPrefix,
		ttl:        ttl,
		timeout:    timeout,
		retryDelay: 25 * time.Millisecond,
		logger:     logger.Named("lock"),
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := l.keyPrefix + key
	token := uuid.NewString()

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, timeoutError(key, ctx.Err())
			}
			return nil, errors.Wrapf(err, "failed to acquire lock %s", key)
		}
		if ok {
			return once(func() { l.release(redisKey, token) }), nil
		}

		select {
		case <-time.After(l.retryDelay):
		case <-ctx.Done():
			return nil, timeoutError(key, ctx.Err())
		}
	}
}

// release drops the key if it still holds token. A failed release leaves the
// key to expire with its TTL.
func (l *RedisLocker) release(redisKey, token string) {
	if err := releaseScript.Run(context.Background(), l.client, []string{redisKey}, token).Err(); err != nil {
		l.logger.Warn("Failed to release lock",
			zap.String("key", redisKey),
			zap.Duration("ttl", l.ttl),
			zap.Error(err))
	}
}

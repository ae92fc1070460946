package maintenance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	defaultLockKey      = "maintenance:sweep"
	lockBreakerDuration = 30 * time.Second
)

// Locker hands out exclusive, expiring leases on a key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker takes leases with SET NX and a TTL, so a crashed holder frees
// the key once the TTL passes.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker constructs a RedisLocker.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: strings.TrimSpace(prefix)}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if l == nil || l.client == nil {
		return nil, false, errors.New("maintenance lock: nil redis client")
	}
	redisKey := key
	if l.prefix != "" {
		redisKey = l.prefix + ":" + key
	}
	token := newToken()
	ok, errSet := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if errSet != nil {
		return nil, false, errSet
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if errRelease := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); errRelease != nil {
			log.WithError(errRelease).Warn("maintenance lock: release failed")
		}
	}
	return release, true, nil
}

// MemoryLocker is the in-process fallback.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]time.Time
	now    func() time.Time
}

// NewMemoryLocker constructs a MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]time.Time), now: time.Now}
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if until, held := l.leases[key]; held && now.Before(until) {
		return nil, false, nil
	}
	until := now.Add(ttl)
	l.leases[key] = until
	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if current, ok := l.leases[key]; ok && current.Equal(until) {
			delete(l.leases, key)
		}
	}
	return release, true, nil
}

// FallbackLocker prefers Redis and drops to memory while Redis is failing.
type FallbackLocker struct {
	redis        Locker
	memory       *MemoryLocker
	now          func() time.Time
	mu           sync.Mutex
	breakerUntil time.Time
}

// NewFallbackLocker constructs a FallbackLocker; primary may be nil.
func NewFallbackLocker(primary Locker) *FallbackLocker {
	return &FallbackLocker{redis: primary, memory: NewMemoryLocker(), now: time.Now}
}

// Acquire implements Locker.
func (l *FallbackLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if l.redis != nil && !l.breakerActive() {
		release, ok, errAcquire := l.redis.Acquire(ctx, key, ttl)
		if errAcquire == nil {
			return release, ok, nil
		}
		l.tripBreaker(errAcquire)
	}
	return l.memory.Acquire(ctx, key, ttl)
}

func (l *FallbackLocker) breakerActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.breakerUntil.IsZero() {
		return false
	}
	if l.now().Before(l.breakerUntil) {
		return true
	}
	l.breakerUntil = time.Time{}
	return false
}

func (l *FallbackLocker) tripBreaker(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.breakerUntil = l.now().Add(lockBreakerDuration)
	log.WithError(err).Warn("maintenance lock: redis unavailable, falling back to memory")
}

func newToken() string {
	return uuid.NewString()
}

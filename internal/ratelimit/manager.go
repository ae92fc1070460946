package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// Manager enforces limits on the shared Redis counter when one is configured
// and on process memory otherwise. A failing Redis trips a breaker and the
// memory limiter takes over until it expires.
type Manager struct {
	settings SettingsConfig
	now      func() time.Time
	memory   *MemoryLimiter
	shared   Limiter

	mu           sync.Mutex
	breakerUntil time.Time
}

// NewManager constructs a Manager. client may be nil, and is ignored unless
// cfg.UseRedis is set.
func NewManager(cfg SettingsConfig, client *redis.Client, now func() time.Time) *Manager {
	cfg = cfg.Normalize()
	if now == nil {
		now = time.Now
	}
	m := &Manager{settings: cfg, now: now, memory: NewMemoryLimiter()}
	if cfg.UseRedis && client != nil {
		m.shared = NewRedisLimiter(client, cfg.RedisPrefix)
	}
	return m
}

// Settings returns the normalized settings.
func (m *Manager) Settings() SettingsConfig {
	if m == nil {
		return DefaultSettingsConfig()
	}
	return m.settings
}

// AllowDecision enforces a resolved decision.
func (m *Manager) AllowDecision(ctx context.Context, decision Decision) (Result, error) {
	return m.Allow(ctx, KeyForDecision(decision), decision.Limit)
}

// Allow counts one request against key.
func (m *Manager) Allow(ctx context.Context, key string, limit int) (Result, error) {
	if m == nil || limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := m.now()
	if m.shared != nil && !m.breakerActive(now) {
		result, errShared := m.shared.Allow(ctx, key, limit, now)
		if errShared == nil {
			return result, nil
		}
		m.tripBreaker(errShared, now)
	}
	return m.memory.Allow(ctx, key, limit, now)
}

func (m *Manager) breakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("rate limit: redis unavailable, falling back to memory")
}

package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// Limiter provides rate limit checks.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error)
}

// Scope indicates which dimension the rate limit applies to.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeUser
	ScopeWebhook
)

// Decision describes the resolved rate limit and scope.
type Decision struct {
	Limit   int
	Scope   Scope
	UserID  uint64
	Subject string
}

// ForUser resolves the per-user limit from settings.
func ForUser(cfg SettingsConfig, userID uint64) Decision {
	if userID == 0 || cfg.Limit <= 0 {
		return Decision{}
	}
	return Decision{Limit: cfg.Limit, Scope: ScopeUser, UserID: userID}
}

// ForWebhook resolves the per-provider webhook limit from settings.
func ForWebhook(cfg SettingsConfig, provider string) Decision {
	if provider == "" || cfg.WebhookLimit <= 0 {
		return Decision{}
	}
	return Decision{Limit: cfg.WebhookLimit, Scope: ScopeWebhook, Subject: provider}
}

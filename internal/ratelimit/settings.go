package ratelimit

import (
	"strings"

	internalsettings "github.com/exampapers/ExamPrepBusiness/internal/settings"
)

// SettingsConfig holds per-second limits. Zero disables a scope.
type SettingsConfig struct {
	Limit        int
	WebhookLimit int
	UseRedis     bool
	RedisPrefix  string
}

// DefaultSettingsConfig returns the built-in limits with Redis disabled.
func DefaultSettingsConfig() SettingsConfig {
	return SettingsConfig{
		Limit:        internalsettings.DefaultRateLimit,
		WebhookLimit: internalsettings.DefaultWebhookRateLimit,
		RedisPrefix:  internalsettings.DefaultRedisPrefix + ":rl",
	}
}

// Normalize trims the prefix and clamps negative limits.
func (c SettingsConfig) Normalize() SettingsConfig {
	c.RedisPrefix = strings.TrimSpace(c.RedisPrefix)
	if c.RedisPrefix == "" {
		c.RedisPrefix = internalsettings.DefaultRedisPrefix + ":rl"
	}
	if c.Limit < 0 {
		c.Limit = 0
	}
	if c.WebhookLimit < 0 {
		c.WebhookLimit = 0
	}
	return c
}

package ratelimit

import (
	"fmt"
	"strings"
)

// KeyForDecision builds a limiter key for the resolved scope.
func KeyForDecision(decision Decision) string {
	if decision.Limit <= 0 {
		return ""
	}
	switch decision.Scope {
	case ScopeUser:
		if decision.UserID == 0 {
			return ""
		}
		return fmt.Sprintf("u:%d", decision.UserID)
	case ScopeWebhook:
		subject := strings.ToLower(strings.TrimSpace(decision.Subject))
		if subject == "" {
			return ""
		}
		return "wh:" + subject
	default:
		return ""
	}
}

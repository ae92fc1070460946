package auth

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/ratelimit"
	"github.com/exampapers/ExamPrepBusiness/internal/security"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Gin context keys set by the gate.
const (
	ContextUserID        = "userID"
	ContextAdminID       = "adminID"
	ContextAdminUsername = "adminUsername"
)

// Gate authenticates requests and applies rate limits before handlers run.
type Gate struct {
	db          *gorm.DB
	tokens      *security.TokenService
	rateLimiter *ratelimit.Manager
	now         func() time.Time
}

// NewGate constructs a Gate. limiter may be nil to disable rate limiting.
func NewGate(db *gorm.DB, tokens *security.TokenService, limiter *ratelimit.Manager) *Gate {
	return &Gate{db: db, tokens: tokens, rateLimiter: limiter, now: time.Now}
}

// Tokens returns the token service used by the gate.
func (g *Gate) Tokens() *security.TokenService {
	if g == nil {
		return nil
	}
	return g.tokens
}

// RequireUser accepts user tokens and enforces the per-user limit.
func (g *Gate) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := g.bearer(c, security.AudienceUser)
		if !ok {
			return
		}
		userID, errID := claims.PrincipalID()
		if errID != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if !g.allow(c, ratelimit.ForUser(g.settings(), userID)) {
			return
		}
		c.Set(ContextUserID, userID)
		c.Next()
	}
}

// RequireAdmin accepts admin tokens for active admins.
func (g *Gate) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := g.bearer(c, security.AudienceAdmin)
		if !ok {
			return
		}
		adminID, errID := claims.PrincipalID()
		if errID != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := g.db.WithContext(c.Request.Context()).First(&admin, adminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
			return
		}
		c.Set(ContextAdminID, admin.ID)
		c.Set(ContextAdminUsername, admin.Username)
		c.Next()
	}
}

// LimitWebhook enforces the per-provider webhook limit.
func (g *Gate) LimitWebhook(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.allow(c, ratelimit.ForWebhook(g.settings(), provider)) {
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user ID, or 0.
func UserID(c *gin.Context) uint64 {
	return idFromContext(c, ContextUserID)
}

// AdminID returns the authenticated admin ID, or 0.
func AdminID(c *gin.Context) uint64 {
	return idFromContext(c, ContextAdminID)
}

// AdminUsername returns the authenticated admin name.
func AdminUsername(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(ContextAdminUsername)
}

func idFromContext(c *gin.Context, key string) uint64 {
	if c == nil {
		return 0
	}
	raw, ok := c.Get(key)
	if !ok {
		return 0
	}
	id, _ := raw.(uint64)
	return id
}

func (g *Gate) bearer(c *gin.Context, audience string) (*security.Claims, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
		return nil, false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
		return nil, false
	}
	if g == nil || g.tokens == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "authentication unavailable"})
		return nil, false
	}
	claims, errParse := g.tokens.Parse(audience, token)
	if errParse != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return nil, false
	}
	return claims, true
}

func (g *Gate) settings() ratelimit.SettingsConfig {
	if g == nil || g.rateLimiter == nil {
		return ratelimit.SettingsConfig{}
	}
	return g.rateLimiter.Settings()
}

// allow aborts with 429 when the decision is over its limit. Limiter errors
// fail open.
func (g *Gate) allow(c *gin.Context, decision ratelimit.Decision) bool {
	if g == nil || g.rateLimiter == nil || decision.Limit <= 0 {
		return true
	}
	ctx := context.Background()
	if c.Request != nil {
		ctx = c.Request.Context()
	}
	result, errAllow := g.rateLimiter.AllowDecision(ctx, decision)
	if errAllow != nil {
		log.WithError(errAllow).Warn("rate limit: check failed")
		return true
	}
	if result.Allowed {
		return true
	}
	resetIn := result.Reset.Sub(g.now())
	resetSeconds := int(math.Ceil(resetIn.Seconds()))
	if resetSeconds < 0 {
		resetSeconds = 0
	}
	c.Header("Retry-After", strconv.Itoa(resetSeconds))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
	return false
}

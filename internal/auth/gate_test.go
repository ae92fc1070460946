package auth

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/db"
	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/ratelimit"
	"github.com/exampapers/ExamPrepBusiness/internal/security"
	"github.com/gin-gonic/gin"
)

func newTestGate(t *testing.T, cfg ratelimit.SettingsConfig) *Gate {
	t.Helper()
	conn, errOpen := db.Open("file:" + filepath.Join(t.TempDir(), "gate.db"))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	tokens, errTokens := security.NewTokenService("gate-secret", time.Hour, "test")
	if errTokens != nil {
		t.Fatalf("token service: %v", errTokens)
	}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewManager(cfg, nil, func() time.Time { return now })
	return NewGate(conn, tokens, limiter)
}

func serve(engine *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestGateRequireUserRateLimitBlocksAfterLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gate := newTestGate(t, ratelimit.SettingsConfig{Limit: 1})
	engine := gin.New()
	engine.GET("/me", gate.RequireUser(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c)})
	})

	token, _, errIssue := gate.Tokens().Issue(security.AudienceUser, 123, "")
	if errIssue != nil {
		t.Fatalf("issue: %v", errIssue)
	}
	if w := serve(engine, "/me", token); w.Code != http.StatusOK {
		t.Fatalf("expected first request ok, got %d %s", w.Code, w.Body.String())
	}
	w := serve(engine, "/me", token)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestGateRejectsMissingAndForeignTokens(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gate := newTestGate(t, ratelimit.SettingsConfig{})
	engine := gin.New()
	engine.GET("/me", gate.RequireUser(), func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/admin", gate.RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := serve(engine, "/me", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	userToken, _, _ := gate.Tokens().Issue(security.AudienceUser, 1, "")
	if w := serve(engine, "/admin", userToken); w.Code != http.StatusUnauthorized {
		t.Fatalf("user token must not open admin routes, got %d", w.Code)
	}
}

func TestGateRequireAdminChecksActiveFlag(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gate := newTestGate(t, ratelimit.SettingsConfig{})
	engine := gin.New()
	engine.GET("/admin", gate.RequireAdmin(), func(c *gin.Context) {
		c.String(http.StatusOK, AdminUsername(c))
	})

	admin := models.Admin{Username: "root", Password: "x", Active: true}
	if errCreate := gate.db.Create(&admin).Error; errCreate != nil {
		t.Fatalf("create admin: %v", errCreate)
	}
	token, _, _ := gate.Tokens().Issue(security.AudienceAdmin, admin.ID, admin.Username)
	if w := serve(engine, "/admin", token); w.Code != http.StatusOK || w.Body.String() != "root" {
		t.Fatalf("expected admin access, got %d %q", w.Code, w.Body.String())
	}

	if errUpdate := gate.db.Model(&admin).Update("active", false).Error; errUpdate != nil {
		t.Fatalf("disable admin: %v", errUpdate)
	}
	if w := serve(engine, "/admin", token); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for disabled admin, got %d", w.Code)
	}
}

func TestGateLimitWebhookPerProvider(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gate := newTestGate(t, ratelimit.SettingsConfig{WebhookLimit: 1})
	engine := gin.New()
	engine.GET("/stripe", gate.LimitWebhook("stripe"), func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/paypal", gate.LimitWebhook("paypal"), func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := serve(engine, "/stripe", ""); w.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d", w.Code)
	}
	if w := serve(engine, "/stripe", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w := serve(engine, "/paypal", ""); w.Code != http.StatusOK {
		t.Fatalf("providers are limited independently, got %d", w.Code)
	}
}

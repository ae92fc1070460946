package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/auth"
	"github.com/exampapers/ExamPrepBusiness/internal/db"
	"github.com/exampapers/ExamPrepBusiness/internal/maintenance"
	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/payments"
	"github.com/exampapers/ExamPrepBusiness/internal/referral"
	"github.com/exampapers/ExamPrepBusiness/internal/security"
	"github.com/exampapers/ExamPrepBusiness/internal/subscription"
	"github.com/exampapers/ExamPrepBusiness/internal/tiers"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	conn   *gorm.DB
	ledger *payments.Ledger
	engine *gin.Engine
	token  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "admin-test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))

	catalog := tiers.NewCatalog(conn, time.Minute)
	evaluator := referral.NewEvaluator()
	subs := subscription.NewService(conn, catalog, evaluator)
	ledger := payments.NewLedger(conn, subs)
	scheduler, err := maintenance.NewScheduler(maintenance.NewSweeper(conn, subs), nil, maintenance.SchedulerConfig{})
	require.NoError(t, err)
	tokens, err := security.NewTokenService("admin-secret", time.Hour, "test")
	require.NoError(t, err)

	engine := gin.New()
	RegisterAdminRoutes(engine, Deps{
		DB:            conn,
		Gate:          auth.NewGate(conn, tokens, nil),
		Catalog:       catalog,
		Ledger:        ledger,
		Subscriptions: subs,
		Referrals:     evaluator,
		Scheduler:     scheduler,
	})

	hash, err := security.HashPassword("s3cret")
	require.NoError(t, err)
	require.NoError(t, conn.Create(&models.Admin{Username: "ops", Password: hash, Active: true}).Error)

	f := &fixture{conn: conn, ledger: ledger, engine: engine}
	code, body := f.do(t, http.MethodPost, "/v0/admin/login", gin.H{"username": "ops", "password": "s3cret"})
	require.Equal(t, http.StatusOK, code)
	f.token, _ = body["token"].(string)
	require.NotEmpty(t, f.token)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, payload any) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	body := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body
}

func (f *fixture) manualTxn(t *testing.T, userID uint64, tierName string) *models.PaymentTransaction {
	t.Helper()
	tier, err := tiers.FindByName(context.Background(), f.conn, tierName)
	require.NoError(t, err)
	txn, err := f.ledger.Create(context.Background(), payments.CreateParams{UserID: userID, TierID: tier.ID, Provider: models.ProviderManual})
	require.NoError(t, err)
	return txn
}

func TestLogin_RejectsBadPassword(t *testing.T) {
	f := newFixture(t)
	f.token = ""
	code, _ := f.do(t, http.MethodPost, "/v0/admin/login", gin.H{"username": "ops", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.do(t, http.MethodGet, "/v0/admin/tiers", nil)
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestLogin_RequiresTOTPOnceEnabled(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/v0/admin/mfa/status", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["totp_enabled"])

	code, body = f.do(t, http.MethodPost, "/v0/admin/mfa/totp/prepare", nil)
	require.Equal(t, http.StatusOK, code)
	secret, _ := body["secret"].(string)
	require.NotEmpty(t, secret)
	require.Contains(t, body["otpauth_url"], "otpauth://totp/")

	code, _ = f.do(t, http.MethodPost, "/v0/admin/mfa/totp/confirm", gin.H{"secret": secret, "code": "abcdef"})
	require.Equal(t, http.StatusBadRequest, code)

	current, err := security.TOTPCode(secret, time.Now())
	require.NoError(t, err)
	code, _ = f.do(t, http.MethodPost, "/v0/admin/mfa/totp/confirm", gin.H{"secret": secret, "code": current})
	require.Equal(t, http.StatusOK, code)

	var stored models.Admin
	require.NoError(t, f.conn.Where("username = ?", "ops").First(&stored).Error)
	require.Equal(t, secret, stored.TOTPSecret)

	adminToken := f.token
	f.token = ""
	code, body = f.do(t, http.MethodPost, "/v0/admin/login", gin.H{"username": "ops", "password": "s3cret"})
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, true, body["totp_required"])

	code, _ = f.do(t, http.MethodPost, "/v0/admin/login", gin.H{"username": "ops", "password": "s3cret", "totp_code": "abcdef"})
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.do(t, http.MethodPost, "/v0/admin/login", gin.H{"username": "ops", "password": "wrong", "totp_code": current})
	require.Equal(t, http.StatusUnauthorized, code)

	code, body = f.do(t, http.MethodPost, "/v0/admin/login", gin.H{"username": "ops", "password": "s3cret", "totp_code": current})
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, body["token"])

	f.token = adminToken
	code, _ = f.do(t, http.MethodPost, "/v0/admin/mfa/totp/disable", gin.H{"code": "abcdef"})
	require.Equal(t, http.StatusUnauthorized, code)
	code, _ = f.do(t, http.MethodPost, "/v0/admin/mfa/totp/disable", gin.H{"code": current})
	require.Equal(t, http.StatusOK, code)

	f.token = ""
	code, _ = f.do(t, http.MethodPost, "/v0/admin/login", gin.H{"username": "ops", "password": "s3cret"})
	require.Equal(t, http.StatusOK, code)
}

func TestTiers_CreateUpdateAndProtectFree(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/v0/admin/tiers", gin.H{
		"name":          "exam_sprint",
		"token_limit":   100000,
		"papers_limit":  5,
		"price_monthly": "2.50",
		"price_yearly":  "25",
	})
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "exam_sprint", body["name"])
	require.Equal(t, "2.5", body["price_monthly"])

	code, _ = f.do(t, http.MethodPost, "/v0/admin/tiers", gin.H{"name": "bad", "papers_limit": -5})
	require.Equal(t, http.StatusBadRequest, code)

	id := body["id"].(float64)
	code, body = f.do(t, http.MethodPut, "/v0/admin/tiers/"+formatID(id), gin.H{"papers_limit": 3})
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 3, body["papers_limit"])

	free, err := tiers.FindFree(context.Background(), f.conn)
	require.NoError(t, err)
	code, _ = f.do(t, http.MethodDelete, "/v0/admin/tiers/"+formatID(float64(free.ID)), nil)
	require.Equal(t, http.StatusConflict, code)
	code, _ = f.do(t, http.MethodPost, "/v0/admin/tiers/"+formatID(float64(free.ID))+"/disable", nil)
	require.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodDelete, "/v0/admin/tiers/"+formatID(id), nil)
	require.Equal(t, http.StatusOK, code)
}

func TestTransactions_ApproveRejectAndReprovision(t *testing.T) {
	f := newFixture(t)
	approved := f.manualTxn(t, 21, "pro")
	rejected := f.manualTxn(t, 22, "pro")

	code, body := f.do(t, http.MethodPost, "/v0/admin/transactions/"+approved.Reference+"/approve", gin.H{"provider_txn_id": "MPESA-1"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["replayed"])
	require.NotNil(t, body["subscription"])

	code, body = f.do(t, http.MethodPost, "/v0/admin/transactions/"+approved.Reference+"/approve", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["replayed"])

	code, _ = f.do(t, http.MethodPost, "/v0/admin/transactions/"+approved.Reference+"/reject", gin.H{"reason": "late"})
	require.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodPost, "/v0/admin/transactions/"+rejected.Reference+"/reject", gin.H{"reason": "no funds received"})
	require.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodPost, "/v0/admin/transactions/"+rejected.Reference+"/reprovision", nil)
	require.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodPost, "/v0/admin/transactions/unknown/approve", nil)
	require.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, http.MethodGet, "/v0/admin/transactions?status=completed", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["transactions"], 1)
}

func TestSubscriptions_ChangeTierAndList(t *testing.T) {
	f := newFixture(t)
	pro, err := tiers.FindByName(context.Background(), f.conn, "pro")
	require.NoError(t, err)

	code, body := f.do(t, http.MethodPost, "/v0/admin/users/31/tier", gin.H{"tier_id": pro.ID})
	require.Equal(t, http.StatusOK, code)
	sub := body["subscription"].(map[string]any)
	require.EqualValues(t, pro.ID, sub["tier_id"])

	code, _ = f.do(t, http.MethodPost, "/v0/admin/users/31/tier", gin.H{"tier_id": 9999})
	require.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodGet, "/v0/admin/subscriptions?user_id=31&status=active", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["subscriptions"], 1)
}

func TestMaintenanceRun_ReturnsSummary(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodPost, "/v0/admin/maintenance/run", nil)
	require.Equal(t, http.StatusOK, code)
	summary := body["summary"].(map[string]any)
	require.EqualValues(t, 0, summary["candidates"])
}

func TestReferrals_EvaluateAndLogs(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, http.MethodPost, "/v0/admin/referrals/evaluate", gin.H{"subscription_id": 424242})
	require.Equal(t, http.StatusNotFound, code)

	txn := f.manualTxn(t, 41, "pro")
	code, body := f.do(t, http.MethodPost, "/v0/admin/transactions/"+txn.Reference+"/approve", nil)
	require.Equal(t, http.StatusOK, code)
	subID := body["subscription"].(map[string]any)["id"]

	code, body = f.do(t, http.MethodPost, "/v0/admin/referrals/evaluate", gin.H{"subscription_id": subID})
	require.Equal(t, http.StatusOK, code)
	outcome := body["outcome"].(map[string]any)
	require.Equal(t, string(models.ReferralLogSkipped), outcome["status"])

	code, body = f.do(t, http.MethodGet, "/v0/admin/referrals/logs?referred_id=41", nil)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, body["logs"])
}

func formatID(id float64) string {
	return strconv.FormatUint(uint64(id), 10)
}

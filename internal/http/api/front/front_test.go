package front

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/access"
	"github.com/exampapers/ExamPrepBusiness/internal/auth"
	"github.com/exampapers/ExamPrepBusiness/internal/db"
	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/payments"
	"github.com/exampapers/ExamPrepBusiness/internal/referral"
	"github.com/exampapers/ExamPrepBusiness/internal/security"
	"github.com/exampapers/ExamPrepBusiness/internal/subscription"
	"github.com/exampapers/ExamPrepBusiness/internal/tiers"
	"github.com/exampapers/ExamPrepBusiness/internal/usage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	conn   *gorm.DB
	engine *gin.Engine
	tokens *security.TokenService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "front-test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))

	catalog := tiers.NewCatalog(conn, time.Minute)
	subs := subscription.NewService(conn, catalog, referral.NewEvaluator())
	accessService := access.NewService(conn, subs, 2)
	tokens, err := security.NewTokenService("front-secret", time.Hour, "test")
	require.NoError(t, err)

	engine := gin.New()
	RegisterFrontRoutes(engine, Deps{
		DB:            conn,
		Gate:          auth.NewGate(conn, tokens, nil),
		Catalog:       catalog,
		Ledger:        payments.NewLedger(conn, subs),
		Subscriptions: subs,
		Access:        accessService,
		Usage:         usage.NewRecorder(conn, catalog, subs, accessService),
		DefaultWindow: 2,
	})
	return &fixture{conn: conn, engine: engine, tokens: tokens}
}

func (f *fixture) do(t *testing.T, userID uint64, method, path string, payload any) (int, map[string]any) {
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
	if userID != 0 {
		token, _, err := f.tokens.Issue(security.AudienceUser, userID, "")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	body := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body
}

func TestTiers_PublicCatalog(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, 0, http.MethodGet, "/v0/front/tiers", nil)
	require.Equal(t, http.StatusOK, code)
	list := body["tiers"].([]any)
	require.Len(t, list, 4)
	free := list[0].(map[string]any)
	require.Equal(t, models.FreeTierName, free["name"])
	require.Equal(t, "recent_window", free["access_rule"])
	require.Equal(t, false, free["purchasable"])
}

func TestSubscription_VirtualFreeAndCancel(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, 0, http.MethodGet, "/v0/front/subscription", nil)
	require.Equal(t, http.StatusUnauthorized, code)

	code, body := f.do(t, 5, http.MethodGet, "/v0/front/subscription", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["virtual"])

	code, _ = f.do(t, 5, http.MethodPost, "/v0/front/subscription/cancel", nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestCheckout_CreatesPendingTransaction(t *testing.T) {
	f := newFixture(t)
	var student models.SubscriptionTier
	require.NoError(t, f.conn.Where("name = ?", "student").Take(&student).Error)

	code, body := f.do(t, 6, http.MethodPost, "/v0/front/checkout", gin.H{
		"tier_id":       student.ID,
		"billing_cycle": "yearly",
		"provider":      "stripe",
		"grade_id":      9,
		"subject_ids":   []uint64{1, 2},
	})
	require.Equal(t, http.StatusCreated, code)
	txn := body["transaction"].(map[string]any)
	require.Equal(t, "pending", txn["status"])
	require.Equal(t, "99.99", txn["amount"])
	require.NotEmpty(t, txn["reference"])

	code, _ = f.do(t, 6, http.MethodPost, "/v0/front/checkout", gin.H{"tier_id": student.ID, "provider": "bitcoin"})
	require.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, 6, http.MethodGet, "/v0/front/transactions", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["transactions"], 1)

	code, body = f.do(t, 7, http.MethodGet, "/v0/front/transactions", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["transactions"], 0)
}

func TestPapers_AccessAndOpen(t *testing.T) {
	f := newFixture(t)
	papers := []models.ExamPaper{{Title: "A", Year: 2024}, {Title: "B", Year: 2024}, {Title: "C", Year: 2024}}
	for i := range papers {
		require.NoError(t, f.conn.Create(&papers[i]).Error)
	}
	base := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range papers[:2] {
		id := p.ID
		require.NoError(t, f.conn.Create(&models.Conversation{UserID: 8, ExamPaperID: &id, UpdatedAt: base.Add(time.Duration(i) * time.Minute)}).Error)
	}
	ids := strconv.FormatUint(papers[0].ID, 10) + "," + strconv.FormatUint(papers[2].ID, 10)

	code, body := f.do(t, 8, http.MethodGet, "/v0/front/papers/access?ids="+ids, nil)
	require.Equal(t, http.StatusOK, code)
	decisions := body["papers"].([]any)
	require.Len(t, decisions, 2)
	require.Equal(t, true, decisions[0].(map[string]any)["is_accessible"])
	require.Equal(t, false, decisions[1].(map[string]any)["is_accessible"])

	code, _ = f.do(t, 8, http.MethodGet, "/v0/front/papers/access?ids=x", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, 8, http.MethodPost, "/v0/front/papers/"+strconv.FormatUint(papers[2].ID, 10)+"/open", nil)
	require.Equal(t, http.StatusForbidden, code)
	code, _ = f.do(t, 8, http.MethodPost, "/v0/front/papers/"+strconv.FormatUint(papers[0].ID, 10)+"/open", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, 8, http.MethodPost, "/v0/front/papers/99999/open", nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestUsageTokens_EnforcesFreeLimit(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, 9, http.MethodPost, "/v0/front/usage/tokens", gin.H{"tokens": 1000})
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1000, body["used"])
	require.EqualValues(t, 49000, body["remaining"])

	code, _ = f.do(t, 9, http.MethodPost, "/v0/front/usage/tokens", gin.H{"tokens": 49001})
	require.Equal(t, http.StatusPaymentRequired, code)

	code, body = f.do(t, 9, http.MethodPost, "/v0/front/usage/tokens", gin.H{"tokens": 49000})
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 0, body["remaining"])

	code, _ = f.do(t, 9, http.MethodPost, "/v0/front/usage/tokens", gin.H{"tokens": 0})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestReferrals_ShowsBalance(t *testing.T) {
	f := newFixture(t)
	user := models.User{Email: "a@example.com", ReferralCode: "ABC123", ReferralPoints: 150, Active: true}
	require.NoError(t, f.conn.Create(&user).Error)

	code, body := f.do(t, user.ID, http.MethodGet, "/v0/front/referrals", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ABC123", body["referral_code"])
	require.EqualValues(t, 150, body["referral_points"])

	code, _ = f.do(t, 9999, http.MethodGet, "/v0/front/referrals", nil)
	require.Equal(t, http.StatusNotFound, code)
}

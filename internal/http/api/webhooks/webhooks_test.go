package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/auth"
	"github.com/exampapers/ExamPrepBusiness/internal/db"
	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/payments"
	"github.com/exampapers/ExamPrepBusiness/internal/ratelimit"
	"github.com/exampapers/ExamPrepBusiness/internal/referral"
	"github.com/exampapers/ExamPrepBusiness/internal/subscription"
	"github.com/exampapers/ExamPrepBusiness/internal/tiers"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const secret = "whsec_webhooks"

type fixture struct {
	conn   *gorm.DB
	ledger *payments.Ledger
	engine *gin.Engine
}

func newFixture(t *testing.T, webhookLimit int) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "webhooks-test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))

	subs := subscription.NewService(conn, tiers.NewCatalog(conn, time.Minute), referral.NewEvaluator())
	ledger := payments.NewLedger(conn, subs)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewManager(ratelimit.SettingsConfig{WebhookLimit: webhookLimit}, nil, func() time.Time { return now })
	gate := auth.NewGate(conn, nil, limiter)

	engine := gin.New()
	RegisterRoutes(engine, gate, payments.NewRegistry(payments.NewStripeProvider(secret, 0)), ledger)
	return &fixture{conn: conn, ledger: ledger, engine: engine}
}

func (f *fixture) pending(t *testing.T, userID uint64) *models.PaymentTransaction {
	t.Helper()
	pro, err := tiers.FindByName(context.Background(), f.conn, "pro")
	require.NoError(t, err)
	txn, err := f.ledger.Create(context.Background(), payments.CreateParams{
		UserID:   userID,
		TierID:   pro.ID,
		Provider: models.ProviderStripe,
	})
	require.NoError(t, err)
	return txn
}

func (f *fixture) post(t *testing.T, path string, payload []byte, sign bool) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	if sign {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", ts, payments.StripeSignature([]byte(secret), ts, payload)))
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	body := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body
}

func checkoutCompleted(reference string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_%s","type":"checkout.session.completed","data":{"object":{"id":"cs_1","client_reference_id":%q,"payment_intent":"pi_1"}}}`, reference, reference))
}

func TestStripeWebhook_ProvisionsOnceAcrossRedelivery(t *testing.T) {
	f := newFixture(t, 0)
	txn := f.pending(t, 11)
	payload := checkoutCompleted(txn.Reference)

	code, body := f.post(t, "/v0/webhooks/stripe", payload, true)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "completed", body["status"])

	code, body = f.post(t, "/v0/webhooks/stripe", payload, true)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "replayed", body["status"])

	var active []models.UserSubscription
	require.NoError(t, f.conn.Where("user_id = ? AND status = ?", 11, models.SubscriptionStatusActive).Find(&active).Error)
	require.Len(t, active, 1)

	stored, err := f.ledger.FindByReference(context.Background(), txn.Reference)
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusCompleted, stored.Status)
	require.Equal(t, "pi_1", stored.ProviderTxnID)
	require.NotNil(t, stored.SubscriptionID)
	require.Equal(t, active[0].ID, *stored.SubscriptionID)
}

func TestStripeWebhook_RejectsUnsignedAndAcknowledgesUnknown(t *testing.T) {
	f := newFixture(t, 0)

	code, _ := f.post(t, "/v0/webhooks/stripe", checkoutCompleted("nope"), false)
	require.Equal(t, http.StatusUnauthorized, code)

	code, body := f.post(t, "/v0/webhooks/stripe", checkoutCompleted("missing-ref"), true)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "unknown_reference", body["status"])

	code, _ = f.post(t, "/v0/webhooks/paypal", []byte(`{}`), false)
	require.Equal(t, http.StatusNotFound, code)
}

func TestStripeWebhook_LateSuccessAfterFailureIsAcknowledged(t *testing.T) {
	f := newFixture(t, 0)
	txn := f.pending(t, 12)

	failed := []byte(fmt.Sprintf(`{"id":"evt_f","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_9","metadata":{"reference":%q},"last_payment_error":{"message":"card declined"}}}}`, txn.Reference))
	code, body := f.post(t, "/v0/webhooks/stripe", failed, true)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "failed", body["status"])

	code, body = f.post(t, "/v0/webhooks/stripe", checkoutCompleted(txn.Reference), true)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ignored", body["status"])

	stored, err := f.ledger.FindByReference(context.Background(), txn.Reference)
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusFailed, stored.Status)
	require.Equal(t, "card declined", stored.FailureReason)
}

func TestStripeWebhook_RateLimitedPerProvider(t *testing.T) {
	f := newFixture(t, 1)
	ignored := []byte(`{"id":"evt_x","type":"customer.created","data":{"object":{}}}`)

	code, body := f.post(t, "/v0/webhooks/stripe", ignored, true)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ignored", body["status"])

	code, _ = f.post(t, "/v0/webhooks/stripe", ignored, true)
	require.Equal(t, http.StatusTooManyRequests, code)
}

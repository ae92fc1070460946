package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const stripeSecret = "whsec_test"

func signedStripeHeader(t *testing.T, payload []byte, at time.Time) http.Header {
	t.Helper()
	ts := strconv.FormatInt(at.Unix(), 10)
	header := http.Header{}
	header.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", ts, StripeSignature([]byte(stripeSecret), ts, payload)))
	return header
}

func TestStripe_ParsesCompletedCheckout(t *testing.T) {
	provider := NewStripeProvider(stripeSecret, 0)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	provider.now = func() time.Time { return now }

	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","client_reference_id":"ref-1","payment_intent":"pi_1"}}}`)
	ev, err := provider.ParseWebhook(context.Background(), signedStripeHeader(t, payload, now.Add(-time.Minute)), payload)
	require.NoError(t, err)
	require.Equal(t, EventCompleted, ev.Kind)
	require.Equal(t, "ref-1", ev.Reference)
	require.Equal(t, "pi_1", ev.ProviderTxnID)
	require.Equal(t, "evt_1", ev.EventID)
}

func TestStripe_MapsFailuresAndIgnoresOthers(t *testing.T) {
	provider := NewStripeProvider(stripeSecret, 0)
	now := time.Now()

	failed := []byte(`{"id":"evt_2","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_2","metadata":{"reference":"ref-2"},"last_payment_error":{"message":"card declined"}}}}`)
	ev, err := provider.ParseWebhook(context.Background(), signedStripeHeader(t, failed, now), failed)
	require.NoError(t, err)
	require.Equal(t, EventFailed, ev.Kind)
	require.Equal(t, "ref-2", ev.Reference)
	require.Equal(t, "card declined", ev.FailureReason)

	other := []byte(`{"id":"evt_3","type":"customer.created","data":{"object":{}}}`)
	ev, err = provider.ParseWebhook(context.Background(), signedStripeHeader(t, other, now), other)
	require.NoError(t, err)
	require.Equal(t, EventIgnored, ev.Kind)
}

func TestStripe_RejectsBadSignatures(t *testing.T) {
	provider := NewStripeProvider(stripeSecret, time.Minute)
	now := time.Now()
	payload := []byte(`{"id":"evt_4","type":"invoice.paid","data":{"object":{"metadata":{"reference":"r"}}}}`)

	_, err := provider.ParseWebhook(context.Background(), http.Header{}, payload)
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = provider.ParseWebhook(context.Background(), signedStripeHeader(t, payload, now.Add(-10*time.Minute)), payload)
	require.ErrorIs(t, err, ErrInvalidSignature)

	tampered := []byte(`{"id":"evt_4","type":"invoice.paid","data":{"object":{"metadata":{"reference":"other"}}}}`)
	_, err = provider.ParseWebhook(context.Background(), signedStripeHeader(t, payload, now), tampered)
	require.ErrorIs(t, err, ErrInvalidSignature)

	require.Nil(t, NewStripeProvider("  ", 0))
}

func newPayPalServer(t *testing.T, status string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if gjson.GetBytes(body, "webhook_id").String() != "WH-1" || gjson.GetBytes(body, "transmission_id").String() != "tx-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"verification_status": status})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func paypalHeader() http.Header {
	header := http.Header{}
	header.Set("PAYPAL-TRANSMISSION-ID", "tx-1")
	header.Set("PAYPAL-TRANSMISSION-SIG", "sig")
	header.Set("PAYPAL-TRANSMISSION-TIME", "2025-03-01T12:00:00Z")
	header.Set("PAYPAL-AUTH-ALGO", "SHA256withRSA")
	header.Set("PAYPAL-CERT-URL", "https://api.paypal.com/cert")
	return header
}

func TestPayPal_VerifiesAndParsesCapture(t *testing.T) {
	server := newPayPalServer(t, "SUCCESS")
	provider := NewPayPalProvider(PayPalConfig{BaseURL: server.URL, ClientID: "client", ClientSecret: "secret", WebhookID: "WH-1"}, server.Client())
	require.NotNil(t, provider)

	payload := []byte(`{"id":"WH-EVT-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP-1","custom_id":"ref-9"}}`)
	ev, err := provider.ParseWebhook(context.Background(), paypalHeader(), payload)
	require.NoError(t, err)
	require.Equal(t, EventCompleted, ev.Kind)
	require.Equal(t, "ref-9", ev.Reference)
	require.Equal(t, "CAP-1", ev.ProviderTxnID)

	denied := []byte(`{"id":"WH-EVT-2","event_type":"PAYMENT.CAPTURE.DENIED","resource":{"id":"CAP-2","custom_id":"ref-10","status":"DENIED"}}`)
	ev, err = provider.ParseWebhook(context.Background(), paypalHeader(), denied)
	require.NoError(t, err)
	require.Equal(t, EventFailed, ev.Kind)
	require.Equal(t, "DENIED", ev.FailureReason)
}

func TestPayPal_RejectsFailedVerification(t *testing.T) {
	server := newPayPalServer(t, "FAILURE")
	provider := NewPayPalProvider(PayPalConfig{BaseURL: server.URL, ClientID: "client", ClientSecret: "secret", WebhookID: "WH-1"}, server.Client())

	payload := []byte(`{"id":"WH-EVT-3","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"custom_id":"ref"}}`)
	_, err := provider.ParseWebhook(context.Background(), paypalHeader(), payload)
	require.ErrorIs(t, err, ErrInvalidSignature)

	require.Nil(t, NewPayPalProvider(PayPalConfig{ClientID: "client"}, nil))
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(NewStripeProvider(stripeSecret, 0))
	p, err := registry.Get("STRIPE")
	require.NoError(t, err)
	require.Equal(t, "stripe", p.Name())

	_, err = registry.Get("paypal")
	require.ErrorIs(t, err, ErrUnsupportedProvider)
}

package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// PayPal API hosts.
const (
	PayPalLiveBaseURL    = "https://api-m.paypal.com"
	PayPalSandboxBaseURL = "https://api-m.sandbox.paypal.com"
)

// PayPalConfig configures webhook verification.
type PayPalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	WebhookID    string
	Timeout      time.Duration
}

// PayPalProvider verifies PayPal webhooks through the notifications API.
type PayPalProvider struct {
	baseURL   string
	webhookID string
	client    *http.Client
}

// NewPayPalProvider returns nil when credentials or the webhook id are missing.
// base is used for token requests, nil selects http.DefaultClient.
func NewPayPalProvider(cfg PayPalConfig, base *http.Client) *PayPalProvider {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" || strings.TrimSpace(cfg.WebhookID) == "" {
		return nil
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = PayPalSandboxBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if base == nil {
		base = &http.Client{Timeout: timeout}
	}

	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := oauth2.NewClient(tokenCtx, creds.TokenSource(tokenCtx))
	client.Timeout = timeout

	return &PayPalProvider{baseURL: baseURL, webhookID: cfg.WebhookID, client: client}
}

// Name implements Provider.
func (p *PayPalProvider) Name() string { return models.ProviderPayPal }

type paypalVerifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

// ParseWebhook implements Provider.
func (p *PayPalProvider) ParseWebhook(ctx context.Context, header http.Header, payload []byte) (Event, error) {
	if !gjson.ValidBytes(payload) {
		return Event{}, fmt.Errorf("%w: invalid json", ErrMalformedEvent)
	}
	if errVerify := p.verify(ctx, header, payload); errVerify != nil {
		return Event{}, errVerify
	}

	root := gjson.ParseBytes(payload)
	resource := root.Get("resource")
	ev := Event{
		Provider: models.ProviderPayPal,
		Type:     root.Get("event_type").String(),
		EventID:  root.Get("id").String(),
		Payload:  payload,
	}
	switch ev.Type {
	case "PAYMENT.CAPTURE.COMPLETED", "PAYMENT.SALE.COMPLETED":
		ev.Kind = EventCompleted
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED", "BILLING.SUBSCRIPTION.PAYMENT.FAILED":
		ev.Kind = EventFailed
		ev.FailureReason = firstString(resource, "status_details.reason", "status")
		if ev.FailureReason == "" {
			ev.FailureReason = ev.Type
		}
	default:
		ev.Kind = EventIgnored
		return ev, nil
	}

	ev.Reference = firstString(resource, "custom_id", "custom", "purchase_units.0.custom_id")
	ev.ProviderTxnID = firstString(resource, "id")
	if ev.Reference == "" {
		return ev, fmt.Errorf("%w: %s event %s carries no custom_id", ErrMalformedEvent, ev.Type, ev.EventID)
	}
	return ev, nil
}

func (p *PayPalProvider) verify(ctx context.Context, header http.Header, payload []byte) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("%w: paypal not configured", ErrInvalidSignature)
	}
	body, errMarshal := json.Marshal(paypalVerifyRequest{
		AuthAlgo:         header.Get("PAYPAL-AUTH-ALGO"),
		CertURL:          header.Get("PAYPAL-CERT-URL"),
		TransmissionID:   header.Get("PAYPAL-TRANSMISSION-ID"),
		TransmissionSig:  header.Get("PAYPAL-TRANSMISSION-SIG"),
		TransmissionTime: header.Get("PAYPAL-TRANSMISSION-TIME"),
		WebhookID:        p.webhookID,
		WebhookEvent:     json.RawMessage(payload),
	})
	if errMarshal != nil {
		return fmt.Errorf("paypal: marshal verification: %w", errMarshal)
	}
	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/notifications/verify-webhook-signature", bytes.NewReader(body))
	if errReq != nil {
		return fmt.Errorf("paypal: build verification request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, errDo := p.client.Do(req)
	if errDo != nil {
		return fmt.Errorf("paypal: verify webhook: %w", errDo)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, errRead := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if errRead != nil {
		return fmt.Errorf("paypal: read verification: %w", errRead)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("paypal: verify webhook: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if status := gjson.GetBytes(raw, "verification_status").String(); !strings.EqualFold(status, "SUCCESS") {
		return fmt.Errorf("%w: paypal verification_status=%q", ErrInvalidSignature, status)
	}
	return nil
}

package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/tidwall/gjson"
)

// DefaultStripeTolerance bounds the age of a signed Stripe payload.
const DefaultStripeTolerance = 5 * time.Minute

// StripeProvider verifies Stripe webhooks with the endpoint signing secret.
type StripeProvider struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewStripeProvider returns nil when secret is empty.
func NewStripeProvider(secret string, tolerance time.Duration) *StripeProvider {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	if tolerance <= 0 {
		tolerance = DefaultStripeTolerance
	}
	return &StripeProvider{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Name implements Provider.
func (p *StripeProvider) Name() string { return models.ProviderStripe }

// ParseWebhook implements Provider.
func (p *StripeProvider) ParseWebhook(_ context.Context, header http.Header, payload []byte) (Event, error) {
	if errVerify := p.verify(header.Get("Stripe-Signature"), payload); errVerify != nil {
		return Event{}, errVerify
	}
	if !gjson.ValidBytes(payload) {
		return Event{}, fmt.Errorf("%w: invalid json", ErrMalformedEvent)
	}
	root := gjson.ParseBytes(payload)
	ev := Event{
		Provider: models.ProviderStripe,
		Type:     root.Get("type").String(),
		EventID:  root.Get("id").String(),
		Payload:  payload,
	}
	object := root.Get("data.object")

	switch ev.Type {
	case "checkout.session.completed", "invoice.paid", "payment_intent.succeeded":
		ev.Kind = EventCompleted
	case "payment_intent.payment_failed", "invoice.payment_failed", "checkout.session.expired":
		ev.Kind = EventFailed
		ev.FailureReason = firstString(object,
			"last_payment_error.message",
			"last_finalization_error.message",
			"status",
		)
		if ev.FailureReason == "" {
			ev.FailureReason = ev.Type
		}
	default:
		ev.Kind = EventIgnored
		return ev, nil
	}

	ev.Reference = firstString(object,
		"client_reference_id",
		"metadata.reference",
		"subscription_details.metadata.reference",
	)
	ev.ProviderTxnID = firstString(object, "payment_intent", "id")
	if ev.Reference == "" {
		return ev, fmt.Errorf("%w: %s event %s carries no reference", ErrMalformedEvent, ev.Type, ev.EventID)
	}
	return ev, nil
}

func (p *StripeProvider) verify(signature string, payload []byte) error {
	if p == nil || len(p.secret) == 0 {
		return fmt.Errorf("%w: stripe secret not configured", ErrInvalidSignature)
	}
	var timestamp string
	var candidates []string
	for _, part := range strings.Split(signature, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			candidates = append(candidates, value)
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return fmt.Errorf("%w: malformed Stripe-Signature header", ErrInvalidSignature)
	}
	unix, errParse := strconv.ParseInt(timestamp, 10, 64)
	if errParse != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	age := now().Sub(time.Unix(unix, 0))
	if age > p.tolerance || age < -p.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := StripeSignature(p.secret, timestamp, payload)
	for _, candidate := range candidates {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching v1 signature", ErrInvalidSignature)
}

// StripeSignature computes the hex v1 signature of payload signed at timestamp.
func StripeSignature(secret []byte, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func firstString(result gjson.Result, paths ...string) string {
	for _, path := range paths {
		if v := strings.TrimSpace(result.Get(path).String()); v != "" {
			return v
		}
	}
	return ""
}

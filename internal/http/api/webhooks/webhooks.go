package webhooks

import (
	"errors"
	"io"
	"net/http"

	"github.com/exampapers/ExamPrepBusiness/internal/auth"
	"github.com/exampapers/ExamPrepBusiness/internal/http/api"
	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/payments"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// maxPayloadBytes caps webhook bodies.
const maxPayloadBytes = 1 << 20

// Handler verifies provider webhooks and applies them to the ledger.
type Handler struct {
	registry *payments.Registry
	ledger   *payments.Ledger
}

// NewHandler constructs a Handler.
func NewHandler(registry *payments.Registry, ledger *payments.Ledger) *Handler {
	return &Handler{registry: registry, ledger: ledger}
}

// RegisterRoutes registers one rate-limited endpoint per provider.
func RegisterRoutes(r *gin.Engine, gate *auth.Gate, registry *payments.Registry, ledger *payments.Ledger) {
	if r == nil || ledger == nil {
		return
	}
	h := NewHandler(registry, ledger)
	group := r.Group("/v0/webhooks")
	for _, name := range []string{models.ProviderStripe, models.ProviderPayPal} {
		group.POST("/"+name, gate.LimitWebhook(name), h.Receive(name))
	}
}

// Receive returns the handler for one provider. Ignored event types and
// replays answer 200 so providers stop retrying.
func (h *Handler) Receive(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider, errProvider := h.registry.Get(name)
		if errProvider != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "provider not configured"})
			return
		}
		payload, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes+1))
		if errRead != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
			return
		}
		if len(payload) > maxPayloadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}

		ctx := c.Request.Context()
		event, errParse := provider.ParseWebhook(ctx, c.Request.Header, payload)
		if errParse != nil {
			log.WithError(errParse).WithField("provider", name).Warn("webhook rejected")
			api.AbortWithError(c, errParse, "webhook rejected")
			return
		}
		fields := log.Fields{"provider": name, "type": event.Type, "event_id": event.EventID, "reference": event.Reference}
		if event.Kind == payments.EventIgnored {
			log.WithFields(fields).Debug("webhook ignored")
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}

		result, errApply := h.ledger.ApplyEvent(ctx, event)
		if errApply != nil {
			switch {
			case errors.Is(errApply, payments.ErrTransactionNotFound):
				// Events for references minted elsewhere are acknowledged.
				log.WithFields(fields).Warn("webhook for unknown transaction")
				c.JSON(http.StatusOK, gin.H{"status": "unknown_reference"})
			case errors.Is(errApply, payments.ErrTransactionImmutable),
				errors.Is(errApply, payments.ErrInvalidTransactionState):
				log.WithError(errApply).WithFields(fields).Warn("webhook conflicts with recorded outcome")
				c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			case errors.Is(errApply, payments.ErrProvisioningFailed):
				// The payment is recorded; operators reprovision from the admin API.
				log.WithError(errApply).WithFields(fields).Error("webhook provisioning failed")
				c.JSON(http.StatusOK, gin.H{"status": "provisioning_failed"})
			default:
				log.WithError(errApply).WithFields(fields).Warn("webhook apply failed")
				api.AbortWithError(c, errApply, "webhook apply failed")
			}
			return
		}

		status := string(event.Kind)
		if result != nil && result.Replayed {
			status = "replayed"
		}
		log.WithFields(fields).Info("webhook applied")
		c.JSON(http.StatusOK, gin.H{"status": status})
	}
}

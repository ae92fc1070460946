package api

import (
	"errors"
	"net/http"

	"github.com/exampapers/ExamPrepBusiness/internal/payments"
	"github.com/exampapers/ExamPrepBusiness/internal/referral"
	"github.com/exampapers/ExamPrepBusiness/internal/subscription"
	"github.com/exampapers/ExamPrepBusiness/internal/tiers"
	"github.com/exampapers/ExamPrepBusiness/internal/usage"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, payments.ErrProvisioningFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tiers.ErrTierNotFound),
		errors.Is(err, payments.ErrTransactionNotFound),
		errors.Is(err, referral.ErrSubscriptionNotFound),
		errors.Is(err, subscription.ErrNoActiveSubscription):
		return http.StatusNotFound
	case errors.Is(err, payments.ErrTransactionImmutable),
		errors.Is(err, payments.ErrInvalidTransactionState),
		errors.Is(err, payments.ErrProviderMismatch),
		errors.Is(err, subscription.ErrConflict),
		errors.Is(err, subscription.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, tiers.ErrTierUnavailable),
		errors.Is(err, payments.ErrNotPurchasable),
		errors.Is(err, payments.ErrUnsupportedProvider),
		errors.Is(err, payments.ErrMalformedEvent),
		errors.Is(err, subscription.ErrInvalidSelection),
		errors.Is(err, subscription.ErrSelectionNotAllowed),
		errors.Is(err, subscription.ErrInvalidBillingCycle),
		errors.Is(err, subscription.ErrUnknownTier),
		errors.Is(err, usage.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, payments.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, usage.ErrPaperLocked):
		return http.StatusForbidden
	case errors.Is(err, usage.ErrTokenLimitExceeded):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// AbortWithError writes {"error": ...} for err. Server errors are logged and
// replaced by fallback so internals do not leak.
func AbortWithError(c *gin.Context, err error, fallback string) {
	status := StatusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error(fallback)
		message = fallback
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

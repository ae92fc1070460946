package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/exampapers/ExamPrepBusiness/internal/payments"
	"github.com/exampapers/ExamPrepBusiness/internal/subscription"
	"github.com/exampapers/ExamPrepBusiness/internal/tiers"
	"github.com/exampapers/ExamPrepBusiness/internal/usage"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", tiers.ErrTierNotFound), http.StatusNotFound},
		{payments.ErrTransactionImmutable, http.StatusConflict},
		{fmt.Errorf("%w: %w", payments.ErrProvisioningFailed, subscription.ErrUnknownTier), http.StatusUnprocessableEntity},
		{subscription.ErrInvalidSelection, http.StatusBadRequest},
		{payments.ErrInvalidSignature, http.StatusUnauthorized},
		{usage.ErrTokenLimitExceeded, http.StatusPaymentRequired},
		{usage.ErrPaperLocked, http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.want {
			t.Fatalf("StatusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

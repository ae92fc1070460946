package subscription

import (
	"fmt"

	"github.com/exampapers/ExamPrepBusiness/internal/models"
)

var allowedTransitions = map[models.SubscriptionStatus][]models.SubscriptionStatus{
	models.SubscriptionStatusActive: {models.SubscriptionStatusExpired, models.SubscriptionStatusCancelled},
}

// CanTransition reports whether a row may move from one status to another.
func CanTransition(from, to models.SubscriptionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ensureTransition(from, to models.SubscriptionStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

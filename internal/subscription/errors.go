package subscription

import "errors"

var (
	// ErrUnknownTier indicates provisioning referenced a missing or inactive tier.
	ErrUnknownTier = errors.New("subscription: unknown or inactive tier")
	// ErrInvalidSelection indicates the grade or subject choice violates the tier limits.
	ErrInvalidSelection = errors.New("subscription: invalid grade or subject selection")
	// ErrSelectionNotAllowed indicates the tier does not support choosing grade or subjects.
	ErrSelectionNotAllowed = errors.New("subscription: tier does not allow selection")
	// ErrInvalidBillingCycle indicates an unknown billing cycle.
	ErrInvalidBillingCycle = errors.New("subscription: invalid billing cycle")
	// ErrConflict indicates a concurrent writer changed the active row first.
	ErrConflict = errors.New("subscription: concurrent active subscription change")
	// ErrNoActiveSubscription indicates the user has no active row.
	ErrNoActiveSubscription = errors.New("subscription: no active subscription")
	// ErrInvalidTransition indicates a status change outside the lifecycle.
	ErrInvalidTransition = errors.New("subscription: invalid status transition")
)

package models

import (
	"time"

	"gorm.io/datatypes"
)

// SubscriptionStatus represents the lifecycle state of a subscription row.
type SubscriptionStatus string

// SubscriptionStatus constants define subscription lifecycle states.
const (
	// SubscriptionStatusActive marks the single authoritative row for a user.
	SubscriptionStatusActive SubscriptionStatus = "active"
	// SubscriptionStatusExpired marks a row superseded by provisioning or expiry.
	SubscriptionStatusExpired SubscriptionStatus = "expired"
	// SubscriptionStatusCancelled marks a row ended by an operator change.
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// BillingCycle represents the payment cadence.
type BillingCycle string

// BillingCycle constants define payment cadences.
const (
	// BillingCycleMonthly charges monthly.
	BillingCycleMonthly BillingCycle = "monthly"
	// BillingCycleYearly charges yearly with monthly quota resets.
	BillingCycleYearly BillingCycle = "yearly"
)

// Valid reports whether the cycle is a known value.
func (c BillingCycle) Valid() bool {
	return c == BillingCycleMonthly || c == BillingCycleYearly
}

// UserSubscription records a user's subscription term and period counters.
type UserSubscription struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"` // Subscribed user ID.
	TierID uint64 `gorm:"not null;index"` // Subscribed tier ID.

	Status            SubscriptionStatus `gorm:"type:varchar(16);not null;index"` // Lifecycle state.
	BillingCycle      BillingCycle       `gorm:"type:varchar(16);not null"`       // Payment cadence.
	IsRecurring       bool               `gorm:"not null"`                        // Renews without a new payment.
	CancelAtPeriodEnd bool               `gorm:"not null;default:false"`          // Downgrade when the period lapses.

	PeriodStartDate     time.Time  `gorm:"not null"`       // Current quota period start.
	PeriodEndDate       time.Time  `gorm:"not null;index"` // Current quota period end.
	SubscriptionEndDate *time.Time `gorm:"index"`          // Yearly hard expiry, nil for monthly.

	TokensUsedCurrentPeriod     int64                      `gorm:"not null;default:0"`               // Tokens consumed this period.
	PapersAccessedCurrentPeriod int                        `gorm:"not null;default:0"`               // Distinct papers opened this period.
	AccessedPaperIDs            datatypes.JSONSlice[uint64] `gorm:"type:jsonb;not null;default:'[]'"` // Papers opened this period.

	SelectedGradeID    *uint64                     `gorm:"index"`                            // Chosen grade for grade-scoped tiers.
	SelectedSubjectIDs datatypes.JSONSlice[uint64] `gorm:"type:jsonb;not null;default:'[]'"` // Chosen subjects for subject-scoped tiers.

	PaymentTransactionID *uint64    `gorm:"index"` // Transaction that provisioned the row.
	EndedAt              *time.Time // When the row stopped being active.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// HasAccessedPaper reports whether the paper was opened this period.
func (s *UserSubscription) HasAccessedPaper(paperID uint64) bool {
	if s == nil {
		return false
	}
	for _, id := range s.AccessedPaperIDs {
		if id == paperID {
			return true
		}
	}
	return false
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FreeTierName is the reserved name of the tier users fall back to.
const FreeTierName = "free"

// Unlimited marks a token or paper limit without a cap.
const Unlimited = -1

// SubscriptionTier represents a catalog entry users can subscribe to.
type SubscriptionTier struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name        string `gorm:"type:varchar(64);not null;uniqueIndex"` // Stable tier name.
	DisplayName string `gorm:"type:varchar(255);not null"`           // Name shown to users.
	Description string `gorm:"type:text"`                             // Marketing copy.

	TokenLimit  int64 `gorm:"not null;default:0"` // Tokens per period, -1 for unlimited.
	PapersLimit int   `gorm:"not null;default:0"` // Recent-papers window size, -1 for unlimited.
	MaxSubjects int   `gorm:"not null;default:0"` // Upper bound for selected subjects.

	CanSelectGrade    bool `gorm:"not null;default:false"` // Access is scoped to one grade.
	CanSelectSubjects bool `gorm:"not null;default:false"` // Access is scoped to chosen subjects.

	PriceMonthly decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0"` // Monthly price.
	PriceYearly  decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0"` // Yearly price.
	Currency     string          `gorm:"type:varchar(8);not null;default:'USD'"` // ISO currency code.

	ReferralPointsAwarded  int64 `gorm:"not null;default:0"`     // Points credited to a referrer.
	ReferralAwardOnRenewal bool  `gorm:"not null;default:false"` // Award again on later subscriptions.

	AIModelID *uint64 `gorm:"index"` // Assigned tutor model.

	ComingSoon bool `gorm:"not null;default:false"` // Listed but not purchasable.
	IsActive   bool `gorm:"not null"`               // Whether the tier can be provisioned.
	SortOrder  int  `gorm:"not null;default:0"`     // Display ordering weight.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Price returns the tier price for a billing cycle.
func (t *SubscriptionTier) Price(cycle BillingCycle) decimal.Decimal {
	if t == nil {
		return decimal.Zero
	}
	if cycle == BillingCycleYearly {
		return t.PriceYearly
	}
	return t.PriceMonthly
}

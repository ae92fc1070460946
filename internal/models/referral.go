package models

import "time"

// Referral links a referred user to the user who invited them.
type Referral struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ReferrerID uint64 `gorm:"not null;index"`       // Inviting user ID.
	ReferredID uint64 `gorm:"not null;uniqueIndex"` // Invited user ID.

	CompletedAt *time.Time // First successful award.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// ReferralLogStatus is the outcome of a referral evaluation.
type ReferralLogStatus string

// ReferralLogStatus constants define evaluation outcomes.
const (
	ReferralLogAwarded ReferralLogStatus = "awarded"
	ReferralLogSkipped ReferralLogStatus = "skipped"
)

// ReferralPointsLog is the audit trail of every referral evaluation.
type ReferralPointsLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ReferralID *uint64 `gorm:"index"`          // Matched referral, nil when not referred.
	ReferrerID *uint64 `gorm:"index"`          // Credited user, nil when not referred.
	ReferredID uint64  `gorm:"not null;index"` // Subscribed user ID.

	SubscriptionID uint64  `gorm:"not null;index"` // Subscription that triggered evaluation.
	TierID         *uint64 // Tier of that subscription.

	Points int64             `gorm:"not null;default:0"`        // Points credited.
	Status ReferralLogStatus `gorm:"type:varchar(16);not null"` // awarded or skipped.
	Reason string            `gorm:"type:text"`                 // Why the evaluation was skipped.
	Source string            `gorm:"type:varchar(32);not null"` // provisioning or manual.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

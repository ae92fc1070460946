package models

import (
	"time"

	"gorm.io/datatypes"
)

// SubscriptionSnapshot captures the subscription fields worth auditing.
type SubscriptionSnapshot struct {
	SubscriptionID      uint64             `json:"subscription_id"`
	TierID              uint64             `json:"tier_id"`
	Status              SubscriptionStatus `json:"status"`
	BillingCycle        BillingCycle       `json:"billing_cycle"`
	PeriodEndDate       time.Time          `json:"period_end_date"`
	SubscriptionEndDate *time.Time         `json:"subscription_end_date,omitempty"`
	SelectedGradeID     *uint64            `json:"selected_grade_id,omitempty"`
	SelectedSubjectIDs  []uint64           `json:"selected_subject_ids,omitempty"`
}

// SubscriptionLog records a change to a user's active subscription.
type SubscriptionLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID         uint64 `gorm:"not null;index"`            // Affected user ID.
	SubscriptionID uint64 `gorm:"not null;index"`            // Resulting subscription ID.
	Action         string `gorm:"type:varchar(32);not null"` // provision, change_tier, downgrade, cancel, resume.
	Reason         string `gorm:"type:text"`                 // Free-form operator or system reason.

	Before datatypes.JSONType[*SubscriptionSnapshot] `gorm:"type:jsonb"` // State before the change.
	After  datatypes.JSONType[*SubscriptionSnapshot] `gorm:"type:jsonb"` // State after the change.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// SnapshotOf builds an audit snapshot of a subscription row.
func SnapshotOf(sub *UserSubscription) *SubscriptionSnapshot {
	if sub == nil {
		return nil
	}
	return &SubscriptionSnapshot{
		SubscriptionID:      sub.ID,
		TierID:              sub.TierID,
		Status:              sub.Status,
		BillingCycle:        sub.BillingCycle,
		PeriodEndDate:       sub.PeriodEndDate,
		SubscriptionEndDate: sub.SubscriptionEndDate,
		SelectedGradeID:     sub.SelectedGradeID,
		SelectedSubjectIDs:  append([]uint64(nil), sub.SelectedSubjectIDs...),
	}
}

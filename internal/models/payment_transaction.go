package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TransactionStatus represents the lifecycle state of a payment attempt.
type TransactionStatus string

// TransactionStatus constants define payment lifecycle states.
const (
	// TransactionStatusPending marks a payment awaiting provider confirmation.
	TransactionStatusPending TransactionStatus = "pending"
	// TransactionStatusCompleted marks a confirmed payment; the row is immutable afterwards.
	TransactionStatusCompleted TransactionStatus = "completed"
	// TransactionStatusFailed marks a declined or abandoned payment.
	TransactionStatusFailed TransactionStatus = "failed"
)

// PaymentType distinguishes one-off charges from provider-managed renewals.
type PaymentType string

// PaymentType constants define payment kinds.
const (
	// PaymentTypeOneTime is charged once.
	PaymentTypeOneTime PaymentType = "one_time"
	// PaymentTypeRecurring is re-charged by the provider.
	PaymentTypeRecurring PaymentType = "recurring"
)

// Payment providers.
const (
	ProviderStripe = "stripe"
	ProviderPayPal = "paypal"
	ProviderManual = "manual"
)

// PaymentTransaction records a payment attempt across providers.
type PaymentTransaction struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Reference string `gorm:"type:varchar(64);not null;uniqueIndex"` // Public reference handed to providers.

	UserID uint64 `gorm:"not null;index"` // Paying user ID.
	TierID uint64 `gorm:"not null;index"` // Purchased tier ID.

	Amount   decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0"` // Charged amount.
	Currency string          `gorm:"type:varchar(8);not null;default:'USD'"` // ISO currency code.

	Status       TransactionStatus `gorm:"type:varchar(16);not null;index"` // Lifecycle state.
	BillingCycle BillingCycle      `gorm:"type:varchar(16);not null"`       // Purchased cadence.
	PaymentType  PaymentType       `gorm:"type:varchar(16);not null"`       // One-off or recurring.

	PaymentProvider string `gorm:"type:varchar(32);not null"` // stripe, paypal or manual.
	ProviderTxnID   string `gorm:"type:varchar(255)"`         // Provider-side identifier.

	SelectedGradeID    *uint64                     // Grade chosen at checkout.
	SelectedSubjectIDs datatypes.JSONSlice[uint64] `gorm:"type:jsonb;not null;default:'[]'"` // Subjects chosen at checkout.

	SubscriptionID    *uint64 `gorm:"index"`     // Subscription provisioned from this payment.
	ProvisioningError string  `gorm:"type:text"` // Last provisioning failure.

	CompletedAt   *time.Time     // Completion timestamp.
	FailedAt      *time.Time     // Failure timestamp.
	FailureReason string         `gorm:"type:text"`  // Provider or operator failure reason.
	Metadata      datatypes.JSON `gorm:"type:jsonb"` // Provider payload excerpt.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

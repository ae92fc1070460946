package models

import "time"

// User represents an end-user account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email       string `gorm:"type:text;uniqueIndex"` // Email address.
	DisplayName string `gorm:"type:text"`             // Display name.

	ReferralCode   string `gorm:"type:varchar(32);uniqueIndex"` // Code shared with invitees.
	ReferralPoints int64  `gorm:"not null;default:0"`           // Accumulated referral points.

	Active bool `gorm:"not null"` // Whether the user can sign in.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

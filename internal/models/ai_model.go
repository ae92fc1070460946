package models

import "time"

// AIModel is a tutor model a tier can be assigned to.
type AIModel struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Provider    string `gorm:"type:varchar(64);not null"`  // Upstream provider name.
	ModelID     string `gorm:"type:varchar(255);not null"` // Upstream model identifier.
	DisplayName string `gorm:"type:varchar(255)"`          // Name shown to users.
	IsActive    bool   `gorm:"not null"`                   // Whether the model can be assigned.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

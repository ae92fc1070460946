package models

import "time"

// Conversation is a tutor chat thread, optionally about one exam paper.
type Conversation struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID      uint64  `gorm:"not null;index:idx_conversations_user_paper,priority:1"` // Owner user ID.
	ExamPaperID *uint64 `gorm:"index:idx_conversations_user_paper,priority:2"`          // Discussed paper.
	Title       string  `gorm:"type:text"`                                              // Thread title.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`                                            // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime;index:idx_conversations_user_paper,priority:3"` // Last activity.
}

// ExamPaper is a past paper students can open.
type ExamPaper struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Title     string  `gorm:"type:text;not null"` // Paper title.
	GradeID   *uint64 `gorm:"index"`              // Grade the paper belongs to.
	SubjectID *uint64 `gorm:"index"`              // Subject the paper belongs to.
	Year      int     `gorm:"not null;default:0"` // Exam year.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

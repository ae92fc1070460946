package access

import (
	"context"
	"fmt"

	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"gorm.io/gorm"
)

// RecentPapers returns the distinct papers a user has discussed, most recently
// touched first. Papers touched at the same instant are ordered by id.
func RecentPapers(ctx context.Context, db *gorm.DB, userID uint64) ([]uint64, error) {
	var paperIDs []uint64
	errFind := db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("user_id = ? AND exam_paper_id IS NOT NULL", userID).
		Group("exam_paper_id").
		Order("MAX(updated_at) DESC").
		Order("exam_paper_id ASC").
		Pluck("exam_paper_id", &paperIDs).Error
	if errFind != nil {
		return nil, fmt.Errorf("access: recent papers: %w", errFind)
	}
	return paperIDs, nil
}

// Window is the sliding set of papers a capped user may open.
type Window struct {
	N      int
	Recent []uint64
}

// Restricted reports whether the user has reached the cap.
func (w Window) Restricted() bool {
	return w.N > 0 && len(w.Recent) >= w.N
}

// Papers returns the unlocked papers once the window is restricted.
func (w Window) Papers() []uint64 {
	if w.N <= 0 {
		return nil
	}
	if len(w.Recent) <= w.N {
		return w.Recent
	}
	return w.Recent[:w.N]
}

// Contains reports whether paperID is one of the N most recent papers.
func (w Window) Contains(paperID uint64) bool {
	for _, id := range w.Papers() {
		if id == paperID {
			return true
		}
	}
	return false
}

// Allows reports whether paperID may be opened under the window rule.
func (w Window) Allows(paperID uint64) bool {
	return !w.Restricted() || w.Contains(paperID)
}

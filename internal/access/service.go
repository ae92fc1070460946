package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/settings"
	"github.com/exampapers/ExamPrepBusiness/internal/subscription"
	"github.com/exampapers/ExamPrepBusiness/internal/tiers"
	"gorm.io/gorm"
)

// Status explains an access decision.
type Status string

// Status values returned per paper.
const (
	StatusUnrestricted      Status = "unrestricted"
	StatusWithinSelection   Status = "within_selection"
	StatusRecent            Status = "recent"
	StatusUnderLimit        Status = "under_limit"
	StatusLockedRecentLimit Status = "locked_recent_limit"
	StatusLockedGrade       Status = "locked_grade"
	StatusLockedSubject     Status = "locked_subject"
	StatusSelectionRequired Status = "selection_required"
	StatusNotFound          Status = "not_found"
)

// Decision is the access verdict for one paper.
type Decision struct {
	PaperID            uint64 `json:"paper_id"`
	IsAccessible       bool   `json:"is_accessible"`
	IsRecentlyAccessed bool   `json:"is_recently_accessed"`
	AccessStatus       Status `json:"access_status"`
}

// Service answers paper access questions for the effective subscription.
type Service struct {
	db            *gorm.DB
	subscriptions *subscription.Service
	defaultWindow int
}

// NewService constructs a Service. defaultWindow applies to windowed tiers
// without a papers_limit.
func NewService(db *gorm.DB, subscriptions *subscription.Service, defaultWindow int) *Service {
	if defaultWindow <= 0 {
		defaultWindow = settings.DefaultRecentPapersWindow
	}
	return &Service{db: db, subscriptions: subscriptions, defaultWindow: defaultWindow}
}

// CanAccessPaper decides access to a single paper.
func (s *Service) CanAccessPaper(ctx context.Context, userID, paperID uint64) (Decision, error) {
	decisions, errList := s.ListPaperAccess(ctx, userID, []uint64{paperID})
	if errList != nil {
		return Decision{}, errList
	}
	return decisions[0], nil
}

// ListPaperAccess decides access for each paper, preserving input order.
func (s *Service) ListPaperAccess(ctx context.Context, userID uint64, paperIDs []uint64) ([]Decision, error) {
	if len(paperIDs) == 0 {
		return []Decision{}, nil
	}
	effective, errCurrent := s.subscriptions.Current(ctx, userID)
	if errCurrent != nil {
		return nil, errCurrent
	}
	caps := tiers.CapabilitiesOf(&effective.Tier, s.defaultWindow)

	papers, errPapers := s.loadPapers(ctx, paperIDs)
	if errPapers != nil {
		return nil, errPapers
	}
	recent, errRecent := RecentPapers(ctx, s.db, userID)
	if errRecent != nil {
		return nil, errRecent
	}
	windowSize := caps.WindowSize
	if caps.AccessRule != tiers.AccessRuleRecentWindow {
		windowSize = s.defaultWindow
	}
	window := Window{N: windowSize, Recent: recent}

	out := make([]Decision, 0, len(paperIDs))
	for _, paperID := range paperIDs {
		decision := Decision{PaperID: paperID, IsRecentlyAccessed: window.Contains(paperID)}
		paper, ok := papers[paperID]
		if !ok {
			decision.AccessStatus = StatusNotFound
			out = append(out, decision)
			continue
		}
		switch caps.AccessRule {
		case tiers.AccessRuleUnrestricted:
			decision.IsAccessible = true
			decision.AccessStatus = StatusUnrestricted
		case tiers.AccessRuleSelection:
			decision.AccessStatus = selectionStatus(caps, &effective.Subscription, paper)
			decision.IsAccessible = decision.AccessStatus == StatusWithinSelection
		default:
			decision.AccessStatus = windowStatus(window, paperID)
			decision.IsAccessible = decision.AccessStatus != StatusLockedRecentLimit
		}
		out = append(out, decision)
	}
	return out, nil
}

func (s *Service) loadPapers(ctx context.Context, paperIDs []uint64) (map[uint64]models.ExamPaper, error) {
	var rows []models.ExamPaper
	if errFind := s.db.WithContext(ctx).Where("id IN ?", paperIDs).Find(&rows).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return map[uint64]models.ExamPaper{}, nil
		}
		return nil, fmt.Errorf("access: load papers: %w", errFind)
	}
	out := make(map[uint64]models.ExamPaper, len(rows))
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func windowStatus(window Window, paperID uint64) Status {
	switch {
	case window.Contains(paperID):
		return StatusRecent
	case !window.Restricted():
		return StatusUnderLimit
	default:
		return StatusLockedRecentLimit
	}
}

func selectionStatus(caps tiers.Capabilities, sub *models.UserSubscription, paper models.ExamPaper) Status {
	if caps.CanSelectGrade {
		if sub.SelectedGradeID == nil {
			return StatusSelectionRequired
		}
		if paper.GradeID == nil || *paper.GradeID != *sub.SelectedGradeID {
			return StatusLockedGrade
		}
	}
	if caps.CanSelectSubjects {
		if len(sub.SelectedSubjectIDs) == 0 {
			return StatusSelectionRequired
		}
		if paper.SubjectID == nil || !containsID(sub.SelectedSubjectIDs, *paper.SubjectID) {
			return StatusLockedSubject
		}
	}
	return StatusWithinSelection
}

func containsID(ids []uint64, id uint64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

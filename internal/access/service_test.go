package access

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/db"
	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/subscription"
	"github.com/exampapers/ExamPrepBusiness/internal/tiers"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	conn          *gorm.DB
	subscriptions *subscription.Service
	service       *Service
	papers        []models.ExamPaper
	base          time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "access-test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))

	f := &fixture{conn: conn, base: time.Date(2025, time.April, 1, 12, 0, 0, 0, time.UTC)}
	f.subscriptions = subscription.NewService(conn, tiers.NewCatalog(conn, time.Minute), nil)
	f.service = NewService(conn, f.subscriptions, 0)

	grade7, grade8 := uint64(7), uint64(8)
	maths, physics := uint64(100), uint64(200)
	f.papers = []models.ExamPaper{
		{Title: "Maths 7 2023", GradeID: &grade7, SubjectID: &maths, Year: 2023},
		{Title: "Physics 7 2023", GradeID: &grade7, SubjectID: &physics, Year: 2023},
		{Title: "Maths 8 2023", GradeID: &grade8, SubjectID: &maths, Year: 2023},
		{Title: "Maths 7 2024", GradeID: &grade7, SubjectID: &maths, Year: 2024},
	}
	for i := range f.papers {
		require.NoError(t, conn.Create(&f.papers[i]).Error)
	}
	return f
}

func (f *fixture) touch(t *testing.T, userID uint64, paper models.ExamPaper, at time.Time) {
	t.Helper()
	paperID := paper.ID
	require.NoError(t, f.conn.Create(&models.Conversation{
		UserID:      userID,
		ExamPaperID: &paperID,
		Title:       paper.Title,
		CreatedAt:   at,
		UpdatedAt:   at,
	}).Error)
}

func (f *fixture) ids() []uint64 {
	out := make([]uint64, 0, len(f.papers))
	for _, p := range f.papers {
		out = append(out, p.ID)
	}
	return out
}

func (f *fixture) changeTier(t *testing.T, userID uint64, name string, sel subscription.Selection) {
	t.Helper()
	tier, err := tiers.FindByName(context.Background(), f.conn, name)
	require.NoError(t, err)
	_, err = f.subscriptions.ChangeTier(context.Background(), userID, subscription.TierChange{TierID: tier.ID, Selection: sel})
	require.NoError(t, err)
}

func statuses(decisions []Decision) []Status {
	out := make([]Status, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, d.AccessStatus)
	}
	return out
}

func TestRecentPapers_OrdersByLatestTouch(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.papers[0], f.papers[1], f.papers[2]
	f.touch(t, 1, a, f.base)
	f.touch(t, 1, b, f.base.Add(time.Hour))
	f.touch(t, 1, c, f.base.Add(2*time.Hour))
	f.touch(t, 1, a, f.base.Add(3*time.Hour))
	f.touch(t, 2, b, f.base.Add(5*time.Hour))

	recent, err := RecentPapers(context.Background(), f.conn, 1)
	require.NoError(t, err)
	require.Equal(t, []uint64{a.ID, c.ID, b.ID}, recent)
}

func TestRecentPapers_TiesBreakByPaperID(t *testing.T) {
	f := newFixture(t)
	f.touch(t, 1, f.papers[2], f.base)
	f.touch(t, 1, f.papers[0], f.base)

	recent, err := RecentPapers(context.Background(), f.conn, 1)
	require.NoError(t, err)
	require.Equal(t, []uint64{f.papers[0].ID, f.papers[2].ID}, recent)
}

func TestFreeTier_WindowSlidesWithHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c, d := f.papers[0], f.papers[1], f.papers[2], f.papers[3]

	// No history: nothing is locked yet.
	decisions, err := f.service.ListPaperAccess(ctx, 1, f.ids())
	require.NoError(t, err)
	require.Equal(t, []Status{StatusUnderLimit, StatusUnderLimit, StatusUnderLimit, StatusUnderLimit}, statuses(decisions))

	// One paper is still under the cap.
	f.touch(t, 1, a, f.base)
	decisions, err = f.service.ListPaperAccess(ctx, 1, f.ids())
	require.NoError(t, err)
	require.Equal(t, []Status{StatusRecent, StatusUnderLimit, StatusUnderLimit, StatusUnderLimit}, statuses(decisions))

	f.touch(t, 1, b, f.base.Add(time.Hour))
	f.touch(t, 1, c, f.base.Add(2*time.Hour))
	decisions, err = f.service.ListPaperAccess(ctx, 1, f.ids())
	require.NoError(t, err)
	require.Equal(t, []Status{StatusLockedRecentLimit, StatusRecent, StatusRecent, StatusLockedRecentLimit}, statuses(decisions))
	require.False(t, decisions[0].IsAccessible)
	require.True(t, decisions[1].IsAccessible && decisions[1].IsRecentlyAccessed)

	// Touching a again evicts b without any write to the subscription.
	f.touch(t, 1, a, f.base.Add(3*time.Hour))
	decision, err := f.service.CanAccessPaper(ctx, 1, b.ID)
	require.NoError(t, err)
	require.Equal(t, StatusLockedRecentLimit, decision.AccessStatus)
	decision, err = f.service.CanAccessPaper(ctx, 1, a.ID)
	require.NoError(t, err)
	require.True(t, decision.IsAccessible)

	decision, err = f.service.CanAccessPaper(ctx, 1, d.ID)
	require.NoError(t, err)
	require.False(t, decision.IsAccessible)

	decision, err = f.service.CanAccessPaper(ctx, 1, 99999)
	require.NoError(t, err)
	require.Equal(t, StatusNotFound, decision.AccessStatus)
	require.False(t, decision.IsAccessible)
}

func TestPaidTiers_BypassWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, p := range f.papers[:3] {
		f.touch(t, 3, p, f.base.Add(time.Duration(i)*time.Hour))
	}

	f.changeTier(t, 3, "pro", subscription.Selection{})
	decisions, err := f.service.ListPaperAccess(ctx, 3, f.ids())
	require.NoError(t, err)
	for _, d := range decisions {
		require.True(t, d.IsAccessible)
		require.Equal(t, StatusUnrestricted, d.AccessStatus)
	}

	f.changeTier(t, 3, "student", subscription.Selection{})
	decisions, err = f.service.ListPaperAccess(ctx, 3, f.ids())
	require.NoError(t, err)
	require.Equal(t, []Status{StatusSelectionRequired, StatusSelectionRequired, StatusSelectionRequired, StatusSelectionRequired}, statuses(decisions))

	grade := uint64(7)
	_, err = f.subscriptions.UpdateSelection(ctx, 3, subscription.Selection{GradeID: &grade, SubjectIDs: []uint64{100}})
	require.NoError(t, err)
	decisions, err = f.service.ListPaperAccess(ctx, 3, f.ids())
	require.NoError(t, err)
	require.Equal(t, []Status{StatusWithinSelection, StatusLockedSubject, StatusLockedGrade, StatusWithinSelection}, statuses(decisions))
}

func TestDowngradedUser_KeepsPapersTouchedWhilePaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.changeTier(t, 4, "pro", subscription.Selection{})
	for i, p := range f.papers {
		f.touch(t, 4, p, f.base.Add(time.Duration(i)*time.Hour))
	}

	require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
		_, errDowngrade := f.subscriptions.Downgrade(ctx, tx, 4, "test")
		return errDowngrade
	}))

	decisions, err := f.service.ListPaperAccess(ctx, 4, f.ids())
	require.NoError(t, err)
	require.Equal(t, []Status{StatusLockedRecentLimit, StatusLockedRecentLimit, StatusRecent, StatusRecent}, statuses(decisions))
}

package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/access"
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
	recorder      *Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "usage-test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))

	catalog := tiers.NewCatalog(conn, time.Minute)
	subscriptions := subscription.NewService(conn, catalog, nil)
	return &fixture{
		conn:          conn,
		subscriptions: subscriptions,
		recorder:      NewRecorder(conn, catalog, subscriptions, access.NewService(conn, subscriptions, 0)),
	}
}

func (f *fixture) downgrade(t *testing.T, userID uint64) *models.UserSubscription {
	t.Helper()
	var row *models.UserSubscription
	require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
		var errDowngrade error
		row, errDowngrade = f.subscriptions.Downgrade(context.Background(), tx, userID, "test")
		return errDowngrade
	}))
	return row
}

func (f *fixture) paper(t *testing.T, title string) models.ExamPaper {
	t.Helper()
	paper := models.ExamPaper{Title: title, Year: 2024}
	require.NoError(t, f.conn.Create(&paper).Error)
	return paper
}

func TestRecordTokens_EnforcesTierLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.downgrade(t, 1)

	got, err := f.recorder.RecordTokens(ctx, 1, 49_000)
	require.NoError(t, err)
	require.Equal(t, int64(49_000), got.Used)
	require.Equal(t, int64(1_000), got.Remaining())

	_, err = f.recorder.RecordTokens(ctx, 1, 1_001)
	require.ErrorIs(t, err, ErrTokenLimitExceeded)

	var stored models.UserSubscription
	require.NoError(t, f.conn.First(&stored, row.ID).Error)
	require.Equal(t, int64(49_000), stored.TokensUsedCurrentPeriod)

	_, err = f.recorder.RecordTokens(ctx, 1, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRecordTokens_Unlimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pro, err := tiers.FindByName(ctx, f.conn, "pro")
	require.NoError(t, err)
	_, err = f.subscriptions.ChangeTier(ctx, 2, subscription.TierChange{TierID: pro.ID})
	require.NoError(t, err)
	got, err := f.recorder.RecordTokens(ctx, 2, 10_000_000)
	require.NoError(t, err)
	require.Equal(t, int64(-1), got.Remaining())
}

func TestRecordTokens_StartsFreeRowAndAccumulates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.recorder.RecordTokens(ctx, 7, 40_000)
	require.NoError(t, err)
	require.NotZero(t, got.SubscriptionID)
	require.Equal(t, int64(40_000), got.Used)
	require.Equal(t, int64(10_000), got.Remaining())

	for i := 0; i < 4; i++ {
		_, err = f.recorder.RecordTokens(ctx, 7, 40_000)
		require.ErrorIs(t, err, ErrTokenLimitExceeded)
	}

	got, err = f.recorder.RecordTokens(ctx, 7, 10_000)
	require.NoError(t, err)
	require.Equal(t, int64(50_000), got.Used)
	require.Equal(t, int64(0), got.Remaining())

	var rows []models.UserSubscription
	require.NoError(t, f.conn.Where("user_id = ?", 7).Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, models.SubscriptionStatusActive, rows[0].Status)
	require.Equal(t, int64(50_000), rows[0].TokensUsedCurrentPeriod)

	var logs []models.SubscriptionLog
	require.NoError(t, f.conn.Where("user_id = ?", 7).Find(&logs).Error)
	require.Len(t, logs, 1)
	require.Equal(t, subscription.ActionDowngrade, logs[0].Action)
	require.Equal(t, firstUsageReason, logs[0].Reason)
}

func TestRecordTokens_OversizedFirstChargeWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.recorder.RecordTokens(ctx, 3, 50_001)
	require.ErrorIs(t, err, ErrTokenLimitExceeded)

	var count int64
	require.NoError(t, f.conn.Model(&models.UserSubscription{}).Where("user_id = ?", 3).Count(&count).Error)
	require.Zero(t, count)
}

func TestRecordPaperOpen_TracksDistinctPapers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.downgrade(t, 4)
	a := f.paper(t, "A")
	b := f.paper(t, "B")

	for _, id := range []uint64{a.ID, a.ID, b.ID} {
		decision, err := f.recorder.RecordPaperOpen(ctx, 4, id)
		require.NoError(t, err)
		require.True(t, decision.IsAccessible)
	}

	var stored models.UserSubscription
	require.NoError(t, f.conn.First(&stored, row.ID).Error)
	require.Equal(t, 2, stored.PapersAccessedCurrentPeriod)
	require.ElementsMatch(t, []uint64{a.ID, b.ID}, []uint64(stored.AccessedPaperIDs))

	_, err := f.recorder.RecordPaperOpen(ctx, 4, 99999)
	require.ErrorIs(t, err, ErrPaperLocked)
}

func TestRecordPaperOpen_RejectsLockedPaper(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.downgrade(t, 5)
	papers := []models.ExamPaper{f.paper(t, "A"), f.paper(t, "B"), f.paper(t, "C")}
	base := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range papers[:2] {
		id := p.ID
		require.NoError(t, f.conn.Create(&models.Conversation{UserID: 5, ExamPaperID: &id, UpdatedAt: base.Add(time.Duration(i) * time.Minute)}).Error)
	}

	decision, err := f.recorder.RecordPaperOpen(ctx, 5, papers[2].ID)
	require.ErrorIs(t, err, ErrPaperLocked)
	require.Equal(t, access.StatusLockedRecentLimit, decision.AccessStatus)
}

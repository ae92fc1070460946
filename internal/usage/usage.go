package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/access"
	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/subscription"
	"github.com/exampapers/ExamPrepBusiness/internal/tiers"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrTokenLimitExceeded is returned when a charge would pass the tier token limit.
	ErrTokenLimitExceeded = errors.New("usage: token limit exceeded")
	// ErrPaperLocked is returned when the paper is outside the user's access.
	ErrPaperLocked = errors.New("usage: paper locked")
	// ErrInvalidAmount is returned for non-positive token counts.
	ErrInvalidAmount = errors.New("usage: invalid token amount")
)

// TokenUsage reports the counter after a charge. Limit is negative when unlimited.
type TokenUsage struct {
	SubscriptionID uint64 `json:"subscription_id"`
	Used           int64  `json:"used"`
	Limit          int64  `json:"limit"`
}

// Remaining returns the tokens left in the period, or -1 when unlimited.
func (u TokenUsage) Remaining() int64 {
	if u.Limit < 0 {
		return -1
	}
	if left := u.Limit - u.Used; left > 0 {
		return left
	}
	return 0
}

// Recorder charges per-period counters on the active subscription row.
type Recorder struct {
	db            *gorm.DB
	catalog       *tiers.Catalog
	subscriptions *subscription.Service
	access        *access.Service
	now           func() time.Time
}

// NewRecorder constructs a Recorder.
func NewRecorder(db *gorm.DB, catalog *tiers.Catalog, subscriptions *subscription.Service, accessService *access.Service) *Recorder {
	return &Recorder{db: db, catalog: catalog, subscriptions: subscriptions, access: accessService, now: time.Now}
}

const (
	// firstUsageReason is logged when a charge starts the user's free-tier row.
	firstUsageReason = "first usage"
	chargeAttempts   = 3
)

// RecordTokens adds tokens to the current period, rejecting charges that would
// pass the tier limit. A user without an active row gets a free-tier row on
// the first charge so the free quota accumulates like any other.
func (r *Recorder) RecordTokens(ctx context.Context, userID uint64, tokens int64) (TokenUsage, error) {
	if tokens <= 0 {
		return TokenUsage{}, fmt.Errorf("%w: %d", ErrInvalidAmount, tokens)
	}
	var out TokenUsage
	errRetry := subscription.RetryOnConflict(ctx, chargeAttempts, func() error {
		out = TokenUsage{}
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return r.chargeTokens(ctx, tx, userID, tokens, &out)
		})
	})
	if errRetry != nil {
		return out, errRetry
	}
	return out, nil
}

func (r *Recorder) chargeTokens(ctx context.Context, tx *gorm.DB, userID uint64, tokens int64, out *TokenUsage) error {
	row, errRow := lockActiveRow(ctx, tx, userID)
	if errRow != nil {
		return errRow
	}
	if row == nil {
		if r.subscriptions == nil {
			return fmt.Errorf("usage: no active subscription for user %d", userID)
		}
		created, errCreate := r.subscriptions.Downgrade(ctx, tx, userID, firstUsageReason)
		if errCreate != nil {
			return fmt.Errorf("usage: start free subscription: %w", errCreate)
		}
		row = created
	}

	tier, errTier := r.catalog.ByID(ctx, row.TierID)
	if errTier != nil {
		return fmt.Errorf("usage: resolve tier: %w", errTier)
	}
	used := row.TokensUsedCurrentPeriod + tokens
	*out = TokenUsage{SubscriptionID: row.ID, Used: row.TokensUsedCurrentPeriod, Limit: tier.TokenLimit}
	if tier.TokenLimit >= 0 && used > tier.TokenLimit {
		return fmt.Errorf("%w: %d of %d used", ErrTokenLimitExceeded, row.TokensUsedCurrentPeriod, tier.TokenLimit)
	}
	if errUpdate := tx.WithContext(ctx).Model(&models.UserSubscription{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"tokens_used_current_period": gorm.Expr("tokens_used_current_period + ?", tokens),
			"updated_at":                 r.clock(),
		}).Error; errUpdate != nil {
		return fmt.Errorf("usage: record tokens: %w", errUpdate)
	}
	out.Used = used
	return nil
}

// RecordPaperOpen authorizes a paper open and adds the paper to the period's
// accessed set the first time it is opened.
func (r *Recorder) RecordPaperOpen(ctx context.Context, userID, paperID uint64) (access.Decision, error) {
	decision, errDecide := r.access.CanAccessPaper(ctx, userID, paperID)
	if errDecide != nil {
		return decision, errDecide
	}
	if !decision.IsAccessible {
		return decision, fmt.Errorf("%w: %s", ErrPaperLocked, decision.AccessStatus)
	}

	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, errRow := lockActiveRow(ctx, tx, userID)
		if errRow != nil || row == nil {
			return errRow
		}
		if row.HasAccessedPaper(paperID) {
			return nil
		}
		accessed := append(datatypes.JSONSlice[uint64]{}, row.AccessedPaperIDs...)
		accessed = append(accessed, paperID)
		return tx.WithContext(ctx).Model(&models.UserSubscription{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{
				"accessed_paper_ids":             accessed,
				"papers_accessed_current_period": gorm.Expr("papers_accessed_current_period + ?", 1),
				"updated_at":                     r.clock(),
			}).Error
	})
	if errTx != nil {
		return decision, fmt.Errorf("usage: record paper open: %w", errTx)
	}
	log.WithFields(log.Fields{"user_id": userID, "paper_id": paperID, "status": decision.AccessStatus}).Debug("paper opened")
	return decision, nil
}

func (r *Recorder) clock() time.Time {
	if r == nil || r.now == nil {
		return time.Now().UTC()
	}
	return r.now().UTC()
}

// lockActiveRow returns the newest active row, or nil when the user has none.
func lockActiveRow(ctx context.Context, tx *gorm.DB, userID uint64) (*models.UserSubscription, error) {
	var row models.UserSubscription
	errFind := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Order("id DESC").
		Take(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("usage: lock active row: %w", errFind)
	}
	return &row, nil
}

package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/subscription"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Downgrade reasons written to the subscription log.
const (
	ReasonYearlyExpired = "yearly term ended"
	ReasonLapsed        = "period lapsed"
	ReasonDuplicate     = "duplicate active rows"
)

// Summary counts the outcome of one sweep.
type Summary struct {
	Candidates       int `json:"candidates"`
	PeriodsReset     int `json:"periods_reset"`
	YearlyExpired    int `json:"yearly_expired"`
	LapsedDowngraded int `json:"lapsed_downgraded"`
	Failed           int `json:"failed"`
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeReset
	outcomeYearlyExpired
	outcomeLapsed
)

// Sweeper resets due quota periods and downgrades lapsed subscriptions.
type Sweeper struct {
	db            *gorm.DB
	subscriptions *subscription.Service
}

// NewSweeper constructs a Sweeper. It shares the clock of subscriptions.
func NewSweeper(db *gorm.DB, subscriptions *subscription.Service) *Sweeper {
	return &Sweeper{db: db, subscriptions: subscriptions}
}

// RunOnce processes every user with a due active row. A failing user is logged
// and counted without aborting the batch.
func (s *Sweeper) RunOnce(ctx context.Context) (Summary, error) {
	var summary Summary
	if s == nil || s.db == nil || s.subscriptions == nil {
		return summary, fmt.Errorf("maintenance: sweeper not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := s.subscriptions.Now()

	userIDs, errCandidates := s.candidates(ctx, now)
	if errCandidates != nil {
		return summary, errCandidates
	}
	summary.Candidates = len(userIDs)

	for _, userID := range userIDs {
		if errCtx := ctx.Err(); errCtx != nil {
			return summary, errCtx
		}
		result, errUser := s.processUser(ctx, userID, now)
		if errUser != nil {
			summary.Failed++
			log.WithError(errUser).WithField("user_id", userID).Warn("maintenance: user sweep failed")
			continue
		}
		switch result {
		case outcomeReset:
			summary.PeriodsReset++
		case outcomeYearlyExpired:
			summary.YearlyExpired++
		case outcomeLapsed:
			summary.LapsedDowngraded++
		}
	}

	log.WithFields(log.Fields{
		"candidates":        summary.Candidates,
		"periods_reset":     summary.PeriodsReset,
		"yearly_expired":    summary.YearlyExpired,
		"lapsed_downgraded": summary.LapsedDowngraded,
		"failed":            summary.Failed,
	}).Info("maintenance sweep finished")
	return summary, nil
}

// candidates returns each user with a due active row once.
func (s *Sweeper) candidates(ctx context.Context, now time.Time) ([]uint64, error) {
	var userIDs []uint64
	errFind := s.db.WithContext(ctx).
		Model(&models.UserSubscription{}).
		Where("status = ?", models.SubscriptionStatusActive).
		Where(
			s.db.Where("period_end_date < ?", now).
				Or("billing_cycle = ? AND subscription_end_date IS NOT NULL AND subscription_end_date < ?", models.BillingCycleYearly, now),
		).
		Distinct("user_id").
		Order("user_id ASC").
		Pluck("user_id", &userIDs).Error
	if errFind != nil {
		return nil, fmt.Errorf("maintenance: find candidates: %w", errFind)
	}
	return userIDs, nil
}

func (s *Sweeper) processUser(ctx context.Context, userID uint64, now time.Time) (outcome, error) {
	result := outcomeNone
	errRetry := subscription.RetryOnConflict(ctx, 2, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var rows []models.UserSubscription
			if errFind := tx.WithContext(ctx).
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
				Order("id ASC").
				Find(&rows).Error; errFind != nil {
				return fmt.Errorf("maintenance: lock rows: %w", errFind)
			}

			if len(rows) == 0 {
				result = outcomeNone
				return nil
			}
			row, extras := pickSurvivor(rows, now)
			if len(extras) > 0 {
				if errExpire := s.subscriptions.ExpireRows(ctx, tx, extras, ReasonDuplicate); errExpire != nil {
					return errExpire
				}
			}

			result = classify(&row, now)
			switch result {
			case outcomeReset:
				_, errRenew := s.subscriptions.RenewPeriod(ctx, tx, &row)
				return errRenew
			case outcomeYearlyExpired:
				_, errDowngrade := s.subscriptions.Downgrade(ctx, tx, userID, ReasonYearlyExpired)
				return errDowngrade
			case outcomeLapsed:
				_, errDowngrade := s.subscriptions.Downgrade(ctx, tx, userID, ReasonLapsed)
				return errDowngrade
			}
			return nil
		})
	})
	if errRetry != nil {
		if errors.Is(errRetry, subscription.ErrConflict) {
			return outcomeNone, fmt.Errorf("maintenance: user %d changed concurrently: %w", userID, errRetry)
		}
		return outcomeNone, errRetry
	}
	return result, nil
}

// pickSurvivor keeps the newest row that is not due, or the newest row when
// all are due, and returns the others for expiry. rows are ordered oldest first.
func pickSurvivor(rows []models.UserSubscription, now time.Time) (models.UserSubscription, []models.UserSubscription) {
	keep := len(rows) - 1
	for i := len(rows) - 1; i >= 0; i-- {
		if classify(&rows[i], now) == outcomeNone {
			keep = i
			break
		}
	}
	extras := make([]models.UserSubscription, 0, len(rows)-1)
	extras = append(extras, rows[:keep]...)
	extras = append(extras, rows[keep+1:]...)
	return rows[keep], extras
}

// classify decides what the sweep does with a single active row.
func classify(row *models.UserSubscription, now time.Time) outcome {
	termEnded := row.BillingCycle == models.BillingCycleYearly &&
		row.SubscriptionEndDate != nil && row.SubscriptionEndDate.Before(now)
	if termEnded {
		return outcomeYearlyExpired
	}
	if !row.PeriodEndDate.Before(now) {
		return outcomeNone
	}
	if row.CancelAtPeriodEnd {
		return outcomeLapsed
	}
	if row.BillingCycle == models.BillingCycleYearly || row.IsRecurring {
		return outcomeReset
	}
	return outcomeLapsed
}

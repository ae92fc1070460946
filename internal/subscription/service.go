package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/db"
	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/referral"
	"github.com/exampapers/ExamPrepBusiness/internal/tiers"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Log actions.
const (
	ActionProvision  = "provision"
	ActionChangeTier = "change_tier"
	ActionDowngrade  = "downgrade"
	ActionCancel     = "cancel"
	ActionResume     = "resume"
	ActionSelection  = "selection"
	ActionRenew      = "period_reset"
	ActionExpire     = "expire"
)

const defaultConflictAttempts = 3

// Service owns the active subscription row of every user.
type Service struct {
	db        *gorm.DB
	catalog   *tiers.Catalog
	referrals *referral.Evaluator
	now       func() time.Time
}

// NewService constructs a Service. referrals may be nil to disable awarding.
func NewService(db *gorm.DB, catalog *tiers.Catalog, referrals *referral.Evaluator) *Service {
	return &Service{db: db, catalog: catalog, referrals: referrals, now: time.Now}
}

// Effective is the subscription a user is currently entitled to.
type Effective struct {
	Subscription models.UserSubscription
	Tier         models.SubscriptionTier
	// Virtual is set when the user has no active row and falls back to free.
	Virtual bool
}

// replacement describes one pass through the validate, merge, commit pipeline.
type replacement struct {
	userID       uint64
	tier         *models.SubscriptionTier
	cycle        models.BillingCycle
	isRecurring  bool
	selection    Selection
	paymentTxnID *uint64
	supersedeAs  models.SubscriptionStatus
	action       string
	reason       string
}

// Provision replaces the user's active row with one derived from a completed
// payment. It runs inside the caller's transaction and evaluates referral
// points for the new row.
func (s *Service) Provision(ctx context.Context, tx *gorm.DB, txn *models.PaymentTransaction) (*models.UserSubscription, error) {
	if tx == nil || txn == nil {
		return nil, fmt.Errorf("subscription: nil provisioning input")
	}

	var existing models.UserSubscription
	errExisting := tx.WithContext(ctx).
		Where("payment_transaction_id = ? AND status = ?", txn.ID, models.SubscriptionStatusActive).
		Take(&existing).Error
	if errExisting == nil {
		return &existing, nil
	}
	if !errors.Is(errExisting, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("subscription: find provisioned row: %w", errExisting)
	}

	tier, errTier := tiers.Find(ctx, tx, txn.TierID)
	if errTier != nil {
		if errors.Is(errTier, tiers.ErrTierNotFound) {
			return nil, fmt.Errorf("%w: tier_id=%d transaction=%s", ErrUnknownTier, txn.TierID, txn.Reference)
		}
		return nil, errTier
	}
	if !tier.IsActive {
		return nil, fmt.Errorf("%w: tier %s is inactive, transaction=%s", ErrUnknownTier, tier.Name, txn.Reference)
	}

	txnID := txn.ID
	created, errCommit := s.replace(ctx, tx, replacement{
		userID:       txn.UserID,
		tier:         tier,
		cycle:        txn.BillingCycle,
		isRecurring:  txn.PaymentType == models.PaymentTypeRecurring,
		selection:    SelectionFromTransaction(txn),
		paymentTxnID: &txnID,
		supersedeAs:  models.SubscriptionStatusExpired,
		action:       ActionProvision,
		reason:       "payment " + txn.Reference,
	})
	if errCommit != nil {
		return nil, errCommit
	}

	if s.referrals != nil {
		if _, errReferral := s.referrals.Evaluate(ctx, tx, created.ID, referral.SourceProvisioning); errReferral != nil {
			return nil, errReferral
		}
	}
	return created, nil
}

// TierChange is an operator-driven upgrade, downgrade or forced expiry.
type TierChange struct {
	TierID       uint64
	BillingCycle models.BillingCycle
	IsRecurring  *bool
	Selection    Selection
	Reason       string
}

// ChangeTier replaces the active row outside the payment flow. The previous
// row is cancelled and incoming selections are never overwritten; a selection
// the new tier cannot hold is rejected.
func (s *Service) ChangeTier(ctx context.Context, userID uint64, change TierChange) (*models.UserSubscription, error) {
	if userID == 0 {
		return nil, fmt.Errorf("subscription: missing user id")
	}
	var created *models.UserSubscription
	errRetry := RetryOnConflict(ctx, defaultConflictAttempts, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			tier, errTier := tiers.Find(ctx, tx, change.TierID)
			if errTier != nil {
				if errors.Is(errTier, tiers.ErrTierNotFound) {
					return fmt.Errorf("%w: tier_id=%d", ErrUnknownTier, change.TierID)
				}
				return errTier
			}
			if !tier.IsActive {
				return fmt.Errorf("%w: tier %s is inactive", ErrUnknownTier, tier.Name)
			}
			if errAllowed := CheckSelectionAllowed(tier, change.Selection); errAllowed != nil {
				return errAllowed
			}

			cycle := change.BillingCycle
			isRecurring := true
			current, errCurrent := lockActive(ctx, tx, userID)
			if errCurrent != nil {
				return errCurrent
			}
			if len(current) > 0 {
				latest := current[len(current)-1]
				if cycle == "" {
					cycle = latest.BillingCycle
				}
				isRecurring = latest.IsRecurring
			}
			if cycle == "" {
				cycle = models.BillingCycleMonthly
			}
			if change.IsRecurring != nil {
				isRecurring = *change.IsRecurring
			}

			var errReplace error
			created, errReplace = s.replaceLocked(ctx, tx, current, replacement{
				userID:      userID,
				tier:        tier,
				cycle:       cycle,
				isRecurring: isRecurring,
				selection:   change.Selection,
				supersedeAs: models.SubscriptionStatusCancelled,
				action:      ActionChangeTier,
				reason:      change.Reason,
			})
			return errReplace
		})
	})
	if errRetry != nil {
		return nil, errRetry
	}
	return created, nil
}

// Downgrade expires every active row of the user and starts a free-tier row
// with zeroed counters. It runs inside the caller's transaction.
func (s *Service) Downgrade(ctx context.Context, tx *gorm.DB, userID uint64, reason string) (*models.UserSubscription, error) {
	free, errFree := tiers.FindFree(ctx, tx)
	if errFree != nil {
		return nil, fmt.Errorf("subscription: downgrade: %w", errFree)
	}
	return s.replace(ctx, tx, replacement{
		userID:      userID,
		tier:        free,
		cycle:       models.BillingCycleMonthly,
		isRecurring: true,
		supersedeAs: models.SubscriptionStatusExpired,
		action:      ActionDowngrade,
		reason:      reason,
	})
}

func (s *Service) replace(ctx context.Context, tx *gorm.DB, r replacement) (*models.UserSubscription, error) {
	current, errCurrent := lockActive(ctx, tx, r.userID)
	if errCurrent != nil {
		return nil, errCurrent
	}
	return s.replaceLocked(ctx, tx, current, r)
}

// replaceLocked validates the request, merges it with the newest active row
// and commits the swap. current must be locked by the caller.
func (s *Service) replaceLocked(ctx context.Context, tx *gorm.DB, current []models.UserSubscription, r replacement) (*models.UserSubscription, error) {
	if !r.cycle.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBillingCycle, r.cycle)
	}
	selection, errValidate := ValidateSelection(r.tier, r.selection)
	if errValidate != nil {
		return nil, errValidate
	}

	var previous *models.UserSubscription
	if len(current) > 0 {
		previous = &current[len(current)-1]
	}
	gradeID, subjectIDs := MergeSelection(r.tier, selection, previous)

	now := s.clock()
	for _, row := range current {
		if errTransition := ensureTransition(row.Status, r.supersedeAs); errTransition != nil {
			return nil, errTransition
		}
		res := tx.WithContext(ctx).Model(&models.UserSubscription{}).
			Where("id = ? AND status = ?", row.ID, models.SubscriptionStatusActive).
			Updates(map[string]any{
				"status":     r.supersedeAs,
				"ended_at":   now,
				"updated_at": now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("subscription: supersede %d: %w", row.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, fmt.Errorf("%w: row %d already superseded", ErrConflict, row.ID)
		}
	}

	term := NewTerm(now, r.cycle)
	created := models.UserSubscription{
		UserID:                      r.userID,
		TierID:                      r.tier.ID,
		Status:                      models.SubscriptionStatusActive,
		BillingCycle:                r.cycle,
		IsRecurring:                 r.isRecurring,
		PeriodStartDate:             term.PeriodStart,
		PeriodEndDate:               term.PeriodEnd,
		SubscriptionEndDate:         term.SubscriptionEnd,
		TokensUsedCurrentPeriod:     0,
		PapersAccessedCurrentPeriod: 0,
		AccessedPaperIDs:            datatypes.JSONSlice[uint64]{},
		SelectedGradeID:             gradeID,
		SelectedSubjectIDs:          datatypes.JSONSlice[uint64](subjectIDs),
		PaymentTransactionID:        r.paymentTxnID,
		CreatedAt:                   now,
		UpdatedAt:                   now,
	}
	if errCreate := tx.WithContext(ctx).Create(&created).Error; errCreate != nil {
		if db.IsUniqueViolation(errCreate) {
			return nil, fmt.Errorf("%w: user %d", ErrConflict, r.userID)
		}
		return nil, fmt.Errorf("subscription: create active row: %w", errCreate)
	}

	if errLog := writeLog(ctx, tx, r.userID, &created, r.action, r.reason, previous); errLog != nil {
		return nil, errLog
	}
	log.WithFields(log.Fields{
		"user_id":         r.userID,
		"subscription_id": created.ID,
		"tier":            r.tier.Name,
		"billing_cycle":   r.cycle,
		"action":          r.action,
		"superseded":      len(current),
	}).Info("subscription replaced")
	return &created, nil
}

// Current returns the user's effective subscription, falling back to a
// virtual free-tier subscription when no active row exists.
func (s *Service) Current(ctx context.Context, userID uint64) (*Effective, error) {
	var row models.UserSubscription
	errFind := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Order("id DESC").
		Take(&row).Error
	if errFind != nil && !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("subscription: find active: %w", errFind)
	}
	if errFind == nil {
		tier, errTier := s.catalog.ByID(ctx, row.TierID)
		if errTier != nil {
			return nil, fmt.Errorf("subscription: resolve tier: %w", errTier)
		}
		return &Effective{Subscription: row, Tier: tier}, nil
	}

	free, errFree := s.catalog.Free(ctx)
	if errFree != nil {
		return nil, fmt.Errorf("subscription: resolve free tier: %w", errFree)
	}
	term := NewTerm(s.clock(), models.BillingCycleMonthly)
	return &Effective{
		Subscription: models.UserSubscription{
			UserID:             userID,
			TierID:             free.ID,
			Status:             models.SubscriptionStatusActive,
			BillingCycle:       models.BillingCycleMonthly,
			IsRecurring:        true,
			PeriodStartDate:    term.PeriodStart,
			PeriodEndDate:      term.PeriodEnd,
			AccessedPaperIDs:   datatypes.JSONSlice[uint64]{},
			SelectedSubjectIDs: datatypes.JSONSlice[uint64]{},
		},
		Tier:    free,
		Virtual: true,
	}, nil
}

// SetCancelAtPeriodEnd toggles whether the active row downgrades when its
// period lapses instead of renewing.
func (s *Service) SetCancelAtPeriodEnd(ctx context.Context, userID uint64, cancel bool) (*models.UserSubscription, error) {
	action := ActionResume
	if cancel {
		action = ActionCancel
	}
	var updated models.UserSubscription
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, errCurrent := lockActive(ctx, tx, userID)
		if errCurrent != nil {
			return errCurrent
		}
		if len(current) == 0 {
			return ErrNoActiveSubscription
		}
		before := current[len(current)-1]
		now := s.clock()
		if errUpdate := tx.WithContext(ctx).Model(&models.UserSubscription{}).
			Where("id = ?", before.ID).
			Updates(map[string]any{"cancel_at_period_end": cancel, "updated_at": now}).Error; errUpdate != nil {
			return fmt.Errorf("subscription: update cancel flag: %w", errUpdate)
		}
		updated = before
		updated.CancelAtPeriodEnd = cancel
		updated.UpdatedAt = now
		return writeLog(ctx, tx, userID, &updated, action, "", &before)
	})
	if errTx != nil {
		return nil, errTx
	}
	return &updated, nil
}

// UpdateSelection stores a grade or subject choice on the active row. Only the
// fields supplied are written.
func (s *Service) UpdateSelection(ctx context.Context, userID uint64, sel Selection) (*models.UserSubscription, error) {
	var updated models.UserSubscription
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, errCurrent := lockActive(ctx, tx, userID)
		if errCurrent != nil {
			return errCurrent
		}
		if len(current) == 0 {
			return ErrNoActiveSubscription
		}
		before := current[len(current)-1]
		tier, errTier := tiers.Find(ctx, tx, before.TierID)
		if errTier != nil {
			return errTier
		}
		if errAllowed := CheckSelectionAllowed(tier, sel); errAllowed != nil {
			return errAllowed
		}
		validated, errValidate := ValidateSelection(tier, sel)
		if errValidate != nil {
			return errValidate
		}

		updates := map[string]any{"updated_at": s.clock()}
		updated = before
		if validated.GradeID != nil {
			updates["selected_grade_id"] = *validated.GradeID
			grade := *validated.GradeID
			updated.SelectedGradeID = &grade
		}
		if validated.SubjectIDs != nil {
			subjects := datatypes.JSONSlice[uint64](validated.SubjectIDs)
			updates["selected_subject_ids"] = subjects
			updated.SelectedSubjectIDs = subjects
		}
		if errUpdate := tx.WithContext(ctx).Model(&models.UserSubscription{}).
			Where("id = ?", before.ID).
			Updates(updates).Error; errUpdate != nil {
			return fmt.Errorf("subscription: update selection: %w", errUpdate)
		}
		return writeLog(ctx, tx, userID, &updated, ActionSelection, "", &before)
	})
	if errTx != nil {
		return nil, errTx
	}
	return &updated, nil
}

// ExpireRows expires the given active rows and logs each one. It runs inside
// the caller's transaction, which must hold the rows locked.
func (s *Service) ExpireRows(ctx context.Context, tx *gorm.DB, rows []models.UserSubscription, reason string) error {
	now := s.clock()
	for i := range rows {
		before := rows[i]
		if errTransition := ensureTransition(before.Status, models.SubscriptionStatusExpired); errTransition != nil {
			return errTransition
		}
		res := tx.WithContext(ctx).Model(&models.UserSubscription{}).
			Where("id = ? AND status = ?", before.ID, models.SubscriptionStatusActive).
			Updates(map[string]any{
				"status":     models.SubscriptionStatusExpired,
				"ended_at":   now,
				"updated_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("subscription: expire %d: %w", before.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: row %d already superseded", ErrConflict, before.ID)
		}
		after := before
		after.Status = models.SubscriptionStatusExpired
		after.EndedAt = &now
		after.UpdatedAt = now
		if errLog := writeLog(ctx, tx, before.UserID, &after, ActionExpire, reason, &before); errLog != nil {
			return errLog
		}
	}
	return nil
}

// RenewPeriod zeroes the usage counters of an active row and moves its period
// forward past now. It runs inside the caller's transaction.
func (s *Service) RenewPeriod(ctx context.Context, tx *gorm.DB, row *models.UserSubscription) (*models.UserSubscription, error) {
	if row == nil {
		return nil, fmt.Errorf("subscription: renew: nil row")
	}
	if row.Status != models.SubscriptionStatusActive {
		return nil, fmt.Errorf("%w: renew %s row %d", ErrInvalidTransition, row.Status, row.ID)
	}
	now := s.clock()
	periodEnd := NextPeriodEnd(row.PeriodEndDate, now, row.SubscriptionEndDate)
	res := tx.WithContext(ctx).Model(&models.UserSubscription{}).
		Where("id = ? AND status = ?", row.ID, models.SubscriptionStatusActive).
		Updates(map[string]any{
			"tokens_used_current_period":     0,
			"papers_accessed_current_period": 0,
			"accessed_paper_ids":             datatypes.JSONSlice[uint64]{},
			"period_start_date":              now,
			"period_end_date":                periodEnd,
			"updated_at":                     now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("subscription: renew %d: %w", row.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: row %d no longer active", ErrConflict, row.ID)
	}

	renewed := *row
	renewed.TokensUsedCurrentPeriod = 0
	renewed.PapersAccessedCurrentPeriod = 0
	renewed.AccessedPaperIDs = datatypes.JSONSlice[uint64]{}
	renewed.PeriodStartDate = now
	renewed.PeriodEndDate = periodEnd
	renewed.UpdatedAt = now
	if errLog := writeLog(ctx, tx, row.UserID, &renewed, ActionRenew, "", row); errLog != nil {
		return nil, errLog
	}
	return &renewed, nil
}

// SetClock replaces the time source used for new periods and log entries.
func (s *Service) SetClock(now func() time.Time) {
	if s != nil && now != nil {
		s.now = now
	}
}

// Now reports the service clock in UTC.
func (s *Service) Now() time.Time {
	return s.clock()
}

func (s *Service) clock() time.Time {
	if s == nil || s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

// lockActive returns the user's active rows, oldest first, locked for update.
func lockActive(ctx context.Context, tx *gorm.DB, userID uint64) ([]models.UserSubscription, error) {
	var rows []models.UserSubscription
	if errFind := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("subscription: lock active rows: %w", errFind)
	}
	return rows, nil
}

func writeLog(ctx context.Context, tx *gorm.DB, userID uint64, after *models.UserSubscription, action, reason string, before *models.UserSubscription) error {
	entry := models.SubscriptionLog{
		UserID:         userID,
		SubscriptionID: after.ID,
		Action:         action,
		Reason:         reason,
		Before:         datatypes.NewJSONType(models.SnapshotOf(before)),
		After:          datatypes.NewJSONType(models.SnapshotOf(after)),
	}
	if errCreate := tx.WithContext(ctx).Create(&entry).Error; errCreate != nil {
		return fmt.Errorf("subscription: write log: %w", errCreate)
	}
	return nil
}

// RetryOnConflict runs fn again when it fails with ErrConflict or a unique
// violation, up to attempts times.
func RetryOnConflict(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !(errors.Is(err, ErrConflict) || db.IsUniqueViolation(err)) {
			return err
		}
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).WithField("attempt", attempt).Debug("subscription: retrying after conflict")
	}
	return err
}

package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/db"
	"github.com/exampapers/ExamPrepBusiness/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Evaluation sources.
const (
	SourceProvisioning = "provisioning"
	SourceManual       = "manual"
)

// Skip reasons recorded on the audit log.
const (
	ReasonNotReferred    = "not referred"
	ReasonZeroPoints     = "zero points for tier"
	ReasonAlreadyAwarded = "already awarded"
	ReasonUnknownTier    = "unknown tier"
)

var (
	// ErrSubscriptionNotFound indicates the evaluated subscription does not exist.
	ErrSubscriptionNotFound = errors.New("referral: subscription not found")
)

// Outcome describes the result of one evaluation.
type Outcome struct {
	LogID          uint64                   `json:"log_id"`
	SubscriptionID uint64                   `json:"subscription_id"`
	ReferrerID     *uint64                  `json:"referrer_id,omitempty"`
	Status         models.ReferralLogStatus `json:"status"`
	Reason         string                   `json:"reason,omitempty"`
	Points         int64                    `json:"points"`
}

// Awarded reports whether points were credited.
func (o Outcome) Awarded() bool {
	return o.Status == models.ReferralLogAwarded
}

// Evaluator credits referrers when a referred user's subscription is provisioned.
type Evaluator struct {
	now func() time.Time
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{now: time.Now}
}

// Backfill evaluates a subscription in its own transaction. Operators use it to
// replay awards missed by provisioning.
func (e *Evaluator) Backfill(ctx context.Context, conn *gorm.DB, subscriptionID uint64) (Outcome, error) {
	if conn == nil {
		return Outcome{}, fmt.Errorf("referral: nil db")
	}
	var outcome Outcome
	var errTx error
	for attempt := 0; attempt < 2; attempt++ {
		errTx = conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var errEval error
			outcome, errEval = e.Evaluate(ctx, tx, subscriptionID, SourceManual)
			return errEval
		})
		// A concurrent evaluation of the same pair won the award; the retry logs a skip.
		if errTx == nil || !db.IsUniqueViolation(errTx) {
			break
		}
	}
	return outcome, errTx
}

// Evaluate runs inside the caller's transaction and always writes one audit row
// unless the subscription itself is missing.
func (e *Evaluator) Evaluate(ctx context.Context, tx *gorm.DB, subscriptionID uint64, source string) (Outcome, error) {
	if tx == nil {
		return Outcome{}, fmt.Errorf("referral: nil db")
	}
	now := e.clock()

	var sub models.UserSubscription
	if errFind := tx.WithContext(ctx).Where("id = ?", subscriptionID).Take(&sub).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Outcome{}, fmt.Errorf("%w: id=%d", ErrSubscriptionNotFound, subscriptionID)
		}
		return Outcome{}, fmt.Errorf("referral: find subscription: %w", errFind)
	}
	tierID := sub.TierID
	entry := models.ReferralPointsLog{
		ReferredID:     sub.UserID,
		SubscriptionID: sub.ID,
		TierID:         &tierID,
		Source:         source,
		CreatedAt:      now,
	}

	var ref models.Referral
	errRef := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("referred_id = ?", sub.UserID).
		Take(&ref).Error
	if errRef != nil {
		if !errors.Is(errRef, gorm.ErrRecordNotFound) {
			return Outcome{}, fmt.Errorf("referral: find referral: %w", errRef)
		}
		return e.skip(ctx, tx, entry, ReasonNotReferred)
	}
	referralID, referrerID := ref.ID, ref.ReferrerID
	entry.ReferralID = &referralID
	entry.ReferrerID = &referrerID

	var tier models.SubscriptionTier
	if errTier := tx.WithContext(ctx).Where("id = ?", sub.TierID).Take(&tier).Error; errTier != nil {
		if !errors.Is(errTier, gorm.ErrRecordNotFound) {
			return Outcome{}, fmt.Errorf("referral: find tier: %w", errTier)
		}
		return e.skip(ctx, tx, entry, ReasonUnknownTier)
	}
	if tier.ReferralPointsAwarded <= 0 {
		return e.skip(ctx, tx, entry, ReasonZeroPoints)
	}

	prior := tx.WithContext(ctx).Model(&models.ReferralPointsLog{}).
		Where("referrer_id = ? AND status = ?", ref.ReferrerID, models.ReferralLogAwarded)
	if tier.ReferralAwardOnRenewal {
		prior = prior.Where("subscription_id = ?", sub.ID)
	} else {
		prior = prior.Where("(referral_id = ? OR subscription_id = ?)", ref.ID, sub.ID)
	}
	var priorCount int64
	if errCount := prior.Count(&priorCount).Error; errCount != nil {
		return Outcome{}, fmt.Errorf("referral: count prior awards: %w", errCount)
	}
	if priorCount > 0 {
		return e.skip(ctx, tx, entry, ReasonAlreadyAwarded)
	}

	points := tier.ReferralPointsAwarded
	res := tx.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", ref.ReferrerID).
		Updates(map[string]any{
			"referral_points": gorm.Expr("referral_points + ?", points),
			"updated_at":      now,
		})
	if res.Error != nil {
		return Outcome{}, fmt.Errorf("referral: credit referrer: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		log.WithFields(log.Fields{"referrer_id": ref.ReferrerID, "subscription_id": sub.ID}).
			Warn("referral: referrer account missing, award logged without balance change")
	}

	entry.Points = points
	entry.Status = models.ReferralLogAwarded
	if errCreate := tx.WithContext(ctx).Create(&entry).Error; errCreate != nil {
		return Outcome{}, fmt.Errorf("referral: log award: %w", errCreate)
	}
	if ref.CompletedAt == nil {
		if errComplete := tx.WithContext(ctx).Model(&models.Referral{}).
			Where("id = ? AND completed_at IS NULL", ref.ID).
			Update("completed_at", now).Error; errComplete != nil {
			return Outcome{}, fmt.Errorf("referral: complete referral: %w", errComplete)
		}
	}

	log.WithFields(log.Fields{
		"referrer_id":     ref.ReferrerID,
		"referred_id":     sub.UserID,
		"subscription_id": sub.ID,
		"points":          points,
	}).Info("referral points awarded")
	return outcomeOf(entry), nil
}

func (e *Evaluator) skip(ctx context.Context, tx *gorm.DB, entry models.ReferralPointsLog, reason string) (Outcome, error) {
	entry.Status = models.ReferralLogSkipped
	entry.Reason = reason
	entry.Points = 0
	if errCreate := tx.WithContext(ctx).Create(&entry).Error; errCreate != nil {
		return Outcome{}, fmt.Errorf("referral: log skip: %w", errCreate)
	}
	log.WithFields(log.Fields{
		"referred_id":     entry.ReferredID,
		"subscription_id": entry.SubscriptionID,
		"reason":          reason,
	}).Debug("referral evaluation skipped")
	return outcomeOf(entry), nil
}

func (e *Evaluator) clock() time.Time {
	if e == nil || e.now == nil {
		return time.Now().UTC()
	}
	return e.now().UTC()
}

func outcomeOf(entry models.ReferralPointsLog) Outcome {
	return Outcome{
		LogID:          entry.ID,
		SubscriptionID: entry.SubscriptionID,
		ReferrerID:     entry.ReferrerID,
		Status:         entry.Status,
		Reason:         entry.Reason,
		Points:         entry.Points,
	}
}

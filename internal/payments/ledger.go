package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/subscription"
	"github.com/exampapers/ExamPrepBusiness/internal/tiers"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const provisionAttempts = 3

// Ledger records payment attempts and provisions subscriptions on completion.
type Ledger struct {
	db            *gorm.DB
	subscriptions *subscription.Service
	now           func() time.Time
}

// NewLedger constructs a Ledger.
func NewLedger(db *gorm.DB, subscriptions *subscription.Service) *Ledger {
	return &Ledger{db: db, subscriptions: subscriptions, now: time.Now}
}

// CreateParams describes a checkout about to be handed to a provider.
type CreateParams struct {
	UserID       uint64
	TierID       uint64
	BillingCycle models.BillingCycle
	PaymentType  models.PaymentType
	Provider     string
	Selection    subscription.Selection
	Metadata     datatypes.JSON
}

// Result is the outcome of completing a transaction.
type Result struct {
	Transaction  models.PaymentTransaction
	Subscription *models.UserSubscription
	// Replayed is set when the transaction had already been provisioned.
	Replayed bool
}

// Create records a pending transaction priced from the tier.
func (l *Ledger) Create(ctx context.Context, p CreateParams) (*models.PaymentTransaction, error) {
	provider := strings.ToLower(strings.TrimSpace(p.Provider))
	switch provider {
	case models.ProviderStripe, models.ProviderPayPal, models.ProviderManual:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, p.Provider)
	}
	if p.UserID == 0 {
		return nil, fmt.Errorf("payments: missing user id")
	}
	if p.BillingCycle == "" {
		p.BillingCycle = models.BillingCycleMonthly
	}
	if !p.BillingCycle.Valid() {
		return nil, fmt.Errorf("%w: %q", subscription.ErrInvalidBillingCycle, p.BillingCycle)
	}
	switch p.PaymentType {
	case "":
		p.PaymentType = models.PaymentTypeOneTime
	case models.PaymentTypeOneTime, models.PaymentTypeRecurring:
	default:
		return nil, fmt.Errorf("payments: invalid payment type %q", p.PaymentType)
	}

	tier, errTier := tiers.FindPurchasable(ctx, l.db, p.TierID)
	if errTier != nil {
		return nil, errTier
	}
	amount := tier.Price(p.BillingCycle)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s has no %s price", ErrNotPurchasable, tier.Name, p.BillingCycle)
	}
	if errAllowed := subscription.CheckSelectionAllowed(tier, p.Selection); errAllowed != nil {
		return nil, errAllowed
	}
	selection, errSelection := subscription.ValidateSelection(tier, p.Selection)
	if errSelection != nil {
		return nil, errSelection
	}

	txn := models.PaymentTransaction{
		Reference:          uuid.NewString(),
		UserID:             p.UserID,
		TierID:             tier.ID,
		Amount:             amount,
		Currency:           tier.Currency,
		Status:             models.TransactionStatusPending,
		BillingCycle:       p.BillingCycle,
		PaymentType:        p.PaymentType,
		PaymentProvider:    provider,
		SelectedSubjectIDs: datatypes.JSONSlice[uint64]{},
		Metadata:           p.Metadata,
	}
	if tier.CanSelectGrade {
		txn.SelectedGradeID = selection.GradeID
	}
	if tier.CanSelectSubjects && selection.SubjectIDs != nil {
		txn.SelectedSubjectIDs = datatypes.JSONSlice[uint64](selection.SubjectIDs)
	}
	if errCreate := l.db.WithContext(ctx).Create(&txn).Error; errCreate != nil {
		return nil, fmt.Errorf("payments: create transaction: %w", errCreate)
	}
	return &txn, nil
}

// CompleteParams identifies a transaction confirmed by a provider or operator.
type CompleteParams struct {
	Reference     string
	Provider      string
	ProviderTxnID string
	Metadata      datatypes.JSON
}

// Complete marks a pending transaction completed and provisions its
// subscription. Redelivery of an already provisioned completion is a no-op.
func (l *Ledger) Complete(ctx context.Context, p CompleteParams) (*Result, error) {
	txn, errMark := l.markCompleted(ctx, p)
	if errMark != nil {
		return nil, errMark
	}
	if txn.SubscriptionID != nil {
		return l.replayed(ctx, txn)
	}
	return l.provision(ctx, txn.Reference)
}

// Reprovision retries provisioning for a completed transaction that has no
// subscription, the manual reconciliation path after a provisioning failure.
func (l *Ledger) Reprovision(ctx context.Context, reference string) (*Result, error) {
	txn, errFind := l.find(ctx, l.db, reference, false)
	if errFind != nil {
		return nil, errFind
	}
	if txn.Status != models.TransactionStatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidTransactionState, txn.Reference, txn.Status)
	}
	if txn.SubscriptionID != nil {
		return l.replayed(ctx, txn)
	}
	return l.provision(ctx, txn.Reference)
}

// Fail marks a pending transaction failed. Failing twice is a no-op.
func (l *Ledger) Fail(ctx context.Context, reference, provider, reason string) (*models.PaymentTransaction, error) {
	var out *models.PaymentTransaction
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txn, errFind := l.find(ctx, tx, reference, true)
		if errFind != nil {
			return errFind
		}
		if errProvider := checkProvider(txn, provider); errProvider != nil {
			return errProvider
		}
		switch txn.Status {
		case models.TransactionStatusFailed:
			out = txn
			return nil
		case models.TransactionStatusCompleted:
			return fmt.Errorf("%w: %s", ErrTransactionImmutable, txn.Reference)
		}

		now := l.clock()
		res := tx.WithContext(ctx).Model(&models.PaymentTransaction{}).
			Where("id = ? AND status = ?", txn.ID, models.TransactionStatusPending).
			Updates(map[string]any{
				"status":         models.TransactionStatusFailed,
				"failed_at":      now,
				"failure_reason": strings.TrimSpace(reason),
				"updated_at":     now,
			})
		if res.Error != nil {
			return fmt.Errorf("payments: mark failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransactionState, txn.Reference)
		}
		txn.Status = models.TransactionStatusFailed
		txn.FailedAt = &now
		txn.FailureReason = strings.TrimSpace(reason)
		out = txn
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	log.WithFields(log.Fields{"reference": out.Reference, "provider": out.PaymentProvider}).Info("payment failed")
	return out, nil
}

// ApplyEvent routes a normalized provider event to the matching transition.
func (l *Ledger) ApplyEvent(ctx context.Context, ev Event) (*Result, error) {
	switch ev.Kind {
	case EventCompleted:
		return l.Complete(ctx, CompleteParams{
			Reference:     ev.Reference,
			Provider:      ev.Provider,
			ProviderTxnID: ev.ProviderTxnID,
		})
	case EventFailed:
		txn, errFail := l.Fail(ctx, ev.Reference, ev.Provider, ev.FailureReason)
		if errFail != nil {
			return nil, errFail
		}
		return &Result{Transaction: *txn}, nil
	default:
		return nil, nil
	}
}

// markCompleted moves pending to completed exactly once and returns the row.
func (l *Ledger) markCompleted(ctx context.Context, p CompleteParams) (*models.PaymentTransaction, error) {
	var out *models.PaymentTransaction
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txn, errFind := l.find(ctx, tx, p.Reference, true)
		if errFind != nil {
			return errFind
		}
		if errProvider := checkProvider(txn, p.Provider); errProvider != nil {
			return errProvider
		}
		switch txn.Status {
		case models.TransactionStatusCompleted:
			out = txn
			return nil
		case models.TransactionStatusFailed:
			return fmt.Errorf("%w: %s already failed", ErrInvalidTransactionState, txn.Reference)
		}

		now := l.clock()
		updates := map[string]any{
			"status":       models.TransactionStatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		}
		if providerTxnID := strings.TrimSpace(p.ProviderTxnID); providerTxnID != "" && txn.ProviderTxnID == "" {
			updates["provider_txn_id"] = providerTxnID
			txn.ProviderTxnID = providerTxnID
		}
		if len(p.Metadata) > 0 {
			updates["metadata"] = p.Metadata
			txn.Metadata = p.Metadata
		}
		res := tx.WithContext(ctx).Model(&models.PaymentTransaction{}).
			Where("id = ? AND status = ?", txn.ID, models.TransactionStatusPending).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("payments: mark completed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Another delivery completed it first; reload the winner.
			reloaded, errReload := l.find(ctx, tx, txn.Reference, false)
			if errReload != nil {
				return errReload
			}
			if reloaded.Status != models.TransactionStatusCompleted {
				return fmt.Errorf("%w: %s is %s", ErrInvalidTransactionState, txn.Reference, reloaded.Status)
			}
			out = reloaded
			return nil
		}
		txn.Status = models.TransactionStatusCompleted
		txn.CompletedAt = &now
		out = txn
		log.WithFields(log.Fields{
			"reference": txn.Reference,
			"provider":  txn.PaymentProvider,
			"user_id":   txn.UserID,
			"tier_id":   txn.TierID,
		}).Info("payment completed")
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return out, nil
}

// provision creates the subscription for a completed transaction. Failures are
// recorded on the transaction, which stays completed.
func (l *Ledger) provision(ctx context.Context, reference string) (*Result, error) {
	var result *Result
	errProvision := subscription.RetryOnConflict(ctx, provisionAttempts, func() error {
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			txn, errFind := l.find(ctx, tx, reference, true)
			if errFind != nil {
				return errFind
			}
			if txn.SubscriptionID != nil {
				var sub models.UserSubscription
				if errSub := tx.WithContext(ctx).First(&sub, *txn.SubscriptionID).Error; errSub != nil {
					return fmt.Errorf("payments: load subscription: %w", errSub)
				}
				result = &Result{Transaction: *txn, Subscription: &sub, Replayed: true}
				return nil
			}

			sub, errSub := l.subscriptions.Provision(ctx, tx, txn)
			if errSub != nil {
				return errSub
			}
			if errLink := tx.WithContext(ctx).Model(&models.PaymentTransaction{}).
				Where("id = ?", txn.ID).
				Updates(map[string]any{
					"subscription_id":    sub.ID,
					"provisioning_error": "",
					"updated_at":         l.clock(),
				}).Error; errLink != nil {
				return fmt.Errorf("payments: link subscription: %w", errLink)
			}
			subID := sub.ID
			txn.SubscriptionID = &subID
			txn.ProvisioningError = ""
			result = &Result{Transaction: *txn, Subscription: sub}
			return nil
		})
	})
	if errProvision != nil {
		if errors.Is(errProvision, ErrTransactionNotFound) {
			return nil, errProvision
		}
		if errRecord := l.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
			Where("reference = ?", reference).
			Updates(map[string]any{
				"provisioning_error": errProvision.Error(),
				"updated_at":         l.clock(),
			}).Error; errRecord != nil {
			log.WithError(errRecord).WithField("reference", reference).Warn("payments: record provisioning error failed")
		}
		log.WithError(errProvision).WithField("reference", reference).Error("payments: subscription provisioning failed, manual reconciliation required")
		return nil, fmt.Errorf("%w: %w", ErrProvisioningFailed, errProvision)
	}
	return result, nil
}

func (l *Ledger) replayed(ctx context.Context, txn *models.PaymentTransaction) (*Result, error) {
	var sub models.UserSubscription
	if errFind := l.db.WithContext(ctx).First(&sub, *txn.SubscriptionID).Error; errFind != nil {
		return nil, fmt.Errorf("payments: load subscription: %w", errFind)
	}
	log.WithField("reference", txn.Reference).Debug("payments: completion replayed")
	return &Result{Transaction: *txn, Subscription: &sub, Replayed: true}, nil
}

func (l *Ledger) find(ctx context.Context, tx *gorm.DB, reference string, lock bool) (*models.PaymentTransaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrTransactionNotFound)
	}
	q := tx.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var txn models.PaymentTransaction
	if errFind := q.Where("reference = ?", reference).Take(&txn).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, reference)
		}
		return nil, fmt.Errorf("payments: find transaction: %w", errFind)
	}
	return &txn, nil
}

// FindByReference loads a transaction without locking it.
func (l *Ledger) FindByReference(ctx context.Context, reference string) (*models.PaymentTransaction, error) {
	return l.find(ctx, l.db, reference, false)
}

func (l *Ledger) clock() time.Time {
	if l == nil || l.now == nil {
		return time.Now().UTC()
	}
	return l.now().UTC()
}

func checkProvider(txn *models.PaymentTransaction, provider string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" || provider == txn.PaymentProvider {
		return nil
	}
	return fmt.Errorf("%w: %s is a %s transaction", ErrProviderMismatch, txn.Reference, txn.PaymentProvider)
}

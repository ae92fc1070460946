package tiers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrTierNotFound indicates the tier ID or name does not exist.
	ErrTierNotFound = errors.New("tiers: tier not found")
	// ErrTierUnavailable indicates the tier exists but cannot be purchased.
	ErrTierUnavailable = errors.New("tiers: tier unavailable")
)

// Find loads a tier by ID using the given handle, which may be a transaction.
func Find(ctx context.Context, db *gorm.DB, id uint64) (*models.SubscriptionTier, error) {
	if db == nil {
		return nil, fmt.Errorf("tiers: nil db")
	}
	if id == 0 {
		return nil, ErrTierNotFound
	}
	var tier models.SubscriptionTier
	if errFind := db.WithContext(ctx).Where("id = ?", id).Take(&tier).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id=%d", ErrTierNotFound, id)
		}
		return nil, fmt.Errorf("tiers: find %d: %w", id, errFind)
	}
	return &tier, nil
}

// FindByName loads a tier by its stable name.
func FindByName(ctx context.Context, db *gorm.DB, name string) (*models.SubscriptionTier, error) {
	if db == nil {
		return nil, fmt.Errorf("tiers: nil db")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrTierNotFound
	}
	var tier models.SubscriptionTier
	if errFind := db.WithContext(ctx).Where("name = ?", name).Take(&tier).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: name=%s", ErrTierNotFound, name)
		}
		return nil, fmt.Errorf("tiers: find %s: %w", name, errFind)
	}
	return &tier, nil
}

// FindFree loads the tier users are downgraded to.
func FindFree(ctx context.Context, db *gorm.DB) (*models.SubscriptionTier, error) {
	return FindByName(ctx, db, models.FreeTierName)
}

// FindPurchasable loads a tier and rejects inactive or coming-soon entries.
func FindPurchasable(ctx context.Context, db *gorm.DB, id uint64) (*models.SubscriptionTier, error) {
	tier, errFind := Find(ctx, db, id)
	if errFind != nil {
		return nil, errFind
	}
	if !tier.IsActive || tier.ComingSoon {
		return nil, fmt.Errorf("%w: %s", ErrTierUnavailable, tier.Name)
	}
	return tier, nil
}

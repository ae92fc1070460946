package tiers

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type snapshot struct {
	loadedAt time.Time
	byID     map[uint64]models.SubscriptionTier
	byName   map[string]uint64
	ordered  []uint64
}

// Catalog caches the tier table in memory and swaps it atomically on refresh.
type Catalog struct {
	db      *gorm.DB
	maxAge  time.Duration
	now     func() time.Time
	current atomic.Value
}

// NewCatalog constructs a catalog that reloads entries older than maxAge.
func NewCatalog(db *gorm.DB, maxAge time.Duration) *Catalog {
	c := &Catalog{db: db, maxAge: maxAge, now: time.Now}
	c.current.Store(snapshot{
		byID:   make(map[uint64]models.SubscriptionTier),
		byName: make(map[string]uint64),
	})
	return c
}

// Refresh reloads every tier from the database.
func (c *Catalog) Refresh(ctx context.Context) error {
	if c == nil || c.db == nil {
		return fmt.Errorf("tiers: nil catalog")
	}
	var rows []models.SubscriptionTier
	if errFind := c.db.WithContext(ctx).Order("sort_order ASC, id ASC").Find(&rows).Error; errFind != nil {
		return fmt.Errorf("tiers: load catalog: %w", errFind)
	}
	c.store(rows)
	return nil
}

func (c *Catalog) store(rows []models.SubscriptionTier) {
	next := snapshot{
		loadedAt: c.now().UTC(),
		byID:     make(map[uint64]models.SubscriptionTier, len(rows)),
		byName:   make(map[string]uint64, len(rows)),
		ordered:  make([]uint64, 0, len(rows)),
	}
	for _, row := range rows {
		next.byID[row.ID] = row
		next.byName[row.Name] = row.ID
		next.ordered = append(next.ordered, row.ID)
	}
	sort.SliceStable(next.ordered, func(i, j int) bool {
		a, b := next.byID[next.ordered[i]], next.byID[next.ordered[j]]
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.ID < b.ID
	})
	c.current.Store(next)
}

func (c *Catalog) load(ctx context.Context) snapshot {
	snap, _ := c.current.Load().(snapshot)
	if snap.loadedAt.IsZero() || (c.maxAge > 0 && c.now().Sub(snap.loadedAt) > c.maxAge) {
		if errRefresh := c.Refresh(ctx); errRefresh != nil {
			log.WithError(errRefresh).Warn("tiers: catalog refresh failed, serving stale snapshot")
			return snap
		}
		snap, _ = c.current.Load().(snapshot)
	}
	return snap
}

// ByID returns the tier with the given ID.
func (c *Catalog) ByID(ctx context.Context, id uint64) (models.SubscriptionTier, error) {
	snap := c.load(ctx)
	if tier, ok := snap.byID[id]; ok {
		return tier, nil
	}
	// Tiers created since the last refresh are read through.
	tier, errFind := Find(ctx, c.db, id)
	if errFind != nil {
		return models.SubscriptionTier{}, errFind
	}
	return *tier, nil
}

// ByName returns the tier with the given name.
func (c *Catalog) ByName(ctx context.Context, name string) (models.SubscriptionTier, error) {
	snap := c.load(ctx)
	if id, ok := snap.byName[name]; ok {
		return snap.byID[id], nil
	}
	tier, errFind := FindByName(ctx, c.db, name)
	if errFind != nil {
		return models.SubscriptionTier{}, errFind
	}
	return *tier, nil
}

// Free returns the fallback tier.
func (c *Catalog) Free(ctx context.Context) (models.SubscriptionTier, error) {
	return c.ByName(ctx, models.FreeTierName)
}

// List returns tiers in display order, optionally only the ones users can buy.
func (c *Catalog) List(ctx context.Context, purchasableOnly bool) []models.SubscriptionTier {
	snap := c.load(ctx)
	out := make([]models.SubscriptionTier, 0, len(snap.ordered))
	for _, id := range snap.ordered {
		tier := snap.byID[id]
		if purchasableOnly && (!tier.IsActive || tier.ComingSoon) {
			continue
		}
		out = append(out, tier)
	}
	return out
}

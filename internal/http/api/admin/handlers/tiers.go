package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/tiers"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TierHandler manages admin CRUD endpoints for subscription tiers.
type TierHandler struct {
	db      *gorm.DB       // Database handle for tier records.
	catalog *tiers.Catalog // Snapshot refreshed after writes.
}

// NewTierHandler constructs a tier handler.
func NewTierHandler(db *gorm.DB, catalog *tiers.Catalog) *TierHandler {
	return &TierHandler{db: db, catalog: catalog}
}

// createTierRequest captures the payload for creating a tier.
type createTierRequest struct {
	Name                   string          `json:"name"`                      // Stable tier name.
	DisplayName            string          `json:"display_name"`              // Name shown to users.
	Description            string          `json:"description"`               // Marketing copy.
	TokenLimit             int64           `json:"token_limit"`               // Tokens per period, -1 unlimited.
	PapersLimit            int             `json:"papers_limit"`              // Recent-papers window, -1 unlimited.
	MaxSubjects            int             `json:"max_subjects"`              // Subject selection cap.
	CanSelectGrade         bool            `json:"can_select_grade"`          // Grade-scoped access.
	CanSelectSubjects      bool            `json:"can_select_subjects"`       // Subject-scoped access.
	PriceMonthly           decimal.Decimal `json:"price_monthly"`             // Monthly price.
	PriceYearly            decimal.Decimal `json:"price_yearly"`              // Yearly price.
	Currency               string          `json:"currency"`                  // ISO currency code.
	ReferralPointsAwarded  int64           `json:"referral_points_awarded"`   // Points per referral.
	ReferralAwardOnRenewal bool            `json:"referral_award_on_renewal"` // Award on later subscriptions.
	AIModelID              *uint64         `json:"ai_model_id"`               // Assigned tutor model.
	ComingSoon             bool            `json:"coming_soon"`               // Listed but not purchasable.
	SortOrder              int             `json:"sort_order"`                // Display order.
	IsActive               *bool           `json:"is_active"`                 // Optional active flag.
}

// Create validates input and inserts a new tier.
func (h *TierHandler) Create(c *gin.Context) {
	var body createTierRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if errValidate := validateTierLimits(body.TokenLimit, body.PapersLimit, body.MaxSubjects, body.PriceMonthly, body.PriceYearly); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errValidate.Error()})
		return
	}

	isActive := true
	if body.IsActive != nil {
		isActive = *body.IsActive
	}
	displayName := strings.TrimSpace(body.DisplayName)
	if displayName == "" {
		displayName = name
	}
	currency := strings.ToUpper(strings.TrimSpace(body.Currency))
	if currency == "" {
		currency = "USD"
	}

	now := time.Now().UTC()
	tier := models.SubscriptionTier{
		Name:                   name,
		DisplayName:            displayName,
		Description:            body.Description,
		TokenLimit:             body.TokenLimit,
		PapersLimit:            body.PapersLimit,
		MaxSubjects:            body.MaxSubjects,
		CanSelectGrade:         body.CanSelectGrade,
		CanSelectSubjects:      body.CanSelectSubjects,
		PriceMonthly:           body.PriceMonthly,
		PriceYearly:            body.PriceYearly,
		Currency:               currency,
		ReferralPointsAwarded:  body.ReferralPointsAwarded,
		ReferralAwardOnRenewal: body.ReferralAwardOnRenewal,
		AIModelID:              body.AIModelID,
		ComingSoon:             body.ComingSoon,
		IsActive:               isActive,
		SortOrder:              body.SortOrder,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&tier).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create tier failed"})
		return
	}
	h.refresh(c)
	c.JSON(http.StatusCreated, formatTier(&tier))
}

// List returns all tiers, optionally filtered by active flag.
func (h *TierHandler) List(c *gin.Context) {
	activeQ := strings.TrimSpace(c.Query("is_active"))

	q := h.db.WithContext(c.Request.Context()).Model(&models.SubscriptionTier{})
	if activeQ == "true" || activeQ == "1" {
		q = q.Where("is_active = ?", true)
	} else if activeQ == "false" || activeQ == "0" {
		q = q.Where("is_active = ?", false)
	}

	var rows []models.SubscriptionTier
	if errFind := q.Order("sort_order ASC, id ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list tiers failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatTier(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"tiers": out})
}

// Get fetches a tier by ID.
func (h *TierHandler) Get(c *gin.Context) {
	tier, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, formatTier(tier))
}

// updateTierRequest captures optional fields for tier updates.
type updateTierRequest struct {
	DisplayName            *string          `json:"display_name"`              // Optional display name.
	Description            *string          `json:"description"`               // Optional description.
	TokenLimit             *int64           `json:"token_limit"`               // Optional token limit.
	PapersLimit            *int             `json:"papers_limit"`              // Optional window size.
	MaxSubjects            *int             `json:"max_subjects"`              // Optional subject cap.
	CanSelectGrade         *bool            `json:"can_select_grade"`          // Optional grade scoping.
	CanSelectSubjects      *bool            `json:"can_select_subjects"`       // Optional subject scoping.
	PriceMonthly           *decimal.Decimal `json:"price_monthly"`             // Optional monthly price.
	PriceYearly            *decimal.Decimal `json:"price_yearly"`              // Optional yearly price.
	Currency               *string          `json:"currency"`                  // Optional currency.
	ReferralPointsAwarded  *int64           `json:"referral_points_awarded"`   // Optional referral points.
	ReferralAwardOnRenewal *bool            `json:"referral_award_on_renewal"` // Optional renewal policy.
	AIModelID              *uint64          `json:"ai_model_id"`               // Optional tutor model.
	ComingSoon             *bool            `json:"coming_soon"`               // Optional coming-soon flag.
	SortOrder              *int             `json:"sort_order"`                // Optional display order.
}

// Update applies partial updates to a tier. The name is immutable.
func (h *TierHandler) Update(c *gin.Context) {
	tier, ok := h.load(c)
	if !ok {
		return
	}
	var body updateTierRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	next := *tier
	updates := map[string]any{}
	if body.DisplayName != nil {
		next.DisplayName = strings.TrimSpace(*body.DisplayName)
		updates["display_name"] = next.DisplayName
	}
	if body.Description != nil {
		updates["description"] = *body.Description
	}
	if body.TokenLimit != nil {
		next.TokenLimit = *body.TokenLimit
		updates["token_limit"] = next.TokenLimit
	}
	if body.PapersLimit != nil {
		next.PapersLimit = *body.PapersLimit
		updates["papers_limit"] = next.PapersLimit
	}
	if body.MaxSubjects != nil {
		next.MaxSubjects = *body.MaxSubjects
		updates["max_subjects"] = next.MaxSubjects
	}
	if body.CanSelectGrade != nil {
		updates["can_select_grade"] = *body.CanSelectGrade
	}
	if body.CanSelectSubjects != nil {
		updates["can_select_subjects"] = *body.CanSelectSubjects
	}
	if body.PriceMonthly != nil {
		next.PriceMonthly = *body.PriceMonthly
		updates["price_monthly"] = next.PriceMonthly
	}
	if body.PriceYearly != nil {
		next.PriceYearly = *body.PriceYearly
		updates["price_yearly"] = next.PriceYearly
	}
	if body.Currency != nil {
		updates["currency"] = strings.ToUpper(strings.TrimSpace(*body.Currency))
	}
	if body.ReferralPointsAwarded != nil {
		updates["referral_points_awarded"] = *body.ReferralPointsAwarded
	}
	if body.ReferralAwardOnRenewal != nil {
		updates["referral_award_on_renewal"] = *body.ReferralAwardOnRenewal
	}
	if body.AIModelID != nil {
		updates["ai_model_id"] = *body.AIModelID
	}
	if body.ComingSoon != nil {
		updates["coming_soon"] = *body.ComingSoon
	}
	if body.SortOrder != nil {
		updates["sort_order"] = *body.SortOrder
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}
	if errValidate := validateTierLimits(next.TokenLimit, next.PapersLimit, next.MaxSubjects, next.PriceMonthly, next.PriceYearly); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errValidate.Error()})
		return
	}
	updates["updated_at"] = time.Now().UTC()

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.SubscriptionTier{}).
		Where("id = ?", tier.ID).
		Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update tier failed"})
		return
	}
	var updated models.SubscriptionTier
	if errFind := h.db.WithContext(c.Request.Context()).First(&updated, tier.ID).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reload tier failed"})
		return
	}
	h.refresh(c)
	c.JSON(http.StatusOK, formatTier(&updated))
}

// Delete removes a tier that no subscription or transaction references.
func (h *TierHandler) Delete(c *gin.Context) {
	tier, ok := h.load(c)
	if !ok {
		return
	}
	if tier.Name == models.FreeTierName {
		c.JSON(http.StatusConflict, gin.H{"error": "free tier cannot be deleted"})
		return
	}
	ctx := c.Request.Context()
	var refs int64
	if errCount := h.db.WithContext(ctx).Model(&models.UserSubscription{}).Where("tier_id = ?", tier.ID).Count(&refs).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete tier failed"})
		return
	}
	if refs == 0 {
		if errCount := h.db.WithContext(ctx).Model(&models.PaymentTransaction{}).Where("tier_id = ?", tier.ID).Count(&refs).Error; errCount != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "delete tier failed"})
			return
		}
	}
	if refs > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "tier is in use, disable it instead"})
		return
	}
	if errDelete := h.db.WithContext(ctx).Delete(&models.SubscriptionTier{}, tier.ID).Error; errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete tier failed"})
		return
	}
	h.refresh(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Enable marks a tier active.
func (h *TierHandler) Enable(c *gin.Context) {
	h.setActive(c, true)
}

// Disable marks a tier inactive. Existing subscriptions keep their rows.
func (h *TierHandler) Disable(c *gin.Context) {
	h.setActive(c, false)
}

func (h *TierHandler) setActive(c *gin.Context, active bool) {
	tier, ok := h.load(c)
	if !ok {
		return
	}
	if !active && tier.Name == models.FreeTierName {
		c.JSON(http.StatusConflict, gin.H{"error": "free tier cannot be disabled"})
		return
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.SubscriptionTier{}).
		Where("id = ?", tier.ID).
		Updates(map[string]any{"is_active": active, "updated_at": time.Now().UTC()}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update tier failed"})
		return
	}
	h.refresh(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *TierHandler) load(c *gin.Context) (*models.SubscriptionTier, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return nil, false
	}
	tier, errFind := tiers.Find(c.Request.Context(), h.db, id)
	if errFind != nil {
		if errors.Is(errFind, tiers.ErrTierNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return nil, false
	}
	return tier, true
}

func (h *TierHandler) refresh(c *gin.Context) {
	if h.catalog == nil {
		return
	}
	if errRefresh := h.catalog.Refresh(c.Request.Context()); errRefresh != nil {
		log.WithError(errRefresh).Warn("tiers: refresh catalog after write")
	}
}

func validateTierLimits(tokenLimit int64, papersLimit, maxSubjects int, monthly, yearly decimal.Decimal) error {
	if tokenLimit < models.Unlimited {
		return errors.New("token_limit must be -1 or greater")
	}
	if papersLimit < models.Unlimited {
		return errors.New("papers_limit must be -1 or greater")
	}
	if maxSubjects < 0 {
		return errors.New("max_subjects must not be negative")
	}
	if monthly.IsNegative() || yearly.IsNegative() {
		return errors.New("prices must not be negative")
	}
	return nil
}

func formatTier(t *models.SubscriptionTier) gin.H {
	if t == nil {
		return gin.H{}
	}
	return gin.H{
		"id":                        t.ID,
		"name":                      t.Name,
		"display_name":              t.DisplayName,
		"description":               t.Description,
		"token_limit":               t.TokenLimit,
		"papers_limit":              t.PapersLimit,
		"max_subjects":              t.MaxSubjects,
		"can_select_grade":          t.CanSelectGrade,
		"can_select_subjects":       t.CanSelectSubjects,
		"price_monthly":             t.PriceMonthly,
		"price_yearly":              t.PriceYearly,
		"currency":                  t.Currency,
		"referral_points_awarded":   t.ReferralPointsAwarded,
		"referral_award_on_renewal": t.ReferralAwardOnRenewal,
		"ai_model_id":               t.AIModelID,
		"coming_soon":               t.ComingSoon,
		"is_active":                 t.IsActive,
		"sort_order":                t.SortOrder,
		"created_at":                t.CreatedAt,
		"updated_at":                t.UpdatedAt,
	}
}

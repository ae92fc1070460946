package handlers

import (
	"net/http"

	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/tiers"
	"github.com/gin-gonic/gin"
)

// TierFrontHandler serves the public tier catalog.
type TierFrontHandler struct {
	catalog       *tiers.Catalog
	defaultWindow int
}

// NewTierFrontHandler constructs a TierFrontHandler.
func NewTierFrontHandler(catalog *tiers.Catalog, defaultWindow int) *TierFrontHandler {
	return &TierFrontHandler{catalog: catalog, defaultWindow: defaultWindow}
}

// List returns active tiers in display order, including coming-soon entries.
func (h *TierFrontHandler) List(c *gin.Context) {
	rows := h.catalog.List(c.Request.Context(), false)
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		if !rows[i].IsActive {
			continue
		}
		out = append(out, formatTier(&rows[i], h.defaultWindow))
	}
	c.JSON(http.StatusOK, gin.H{"tiers": out})
}

func formatTier(t *models.SubscriptionTier, defaultWindow int) gin.H {
	caps := tiers.CapabilitiesOf(t, defaultWindow)
	return gin.H{
		"id":                  t.ID,
		"name":                t.Name,
		"display_name":        t.DisplayName,
		"description":         t.Description,
		"token_limit":         t.TokenLimit,
		"papers_limit":        t.PapersLimit,
		"max_subjects":        t.MaxSubjects,
		"can_select_grade":    t.CanSelectGrade,
		"can_select_subjects": t.CanSelectSubjects,
		"access_rule":         caps.AccessRule.String(),
		"price_monthly":       t.PriceMonthly,
		"price_yearly":        t.PriceYearly,
		"currency":            t.Currency,
		"coming_soon":         t.ComingSoon,
		"purchasable":         t.IsActive && !t.ComingSoon && t.PriceMonthly.IsPositive(),
		"sort_order":          t.SortOrder,
	}
}

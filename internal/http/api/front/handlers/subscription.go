package handlers

import (
	"net/http"

	"github.com/exampapers/ExamPrepBusiness/internal/auth"
	"github.com/exampapers/ExamPrepBusiness/internal/http/api"
	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/subscription"
	"github.com/gin-gonic/gin"
)

// SubscriptionFrontHandler exposes the caller's own subscription.
type SubscriptionFrontHandler struct {
	subscriptions *subscription.Service
	defaultWindow int
}

// NewSubscriptionFrontHandler constructs a SubscriptionFrontHandler.
func NewSubscriptionFrontHandler(subscriptions *subscription.Service, defaultWindow int) *SubscriptionFrontHandler {
	return &SubscriptionFrontHandler{subscriptions: subscriptions, defaultWindow: defaultWindow}
}

// Get returns the effective subscription, virtual free when none is stored.
func (h *SubscriptionFrontHandler) Get(c *gin.Context) {
	userID := auth.UserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	effective, errCurrent := h.subscriptions.Current(c.Request.Context(), userID)
	if errCurrent != nil {
		api.AbortWithError(c, errCurrent, "load subscription failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subscription": formatSubscription(&effective.Subscription),
		"tier":         formatTier(&effective.Tier, h.defaultWindow),
		"virtual":      effective.Virtual,
	})
}

// Cancel stops renewal at the end of the current period.
func (h *SubscriptionFrontHandler) Cancel(c *gin.Context) {
	h.setCancel(c, true)
}

// Resume re-enables renewal.
func (h *SubscriptionFrontHandler) Resume(c *gin.Context) {
	h.setCancel(c, false)
}

func (h *SubscriptionFrontHandler) setCancel(c *gin.Context, cancel bool) {
	userID := auth.UserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	row, errSet := h.subscriptions.SetCancelAtPeriodEnd(c.Request.Context(), userID, cancel)
	if errSet != nil {
		api.AbortWithError(c, errSet, "update subscription failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": formatSubscription(row)})
}

// selectionRequest captures a grade and subject choice.
type selectionRequest struct {
	GradeID    *uint64  `json:"grade_id"`
	SubjectIDs []uint64 `json:"subject_ids"`
}

// UpdateSelection stores the caller's grade and subject choice.
func (h *SubscriptionFrontHandler) UpdateSelection(c *gin.Context) {
	userID := auth.UserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var body selectionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.GradeID == nil && body.SubjectIDs == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "grade_id or subject_ids is required"})
		return
	}
	row, errUpdate := h.subscriptions.UpdateSelection(c.Request.Context(), userID, subscription.Selection{
		GradeID:    body.GradeID,
		SubjectIDs: body.SubjectIDs,
	})
	if errUpdate != nil {
		api.AbortWithError(c, errUpdate, "update selection failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": formatSubscription(row)})
}

func formatSubscription(s *models.UserSubscription) gin.H {
	if s == nil {
		return nil
	}
	return gin.H{
		"id":                             s.ID,
		"tier_id":                        s.TierID,
		"status":                         s.Status,
		"billing_cycle":                  s.BillingCycle,
		"is_recurring":                   s.IsRecurring,
		"cancel_at_period_end":           s.CancelAtPeriodEnd,
		"period_start_date":              s.PeriodStartDate,
		"period_end_date":                s.PeriodEndDate,
		"subscription_end_date":          s.SubscriptionEndDate,
		"tokens_used_current_period":     s.TokensUsedCurrentPeriod,
		"papers_accessed_current_period": s.PapersAccessedCurrentPeriod,
		"selected_grade_id":              s.SelectedGradeID,
		"selected_subject_ids":           s.SelectedSubjectIDs,
	}
}

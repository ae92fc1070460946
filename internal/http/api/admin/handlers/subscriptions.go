package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/exampapers/ExamPrepBusiness/internal/auth"
	"github.com/exampapers/ExamPrepBusiness/internal/http/api"
	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/subscription"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SubscriptionHandler lists subscriptions and applies operator tier changes.
type SubscriptionHandler struct {
	db            *gorm.DB
	subscriptions *subscription.Service
}

// NewSubscriptionHandler constructs a SubscriptionHandler.
func NewSubscriptionHandler(db *gorm.DB, subscriptions *subscription.Service) *SubscriptionHandler {
	return &SubscriptionHandler{db: db, subscriptions: subscriptions}
}

// List returns subscription rows filtered by user, status and tier.
func (h *SubscriptionHandler) List(c *gin.Context) {
	var (
		userIDQ = strings.TrimSpace(c.Query("user_id"))
		statusQ = strings.TrimSpace(c.Query("status"))
		tierIDQ = strings.TrimSpace(c.Query("tier_id"))
	)

	q := h.db.WithContext(c.Request.Context()).Model(&models.UserSubscription{})
	if userIDQ != "" {
		if id, errParse := strconv.ParseUint(userIDQ, 10, 64); errParse == nil {
			q = q.Where("user_id = ?", id)
		}
	}
	if statusQ != "" {
		q = q.Where("status = ?", statusQ)
	}
	if tierIDQ != "" {
		if id, errParse := strconv.ParseUint(tierIDQ, 10, 64); errParse == nil {
			q = q.Where("tier_id = ?", id)
		}
	}

	limit, offset := pageParams(c)
	var rows []models.UserSubscription
	if errFind := q.Order("id DESC").Limit(limit).Offset(offset).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list subscriptions failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatSubscription(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": out})
}

// changeTierRequest captures an operator tier change.
type changeTierRequest struct {
	TierID       uint64   `json:"tier_id"`       // Target tier.
	BillingCycle string   `json:"billing_cycle"` // monthly or yearly, defaults to the current cycle.
	IsRecurring  *bool    `json:"is_recurring"`  // Optional renewal flag.
	GradeID      *uint64  `json:"grade_id"`      // Optional grade selection.
	SubjectIDs   []uint64 `json:"subject_ids"`   // Optional subject selection.
	Reason       string   `json:"reason"`        // Audit note.
}

// ChangeTier replaces the user's active subscription with the requested tier.
func (h *SubscriptionHandler) ChangeTier(c *gin.Context) {
	userID, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil || userID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body changeTierRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.TierID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tier_id is required"})
		return
	}

	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = "changed by " + auth.AdminUsername(c)
	}
	row, errChange := h.subscriptions.ChangeTier(c.Request.Context(), userID, subscription.TierChange{
		TierID:       body.TierID,
		BillingCycle: models.BillingCycle(strings.ToLower(strings.TrimSpace(body.BillingCycle))),
		IsRecurring:  body.IsRecurring,
		Selection:    subscription.Selection{GradeID: body.GradeID, SubjectIDs: body.SubjectIDs},
		Reason:       reason,
	})
	if errChange != nil {
		api.AbortWithError(c, errChange, "change tier failed")
		return
	}
	log.WithFields(log.Fields{"user_id": userID, "tier_id": body.TierID, "admin": auth.AdminUsername(c)}).Info("tier changed by operator")
	c.JSON(http.StatusOK, gin.H{"subscription": formatSubscription(row)})
}

func formatSubscription(s *models.UserSubscription) gin.H {
	if s == nil {
		return nil
	}
	return gin.H{
		"id":                             s.ID,
		"user_id":                        s.UserID,
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
		"accessed_paper_ids":             s.AccessedPaperIDs,
		"selected_grade_id":              s.SelectedGradeID,
		"selected_subject_ids":           s.SelectedSubjectIDs,
		"payment_transaction_id":         s.PaymentTransactionID,
		"ended_at":                       s.EndedAt,
		"created_at":                     s.CreatedAt,
		"updated_at":                     s.UpdatedAt,
	}
}

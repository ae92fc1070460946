package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/exampapers/ExamPrepBusiness/internal/http/api"
	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/referral"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ReferralHandler re-runs referral evaluation and exposes its audit log.
type ReferralHandler struct {
	db        *gorm.DB
	evaluator *referral.Evaluator
}

// NewReferralHandler constructs a ReferralHandler.
func NewReferralHandler(db *gorm.DB, evaluator *referral.Evaluator) *ReferralHandler {
	return &ReferralHandler{db: db, evaluator: evaluator}
}

// evaluateRequest identifies the subscription to re-evaluate.
type evaluateRequest struct {
	SubscriptionID uint64 `json:"subscription_id"`
}

// Evaluate backfills referral points for one subscription.
func (h *ReferralHandler) Evaluate(c *gin.Context) {
	var body evaluateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.SubscriptionID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subscription_id is required"})
		return
	}
	outcome, errEval := h.evaluator.Backfill(c.Request.Context(), h.db, body.SubscriptionID)
	if errEval != nil {
		api.AbortWithError(c, errEval, "evaluate referral failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

// Logs lists referral evaluations, newest first.
func (h *ReferralHandler) Logs(c *gin.Context) {
	var (
		referrerQ = strings.TrimSpace(c.Query("referrer_id"))
		referredQ = strings.TrimSpace(c.Query("referred_id"))
		statusQ   = strings.TrimSpace(c.Query("status"))
	)
	q := h.db.WithContext(c.Request.Context()).Model(&models.ReferralPointsLog{})
	if referrerQ != "" {
		if id, errParse := strconv.ParseUint(referrerQ, 10, 64); errParse == nil {
			q = q.Where("referrer_id = ?", id)
		}
	}
	if referredQ != "" {
		if id, errParse := strconv.ParseUint(referredQ, 10, 64); errParse == nil {
			q = q.Where("referred_id = ?", id)
		}
	}
	if statusQ != "" {
		q = q.Where("status = ?", statusQ)
	}

	limit, offset := pageParams(c)
	var rows []models.ReferralPointsLog
	if errFind := q.Order("id DESC").Limit(limit).Offset(offset).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list referral logs failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":              row.ID,
			"referral_id":     row.ReferralID,
			"referrer_id":     row.ReferrerID,
			"referred_id":     row.ReferredID,
			"subscription_id": row.SubscriptionID,
			"tier_id":         row.TierID,
			"points":          row.Points,
			"status":          row.Status,
			"reason":          row.Reason,
			"source":          row.Source,
			"created_at":      row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": out})
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/exampapers/ExamPrepBusiness/internal/auth"
	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ReferralFrontHandler shows the caller's referral code and earnings.
type ReferralFrontHandler struct {
	db *gorm.DB
}

// NewReferralFrontHandler constructs a ReferralFrontHandler.
func NewReferralFrontHandler(db *gorm.DB) *ReferralFrontHandler {
	return &ReferralFrontHandler{db: db}
}

// Get returns the referral code, points balance and award history.
func (h *ReferralFrontHandler) Get(c *gin.Context) {
	userID := auth.UserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	ctx := c.Request.Context()

	var user models.User
	if errFind := h.db.WithContext(ctx).First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}

	var invited int64
	if errCount := h.db.WithContext(ctx).Model(&models.Referral{}).Where("referrer_id = ?", userID).Count(&invited).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count referrals failed"})
		return
	}

	var logs []models.ReferralPointsLog
	if errFind := h.db.WithContext(ctx).
		Where("referrer_id = ? AND status = ?", userID, models.ReferralLogAwarded).
		Order("id DESC").
		Limit(100).
		Find(&logs).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list awards failed"})
		return
	}
	awards := make([]gin.H, 0, len(logs))
	for _, row := range logs {
		awards = append(awards, gin.H{
			"referred_id": row.ReferredID,
			"points":      row.Points,
			"created_at":  row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"referral_code":   user.ReferralCode,
		"referral_points": user.ReferralPoints,
		"invited":         invited,
		"awards":          awards,
	})
}

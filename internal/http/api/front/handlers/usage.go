package handlers

import (
	"net/http"

	"github.com/exampapers/ExamPrepBusiness/internal/auth"
	"github.com/exampapers/ExamPrepBusiness/internal/http/api"
	"github.com/exampapers/ExamPrepBusiness/internal/usage"
	"github.com/gin-gonic/gin"
)

// UsageFrontHandler charges tutor token usage.
type UsageFrontHandler struct {
	recorder *usage.Recorder
}

// NewUsageFrontHandler constructs a UsageFrontHandler.
func NewUsageFrontHandler(recorder *usage.Recorder) *UsageFrontHandler {
	return &UsageFrontHandler{recorder: recorder}
}

// tokensRequest defines the token charge payload.
type tokensRequest struct {
	Tokens int64 `json:"tokens"`
}

// RecordTokens charges tokens against the current period.
func (h *UsageFrontHandler) RecordTokens(c *gin.Context) {
	userID := auth.UserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var body tokensRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	result, errRecord := h.recorder.RecordTokens(c.Request.Context(), userID, body.Tokens)
	if errRecord != nil {
		api.AbortWithError(c, errRecord, "record tokens failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"used":            result.Used,
		"limit":           result.Limit,
		"remaining":       result.Remaining(),
		"subscription_id": result.SubscriptionID,
	})
}

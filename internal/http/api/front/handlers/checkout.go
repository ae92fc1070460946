package handlers

import (
	"net/http"
	"strings"

	"github.com/exampapers/ExamPrepBusiness/internal/auth"
	"github.com/exampapers/ExamPrepBusiness/internal/http/api"
	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/payments"
	"github.com/exampapers/ExamPrepBusiness/internal/subscription"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CheckoutFrontHandler starts purchases and lists the caller's payments.
type CheckoutFrontHandler struct {
	db     *gorm.DB
	ledger *payments.Ledger
}

// NewCheckoutFrontHandler constructs a CheckoutFrontHandler.
func NewCheckoutFrontHandler(db *gorm.DB, ledger *payments.Ledger) *CheckoutFrontHandler {
	return &CheckoutFrontHandler{db: db, ledger: ledger}
}

// checkoutRequest defines the request body for starting a purchase.
type checkoutRequest struct {
	TierID       uint64   `json:"tier_id"`
	BillingCycle string   `json:"billing_cycle"`
	PaymentType  string   `json:"payment_type"`
	Provider     string   `json:"provider"`
	GradeID      *uint64  `json:"grade_id"`
	SubjectIDs   []uint64 `json:"subject_ids"`
}

// Create records a pending transaction whose reference the client hands to
// the payment provider.
func (h *CheckoutFrontHandler) Create(c *gin.Context) {
	userID := auth.UserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body checkoutRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.TierID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tier_id is required"})
		return
	}
	if strings.TrimSpace(body.Provider) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider is required"})
		return
	}

	txn, errCreate := h.ledger.Create(c.Request.Context(), payments.CreateParams{
		UserID:       userID,
		TierID:       body.TierID,
		BillingCycle: models.BillingCycle(strings.ToLower(strings.TrimSpace(body.BillingCycle))),
		PaymentType:  models.PaymentType(strings.ToLower(strings.TrimSpace(body.PaymentType))),
		Provider:     body.Provider,
		Selection:    subscription.Selection{GradeID: body.GradeID, SubjectIDs: body.SubjectIDs},
	})
	if errCreate != nil {
		api.AbortWithError(c, errCreate, "create checkout failed")
		return
	}
	log.WithFields(log.Fields{"user_id": userID, "reference": txn.Reference, "provider": txn.PaymentProvider}).Info("checkout created")
	c.JSON(http.StatusCreated, gin.H{"transaction": formatTransaction(txn)})
}

// List returns the caller's transactions, newest first.
func (h *CheckoutFrontHandler) List(c *gin.Context) {
	userID := auth.UserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var rows []models.PaymentTransaction
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(100).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list transactions failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatTransaction(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

func formatTransaction(t *models.PaymentTransaction) gin.H {
	return gin.H{
		"reference":            t.Reference,
		"tier_id":              t.TierID,
		"amount":               t.Amount,
		"currency":             t.Currency,
		"status":               t.Status,
		"billing_cycle":        t.BillingCycle,
		"payment_type":         t.PaymentType,
		"payment_provider":     t.PaymentProvider,
		"selected_grade_id":    t.SelectedGradeID,
		"selected_subject_ids": t.SelectedSubjectIDs,
		"subscription_id":      t.SubscriptionID,
		"completed_at":         t.CompletedAt,
		"failed_at":            t.FailedAt,
		"failure_reason":       t.FailureReason,
		"created_at":           t.CreatedAt,
	}
}

package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/exampapers/ExamPrepBusiness/internal/auth"
	"github.com/exampapers/ExamPrepBusiness/internal/http/api"
	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/payments"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TransactionHandler lists payments and applies operator decisions.
type TransactionHandler struct {
	db     *gorm.DB
	ledger *payments.Ledger
}

// NewTransactionHandler constructs a TransactionHandler.
func NewTransactionHandler(db *gorm.DB, ledger *payments.Ledger) *TransactionHandler {
	return &TransactionHandler{db: db, ledger: ledger}
}

// List returns transactions filtered by query parameters.
func (h *TransactionHandler) List(c *gin.Context) {
	var (
		userIDQ   = strings.TrimSpace(c.Query("user_id"))
		statusQ   = strings.TrimSpace(c.Query("status"))
		providerQ = strings.TrimSpace(c.Query("provider"))
	)

	q := h.db.WithContext(c.Request.Context()).Model(&models.PaymentTransaction{})
	if userIDQ != "" {
		if id, errParse := strconv.ParseUint(userIDQ, 10, 64); errParse == nil {
			q = q.Where("user_id = ?", id)
		}
	}
	if statusQ != "" {
		q = q.Where("status = ?", statusQ)
	}
	if providerQ != "" {
		q = q.Where("payment_provider = ?", strings.ToLower(providerQ))
	}
	if c.Query("unprovisioned") == "true" {
		q = q.Where("status = ? AND subscription_id IS NULL", models.TransactionStatusCompleted)
	}

	limit, offset := pageParams(c)
	var rows []models.PaymentTransaction
	if errFind := q.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list transactions failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatTransaction(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

// decisionRequest captures the operator note for approve and reject.
type decisionRequest struct {
	ProviderTxnID string `json:"provider_txn_id"` // Receipt or mobile-money reference.
	Reason        string `json:"reason"`          // Rejection reason.
}

// Approve completes a pending manual transaction and provisions it.
func (h *TransactionHandler) Approve(c *gin.Context) {
	var body decisionRequest
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	reference := strings.TrimSpace(c.Param("reference"))
	result, errComplete := h.ledger.Complete(c.Request.Context(), payments.CompleteParams{
		Reference:     reference,
		Provider:      models.ProviderManual,
		ProviderTxnID: strings.TrimSpace(body.ProviderTxnID),
		Metadata:      datatypes.JSON(fmt.Sprintf(`{"approved_by":%d}`, auth.AdminID(c))),
	})
	if errComplete != nil {
		api.AbortWithError(c, errComplete, "approve transaction failed")
		return
	}
	log.WithFields(log.Fields{"reference": reference, "admin": auth.AdminUsername(c)}).Info("manual payment approved")
	c.JSON(http.StatusOK, formatResult(result))
}

// Reject fails a pending manual transaction.
func (h *TransactionHandler) Reject(c *gin.Context) {
	var body decisionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}
	reference := strings.TrimSpace(c.Param("reference"))
	txn, errFail := h.ledger.Fail(c.Request.Context(), reference, models.ProviderManual, reason)
	if errFail != nil {
		api.AbortWithError(c, errFail, "reject transaction failed")
		return
	}
	log.WithFields(log.Fields{"reference": reference, "admin": auth.AdminUsername(c)}).Info("manual payment rejected")
	c.JSON(http.StatusOK, gin.H{"transaction": formatTransaction(txn)})
}

// Reprovision retries provisioning for a completed transaction.
func (h *TransactionHandler) Reprovision(c *gin.Context) {
	reference := strings.TrimSpace(c.Param("reference"))
	result, errReprovision := h.ledger.Reprovision(c.Request.Context(), reference)
	if errReprovision != nil {
		api.AbortWithError(c, errReprovision, "reprovision failed")
		return
	}
	c.JSON(http.StatusOK, formatResult(result))
}

func formatResult(result *payments.Result) gin.H {
	if result == nil {
		return gin.H{}
	}
	return gin.H{
		"transaction":  formatTransaction(&result.Transaction),
		"subscription": formatSubscription(result.Subscription),
		"replayed":     result.Replayed,
	}
}

func formatTransaction(t *models.PaymentTransaction) gin.H {
	if t == nil {
		return nil
	}
	return gin.H{
		"id":                   t.ID,
		"reference":            t.Reference,
		"user_id":              t.UserID,
		"tier_id":              t.TierID,
		"amount":               t.Amount,
		"currency":             t.Currency,
		"status":               t.Status,
		"billing_cycle":        t.BillingCycle,
		"payment_type":         t.PaymentType,
		"payment_provider":     t.PaymentProvider,
		"provider_txn_id":      t.ProviderTxnID,
		"selected_grade_id":    t.SelectedGradeID,
		"selected_subject_ids": t.SelectedSubjectIDs,
		"subscription_id":      t.SubscriptionID,
		"provisioning_error":   t.ProvisioningError,
		"completed_at":         t.CompletedAt,
		"failed_at":            t.FailedAt,
		"failure_reason":       t.FailureReason,
		"created_at":           t.CreatedAt,
		"updated_at":           t.UpdatedAt,
	}
}

// pageParams reads limit and offset with a 50 row default and 500 row cap.
func pageParams(c *gin.Context) (int, int) {
	limit := 50
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if v, errParse := strconv.Atoi(raw); errParse == nil && v > 0 {
			limit = v
		}
	}
	if limit > 500 {
		limit = 500
	}
	offset := 0
	if raw := strings.TrimSpace(c.Query("offset")); raw != "" {
		if v, errParse := strconv.Atoi(raw); errParse == nil && v > 0 {
			offset = v
		}
	}
	return limit, offset
}

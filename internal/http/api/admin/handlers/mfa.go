package handlers

import (
	"net/http"
	"strings"

	"github.com/exampapers/ExamPrepBusiness/internal/auth"
	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/security"
	internalsettings "github.com/exampapers/ExamPrepBusiness/internal/settings"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MFAHandler manages the signed-in admin's TOTP second factor.
type MFAHandler struct {
	db *gorm.DB
}

// NewMFAHandler constructs an MFAHandler.
func NewMFAHandler(db *gorm.DB) *MFAHandler {
	return &MFAHandler{db: db}
}

// confirmTOTPRequest carries the prepared secret and a code generated from it.
type confirmTOTPRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

// disableTOTPRequest carries a code for the enabled secret.
type disableTOTPRequest struct {
	Code string `json:"code"`
}

// Status reports whether TOTP is enabled.
func (h *MFAHandler) Status(c *gin.Context) {
	admin, ok := h.currentAdmin(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"totp_enabled": admin.TOTPSecret != ""})
}

// PrepareTOTP returns a new secret. Nothing is stored until it is confirmed.
func (h *MFAHandler) PrepareTOTP(c *gin.Context) {
	admin, ok := h.currentAdmin(c)
	if !ok {
		return
	}
	if admin.TOTPSecret != "" {
		c.JSON(http.StatusConflict, gin.H{"error": "totp already enabled"})
		return
	}
	enrollment, errEnroll := security.NewTOTPEnrollment(internalsettings.SiteName, admin.Username)
	if errEnroll != nil {
		log.WithError(errEnroll).Error("prepare totp")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prepare totp failed"})
		return
	}
	c.JSON(http.StatusOK, enrollment)
}

// ConfirmTOTP stores a prepared secret once a valid code proves the
// authenticator holds it.
func (h *MFAHandler) ConfirmTOTP(c *gin.Context) {
	var body confirmTOTPRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	secret := strings.TrimSpace(body.Secret)
	if secret == "" || strings.TrimSpace(body.Code) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "secret and code are required"})
		return
	}
	admin, ok := h.currentAdmin(c)
	if !ok {
		return
	}
	if admin.TOTPSecret != "" {
		c.JSON(http.StatusConflict, gin.H{"error": "totp already enabled"})
		return
	}
	if !security.ValidateTOTP(body.Code, secret) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid totp code"})
		return
	}
	if !h.setSecret(c, admin.ID, secret) {
		return
	}
	log.WithField("admin", admin.Username).Info("totp enabled")
	c.JSON(http.StatusOK, gin.H{"totp_enabled": true})
}

// DisableTOTP clears the secret after checking a current code.
func (h *MFAHandler) DisableTOTP(c *gin.Context) {
	var body disableTOTPRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	admin, ok := h.currentAdmin(c)
	if !ok {
		return
	}
	if admin.TOTPSecret == "" {
		c.JSON(http.StatusOK, gin.H{"totp_enabled": false})
		return
	}
	if !security.ValidateTOTP(body.Code, admin.TOTPSecret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid totp code"})
		return
	}
	if !h.setSecret(c, admin.ID, "") {
		return
	}
	log.WithField("admin", admin.Username).Info("totp disabled")
	c.JSON(http.StatusOK, gin.H{"totp_enabled": false})
}

func (h *MFAHandler) currentAdmin(c *gin.Context) (*models.Admin, bool) {
	adminID := auth.AdminID(c)
	if adminID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).First(&admin, adminID).Error; errFind != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	return &admin, true
}

func (h *MFAHandler) setSecret(c *gin.Context, adminID uint64, secret string) bool {
	if errUpdate := h.db.WithContext(c.Request.Context()).
		Model(&models.Admin{}).
		Where("id = ?", adminID).
		Update("totp_secret", secret).Error; errUpdate != nil {
		log.WithError(errUpdate).Error("update totp secret")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update totp failed"})
		return false
	}
	return true
}

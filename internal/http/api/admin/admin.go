package admin

import (
	"github.com/exampapers/ExamPrepBusiness/internal/auth"
	handlers "github.com/exampapers/ExamPrepBusiness/internal/http/api/admin/handlers"
	"github.com/exampapers/ExamPrepBusiness/internal/maintenance"
	"github.com/exampapers/ExamPrepBusiness/internal/payments"
	"github.com/exampapers/ExamPrepBusiness/internal/referral"
	"github.com/exampapers/ExamPrepBusiness/internal/subscription"
	"github.com/exampapers/ExamPrepBusiness/internal/tiers"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps carries the services behind the admin API.
type Deps struct {
	DB            *gorm.DB
	Gate          *auth.Gate
	Catalog       *tiers.Catalog
	Ledger        *payments.Ledger
	Subscriptions *subscription.Service
	Referrals     *referral.Evaluator
	Scheduler     *maintenance.Scheduler
}

// RegisterAdminRoutes registers the health probe and admin routes.
func RegisterAdminRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)

	adminGroup := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(deps.DB, deps.Gate.Tokens())
	adminGroup.POST("/login", authHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(deps.Gate.RequireAdmin())

	mfaHandler := handlers.NewMFAHandler(deps.DB)
	authed.GET("/mfa/status", mfaHandler.Status)
	authed.POST("/mfa/totp/prepare", mfaHandler.PrepareTOTP)
	authed.POST("/mfa/totp/confirm", mfaHandler.ConfirmTOTP)
	authed.POST("/mfa/totp/disable", mfaHandler.DisableTOTP)

	tierHandler := handlers.NewTierHandler(deps.DB, deps.Catalog)
	authed.POST("/tiers", tierHandler.Create)
	authed.GET("/tiers", tierHandler.List)
	authed.GET("/tiers/:id", tierHandler.Get)
	authed.PUT("/tiers/:id", tierHandler.Update)
	authed.DELETE("/tiers/:id", tierHandler.Delete)
	authed.POST("/tiers/:id/enable", tierHandler.Enable)
	authed.POST("/tiers/:id/disable", tierHandler.Disable)

	transactionHandler := handlers.NewTransactionHandler(deps.DB, deps.Ledger)
	authed.GET("/transactions", transactionHandler.List)
	authed.POST("/transactions/:reference/approve", transactionHandler.Approve)
	authed.POST("/transactions/:reference/reject", transactionHandler.Reject)
	authed.POST("/transactions/:reference/reprovision", transactionHandler.Reprovision)

	subscriptionHandler := handlers.NewSubscriptionHandler(deps.DB, deps.Subscriptions)
	authed.GET("/subscriptions", subscriptionHandler.List)
	authed.POST("/users/:id/tier", subscriptionHandler.ChangeTier)

	maintenanceHandler := handlers.NewMaintenanceHandler(deps.Scheduler)
	authed.POST("/maintenance/run", maintenanceHandler.Run)

	referralHandler := handlers.NewReferralHandler(deps.DB, deps.Referrals)
	authed.POST("/referrals/evaluate", referralHandler.Evaluate)
	authed.GET("/referrals/logs", referralHandler.Logs)
}

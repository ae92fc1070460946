package front

import (
	"github.com/exampapers/ExamPrepBusiness/internal/access"
	"github.com/exampapers/ExamPrepBusiness/internal/auth"
	handlers "github.com/exampapers/ExamPrepBusiness/internal/http/api/front/handlers"
	"github.com/exampapers/ExamPrepBusiness/internal/payments"
	"github.com/exampapers/ExamPrepBusiness/internal/subscription"
	"github.com/exampapers/ExamPrepBusiness/internal/tiers"
	"github.com/exampapers/ExamPrepBusiness/internal/usage"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps carries the services behind the user-facing API.
type Deps struct {
	DB            *gorm.DB
	Gate          *auth.Gate
	Catalog       *tiers.Catalog
	Ledger        *payments.Ledger
	Subscriptions *subscription.Service
	Access        *access.Service
	Usage         *usage.Recorder
	DefaultWindow int
}

// RegisterFrontRoutes registers the user-facing routes.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}
	frontGroup := r.Group("/v0/front")

	tierHandler := handlers.NewTierFrontHandler(deps.Catalog, deps.DefaultWindow)
	frontGroup.GET("/tiers", tierHandler.List)

	authed := frontGroup.Group("")
	authed.Use(deps.Gate.RequireUser())

	subscriptionHandler := handlers.NewSubscriptionFrontHandler(deps.Subscriptions, deps.DefaultWindow)
	authed.GET("/subscription", subscriptionHandler.Get)
	authed.POST("/subscription/cancel", subscriptionHandler.Cancel)
	authed.POST("/subscription/resume", subscriptionHandler.Resume)
	authed.PUT("/subscription/selection", subscriptionHandler.UpdateSelection)

	checkoutHandler := handlers.NewCheckoutFrontHandler(deps.DB, deps.Ledger)
	authed.POST("/checkout", checkoutHandler.Create)
	authed.GET("/transactions", checkoutHandler.List)

	paperHandler := handlers.NewPaperFrontHandler(deps.Access, deps.Usage)
	authed.GET("/papers/access", paperHandler.Access)
	authed.POST("/papers/:id/open", paperHandler.Open)

	usageHandler := handlers.NewUsageFrontHandler(deps.Usage)
	authed.POST("/usage/tokens", usageHandler.RecordTokens)

	referralHandler := handlers.NewReferralFrontHandler(deps.DB)
	authed.GET("/referrals", referralHandler.Get)
}

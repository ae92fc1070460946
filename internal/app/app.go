package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/access"
	"github.com/exampapers/ExamPrepBusiness/internal/auth"
	"github.com/exampapers/ExamPrepBusiness/internal/config"
	"github.com/exampapers/ExamPrepBusiness/internal/db"
	"github.com/exampapers/ExamPrepBusiness/internal/http/api/admin"
	"github.com/exampapers/ExamPrepBusiness/internal/http/api/front"
	"github.com/exampapers/ExamPrepBusiness/internal/http/api/webhooks"
	"github.com/exampapers/ExamPrepBusiness/internal/logging"
	"github.com/exampapers/ExamPrepBusiness/internal/maintenance"
	"github.com/exampapers/ExamPrepBusiness/internal/payments"
	"github.com/exampapers/ExamPrepBusiness/internal/ratelimit"
	"github.com/exampapers/ExamPrepBusiness/internal/referral"
	"github.com/exampapers/ExamPrepBusiness/internal/security"
	internalsettings "github.com/exampapers/ExamPrepBusiness/internal/settings"
	"github.com/exampapers/ExamPrepBusiness/internal/subscription"
	"github.com/exampapers/ExamPrepBusiness/internal/tiers"
	"github.com/exampapers/ExamPrepBusiness/internal/usage"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Services holds the wired domain services for one process.
type Services struct {
	Config        config.Config
	DB            *gorm.DB
	Catalog       *tiers.Catalog
	Referrals     *referral.Evaluator
	Subscriptions *subscription.Service
	Ledger        *payments.Ledger
	Providers     *payments.Registry
	Access        *access.Service
	Usage         *usage.Recorder
	Scheduler     *maintenance.Scheduler
	RateLimiter   *ratelimit.Manager
	Redis         *redis.Client
}

// Close releases the Redis client when one was opened.
func (s *Services) Close() {
	if s == nil || s.Redis == nil {
		return
	}
	if errClose := s.Redis.Close(); errClose != nil {
		log.WithError(errClose).Warn("close redis client")
	}
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, configPath string) error {
	cfg, err := config.Load(config.ResolveConfigPath(configPath))
	if err != nil {
		return err
	}
	conn, err := db.Open(cfg.DSN())
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn.WithContext(ctx)); errMigrate != nil {
		return errMigrate
	}
	log.Info("database migrated")
	return nil
}

// NewServices wires the domain services on an open, migrated connection.
func NewServices(cfg config.Config, conn *gorm.DB) (*Services, error) {
	if conn == nil {
		return nil, fmt.Errorf("app: nil db")
	}
	svc := &Services{Config: cfg, DB: conn}
	svc.Catalog = tiers.NewCatalog(conn, internalsettings.DefaultCatalogMaxAge)
	svc.Referrals = referral.NewEvaluator()
	svc.Subscriptions = subscription.NewService(conn, svc.Catalog, svc.Referrals)
	svc.Ledger = payments.NewLedger(conn, svc.Subscriptions)
	svc.Providers = payments.NewRegistry(configuredProviders(cfg.Payments)...)
	svc.Access = access.NewService(conn, svc.Subscriptions, cfg.Access.RecentPapersWindow)
	svc.Usage = usage.NewRecorder(conn, svc.Catalog, svc.Subscriptions, svc.Access)

	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = internalsettings.DefaultRedisPrefix
	}
	var primary maintenance.Locker
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		svc.Redis = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		primary = maintenance.NewRedisLocker(svc.Redis, redisPrefix)
	}
	svc.RateLimiter = ratelimit.NewManager(ratelimit.SettingsConfig{
		Limit:        cfg.RateLimit.Limit,
		WebhookLimit: cfg.RateLimit.WebhookLimit,
		UseRedis:     cfg.RateLimit.UseRedis,
		RedisPrefix:  redisPrefix + ":rl",
	}, svc.Redis, time.Now)

	scheduler, errScheduler := maintenance.NewScheduler(
		maintenance.NewSweeper(conn, svc.Subscriptions),
		maintenance.NewFallbackLocker(primary),
		maintenance.SchedulerConfig{
			RunAt:    cfg.Maintenance.RunAt,
			Timezone: cfg.Maintenance.Timezone,
			LockTTL:  cfg.Maintenance.LockTTL,
		},
	)
	if errScheduler != nil {
		svc.Close()
		return nil, errScheduler
	}
	svc.Scheduler = scheduler
	return svc, nil
}

// configuredProviders returns the payment providers with complete settings.
func configuredProviders(cfg config.PaymentsConfig) []payments.Provider {
	var out []payments.Provider
	if stripe := payments.NewStripeProvider(cfg.Stripe.WebhookSecret, cfg.Stripe.Tolerance); stripe != nil {
		out = append(out, stripe)
	}
	paypal := payments.NewPayPalProvider(payments.PayPalConfig{
		BaseURL:      cfg.PayPal.BaseURL,
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		WebhookID:    cfg.PayPal.WebhookID,
	}, nil)
	if paypal != nil {
		out = append(out, paypal)
	}
	return out
}

// NewEngine builds the gin engine with every route group registered.
func NewEngine(svc *Services, tokens *security.TokenService) *gin.Engine {
	gate := auth.NewGate(svc.DB, tokens, svc.RateLimiter)

	engine := gin.New()
	engine.Use(gin.Recovery(), logging.GinLogger())

	admin.RegisterAdminRoutes(engine, admin.Deps{
		DB:            svc.DB,
		Gate:          gate,
		Catalog:       svc.Catalog,
		Ledger:        svc.Ledger,
		Subscriptions: svc.Subscriptions,
		Referrals:     svc.Referrals,
		Scheduler:     svc.Scheduler,
	})
	front.RegisterFrontRoutes(engine, front.Deps{
		DB:            svc.DB,
		Gate:          gate,
		Catalog:       svc.Catalog,
		Ledger:        svc.Ledger,
		Subscriptions: svc.Subscriptions,
		Access:        svc.Access,
		Usage:         svc.Usage,
		DefaultWindow: svc.Config.Access.RecentPapersWindow,
	})
	webhooks.RegisterRoutes(engine, gate, svc.Providers, svc.Ledger)

	engine.NoRoute(func(c *gin.Context) {
		if isAPIRoute(c.Request.URL.Path) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.Status(http.StatusNotFound)
	})
	return engine
}

// RunServer loads the config and serves the API until ctx is cancelled.
func RunServer(ctx context.Context, configPath string, portOverride int) error {
	cfg, err := config.Load(config.ResolveConfigPath(configPath))
	if err != nil {
		return err
	}
	logCloser, errLog := logging.Setup(cfg.Log)
	if errLog != nil {
		return errLog
	}
	defer func() { _ = logCloser.Close() }()

	conn, err := db.Open(cfg.DSN())
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if initialized, errInit := HasAdminInitialized(conn); errInit != nil {
		return errInit
	} else if !initialized {
		log.Warn("no admin account exists, create one with -create-admin")
	}

	tokens, err := security.NewTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, internalsettings.SiteName)
	if err != nil {
		return err
	}
	svc, err := NewServices(cfg, conn)
	if err != nil {
		return err
	}
	defer svc.Close()

	if cfg.Maintenance.Enabled {
		svc.Scheduler.Start(ctx)
	}

	gin.SetMode(gin.ReleaseMode)
	port := cfg.Port
	if portOverride > 0 {
		port = portOverride
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewEngine(svc, tokens),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("server shutdown error: %v", errShutdown)
		}
	}()

	log.Infof("starting server on %s", srv.Addr)
	if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
		return errListen
	}
	return nil
}

// RunMaintenanceOnce runs a single locked sweep and logs its summary.
func RunMaintenanceOnce(ctx context.Context, configPath string) (maintenance.Summary, error) {
	cfg, err := config.Load(config.ResolveConfigPath(configPath))
	if err != nil {
		return maintenance.Summary{}, err
	}
	conn, err := db.Open(cfg.DSN())
	if err != nil {
		return maintenance.Summary{}, err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return maintenance.Summary{}, errMigrate
	}
	svc, err := NewServices(cfg, conn)
	if err != nil {
		return maintenance.Summary{}, err
	}
	defer svc.Close()

	summary, ran, err := svc.Scheduler.RunLocked(ctx)
	if err != nil {
		return summary, err
	}
	if !ran {
		log.Info("maintenance skipped, another instance holds the lock")
		return summary, nil
	}
	log.WithFields(log.Fields{
		"candidates":        summary.Candidates,
		"periods_reset":     summary.PeriodsReset,
		"yearly_expired":    summary.YearlyExpired,
		"lapsed_downgraded": summary.LapsedDowngraded,
		"failed":            summary.Failed,
	}).Info("maintenance finished")
	return summary, nil
}

// nowUTC returns the current UTC time.
func nowUTC() time.Time { return time.Now().UTC() }

// isAPIRoute reports whether a path targets API endpoints.
func isAPIRoute(requestPath string) bool {
	if requestPath == "/healthz" || strings.HasPrefix(requestPath, "/healthz/") {
		return true
	}
	return requestPath == "/v0" || strings.HasPrefix(requestPath, "/v0/")
}

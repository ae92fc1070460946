package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

func autoMigrate(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.AIModel{},
		&models.SubscriptionTier{},
		&models.User{},
		&models.UserSubscription{},
		&models.PaymentTransaction{},
		&models.Referral{},
		&models.ReferralPointsLog{},
		&models.SubscriptionLog{},
		&models.ExamPaper{},
		&models.Conversation{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	return nil
}

// migratePostgres applies PostgreSQL-specific schema updates and indexes.
func migratePostgres(conn *gorm.DB) error {
	if errAuto := autoMigrate(conn); errAuto != nil {
		return errAuto
	}
	if errShared := migrateShared(conn); errShared != nil {
		return errShared
	}
	if errCheck := conn.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_user_subscriptions_status') THEN
				ALTER TABLE user_subscriptions
				ADD CONSTRAINT chk_user_subscriptions_status CHECK (status IN ('active', 'expired', 'cancelled'));
			END IF;
			IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_payment_transactions_status') THEN
				ALTER TABLE payment_transactions
				ADD CONSTRAINT chk_payment_transactions_status CHECK (status IN ('pending', 'completed', 'failed'));
			END IF;
		END $$;
	`).Error; errCheck != nil {
		return fmt.Errorf("db: add status checks: %w", errCheck)
	}
	return seedCatalog(conn)
}

// migrateSQLite applies SQLite schema updates and indexes.
func migrateSQLite(conn *gorm.DB) error {
	if errAuto := autoMigrate(conn); errAuto != nil {
		return errAuto
	}
	if errShared := migrateShared(conn); errShared != nil {
		return errShared
	}
	return seedCatalog(conn)
}

// migrateShared creates the partial indexes both dialects support.
func migrateShared(conn *gorm.DB) error {
	now := time.Now().UTC()
	// Rows written before the one-active index existed may collide; keep the newest.
	if errDedupe := conn.Exec(`
		UPDATE user_subscriptions
		SET status = ?, ended_at = ?, updated_at = ?
		WHERE status = ? AND id NOT IN (
			SELECT MAX(id) FROM user_subscriptions WHERE status = ? GROUP BY user_id
		)
	`, models.SubscriptionStatusExpired, now, now, models.SubscriptionStatusActive, models.SubscriptionStatusActive).Error; errDedupe != nil {
		return fmt.Errorf("db: dedupe active subscriptions: %w", errDedupe)
	}
	if errActive := conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_user_subscriptions_one_active
		ON user_subscriptions (user_id) WHERE status = 'active'
	`).Error; errActive != nil {
		return fmt.Errorf("db: create one-active index: %w", errActive)
	}
	if errDue := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_user_subscriptions_active_due
		ON user_subscriptions (period_end_date) WHERE status = 'active'
	`).Error; errDue != nil {
		return fmt.Errorf("db: create due index: %w", errDue)
	}
	if errProviderTxn := conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_transactions_provider_txn
		ON payment_transactions (payment_provider, provider_txn_id) WHERE provider_txn_id <> ''
	`).Error; errProviderTxn != nil {
		return fmt.Errorf("db: create provider txn index: %w", errProviderTxn)
	}
	if errAwarded := conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_referral_points_logs_awarded
		ON referral_points_logs (referrer_id, subscription_id) WHERE status = 'awarded'
	`).Error; errAwarded != nil {
		return fmt.Errorf("db: create awarded index: %w", errAwarded)
	}
	return nil
}

// seedCatalog inserts the default AI model and tiers into an empty catalog.
func seedCatalog(conn *gorm.DB) error {
	var tierCount int64
	if errCount := conn.Model(&models.SubscriptionTier{}).Count(&tierCount).Error; errCount != nil {
		return fmt.Errorf("db: count tiers: %w", errCount)
	}
	if tierCount > 0 {
		return nil
	}

	model, errModel := ensureDefaultAIModel(conn)
	if errModel != nil {
		return errModel
	}
	modelID := model.ID
	for _, tier := range DefaultTiers() {
		tier.AIModelID = &modelID
		if errCreate := conn.Create(&tier).Error; errCreate != nil {
			return fmt.Errorf("db: seed tier %s: %w", tier.Name, errCreate)
		}
	}
	return nil
}

func ensureDefaultAIModel(conn *gorm.DB) (*models.AIModel, error) {
	var model models.AIModel
	errFind := conn.Where("is_active = ?", true).Order("id ASC").First(&model).Error
	if errFind == nil {
		return &model, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("db: find ai model: %w", errFind)
	}
	model = models.AIModel{
		Provider:    "gemini",
		ModelID:     "gemini-2.0-flash",
		DisplayName: "Gemini Flash",
		IsActive:    true,
	}
	if errCreate := conn.Create(&model).Error; errCreate != nil {
		return nil, fmt.Errorf("db: seed ai model: %w", errCreate)
	}
	return &model, nil
}

// DefaultTiers returns the tiers seeded into a fresh database.
func DefaultTiers() []models.SubscriptionTier {
	return []models.SubscriptionTier{
		{
			Name:        models.FreeTierName,
			DisplayName: "Free",
			TokenLimit:  50_000,
			PapersLimit: 2,
			Currency:    "USD",
			IsActive:    true,
			SortOrder:   0,
		},
		{
			Name:                  "student_lite",
			DisplayName:           "Student Lite",
			TokenLimit:            200_000,
			PapersLimit:           models.Unlimited,
			MaxSubjects:           3,
			CanSelectGrade:        true,
			CanSelectSubjects:     true,
			PriceMonthly:          decimal.RequireFromString("4.99"),
			PriceYearly:           decimal.RequireFromString("49.99"),
			Currency:              "USD",
			ReferralPointsAwarded: 50,
			IsActive:              true,
			SortOrder:             10,
		},
		{
			Name:                  "student",
			DisplayName:           "Student",
			TokenLimit:            500_000,
			PapersLimit:           models.Unlimited,
			MaxSubjects:           6,
			CanSelectGrade:        true,
			CanSelectSubjects:     true,
			PriceMonthly:          decimal.RequireFromString("9.99"),
			PriceYearly:           decimal.RequireFromString("99.99"),
			Currency:              "USD",
			ReferralPointsAwarded: 100,
			IsActive:              true,
			SortOrder:             20,
		},
		{
			Name:                  "pro",
			DisplayName:           "Pro",
			TokenLimit:            models.Unlimited,
			PapersLimit:           models.Unlimited,
			PriceMonthly:          decimal.RequireFromString("19.99"),
			PriceYearly:           decimal.RequireFromString("199.99"),
			Currency:              "USD",
			ReferralPointsAwarded: 200,
			IsActive:              true,
			SortOrder:             30,
		},
	}
}

package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/exampapers/ExamPrepBusiness/internal/config"
	"github.com/exampapers/ExamPrepBusiness/internal/db"
	"github.com/exampapers/ExamPrepBusiness/internal/models"
	"github.com/exampapers/ExamPrepBusiness/internal/security"
	internalsettings "github.com/exampapers/ExamPrepBusiness/internal/settings"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// ErrConfigExists is returned when init would overwrite an existing config file.
var ErrConfigExists = errors.New("app: config file already exists")

// InitRequest contains parameters for first-time setup.
type InitRequest struct {
	DatabaseDSN      string
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     int
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	DatabasePath     string
	DatabaseSSLMode  string
	Port             int
	AdminUsername    string
	AdminPassword    string
}

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false
	}
	return true
}

// defaultSQLitePath is the default SQLite database file name.
const defaultSQLitePath = "examprep.db"

// minAdminPasswordLength is the shortest accepted admin password.
const minAdminPasswordLength = 6

// BuildDSN builds a database DSN from the init request. An explicit DSN wins.
func BuildDSN(req InitRequest) (string, error) {
	if dsn := strings.TrimSpace(req.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	switch strings.ToLower(strings.TrimSpace(req.DatabaseType)) {
	case "", "sqlite":
		path := strings.TrimSpace(req.DatabasePath)
		if path == "" {
			path = defaultSQLitePath
		}
		if strings.HasPrefix(strings.ToLower(path), "file:") {
			return path, nil
		}
		return "file:" + path, nil
	case "postgres":
		if strings.TrimSpace(req.DatabaseHost) == "" || strings.TrimSpace(req.DatabaseName) == "" {
			return "", fmt.Errorf("database host and name are required")
		}
		port := req.DatabasePort
		if port <= 0 {
			port = 5432
		}
		sslMode := req.DatabaseSSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			req.DatabaseUser,
			req.DatabasePassword,
			req.DatabaseHost,
			port,
			req.DatabaseName,
			sslMode,
		), nil
	default:
		return "", fmt.Errorf("unsupported database type %q", req.DatabaseType)
	}
}

// TestDatabaseConnection validates that the DSN can connect and ping.
func TestDatabaseConnection(dsn string) error {
	conn, err := db.Open(dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql db: %w", err)
	}
	defer func() {
		if errClose := sqlDB.Close(); errClose != nil {
			log.Errorf("sql db close error: %v", errClose)
		}
	}()
	return sqlDB.Ping()
}

// Initialize writes a fresh config file, migrates the database and creates the
// first admin. It refuses to overwrite an existing config.
func Initialize(configPath string, req InitRequest) error {
	if ConfigExists(configPath) {
		return fmt.Errorf("%w: %s", ErrConfigExists, configPath)
	}
	req.AdminUsername = strings.TrimSpace(req.AdminUsername)
	if req.AdminUsername == "" {
		return fmt.Errorf("admin username is required")
	}
	if len(req.AdminPassword) < minAdminPasswordLength {
		return fmt.Errorf("admin password must be at least %d characters", minAdminPasswordLength)
	}
	dsn, err := BuildDSN(req)
	if err != nil {
		return err
	}
	if errTest := TestDatabaseConnection(dsn); errTest != nil {
		return errTest
	}

	port := req.Port
	if port <= 0 {
		port = internalsettings.DefaultPort
	}
	if errWrite := WriteConfigFile(configPath, dsn, port); errWrite != nil {
		return errWrite
	}
	if errAdmin := CreateAdminUser(dsn, req.AdminUsername, req.AdminPassword); errAdmin != nil {
		return errAdmin
	}
	log.Infof("initialized config at %s", configPath)
	return nil
}

// configFile maps YAML fields for the generated config file.
type configFile struct {
	Port        int            `yaml:"port"`
	DatabaseDSN string         `yaml:"database-dsn"`
	JWT         jwtCfg         `yaml:"jwt"`
	Log         logCfg         `yaml:"log"`
	Maintenance maintenanceCfg `yaml:"maintenance"`
}

// jwtCfg holds JWT settings for the generated config file.
type jwtCfg struct {
	Secret string `yaml:"secret"`
	Expiry string `yaml:"expiry"`
}

type logCfg struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type maintenanceCfg struct {
	Enabled  bool   `yaml:"enabled"`
	RunAt    string `yaml:"run-at"`
	Timezone string `yaml:"timezone"`
}

// generateJWTSecret creates a random JWT secret string.
func generateJWTSecret() string {
	secret, err := security.GenerateRandomString(32)
	if err != nil {
		return "change-me-to-a-secure-random-string"
	}
	return secret
}

// WriteConfigFile writes the initial config file to disk.
func WriteConfigFile(configPath string, dsn string, port int) error {
	cfg := configFile{
		Port:        port,
		DatabaseDSN: dsn,
		JWT: jwtCfg{
			Secret: generateJWTSecret(),
			Expiry: internalsettings.DefaultJWTExpiry.String(),
		},
		Log: logCfg{Level: "info", Format: "text"},
		Maintenance: maintenanceCfg{
			Enabled:  true,
			RunAt:    internalsettings.DefaultMaintenanceRunAt,
			Timezone: internalsettings.DefaultMaintenanceTimezone,
		},
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if errMkdir := os.MkdirAll(dir, 0755); errMkdir != nil {
		return fmt.Errorf("create config dir: %w", errMkdir)
	}

	if errWrite := os.WriteFile(configPath, data, 0600); errWrite != nil {
		return fmt.Errorf("write config file: %w", errWrite)
	}

	return nil
}

// CreateAdminUser opens the database, migrates it and creates an admin.
func CreateAdminUser(dsn string, username, password string) error {
	conn, err := db.Open(dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return fmt.Errorf("migrate database: %w", errMigrate)
	}
	return CreateAdminUserWithConn(conn, username, password)
}

// CreateAdminUserWithConn creates an active admin with a bcrypt password.
func CreateAdminUserWithConn(conn *gorm.DB, username, password string) error {
	if conn == nil {
		return fmt.Errorf("open database: nil connection")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("create admin: empty username")
	}

	hashedPassword, errHash := security.HashPassword(password)
	if errHash != nil {
		return fmt.Errorf("hash password: %w", errHash)
	}

	now := nowUTC()
	admin := models.Admin{
		Username:  username,
		Password:  hashedPassword,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if errCreate := conn.Create(&admin).Error; errCreate != nil {
		if db.IsUniqueViolation(errCreate) {
			return fmt.Errorf("create admin: username %q already exists", username)
		}
		return fmt.Errorf("create admin: %w", errCreate)
	}
	return nil
}

// HasAdminInitialized reports whether at least one active admin exists. A
// database that has not been migrated yet reports false.
func HasAdminInitialized(conn *gorm.DB) (bool, error) {
	if conn == nil {
		return false, fmt.Errorf("nil db")
	}
	if !conn.Migrator().HasTable(&models.Admin{}) {
		return false, nil
	}
	var count int64
	if errCount := conn.Model(&models.Admin{}).Where("active = ?", true).Count(&count).Error; errCount != nil {
		return false, fmt.Errorf("count admins: %w", errCount)
	}
	return count > 0, nil
}

// CreateAdmin creates an admin in the database named by the config file.
func CreateAdmin(configPath, username, password string) error {
	cfg, err := config.Load(config.ResolveConfigPath(configPath))
	if err != nil {
		return err
	}
	if len(password) < minAdminPasswordLength {
		return fmt.Errorf("admin password must be at least %d characters", minAdminPasswordLength)
	}
	if errCreate := CreateAdminUser(cfg.DSN(), username, password); errCreate != nil {
		return errCreate
	}
	log.Infof("admin %s created", strings.TrimSpace(username))
	return nil
}

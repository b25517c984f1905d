package db

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mhuici/tamarindo-reports-sub000/internal/db/models"
	"github.com/mhuici/tamarindo-reports-sub000/internal/logging"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const cronSecretKey = "cron_secret"

// AllModels lists every table the service owns, in migration order.
var AllModels = []any{
	&models.Config{},
	&models.Tenant{},
	&models.Client{},
	&models.DataSource{},
	&models.PlatformAccount{},
	&models.ClientAccountLink{},
	&models.MetricRecord{},
	&models.SyncRun{},
}

// InitDB opens the SQLite database at dbPath and runs migrations.
func InitDB(dbPath string, logSQL bool) (*gorm.DB, error) {
	level := logger.Silent
	if logSQL {
		level = logger.Info
	}
	db, err := gorm.Open(sqlite.Open(withPragmas(dbPath)), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates all tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func withPragmas(dbPath string) string {
	if strings.Contains(dbPath, "_pragma=") || strings.Contains(dbPath, ":memory:") {
		return dbPath
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// EnsureCronSecret returns the secret guarding the healing endpoint.
// A configured value wins and is persisted; otherwise the stored one is
// used, and on first run a new one is generated.
func EnsureCronSecret(db *gorm.DB, configured string) (string, error) {
	if configured != "" {
		err := db.Save(&models.Config{Key: cronSecretKey, Value: configured}).Error
		return configured, err
	}

	var cfg models.Config
	err := db.Where("key = ?", cronSecretKey).First(&cfg).Error
	if err == nil && cfg.Value != "" {
		return cfg.Value, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	secret, err := newSecret()
	if err != nil {
		return "", err
	}
	if err := db.Save(&models.Config{Key: cronSecretKey, Value: secret}).Error; err != nil {
		return "", err
	}
	logging.Info().Str("cron_secret", logging.MaskToken(secret)).Msg("generated new cron secret")
	return secret, nil
}

// RegenerateCronSecret replaces the stored cron secret.
func RegenerateCronSecret(db *gorm.DB) (string, error) {
	secret, err := newSecret()
	if err != nil {
		return "", err
	}
	if err := db.Save(&models.Config{Key: cronSecretKey, Value: secret, UpdatedAt: time.Now()}).Error; err != nil {
		return "", err
	}
	logging.Info().Msg("regenerated cron secret")
	return secret, nil
}

func newSecret() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return "cron-" + hex.EncodeToString(b), nil
}

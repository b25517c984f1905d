// Package config loads service configuration from defaults, an optional
// YAML file and TAMARINDO_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override. Nested keys use a
	// double underscore: TAMARINDO_SYNC__HEALING_DAYS=14.
	EnvPrefix = "TAMARINDO_"
	// PathEnvVar names an explicit config file.
	PathEnvVar = "TAMARINDO_CONFIG"
)

// DefaultPaths are searched when PathEnvVar is unset.
var DefaultPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Security  SecurityConfig  `koanf:"security"`
	Sync      SyncConfig      `koanf:"sync"`
	Logging   LoggingConfig   `koanf:"logging"`
	Platforms PlatformsConfig `koanf:"platforms"`
}

type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port" validate:"min=1,max=65535"`
	PublicURL         string        `koanf:"public_url" validate:"omitempty,url"` // base for OAuth redirect URIs
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type DatabaseConfig struct {
	Path   string `koanf:"path" validate:"required"`
	LogSQL bool   `koanf:"log_sql"`
}

type SecurityConfig struct {
	EncryptionSecret string        `koanf:"encryption_secret" validate:"required,min=16"`
	CronSecret       string        `koanf:"cron_secret"` // generated and stored on first run when empty
	StateTTL         time.Duration `koanf:"state_ttl" validate:"gt=0"`
}

type SyncConfig struct {
	TTL                 time.Duration `koanf:"ttl" validate:"gt=0"`
	HealingDays         int           `koanf:"healing_days" validate:"min=1,max=90"`
	HealingCron         string        `koanf:"healing_cron" validate:"required"`
	Concurrency         int           `koanf:"concurrency" validate:"min=1,max=32"`
	RequestTimeout      time.Duration `koanf:"request_timeout" validate:"gt=0"`
	RefreshBuffer       time.Duration `koanf:"refresh_buffer" validate:"gte=0"`
	RefreshLoopInterval time.Duration `koanf:"refresh_loop_interval" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

type PlatformsConfig struct {
	CatalogFile string             `koanf:"catalog_file"`
	GoogleAds   PlatformCredential `koanf:"google_ads"`
	MetaAds     PlatformCredential `koanf:"meta_ads"`
	GA4         PlatformCredential `koanf:"ga4"`
}

// PlatformCredential is the OAuth client registered with a platform.
type PlatformCredential struct {
	ClientID       string `koanf:"client_id"`
	ClientSecret   string `koanf:"client_secret"`
	DeveloperToken string `koanf:"developer_token"` // Google Ads only
}

// Configured reports whether an OAuth client is set.
func (p PlatformCredential) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "tamarindo.db",
		},
		Security: SecurityConfig{
			StateTTL: 10 * time.Minute,
		},
		Sync: SyncConfig{
			TTL:                 time.Hour,
			HealingDays:         7,
			HealingCron:         "0 */6 * * *",
			Concurrency:         1,
			RequestTimeout:      30 * time.Second,
			RefreshBuffer:       5 * time.Minute,
			RefreshLoopInterval: 15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration and validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envTransformFunc maps TAMARINDO_SYNC__HEALING_DAYS to sync.healing_days.
// Variables without a section separator are not configuration keys and
// are skipped.
func envTransformFunc(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	if !strings.Contains(key, "__") {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), redact(fe)))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func redact(fe validator.FieldError) any {
	if strings.Contains(strings.ToLower(fe.Field()), "secret") {
		return "<redacted>"
	}
	return fe.Value()
}

// Addr is the HTTP listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Package config handles application configuration from defaults, an
// optional YAML file and environment variables.
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

// FileEnvVar names the environment variable holding the config file path.
const FileEnvVar = "BACKUP_CONFIG_FILE"

// Defaults.
const (
	DefaultBackupDir         = "./backups"
	DefaultFormat            = "json"
	DefaultIndent            = 4
	DefaultRepositoryDriver  = "sqlite"
	DefaultRepositoryDSN     = "file:backup.db"
	DefaultSourceDriver      = "sqlite"
	DefaultConcurrency       = 1
	DefaultSMTPPort          = 587
	DefaultSubjectPrefix     = "[backup]"
	DefaultNotifyMaxRetries  = 3
	DefaultNotifyInitial     = 1 * time.Second
	DefaultNotifyMaxDelay    = 10 * time.Second
	DefaultNotifyMultiplier  = 2.0
	DefaultBreakerFailures   = 5
	DefaultBreakerOpenPeriod = 1 * time.Minute
)

// Config holds all application configuration.
type Config struct {
	// Archive options
	BackupDir   string        `koanf:"backup_dir" validate:"required"`
	Format      string        `koanf:"format" validate:"oneof=json yaml"`
	Indent      int           `koanf:"indent" validate:"min=0,max=16"`
	Concurrency int           `koanf:"concurrency" validate:"min=1,max=64"`
	MinInterval time.Duration `koanf:"min_interval"`
	ForceBackup bool          `koanf:"force_backup"`

	// Archive metadata database
	Repository DatabaseConfig `koanf:"repository"`

	// Database the collections are dumped from and restored into
	Source DatabaseConfig `koanf:"source"`

	Mail    MailConfig    `koanf:"mail"`
	Notify  NotifyConfig  `koanf:"notify"`
	Metrics MetricsConfig `koanf:"metrics"`
	Logging LoggingConfig `koanf:"logging"`
}

// DatabaseConfig selects a database driver and DSN.
type DatabaseConfig struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres memory"`
	DSN    string `koanf:"dsn"`
}

// MailConfig holds SMTP settings. Mail is disabled when Host is empty.
type MailConfig struct {
	Host          string `koanf:"host"`
	Port          int    `koanf:"port" validate:"min=1,max=65535"`
	Username      string `koanf:"username"`
	Password      string `koanf:"password"`
	From          string `koanf:"from" validate:"omitempty,email"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// NotifyConfig controls retries and the circuit breaker around mail delivery.
type NotifyConfig struct {
	MaxRetries        int           `koanf:"max_retries" validate:"min=0,max=10"`
	InitialDelay      time.Duration `koanf:"initial_delay"`
	MaxDelay          time.Duration `koanf:"max_delay"`
	Multiplier        float64       `koanf:"multiplier" validate:"gte=1"`
	BreakerFailures   uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerOpenPeriod time.Duration `koanf:"breaker_open_period"`
}

// MetricsConfig controls the HTTP metrics and health server. Port 0 disables it.
type MetricsConfig struct {
	Port int `koanf:"port" validate:"min=0,max=65535"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		BackupDir:   DefaultBackupDir,
		Format:      DefaultFormat,
		Indent:      DefaultIndent,
		Concurrency: DefaultConcurrency,
		Repository: DatabaseConfig{
			Driver: DefaultRepositoryDriver,
			DSN:    DefaultRepositoryDSN,
		},
		Source: DatabaseConfig{
			Driver: DefaultSourceDriver,
		},
		Mail: MailConfig{
			Port:          DefaultSMTPPort,
			SubjectPrefix: DefaultSubjectPrefix,
		},
		Notify: NotifyConfig{
			MaxRetries:        DefaultNotifyMaxRetries,
			InitialDelay:      DefaultNotifyInitial,
			MaxDelay:          DefaultNotifyMaxDelay,
			Multiplier:        DefaultNotifyMultiplier,
			BreakerFailures:   DefaultBreakerFailures,
			BreakerOpenPeriod: DefaultBreakerOpenPeriod,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or $BACKUP_CONFIG_FILE when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(FileEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envKeys maps environment variables to configuration paths.
var envKeys = map[string]string{
	"BACKUP_DIR":          "backup_dir",
	"BACKUP_FORMAT":       "format",
	"BACKUP_INDENT":       "indent",
	"BACKUP_CONCURRENCY":  "concurrency",
	"BACKUP_MIN_INTERVAL": "min_interval",
	"FORCE_BACKUP":        "force_backup",

	"REPOSITORY_DRIVER": "repository.driver",
	"REPOSITORY_DSN":    "repository.dsn",
	"SOURCE_DRIVER":     "source.driver",
	"SOURCE_DSN":        "source.dsn",
	"DATABASE_URL":      "source.dsn",

	"SMTP_HOST":           "mail.host",
	"SMTP_PORT":           "mail.port",
	"SMTP_USERNAME":       "mail.username",
	"SMTP_PASSWORD":       "mail.password",
	"SMTP_FROM":           "mail.from",
	"MAIL_SUBJECT_PREFIX": "mail.subject_prefix",

	"NOTIFY_MAX_RETRIES":         "notify.max_retries",
	"NOTIFY_INITIAL_DELAY":       "notify.initial_delay",
	"NOTIFY_MAX_DELAY":           "notify.max_delay",
	"NOTIFY_MULTIPLIER":          "notify.multiplier",
	"NOTIFY_BREAKER_FAILURES":    "notify.breaker_failures",
	"NOTIFY_BREAKER_OPEN_PERIOD": "notify.breaker_open_period",

	"METRICS_PORT": "metrics.port",
	"LOG_LEVEL":    "logging.level",
	"LOG_FORMAT":   "logging.format",
}

// envKey returns the configuration path for an environment variable, or ""
// to ignore it.
func envKey(name string) string {
	return envKeys[strings.ToUpper(name)]
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Source.Driver == "memory" {
		return fmt.Errorf("invalid configuration: source driver must be sqlite or postgres")
	}

	if c.Repository.Driver != "memory" && c.Repository.DSN == "" {
		return fmt.Errorf("invalid configuration: repository DSN is required for %s", c.Repository.Driver)
	}

	if c.MinInterval < 0 {
		return fmt.Errorf("invalid configuration: min interval must be non-negative")
	}

	if c.Mail.Host != "" && c.Mail.From == "" {
		return fmt.Errorf("invalid configuration: mail sender is required when SMTP host is set")
	}

	if c.Notify.InitialDelay <= 0 || c.Notify.MaxDelay < c.Notify.InitialDelay {
		return fmt.Errorf("invalid configuration: notify delays must satisfy 0 < initial <= max")
	}

	if c.Notify.BreakerOpenPeriod <= 0 {
		return fmt.Errorf("invalid configuration: breaker open period must be positive")
	}

	return nil
}

// MailEnabled reports whether notifications can be delivered.
func (c *Config) MailEnabled() bool {
	return c.Mail.Host != ""
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "email":
		return field + " must be a valid email address"
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

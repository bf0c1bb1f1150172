// Package config loads TrainTrack configuration.
//
// Values come from traintrack.yaml (optional) and TRAINTRACK_* environment
// variables, in increasing precedence, and are validated before use.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/BTreeMap/TrainTrack/internal/scheduler"
)

// Default values.
const (
	DefaultStateDir         = "/var/lib/traintrack"
	DefaultDBFileName       = "traintrack.db"
	DefaultCutoff           = "23:49"
	DefaultFireAt           = "23:50"
	DefaultTimezone         = "Europe/Madrid"
	DefaultAbandonThreshold = 3
	DefaultAuditTolerance   = 5 * time.Minute
	DefaultLogLevel         = "info"
)

// Config is the complete TrainTrack configuration.
type Config struct {
	StateDir string         `mapstructure:"state_dir" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig selects the store. A Postgres connection string selects
// Postgres; anything else is treated as a SQLite file path.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn" validate:"required"`
}

// SweeperConfig controls the daily missed-session sweep.
type SweeperConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	RunOnStart       bool   `mapstructure:"run_on_start"`
	Cutoff           string `mapstructure:"cutoff" validate:"required,clock"`
	FireAt           string `mapstructure:"fire_at" validate:"required,clock"`
	Timezone         string `mapstructure:"timezone" validate:"required,timezone"`
	AbandonThreshold int    `mapstructure:"abandon_threshold" validate:"min=1"`
}

// AuditConfig controls the consistency auditor.
type AuditConfig struct {
	Tolerance time.Duration `mapstructure:"tolerance" validate:"gt=0"`
	// Schedule is an optional 5-field cron expression for periodic audits.
	Schedule   string `mapstructure:"schedule"`
	AutoRepair bool   `mapstructure:"auto_repair"`
	DryRun     bool   `mapstructure:"dry_run"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, _, err := scheduler.ParseClock(fl.Field().String())
		return err == nil
	})
	return v
}

// Load reads configuration from dir/traintrack.yaml (if present) and the environment.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("traintrack")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("TRAINTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// DATABASE_URL is honored as a fallback for the DSN
	_ = v.BindEnv("database.dsn", "TRAINTRACK_DATABASE_DSN", "DATABASE_URL")

	v.SetDefault("state_dir", DefaultStateDir)
	v.SetDefault("database.dsn", "")
	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.run_on_start", true)
	v.SetDefault("sweeper.cutoff", DefaultCutoff)
	v.SetDefault("sweeper.fire_at", DefaultFireAt)
	v.SetDefault("sweeper.timezone", DefaultTimezone)
	v.SetDefault("sweeper.abandon_threshold", DefaultAbandonThreshold)
	v.SetDefault("audit.tolerance", DefaultAuditTolerance)
	v.SetDefault("audit.schedule", "")
	v.SetDefault("audit.auto_repair", false)
	v.SetDefault("audit.dry_run", true)
	v.SetDefault("log.level", DefaultLogLevel)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Debug("config.Load: no config file, using defaults and environment", "dir", dir)
	} else {
		slog.Debug("config.Load: config file loaded", "file", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Database.DSN == "" && cfg.StateDir != "" {
		cfg.Database.DSN = filepath.Join(cfg.StateDir, DefaultDBFileName)
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location returns the sweeper timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Sweeper.Timezone)
}

// SlogLevel maps Log.Level onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

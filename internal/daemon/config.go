// Package daemon manages the loyalty daemon lifecycle and configuration.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/rideloop/loyalty/internal/domain"
)

// Config holds all daemon configuration.
type Config struct {
	API         APIConfig         `toml:"api"`
	Store       StoreConfig       `toml:"store"`
	Persistence PersistenceConfig `toml:"persistence"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Clock       ClockConfig       `toml:"clock"`
	VIP         VIPConfig         `toml:"vip"`
	Logging     LoggingConfig     `toml:"logging"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host" env:"LOYALTY_API_HOST"`
	Port int    `toml:"port" env:"LOYALTY_API_PORT"`
}

// StoreConfig selects the engine state backend. The wallet ledger always
// lives in the sqlite database under DataDir.
type StoreConfig struct {
	Backend       string `toml:"backend" env:"LOYALTY_STORE_BACKEND"` // "sqlite" or "redis"
	DataDir       string `toml:"data_dir" env:"LOYALTY_DATA_DIR"`
	RedisAddr     string `toml:"redis_addr" env:"LOYALTY_REDIS_ADDR"`
	RedisPassword string `toml:"redis_password" env:"LOYALTY_REDIS_PASSWORD"`
	RedisDB       int    `toml:"redis_db" env:"LOYALTY_REDIS_DB"`
	RedisPrefix   string `toml:"redis_prefix" env:"LOYALTY_REDIS_PREFIX"`
}

// PersistenceConfig bounds the save retry.
type PersistenceConfig struct {
	MaxRetries      int    `toml:"max_retries" env:"LOYALTY_PERSIST_MAX_RETRIES"`
	InitialInterval string `toml:"initial_interval" env:"LOYALTY_PERSIST_INITIAL_INTERVAL"`
}

// SchedulerConfig controls the boundary tick and the live display ticker.
type SchedulerConfig struct {
	TickInterval    string `toml:"tick_interval" env:"LOYALTY_TICK_INTERVAL"`
	MidnightTick    bool   `toml:"midnight_tick" env:"LOYALTY_MIDNIGHT_TICK"`
	DisplayInterval string `toml:"display_interval" env:"LOYALTY_DISPLAY_INTERVAL"`
}

// ClockConfig sets the location that defines calendar days.
type ClockConfig struct {
	Timezone string `toml:"timezone" env:"LOYALTY_TIMEZONE"`
}

// VIPConfig holds the VIP qualification rules.
type VIPConfig struct {
	MinHoursPerDay      float64            `toml:"min_hours_per_day" env:"LOYALTY_VIP_MIN_HOURS"`
	MinRidesPerDay      int                `toml:"min_rides_per_day" env:"LOYALTY_VIP_MIN_RIDES"`
	PeriodDays          int                `toml:"period_days" env:"LOYALTY_VIP_PERIOD_DAYS"`
	CycleDays           int                `toml:"cycle_days" env:"LOYALTY_VIP_CYCLE_DAYS"`
	MonthlyTiers        []domain.BonusTier `toml:"monthly_tiers"`
	QuarterlyMilestones []domain.BonusTier `toml:"quarterly_milestones"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level" env:"LOYALTY_LOG_LEVEL"`
	Format string `toml:"format" env:"LOYALTY_LOG_FORMAT"` // "text" or "json"
	File   string `toml:"file" env:"LOYALTY_LOG_FILE"`
}

// TelemetryConfig controls metrics and health checks.
type TelemetryConfig struct {
	Prometheus     bool   `toml:"prometheus" env:"LOYALTY_PROMETHEUS"`
	HealthInterval string `toml:"health_interval" env:"LOYALTY_HEALTH_INTERVAL"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	rules := domain.DefaultVIPRules()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		Store: StoreConfig{
			Backend:     "sqlite",
			DataDir:     loyaltyHome(),
			RedisAddr:   "localhost:6379",
			RedisPrefix: "loyalty:state:",
		},
		Persistence: PersistenceConfig{
			MaxRetries:      3,
			InitialInterval: "100ms",
		},
		Scheduler: SchedulerConfig{
			TickInterval:    "1m",
			MidnightTick:    true,
			DisplayInterval: "1s",
		},
		Clock: ClockConfig{
			Timezone: "Local",
		},
		VIP: VIPConfig{
			MinHoursPerDay:      rules.MinHoursPerDay,
			MinRidesPerDay:      rules.MinRidesPerDay,
			PeriodDays:          rules.PeriodDays,
			CycleDays:           rules.CycleDays,
			MonthlyTiers:        rules.MonthlyTiers,
			QuarterlyMilestones: rules.QuarterlyMilestones,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Prometheus:     true,
			HealthInterval: "60s",
		},
	}
}

// Rules returns the VIP rules the config describes.
func (c Config) Rules() domain.VIPRules {
	return domain.VIPRules{
		MinHoursPerDay:      c.VIP.MinHoursPerDay,
		MinRidesPerDay:      c.VIP.MinRidesPerDay,
		PeriodDays:          c.VIP.PeriodDays,
		CycleDays:           c.VIP.CycleDays,
		MonthlyTiers:        c.VIP.MonthlyTiers,
		QuarterlyMilestones: c.VIP.QuarterlyMilestones,
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c Config) Validate() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d (must be 1-65535)", c.API.Port)
	}
	switch c.Store.Backend {
	case "sqlite":
	case "redis":
		if c.Store.RedisAddr == "" {
			return errors.New("store backend redis requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown store backend %q (want sqlite or redis)", c.Store.Backend)
	}
	if c.Persistence.MaxRetries < 0 {
		return fmt.Errorf("persistence max_retries must not be negative, got %d", c.Persistence.MaxRetries)
	}
	for name, v := range map[string]string{
		"persistence.initial_interval": c.Persistence.InitialInterval,
		"scheduler.tick_interval":      c.Scheduler.TickInterval,
		"scheduler.display_interval":   c.Scheduler.DisplayInterval,
		"telemetry.health_interval":    c.Telemetry.HealthInterval,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("%s must be a positive duration, got %q", name, v)
		}
	}
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging level: %w", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging format must be text or json, got %q", c.Logging.Format)
	}
	if err := c.Rules().Validate(); err != nil {
		return fmt.Errorf("vip rules: %w", err)
	}
	return nil
}

// ConfigPath returns the location of config.toml.
func ConfigPath() string {
	return filepath.Join(loyaltyHome(), "config.toml")
}

// LoadConfig reads config from $LOYALTY_HOME/config.toml, falling back to
// defaults, then applies LOYALTY_* environment overrides. A .env file in
// $LOYALTY_HOME is loaded first without replacing variables already set.
func LoadConfig() (Config, error) {
	return loadConfigFrom(ConfigPath())
}

func loadConfigFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	dotenv := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(dotenv); err == nil {
		if err := godotenv.Load(dotenv); err != nil {
			return cfg, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// SaveConfig writes the config to $LOYALTY_HOME/config.toml.
func SaveConfig(cfg Config) error {
	return saveConfigTo(ConfigPath(), cfg)
}

func saveConfigTo(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// loyaltyHome returns the loyalty data directory.
func loyaltyHome() string {
	if env := os.Getenv("LOYALTY_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".loyalty")
}

// Home is exported for use by other packages.
func Home() string {
	return loyaltyHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8420 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8420)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q, want sqlite", cfg.Store.Backend)
	}
	if cfg.VIP.MinHoursPerDay != 10 || cfg.VIP.PeriodDays != 30 || cfg.VIP.CycleDays != 360 {
		t.Errorf("VIP = %+v, want 10h / 30 days / 360 days", cfg.VIP)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.API.Port = 0 }, "api port"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "etcd" }, "unknown store backend"},
		{"redis without addr", func(c *Config) { c.Store.Backend = "redis"; c.Store.RedisAddr = "" }, "redis_addr"},
		{"negative retries", func(c *Config) { c.Persistence.MaxRetries = -1 }, "max_retries"},
		{"bad tick interval", func(c *Config) { c.Scheduler.TickInterval = "soon" }, "tick_interval"},
		{"zero display interval", func(c *Config) { c.Scheduler.DisplayInterval = "0s" }, "display_interval"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
		{"zero min hours", func(c *Config) { c.VIP.MinHoursPerDay = 0 }, "vip rules"},
		{"tier above period", func(c *Config) { c.VIP.PeriodDays = 25; c.VIP.CycleDays = 360 }, "vip rules"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := loadConfigFrom(path)
	if err != nil {
		t.Fatalf("loadConfigFrom() error: %v", err)
	}
	if cfg.API.Port != DefaultConfig().API.Port {
		t.Errorf("API.Port = %d, want default", cfg.API.Port)
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[api]
port = 9000

[store]
backend = "redis"
redis_addr = "cache:6379"

[vip]
min_rides_per_day = 4

[[vip.monthly_tiers]]
threshold = 20
amount = 6000

[[vip.monthly_tiers]]
threshold = 30
amount = 15000
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOYALTY_API_PORT", "9100")
	t.Setenv("LOYALTY_TIMEZONE", "Europe/Berlin")

	cfg, err := loadConfigFrom(path)
	if err != nil {
		t.Fatalf("loadConfigFrom() error: %v", err)
	}
	if cfg.API.Port != 9100 {
		t.Errorf("API.Port = %d, want env override 9100", cfg.API.Port)
	}
	if cfg.Store.Backend != "redis" || cfg.Store.RedisAddr != "cache:6379" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Clock.Timezone != "Europe/Berlin" {
		t.Errorf("Clock.Timezone = %q", cfg.Clock.Timezone)
	}
	rules := cfg.Rules()
	if rules.MinRidesPerDay != 4 || len(rules.MonthlyTiers) != 2 || rules.MonthlyBonus(30) != 15000 {
		t.Errorf("rules = %+v", rules)
	}
	if rules.MinHoursPerDay != 10 {
		t.Errorf("MinHoursPerDay = %v, want default 10", rules.MinHoursPerDay)
	}
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LOYALTY_LOG_LEVEL=debug\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOYALTY_LOG_LEVEL", "")
	os.Unsetenv("LOYALTY_LOG_LEVEL")

	cfg, err := loadConfigFrom(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatalf("loadConfigFrom() error: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug from .env", cfg.Logging.Level)
	}
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	os.WriteFile(path, []byte("[api\nport = "), 0600)
	if _, err := loadConfigFrom(path); err == nil {
		t.Error("loadConfigFrom() with broken toml should fail")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := DefaultConfig()
	cfg.API.Port = 9200
	cfg.Scheduler.TickInterval = "30s"
	if err := saveConfigTo(path, cfg); err != nil {
		t.Fatalf("saveConfigTo() error: %v", err)
	}
	got, err := loadConfigFrom(path)
	if err != nil {
		t.Fatalf("loadConfigFrom() error: %v", err)
	}
	if got.API.Port != 9200 || got.Scheduler.TickInterval != "30s" {
		t.Errorf("round trip = %+v", got)
	}
	if len(got.VIP.QuarterlyMilestones) != 3 {
		t.Errorf("QuarterlyMilestones = %d, want 3", len(got.VIP.QuarterlyMilestones))
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"90s", "1m30s"},
		{"", "1m0s"},
		{"nonsense", "1m0s"},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in, 60e9).String(); got != tt.want {
			t.Errorf("parseDuration(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

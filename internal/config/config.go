// Package config loads the garden server configuration from a YAML file and
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Cron      CronConfig      `yaml:"cron"`
	Providers ProvidersConfig `yaml:"providers"`
	Google    GoogleConfig    `yaml:"google"`
	Stripe    StripeConfig    `yaml:"stripe"`
	Session   SessionConfig   `yaml:"session"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres; empty means detect from DSN
	DSN    string `yaml:"dsn"`
}

type CronConfig struct {
	// Secret is the bearer token of the daily trigger. When empty a secret is
	// generated and stored in the database on first start.
	Secret      string `yaml:"secret"`
	Concurrency int    `yaml:"concurrency"`
	// DailyHour starts the in-process daily loop at this UTC hour. -1 disables it.
	DailyHour int `yaml:"daily_hour"`
}

type ProvidersConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	// Endpoint overrides, used against local fakes.
	TokenURL          string `yaml:"token_url"`
	AnalyticsDataURL  string `yaml:"analytics_data_url"`
	AnalyticsAdminURL string `yaml:"analytics_admin_url"`
}

type StripeConfig struct {
	APIBase string `yaml:"api_base"`
}

type SessionConfig struct {
	Secret     string        `yaml:"secret"`
	Issuer     string        `yaml:"issuer"`
	CookieName string        `yaml:"cookie_name"`
	StateTTL   time.Duration `yaml:"state_ttl"`
}

type LogConfig struct {
	GormLevel string `yaml:"gorm_level"` // silent, error, warn, info
}

// Default returns the configuration used when no file or variable sets a key.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{Host: "127.0.0.1", Port: "8080"},
		Database:  DatabaseConfig{DSN: "garden.db"},
		Cron:      CronConfig{Concurrency: 4, DailyHour: -1},
		Providers: ProvidersConfig{Timeout: 30 * time.Second},
		Session:   SessionConfig{Issuer: "metric-garden", CookieName: "session", StateTTL: 10 * time.Minute},
		Log:       LogConfig{GormLevel: "warn"},
	}
}

// Load reads the config file (if any) over the defaults, then applies
// environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Cron.Concurrency < 1 {
		return fmt.Errorf("cron.concurrency must be at least 1, got %d", c.Cron.Concurrency)
	}
	if c.Cron.DailyHour < -1 || c.Cron.DailyHour > 23 {
		return fmt.Errorf("cron.daily_hour must be -1..23, got %d", c.Cron.DailyHour)
	}
	if c.Providers.Timeout <= 0 {
		return fmt.Errorf("providers.timeout must be positive")
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return nil
}

func resolveConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("GARDEN_CONFIG")); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	candidates := []string{
		"config/garden.yaml",
		"/etc/metric-garden/garden.yaml",
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "metric-garden", "garden.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Server.Host, "HOST")
	setString(&cfg.Server.Port, "PORT")

	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
		cfg.Database.Driver = ""
	}
	setString(&cfg.Database.Driver, "DATABASE_DRIVER")

	setString(&cfg.Cron.Secret, "CRON_SECRET")
	if err := setInt(&cfg.Cron.Concurrency, "SYNC_CONCURRENCY"); err != nil {
		return err
	}
	if err := setInt(&cfg.Cron.DailyHour, "DAILY_SYNC_HOUR_UTC"); err != nil {
		return err
	}
	if v := strings.TrimSpace(os.Getenv("PROVIDER_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PROVIDER_TIMEOUT %q: %w", v, err)
		}
		cfg.Providers.Timeout = d
	}

	setString(&cfg.Google.ClientID, "GOOGLE_CLIENT_ID")
	setString(&cfg.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&cfg.Google.RedirectURL, "GOOGLE_REDIRECT_URL")
	setString(&cfg.Stripe.APIBase, "STRIPE_API_BASE")
	setString(&cfg.Session.Secret, "SESSION_SECRET")
	setString(&cfg.Log.GormLevel, "GORM_LOG_LEVEL")
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

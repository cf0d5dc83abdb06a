// Package config loads server configuration from a .env file, an optional
// YAML file, and CRM_* environment variables (highest precedence).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	Addr    string `yaml:"addr"`
	DBDSN   string `yaml:"db_dsn"`
	DevMode bool   `yaml:"dev_mode"`
	BaseURL string `yaml:"base_url"` // e.g. http://localhost:8080

	AdminUsername string `yaml:"admin_username"`
	AdminPassword string `yaml:"admin_password"`

	SMTP SMTP `yaml:"smtp"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	GeocodeURL      string        `yaml:"geocode_url"`
	GeocodeCacheTTL time.Duration `yaml:"geocode_cache_ttl"`
	GeocodeRPS      float64       `yaml:"geocode_rps"`

	StatsCacheTTL  time.Duration `yaml:"stats_cache_ttl"`
	TrashRetention time.Duration `yaml:"trash_retention"`
}

// SMTP holds outgoing mail settings.
type SMTP struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
	From string `yaml:"from"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Addr:            ":8080",
		BaseURL:         "http://localhost:8080",
		SMTP:            SMTP{Port: "587"},
		GeocodeURL:      "https://api-adresse.data.gouv.fr/search/",
		GeocodeCacheTTL: 7 * 24 * time.Hour,
		GeocodeRPS:      10,
		StatsCacheTTL:   time.Minute,
		TrashRetention:  30 * 24 * time.Hour,
	}
}

// Load builds the configuration. A missing .env or YAML file is not an error;
// a malformed one is.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Defaults()

	if path := os.Getenv("CRM_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Addr, "CRM_ADDR")
	setString(&cfg.DBDSN, "CRM_DB_DSN")
	setString(&cfg.BaseURL, "CRM_BASE_URL")
	setString(&cfg.AdminUsername, "CRM_ADMIN_USERNAME")
	setString(&cfg.AdminPassword, "CRM_ADMIN_PASSWORD")
	setString(&cfg.SMTP.Host, "CRM_SMTP_HOST")
	setString(&cfg.SMTP.Port, "CRM_SMTP_PORT")
	setString(&cfg.SMTP.User, "CRM_SMTP_USER")
	setString(&cfg.SMTP.Pass, "CRM_SMTP_PASS")
	setString(&cfg.SMTP.From, "CRM_SMTP_FROM")
	setString(&cfg.RedisAddr, "CRM_REDIS_ADDR")
	setString(&cfg.RedisPassword, "CRM_REDIS_PASSWORD")
	setString(&cfg.GeocodeURL, "CRM_GEOCODE_URL")

	if v := os.Getenv("CRM_DEV_MODE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CRM_DEV_MODE: %w", err)
		}
		cfg.DevMode = b
	}
	if v := os.Getenv("CRM_GEOCODE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return fmt.Errorf("CRM_GEOCODE_RPS must be a positive number, got %q", v)
		}
		cfg.GeocodeRPS = f
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CRM_GEOCODE_CACHE_TTL", &cfg.GeocodeCacheTTL},
		{"CRM_STATS_CACHE_TTL", &cfg.StatsCacheTTL},
		{"CRM_TRASH_RETENTION", &cfg.TrashRetention},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// SMTPConfigured returns true if outgoing mail can be sent.
func (c Config) SMTPConfigured() bool {
	return c.SMTP.Host != "" && c.SMTP.From != ""
}

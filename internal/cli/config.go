package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	defaultServerURL = "http://localhost:8080"

	envServerURL = "CRM_SERVER_URL"
	envAPIKey    = "CRM_API_KEY"
)

// CLIConfig is what `crm login` remembers between runs.
type CLIConfig struct {
	ServerURL string `yaml:"server_url,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	Username  string `yaml:"username,omitempty"`
}

// configPath is ~/.config/crm/config.yaml.
func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "crm", "config.yaml"), nil
}

// loadConfig returns the stored config, or the zero value when none has
// been saved yet.
func loadConfig() (CLIConfig, error) {
	var cfg CLIConfig

	path, err := configPath()
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return cfg, nil
	case err != nil:
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return CLIConfig{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// saveConfig writes cfg owner-readable only; it holds an API key.
func saveConfig(cfg CLIConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// updateConfig applies fn to the stored config and saves the result. An
// unreadable file is replaced.
func updateConfig(fn func(*CLIConfig)) error {
	cfg, err := loadConfig()
	if err != nil {
		cfg = CLIConfig{}
	}
	fn(&cfg)
	return saveConfig(cfg)
}

// fromEnvOrConfig prefers the environment, then the stored config.
func fromEnvOrConfig(env string, field func(CLIConfig) string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	if cfg, err := loadConfig(); err == nil {
		return field(cfg)
	}
	return ""
}

func getServerURL() string {
	if v := fromEnvOrConfig(envServerURL, func(c CLIConfig) string { return c.ServerURL }); v != "" {
		return v
	}
	return defaultServerURL
}

func getAPIKey() string {
	return fromEnvOrConfig(envAPIKey, func(c CLIConfig) string { return c.APIKey })
}

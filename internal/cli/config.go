// Package cli holds the expctl CLI's configuration and output helpers.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration persisted under ~/.expctl.
type Config struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// GetConfigPath returns the path to the config file.
func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".expctl", "config.yaml"), nil
}

// LoadConfig loads the configuration from file. A missing file yields an
// empty config, not an error.
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// SaveConfig saves the configuration to file with owner-only permissions
// (it carries the session token).
func SaveConfig(cfg *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Resolve returns the effective base URL and token: command flags win over
// the config file.
func Resolve(baseURLFlag, tokenFlag string) (string, string, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return "", "", err
	}
	baseURL := cfg.BaseURL
	if baseURLFlag != "" {
		baseURL = baseURLFlag
	}
	token := cfg.Token
	if tokenFlag != "" {
		token = tokenFlag
	}
	if baseURL == "" {
		return "", "", fmt.Errorf("no base URL configured; pass --base-url or run expctl login")
	}
	return baseURL, token, nil
}

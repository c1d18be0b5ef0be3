package clawcli

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const (
	defaultAPIBaseURL = "http://localhost:8080"
)

// Config is the claw CLI's local state.
type Config struct {
	APIBaseURL    string `json:"apiBaseUrl"`
	Token         string `json:"token"`
	Username      string `json:"username,omitempty"`
	OnboardConfig string `json:"onboardConfig,omitempty"`
}

func ConfigPath() (string, error) {
	if override := os.Getenv("CLAW_CONFIG"); override != "" {
		return override, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "openclaw", "cli.json"), nil
}

func LoadConfig() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{APIBaseURL: defaultAPIBaseURL}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	return cfg, nil
}

func SaveConfig(cfg Config) error {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

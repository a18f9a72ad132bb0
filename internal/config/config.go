// Package config provides configuration management for dadgar.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
)

// Defaults for service settings.
const (
	DefaultPort            = 37820
	DefaultModel           = "gpt-4o"
	DefaultClassifierModel = "gpt-4o-mini"
	DefaultBackendURL      = "https://api.openai.com/v1"
	DefaultLanguage        = "fa"
	DefaultPlanID          = "free"
	DefaultPlanTokens      = 50000
	DefaultPlanDays        = 30
)

// Settings holds service configuration, persisted as settings.json in the
// data directory. Routing policy lives in a separate routing.yaml (see
// policy.go) so that admins can tune it without touching service settings.
type Settings struct {
	Port              int    `json:"port"`
	Model             string `json:"model"`
	ClassifierModel   string `json:"classifier_model"`
	BackendURL        string `json:"backend_url"`
	Language          string `json:"language"`
	MaxConns          int    `json:"max_conns"`
	SessionDriver     string `json:"session_driver"` // "gorm" | "redis"
	RedisAddr         string `json:"redis_addr,omitempty"`
	DefaultPlanID     string `json:"default_plan_id"`
	DefaultPlanTokens int64  `json:"default_plan_tokens"`
	DefaultPlanDays   int    `json:"default_plan_days"`
	DecisionLogKeep   int    `json:"decision_log_keep"`
}

var (
	mu      sync.RWMutex
	current *Settings
)

// Default returns the default configuration.
func Default() *Settings {
	return &Settings{
		Port:              DefaultPort,
		Model:             DefaultModel,
		ClassifierModel:   DefaultClassifierModel,
		BackendURL:        DefaultBackendURL,
		Language:          DefaultLanguage,
		MaxConns:          4,
		SessionDriver:     "gorm",
		DefaultPlanID:     DefaultPlanID,
		DefaultPlanTokens: DefaultPlanTokens,
		DefaultPlanDays:   DefaultPlanDays,
		DecisionLogKeep:   20,
	}
}

// DataDir returns the data directory path (~/.dadgar).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".dadgar")
}

// DBPath returns the SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "dadgar.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// PolicyPath returns the routing policy file path.
func PolicyPath() string {
	return filepath.Join(DataDir(), "routing.yaml")
}

// Load reads settings.json, merging file values over defaults, and makes
// the result available via Get.
func Load() (*Settings, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			setCurrent(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 4
	}
	if cfg.DecisionLogKeep <= 0 {
		cfg.DecisionLogKeep = 20
	}

	setCurrent(cfg)
	return cfg, nil
}

// Get returns the current settings, loading defaults if Load was never
// called.
func Get() *Settings {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg != nil {
		return cfg
	}
	cfg = Default()
	setCurrent(cfg)
	return cfg
}

func setCurrent(cfg *Settings) {
	mu.Lock()
	current = cfg
	mu.Unlock()
}

// EnsureDataDir creates the data directory if missing.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// EnsureSettings writes a default settings.json if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// EnsureAll creates the data directory, settings file, and routing policy
// file when missing.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	if err := EnsureSettings(); err != nil {
		return err
	}
	return EnsurePolicy()
}

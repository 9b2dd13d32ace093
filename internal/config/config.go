package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider-specific default model constants
const (
	DefaultOpenRouterModel = "deepseek/deepseek-chat-v3-0324"
	DefaultMockModel       = "mock-model"
)

// Config captures the tunable runtime settings for the assistant.
type Config struct {
	Provider              string  `yaml:"provider"`
	Model                 string  `yaml:"model"`
	BaseURL               string  `yaml:"base_url"`
	Temperature           float64 `yaml:"temperature"`
	SystemPrompt          string  `yaml:"system_prompt"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds"`
	WorkspaceRoot         string  `yaml:"workspace_root"`
	SessionStorePath      string  `yaml:"session_store_path"`
	LogPath               string  `yaml:"log_path"`
	HistoryPath           string  `yaml:"history_path"`
	MetricsAddr           string  `yaml:"metrics_addr"`

	// Turn control loop settings. AutoRetryEnabled is a pointer so a config
	// file that omits the key keeps the enabled default instead of reading
	// as false.
	MaxRetries            int   `yaml:"max_retries"`
	AutoRetryEnabled      *bool `yaml:"auto_retry_enabled"`
	MaxHistoryMessages    int   `yaml:"max_history_messages"`
	CommandTimeoutSeconds int   `yaml:"command_timeout_seconds"`
}

// AutoRetry reports whether failed passes go through the reflect/retry loop.
func (c Config) AutoRetry() bool {
	return c.AutoRetryEnabled == nil || *c.AutoRetryEnabled
}

// LoadUserConfig loads configuration from ~/.tinker/config.yaml.
// Checks TINKER_CONFIG_PATH environment variable first.
// If the file doesn't exist, returns defaults.
func LoadUserConfig() (Config, error) {
	configPath := os.Getenv("TINKER_CONFIG_PATH")
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		var cfg Config
		cfg.applyDefaults()
		return cfg, nil
	}

	return Load(configPath)
}

// Load reads the YAML configuration from disk and injects sane defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EnsureDefaultConfig creates config.yaml with defaults if it doesn't exist.
func EnsureDefaultConfig() error {
	configDir := GetConfigDir()
	configPath := filepath.Join(configDir, "config.yaml")

	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	var cfg Config
	cfg.applyDefaults()

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyDefaults fills in optional values to keep the YAML file concise.
func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = "openrouter"
	}
	if c.Model == "" {
		c.Model = DefaultOpenRouterModel
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 90
	}
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = "."
	}
	if c.SessionStorePath == "" {
		c.SessionStorePath = filepath.Join(GetConfigDir(), "sessions.db")
	}
	if c.LogPath == "" {
		c.LogPath = filepath.Join(GetConfigDir(), "tinker.log")
	}
	if c.HistoryPath == "" {
		c.HistoryPath = filepath.Join(GetConfigDir(), "input_history")
	}
	if c.AutoRetryEnabled == nil {
		enabled := true
		c.AutoRetryEnabled = &enabled
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.MaxHistoryMessages <= 0 {
		c.MaxHistoryMessages = 10
	}
	if c.CommandTimeoutSeconds <= 0 {
		c.CommandTimeoutSeconds = 60
	}
}

func (c Config) validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0 (got %d)", c.MaxRetries)
	}
	if c.MaxHistoryMessages <= 0 {
		return fmt.Errorf("max_history_messages must be > 0 (got %d)", c.MaxHistoryMessages)
	}
	if c.CommandTimeoutSeconds <= 0 {
		return fmt.Errorf("command_timeout_seconds must be > 0 (got %d)", c.CommandTimeoutSeconds)
	}
	if c.CommandTimeoutSeconds > 600 {
		return fmt.Errorf("command_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	if c.Temperature < 0 || c.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0 and 2.0 (got %f)", c.Temperature)
	}
	if c.RequestTimeoutSeconds > 600 {
		return fmt.Errorf("request_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	if strings.TrimSpace(c.SessionStorePath) == "" {
		return fmt.Errorf("session_store_path must be set")
	}
	return nil
}

// RequestTimeout turns the integer value into a duration for HTTP clients.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// CommandTimeout exposes the configured duration for sandboxed shell commands.
func (c Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// OverrideWorkspaceRoot swaps the workspace root at runtime.
func (c *Config) OverrideWorkspaceRoot(root string) {
	if c == nil {
		return
	}
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return
	}
	c.WorkspaceRoot = trimmed
}

// Save writes the config to the user's config file.
func Save(c Config) error {
	configPath := os.Getenv("TINKER_CONFIG_PATH")
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func GetConfigDir() string {
	if configDir := os.Getenv("TINKER_CONFIG_DIR"); configDir != "" {
		return configDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tinker"
	}
	return filepath.Join(home, ".tinker")
}

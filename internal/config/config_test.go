package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		expectError bool
		errorString string
	}{
		{
			name:        "valid config passes",
			modifyFunc:  func(c *Config) {},
			expectError: false,
		},
		{
			name: "negative temperature fails",
			modifyFunc: func(c *Config) {
				c.Temperature = -0.5
			},
			expectError: true,
			errorString: "temperature must be between",
		},
		{
			name: "temperature > 2.0 fails",
			modifyFunc: func(c *Config) {
				c.Temperature = 3.0
			},
			expectError: true,
			errorString: "temperature must be between",
		},
		{
			name: "request timeout > 600 fails",
			modifyFunc: func(c *Config) {
				c.RequestTimeoutSeconds = 9999
			},
			expectError: true,
			errorString: "request_timeout_seconds cannot exceed",
		},
		{
			name: "command timeout > 600 fails",
			modifyFunc: func(c *Config) {
				c.CommandTimeoutSeconds = 9999
			},
			expectError: true,
			errorString: "command_timeout_seconds cannot exceed",
		},
		{
			name: "empty session store path fails",
			modifyFunc: func(c *Config) {
				c.SessionStorePath = "  "
			},
			expectError: true,
			errorString: "session_store_path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.applyDefaults()
			tt.modifyFunc(&cfg)

			err := cfg.validate()
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.errorString)
				}
				if !strings.Contains(err.Error(), tt.errorString) {
					t.Fatalf("error %q does not contain %q", err.Error(), tt.errorString)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()

	if cfg.MaxRetries != 3 {
		t.Fatalf("expected max_retries default 3, got %d", cfg.MaxRetries)
	}
	if cfg.MaxHistoryMessages != 10 {
		t.Fatalf("expected max_history_messages default 10, got %d", cfg.MaxHistoryMessages)
	}
	if cfg.CommandTimeoutSeconds != 60 {
		t.Fatalf("expected command_timeout_seconds default 60, got %d", cfg.CommandTimeoutSeconds)
	}
	if cfg.Model != DefaultOpenRouterModel {
		t.Fatalf("expected default model, got %s", cfg.Model)
	}
	if cfg.WorkspaceRoot != "." {
		t.Fatalf("expected workspace root '.', got %s", cfg.WorkspaceRoot)
	}
	if !cfg.AutoRetry() {
		t.Fatal("expected auto retry enabled by default")
	}
}

// A sparse config file that never mentions auto_retry_enabled must keep
// retries on, same as running with no config file at all.
func TestAutoRetryDefaultsTrueWhenKeyOmitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("model: mock-model\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.AutoRetry() {
		t.Fatal("omitted auto_retry_enabled must default to true")
	}
}

func TestAutoRetryExplicitFalseSticks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("auto_retry_enabled: false\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.AutoRetry() {
		t.Fatal("explicit false must disable auto retry")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := strings.Join([]string{
		"provider: mock",
		"model: mock-model",
		"max_retries: 2",
		"auto_retry_enabled: true",
		"max_history_messages: 6",
		"command_timeout_seconds: 30",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.MaxRetries != 2 {
		t.Fatalf("expected max_retries 2, got %d", cfg.MaxRetries)
	}
	if !cfg.AutoRetry() {
		t.Fatalf("expected auto_retry_enabled")
	}
	if cfg.MaxHistoryMessages != 6 {
		t.Fatalf("expected max_history_messages 6, got %d", cfg.MaxHistoryMessages)
	}
	if cfg.CommandTimeout().Seconds() != 30 {
		t.Fatalf("expected command timeout 30s, got %v", cfg.CommandTimeout())
	}
	// Defaults still fill in the unset fields.
	if cfg.BaseURL == "" || cfg.SessionStorePath == "" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

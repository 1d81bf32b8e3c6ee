package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	if config.Worker.PollInterval != 5*time.Second {
		t.Errorf("Worker.PollInterval = %v, want 5s", config.Worker.PollInterval)
	}
	if config.Worker.HeartbeatInterval != 30*time.Second {
		t.Errorf("Worker.HeartbeatInterval = %v, want 30s", config.Worker.HeartbeatInterval)
	}
	if config.Worker.MaxConcurrentAttempts != 20 {
		t.Errorf("Worker.MaxConcurrentAttempts = %d, want 20", config.Worker.MaxConcurrentAttempts)
	}
	if config.Worker.AttemptTimeout != 60*time.Second {
		t.Errorf("Worker.AttemptTimeout = %v, want 60s", config.Worker.AttemptTimeout)
	}
	if config.Worker.DirectoryDelayMin != 2*time.Second || config.Worker.DirectoryDelayMax != 5*time.Second {
		t.Errorf("directory delay window = [%v, %v], want [2s, 5s]",
			config.Worker.DirectoryDelayMin, config.Worker.DirectoryDelayMax)
	}
	if config.Retry.MaxRetries != 3 {
		t.Errorf("Retry.MaxRetries = %d, want 3", config.Retry.MaxRetries)
	}
	if config.Retry.BaseDelay != 5*time.Second || config.Retry.MaxDelay != 60*time.Second {
		t.Errorf("retry delays = [%v, %v], want [5s, 60s]", config.Retry.BaseDelay, config.Retry.MaxDelay)
	}
	if config.Breaker.FailureThreshold != 5 {
		t.Errorf("Breaker.FailureThreshold = %d, want 5", config.Breaker.FailureThreshold)
	}
	if config.Breaker.ResetTimeout != 60*time.Second {
		t.Errorf("Breaker.ResetTimeout = %v, want 60s", config.Breaker.ResetTimeout)
	}
	if config.AI.ProbabilityThreshold != 0.60 {
		t.Errorf("AI.ProbabilityThreshold = %v, want 0.60", config.AI.ProbabilityThreshold)
	}
	if config.AI.AdvisorTimeout != 5*time.Second {
		t.Errorf("AI.AdvisorTimeout = %v, want 5s", config.AI.AdvisorTimeout)
	}
	if config.Escalation.Threshold != 3 {
		t.Errorf("Escalation.Threshold = %d, want 3", config.Escalation.Threshold)
	}
	if config.Health.Alpha != 0.2 {
		t.Errorf("Health.Alpha = %v, want 0.2", config.Health.Alpha)
	}
	if config.IsProduction() {
		t.Error("default config should not be production")
	}
}

func TestLoadFromFiles(t *testing.T) {
	base := writeTempConfig(t, "base.toml", `
environment = "production"

[worker]
poll_interval = "10s"
max_concurrent_attempts = 8

[api]
base_url = "https://api.example.com"
key = "base-key"
`)
	override := writeTempConfig(t, "override.toml", `
[api]
key = "override-key"

[worker]
heartbeat_interval = "45s"
`)

	config, err := LoadFromFiles(base, override)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	if !config.IsProduction() {
		t.Error("environment = production should be detected")
	}
	if config.Worker.PollInterval != 10*time.Second {
		t.Errorf("Worker.PollInterval = %v, want 10s", config.Worker.PollInterval)
	}
	if config.Worker.MaxConcurrentAttempts != 8 {
		t.Errorf("Worker.MaxConcurrentAttempts = %d, want 8", config.Worker.MaxConcurrentAttempts)
	}
	// Later file wins
	if config.API.Key != "override-key" {
		t.Errorf("API.Key = %q, want %q", config.API.Key, "override-key")
	}
	// Earlier file values survive when not overridden
	if config.API.BaseURL != "https://api.example.com" {
		t.Errorf("API.BaseURL = %q, want base file value", config.API.BaseURL)
	}
	if config.Worker.HeartbeatInterval != 45*time.Second {
		t.Errorf("Worker.HeartbeatInterval = %v, want 45s", config.Worker.HeartbeatInterval)
	}
	// Defaults survive the merge
	if config.Worker.AttemptTimeout != 60*time.Second {
		t.Errorf("Worker.AttemptTimeout = %v, want default 60s", config.Worker.AttemptTimeout)
	}
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles("/nonexistent/autobolt.toml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("AUTOBOLT_API_BASE", "https://env.example.com")
	t.Setenv("AUTOBOLT_API_KEY", "env-key")
	t.Setenv("WORKER_ID", "worker-env1")
	t.Setenv("POLL_INTERVAL", "2500")
	t.Setenv("HEARTBEAT_INTERVAL", "15000")
	t.Setenv("DIR_DELAY_MIN", "1000")
	t.Setenv("DIR_DELAY_MAX", "3000")
	t.Setenv("MAX_CONCURRENT_ATTEMPTS", "4")
	t.Setenv("ATTEMPT_TIMEOUT", "45000")
	t.Setenv("AI_PROBABILITY_THRESHOLD", "0.75")
	t.Setenv("ESCALATION_THRESHOLD", "2")
	t.Setenv("DIRECTORY_LIST_PATH", "/etc/autobolt/directories.json")

	config, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	if config.API.BaseURL != "https://env.example.com" {
		t.Errorf("API.BaseURL = %q, want env value", config.API.BaseURL)
	}
	if config.API.Key != "env-key" {
		t.Errorf("API.Key = %q, want env value", config.API.Key)
	}
	if config.Worker.ID != "worker-env1" {
		t.Errorf("Worker.ID = %q, want worker-env1", config.Worker.ID)
	}
	// Interval env vars are integer milliseconds
	if config.Worker.PollInterval != 2500*time.Millisecond {
		t.Errorf("Worker.PollInterval = %v, want 2.5s", config.Worker.PollInterval)
	}
	if config.Worker.HeartbeatInterval != 15*time.Second {
		t.Errorf("Worker.HeartbeatInterval = %v, want 15s", config.Worker.HeartbeatInterval)
	}
	if config.Worker.DirectoryDelayMin != 1*time.Second {
		t.Errorf("Worker.DirectoryDelayMin = %v, want 1s", config.Worker.DirectoryDelayMin)
	}
	if config.Worker.DirectoryDelayMax != 3*time.Second {
		t.Errorf("Worker.DirectoryDelayMax = %v, want 3s", config.Worker.DirectoryDelayMax)
	}
	if config.Worker.MaxConcurrentAttempts != 4 {
		t.Errorf("Worker.MaxConcurrentAttempts = %d, want 4", config.Worker.MaxConcurrentAttempts)
	}
	if config.Worker.AttemptTimeout != 45*time.Second {
		t.Errorf("Worker.AttemptTimeout = %v, want 45s", config.Worker.AttemptTimeout)
	}
	if config.AI.ProbabilityThreshold != 0.75 {
		t.Errorf("AI.ProbabilityThreshold = %v, want 0.75", config.AI.ProbabilityThreshold)
	}
	if config.Escalation.Threshold != 2 {
		t.Errorf("Escalation.Threshold = %d, want 2", config.Escalation.Threshold)
	}
	if config.Catalog.Path != "/etc/autobolt/directories.json" {
		t.Errorf("Catalog.Path = %q, want env value", config.Catalog.Path)
	}
}

func TestEnvOverridesZeroThreshold(t *testing.T) {
	// A threshold of 0 is a legitimate override and must not be
	// confused with "unset".
	t.Setenv("ESCALATION_THRESHOLD", "0")

	config, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	if config.Escalation.Threshold != 0 {
		t.Errorf("Escalation.Threshold = %d, want 0", config.Escalation.Threshold)
	}
}

func TestEnvOverridesPrecedence(t *testing.T) {
	path := writeTempConfig(t, "autobolt.toml", `
[api]
base_url = "https://file.example.com"
key = "file-key"
`)
	t.Setenv("AUTOBOLT_API_KEY", "env-wins")

	config, err := LoadFromFiles(path)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	if config.API.Key != "env-wins" {
		t.Errorf("API.Key = %q, env should override file", config.API.Key)
	}
	if config.API.BaseURL != "https://file.example.com" {
		t.Errorf("API.BaseURL = %q, file value should survive", config.API.BaseURL)
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	config.Worker.ID = "worker-from-env"
	config.Catalog.Path = "/env/path.json"

	ApplyFlagOverrides(config, "worker-from-flag", "/flag/path.json")

	if config.Worker.ID != "worker-from-flag" {
		t.Errorf("Worker.ID = %q, flag should win", config.Worker.ID)
	}
	if config.Catalog.Path != "/flag/path.json" {
		t.Errorf("Catalog.Path = %q, flag should win", config.Catalog.Path)
	}

	// Empty flags leave existing values alone
	ApplyFlagOverrides(config, "", "")
	if config.Worker.ID != "worker-from-flag" {
		t.Errorf("Worker.ID = %q, empty flag must not clear value", config.Worker.ID)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		c := NewDefaultConfig()
		c.API.BaseURL = "https://api.example.com"
		c.API.Key = "test-key"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"missing base url", func(c *Config) { c.API.BaseURL = "" }, true},
		{"missing api key", func(c *Config) { c.API.Key = "" }, true},
		{"invalid base url", func(c *Config) { c.API.BaseURL = "not-a-url" }, true},
		{"zero concurrency", func(c *Config) { c.Worker.MaxConcurrentAttempts = 0 }, true},
		{"inverted delay window", func(c *Config) {
			c.Worker.DirectoryDelayMin = 10 * time.Second
			c.Worker.DirectoryDelayMax = 2 * time.Second
		}, true},
		{"probability threshold out of range", func(c *Config) { c.AI.ProbabilityThreshold = 1.5 }, true},
		{"alpha out of range", func(c *Config) { c.Health.Alpha = 0 }, true},
		{"zero breaker threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }, true},
		{"mailbox enabled without server", func(c *Config) { c.Mailbox.Enabled = true }, true},
		{"mailbox enabled with server", func(c *Config) {
			c.Mailbox.Enabled = true
			c.Mailbox.Server = "imap.example.com:993"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(config)

			err := config.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

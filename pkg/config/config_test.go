package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFrom with no config file failed: %v", err)
	}
	if cfg.Lock.Timeout != time.Hour {
		t.Errorf("lock.timeout default = %v", cfg.Lock.Timeout)
	}
	if cfg.Deploy.MaxConcurrency != 5 {
		t.Errorf("deploy.max_concurrency default = %d", cfg.Deploy.MaxConcurrency)
	}
	if cfg.State.InactivityThreshold != 30*time.Minute {
		t.Errorf("state.inactivity_threshold default = %v", cfg.State.InactivityThreshold)
	}
}

func TestLoadFromFileOverrides(t *testing.T) {
	dir := t.TempDir()
	raw := "lock:\n  timeout: 2h\nbackup:\n  keep_count: 3\nsecurity:\n  extra_deny_paths:\n    - /var/secrets\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Lock.Timeout != 2*time.Hour {
		t.Errorf("lock.timeout = %v, expected 2h", cfg.Lock.Timeout)
	}
	if cfg.Backup.KeepCount != 3 {
		t.Errorf("backup.keep_count = %d, expected 3", cfg.Backup.KeepCount)
	}
	if len(cfg.Security.ExtraDenyPaths) != 1 || cfg.Security.ExtraDenyPaths[0] != "/var/secrets" {
		t.Errorf("security.extra_deny_paths = %v", cfg.Security.ExtraDenyPaths)
	}
	// Unset keys keep their defaults
	if cfg.Deploy.FetchRetries != 3 {
		t.Errorf("deploy.fetch_retries = %d, expected default 3", cfg.Deploy.FetchRetries)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero lock timeout", func(c *Config) { c.Lock.Timeout = 0 }},
		{"zero poll interval", func(c *Config) { c.Lock.PollInterval = 0 }},
		{"stall above inactivity", func(c *Config) { c.State.StallThreshold = time.Hour }},
		{"zero keep count", func(c *Config) { c.Backup.KeepCount = 0 }},
		{"excessive concurrency", func(c *Config) { c.Deploy.MaxConcurrency = 64 }},
		{"negative retries", func(c *Config) { c.Deploy.FetchRetries = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}

func TestHomeDirEnvOverride(t *testing.T) {
	t.Setenv("CTXSYNC_HOME", "/custom/ctxsync")
	dir, err := HomeDir()
	if err != nil {
		t.Fatal(err)
	}
	if dir != "/custom/ctxsync" {
		t.Errorf("HomeDir = %q", dir)
	}
}

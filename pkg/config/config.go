// Package config loads ctxsync tool configuration from the user home
// directory and environment, with validated defaults for every engine knob.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for ctxsync
type Config struct {
	Lock     LockConfig     `mapstructure:"lock"`
	State    StateConfig    `mapstructure:"state"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Deploy   DeployConfig   `mapstructure:"deploy"`
	Security SecurityConfig `mapstructure:"security"`
}

// LockConfig holds locking coordinator options
type LockConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`       // age past which a lock is stale
	PollInterval time.Duration `mapstructure:"poll_interval"` // wait-for-lock polling cadence
}

// StateConfig holds deployment state tracking options
type StateConfig struct {
	InactivityThreshold time.Duration `mapstructure:"inactivity_threshold"` // in_progress with no update this long = interrupted
	StallThreshold      time.Duration `mapstructure:"stall_threshold"`      // components stuck in progress this long = interrupted
	Retention           time.Duration `mapstructure:"retention"`            // terminal states older than this are removed
}

// BackupConfig holds backup retention options
type BackupConfig struct {
	KeepCount int `mapstructure:"keep_count"`
}

// DeployConfig holds orchestration options
type DeployConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
	FetchRetries   int `mapstructure:"fetch_retries"`
}

// SecurityConfig holds security gate options
type SecurityConfig struct {
	ExtraDenyPaths []string `mapstructure:"extra_deny_paths"`
}

var defaultConfig = Config{
	Lock: LockConfig{
		Timeout:      time.Hour,
		PollInterval: 500 * time.Millisecond,
	},
	State: StateConfig{
		InactivityThreshold: 30 * time.Minute,
		StallThreshold:      10 * time.Minute,
		Retention:           7 * 24 * time.Hour,
	},
	Backup: BackupConfig{
		KeepCount: 10,
	},
	Deploy: DeployConfig{
		MaxConcurrency: 5,
		FetchRetries:   3,
	},
	Security: SecurityConfig{},
}

// Default returns a copy of the built-in defaults.
func Default() Config {
	return defaultConfig
}

// HomeDir returns the ctxsync home directory (CTXSYNC_HOME or ~/.ctxsync).
// Lock files, deployment state and backups all live under it.
func HomeDir() (string, error) {
	if custom := os.Getenv("CTXSYNC_HOME"); custom != "" {
		return custom, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	return filepath.Join(home, ".ctxsync"), nil
}

// Load reads configuration from the ctxsync home directory and CTXSYNC_*
// environment variables layered over the defaults. A missing config file is
// not an error.
func Load() (*Config, error) {
	home, err := HomeDir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(home)
}

// LoadFrom reads configuration rooted at an explicit directory (tests use
// this to avoid touching the real home).
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix("CTXSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("lock.timeout", defaultConfig.Lock.Timeout)
	v.SetDefault("lock.poll_interval", defaultConfig.Lock.PollInterval)
	v.SetDefault("state.inactivity_threshold", defaultConfig.State.InactivityThreshold)
	v.SetDefault("state.stall_threshold", defaultConfig.State.StallThreshold)
	v.SetDefault("state.retention", defaultConfig.State.Retention)
	v.SetDefault("backup.keep_count", defaultConfig.Backup.KeepCount)
	v.SetDefault("deploy.max_concurrency", defaultConfig.Deploy.MaxConcurrency)
	v.SetDefault("deploy.fetch_retries", defaultConfig.Deploy.FetchRetries)
	v.SetDefault("security.extra_deny_paths", []string{})
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Lock.Timeout <= 0 {
		return fmt.Errorf("lock.timeout must be positive, got %v", c.Lock.Timeout)
	}
	if c.Lock.PollInterval <= 0 {
		return fmt.Errorf("lock.poll_interval must be positive, got %v", c.Lock.PollInterval)
	}
	if c.State.StallThreshold > c.State.InactivityThreshold {
		return fmt.Errorf("state.stall_threshold (%v) must not exceed state.inactivity_threshold (%v)",
			c.State.StallThreshold, c.State.InactivityThreshold)
	}
	if c.Backup.KeepCount < 1 {
		return fmt.Errorf("backup.keep_count must be at least 1, got %d", c.Backup.KeepCount)
	}
	if c.Deploy.MaxConcurrency < 1 || c.Deploy.MaxConcurrency > 16 {
		return fmt.Errorf("deploy.max_concurrency must be in [1,16], got %d", c.Deploy.MaxConcurrency)
	}
	if c.Deploy.FetchRetries < 0 {
		return fmt.Errorf("deploy.fetch_retries must not be negative, got %d", c.Deploy.FetchRetries)
	}
	return nil
}

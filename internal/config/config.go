// Package config loads deskhand configuration from config.yaml in the
// deskhand home directory. The resulting Config struct is built once at
// process start and passed explicitly to every component; there is no
// global settings singleton.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/deskhand/internal/otel"
)

// ReasonConfig configures the external reasoning CLI.
type ReasonConfig struct {
	// Command is the reasoning CLI executable (resolved via PATH if relative).
	Command string `yaml:"command"`
	// Model is passed through as the CLI's --model argument.
	Model string `yaml:"model"`
	// TimeoutSeconds is the hard wall-clock limit per reasoning call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the reasoning call timeout as a duration.
func (r ReasonConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// TelegramConfig configures the chat channel watcher and executor.
type TelegramConfig struct {
	Enabled             bool    `yaml:"enabled"`
	Token               string  `yaml:"token"`
	AllowedIDs          []int64 `yaml:"allowed_ids"`
	PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
}

// FilesystemConfig configures the vault filesystem watcher.
type FilesystemConfig struct {
	Enabled             bool `yaml:"enabled"`
	PollIntervalSeconds int  `yaml:"poll_interval_seconds"`
}

// WatchersConfig groups per-channel watcher settings.
type WatchersConfig struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Filesystem FilesystemConfig `yaml:"filesystem"`
}

// RalphConfig tunes the autonomous processing loop.
type RalphConfig struct {
	Enabled             bool    `yaml:"enabled"`
	IntervalSeconds     int     `yaml:"interval_seconds"`
	MaxConcurrentTasks  int     `yaml:"max_concurrent_tasks"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// BriefingConfig schedules the weekly briefing document.
type BriefingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a standard 5-field cron expression. The default fires
	// Mondays at 06:00.
	Schedule string `yaml:"schedule"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	// VaultPath is the root of the folder-as-state task store.
	VaultPath string `yaml:"vault_path"`

	LogLevel string `yaml:"log_level"`

	Reason   ReasonConfig   `yaml:"reason"`
	Watchers WatchersConfig `yaml:"watchers"`
	Ralph    RalphConfig    `yaml:"ralph"`
	Briefing BriefingConfig `yaml:"briefing"`

	HealthCheckIntervalSeconds int `yaml:"health_check_interval_seconds"`

	ErrorRetryAttempts int  `yaml:"error_retry_attempts"`
	AuditRetentionDays int  `yaml:"audit_log_retention_days"`
	LedgerEnabled      bool `yaml:"ledger_enabled"`

	Otel otel.Config `yaml:"otel"`
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Reason: ReasonConfig{
			Command:        "claude",
			Model:          "sonnet",
			TimeoutSeconds: 300,
		},
		Watchers: WatchersConfig{
			Telegram:   TelegramConfig{Enabled: false, PollIntervalSeconds: 120},
			Filesystem: FilesystemConfig{Enabled: true, PollIntervalSeconds: 30},
		},
		Ralph: RalphConfig{
			Enabled:             true,
			IntervalSeconds:     300,
			MaxConcurrentTasks:  3,
			ConfidenceThreshold: 0.85,
		},
		Briefing: BriefingConfig{
			Enabled:  true,
			Schedule: "0 6 * * 1",
		},
		HealthCheckIntervalSeconds: 300,
		ErrorRetryAttempts:         3,
		AuditRetentionDays:         90,
		LedgerEnabled:              true,
	}
}

// HomeDir returns the deskhand data directory, honoring DESKHAND_HOME.
func HomeDir() string {
	if override := os.Getenv("DESKHAND_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".deskhand")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from the deskhand home directory, creating the home
// directory if needed. A missing config file yields defaults.
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom is Load with an explicit home directory, used by tests.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create deskhand home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DESKHAND_VAULT"); v != "" {
		cfg.VaultPath = v
	}
	if v := os.Getenv("DESKHAND_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Watchers.Telegram.Token = v
	}
	if v := os.Getenv("DESKHAND_REASON_COMMAND"); v != "" {
		cfg.Reason.Command = v
	}
	if v := os.Getenv("DESKHAND_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Ralph.ConfidenceThreshold = f
		}
	}
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.VaultPath) == "" {
		cfg.VaultPath = filepath.Join(cfg.HomeDir, "vault")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Reason.Command == "" {
		cfg.Reason.Command = "claude"
	}
	if cfg.Reason.TimeoutSeconds <= 0 {
		cfg.Reason.TimeoutSeconds = 300
	}
	if cfg.Watchers.Telegram.PollIntervalSeconds <= 0 {
		cfg.Watchers.Telegram.PollIntervalSeconds = 120
	}
	if cfg.Watchers.Filesystem.PollIntervalSeconds <= 0 {
		cfg.Watchers.Filesystem.PollIntervalSeconds = 30
	}
	if cfg.Ralph.IntervalSeconds <= 0 {
		cfg.Ralph.IntervalSeconds = 300
	}
	if cfg.Ralph.MaxConcurrentTasks <= 0 {
		cfg.Ralph.MaxConcurrentTasks = 3
	}
	if cfg.Ralph.ConfidenceThreshold <= 0 || cfg.Ralph.ConfidenceThreshold > 1 {
		cfg.Ralph.ConfidenceThreshold = 0.85
	}
	if strings.TrimSpace(cfg.Briefing.Schedule) == "" {
		cfg.Briefing.Schedule = "0 6 * * 1"
	}
	if cfg.HealthCheckIntervalSeconds <= 0 {
		cfg.HealthCheckIntervalSeconds = 300
	}
	if cfg.ErrorRetryAttempts <= 0 {
		cfg.ErrorRetryAttempts = 3
	}
	if cfg.AuditRetentionDays <= 0 {
		cfg.AuditRetentionDays = 90
	}
}

// HandbookPath is the operating-policy document embedded in every
// reasoning prompt.
func (c Config) HandbookPath() string {
	return filepath.Join(c.VaultPath, "Company_Handbook.md")
}

// GoalsPath is the business-goals document embedded in every reasoning
// prompt.
func (c Config) GoalsPath() string {
	return filepath.Join(c.VaultPath, "Business_Goals.md")
}

// Fingerprint returns a stable hash of the settings that change runtime
// behavior, logged at startup so audit entries can be correlated with the
// active configuration.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "vault=%s|log=%s|reason=%s/%s/%d|ralph=%d/%d/%.2f|health=%d|retry=%d",
		c.VaultPath, c.LogLevel,
		c.Reason.Command, c.Reason.Model, c.Reason.TimeoutSeconds,
		c.Ralph.IntervalSeconds, c.Ralph.MaxConcurrentTasks, c.Ralph.ConfidenceThreshold,
		c.HealthCheckIntervalSeconds, c.ErrorRetryAttempts)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

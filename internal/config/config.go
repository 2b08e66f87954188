// Package config loads and persists the bridge configuration: Telegram
// credentials plus the timeouts and thresholds that govern routing.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	appDir     = "afk"
	configFile = "config.json"

	// EnvPrefix is the prefix for environment overrides (AFK_BOT_TOKEN, …).
	EnvPrefix = "AFK"
)

// Config holds all configurable bridge settings. Values resolve in layers:
// defaults, then config.json, then AFK_* environment variables.
type Config struct {
	BotToken string `mapstructure:"bot_token" json:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id" json:"chat_id"`

	PermissionTimeout    int `mapstructure:"permission_timeout" json:"permission_timeout"`
	KeepAlivePollSeconds int `mapstructure:"keep_alive_poll_seconds" json:"keep_alive_poll_seconds"`

	AutoApproveTools []string `mapstructure:"auto_approve_tools" json:"auto_approve_tools"`
	AutoApprovePaths []string `mapstructure:"auto_approve_paths" json:"auto_approve_paths"`

	MaxSlots                     int `mapstructure:"max_slots" json:"max_slots"`
	PermissionBatchWindowSeconds int `mapstructure:"permission_batch_window_seconds" json:"permission_batch_window_seconds"`
	SessionTrustThreshold        int `mapstructure:"session_trust_threshold" json:"session_trust_threshold"`
	ContextWarningThreshold      int `mapstructure:"context_warning_threshold" json:"context_warning_threshold"`
	IdlePingHours                int `mapstructure:"idle_ping_hours" json:"idle_ping_hours"`
	StaleWarningSeconds          int `mapstructure:"stale_warning_seconds" json:"stale_warning_seconds"`

	// HooksSettingsPath is the host settings file the installer edits.
	// Empty means the host's default location.
	HooksSettingsPath string `mapstructure:"hooks_settings_path" json:"hooks_settings_path,omitempty"`
}

// Defaults returns the built-in configuration values.
func Defaults() Config {
	return Config{
		PermissionTimeout:            300,
		KeepAlivePollSeconds:         60,
		AutoApproveTools:             []string{},
		AutoApprovePaths:             []string{},
		MaxSlots:                     4,
		PermissionBatchWindowSeconds: 2,
		SessionTrustThreshold:        3,
		ContextWarningThreshold:      150,
		IdlePingHours:                12,
		StaleWarningSeconds:          90,
	}
}

// Dir returns the configuration directory:
// $XDG_CONFIG_HOME/afk or ~/.config/afk.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appDir), nil
}

// Path returns the full path of config.json.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// DataDir returns the runtime data directory holding the slot table, the
// per-session mailboxes, logs, and the daemon journal:
// $XDG_DATA_HOME/afk or ~/.local/share/afk.
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, appDir), nil
}

// Load resolves the effective configuration from defaults, config.json (if
// present), and AFK_* environment variables.
func Load() (Config, error) {
	dir, err := Dir()
	if err != nil {
		return Config{}, fmt.Errorf("resolving config directory: %w", err)
	}
	return loadFrom(dir)
}

func loadFrom(dir string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(dir)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	d := Defaults()
	v.SetDefault("bot_token", d.BotToken)
	v.SetDefault("chat_id", d.ChatID)
	v.SetDefault("permission_timeout", d.PermissionTimeout)
	v.SetDefault("keep_alive_poll_seconds", d.KeepAlivePollSeconds)
	v.SetDefault("auto_approve_tools", d.AutoApproveTools)
	v.SetDefault("auto_approve_paths", d.AutoApprovePaths)
	v.SetDefault("max_slots", d.MaxSlots)
	v.SetDefault("permission_batch_window_seconds", d.PermissionBatchWindowSeconds)
	v.SetDefault("session_trust_threshold", d.SessionTrustThreshold)
	v.SetDefault("context_warning_threshold", d.ContextWarningThreshold)
	v.SetDefault("idle_ping_hours", d.IdlePingHours)
	v.SetDefault("stale_warning_seconds", d.StaleWarningSeconds)
	v.SetDefault("hooks_settings_path", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, &ParseError{Path: filepath.Join(dir, configFile), Err: err}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, &ParseError{Path: filepath.Join(dir, configFile), Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to config.json atomically with owner-only permissions
// (the file holds the bot token).
func Save(cfg Config) error {
	dir, err := Dir()
	if err != nil {
		return fmt.Errorf("resolving config directory: %w", err)
	}
	return saveTo(dir, cfg)
}

func saveTo(dir string, cfg Config) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, configFile)
	tmp, err := os.CreateTemp(dir, ".config-*.json.tmp")
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if err = tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate rejects configurations that would misroute or wedge the bridge.
func (c Config) Validate() error {
	if c.MaxSlots < 1 {
		return fmt.Errorf("max_slots must be at least 1, got %d", c.MaxSlots)
	}
	if c.PermissionTimeout < 1 {
		return fmt.Errorf("permission_timeout must be positive, got %d", c.PermissionTimeout)
	}
	if c.KeepAlivePollSeconds < 1 {
		return fmt.Errorf("keep_alive_poll_seconds must be positive, got %d", c.KeepAlivePollSeconds)
	}
	if c.PermissionBatchWindowSeconds < 0 {
		return fmt.Errorf("permission_batch_window_seconds must not be negative, got %d", c.PermissionBatchWindowSeconds)
	}
	if c.SessionTrustThreshold < 1 {
		return fmt.Errorf("session_trust_threshold must be positive, got %d", c.SessionTrustThreshold)
	}
	if c.ContextWarningThreshold < 1 {
		return fmt.Errorf("context_warning_threshold must be positive, got %d", c.ContextWarningThreshold)
	}
	if c.IdlePingHours < 1 {
		return fmt.Errorf("idle_ping_hours must be positive, got %d", c.IdlePingHours)
	}
	if c.StaleWarningSeconds < 1 {
		return fmt.Errorf("stale_warning_seconds must be positive, got %d", c.StaleWarningSeconds)
	}
	return nil
}

// Configured reports whether the Telegram credentials are present. Commands
// that talk to the channel refuse to run without them; status and setup work
// regardless.
func (c Config) Configured() bool {
	return c.BotToken != "" && c.ChatID != 0
}

// PermissionWait is the permission decision timeout as a duration.
func (c Config) PermissionWait() time.Duration {
	return time.Duration(c.PermissionTimeout) * time.Second
}

// KeepAliveInterval is the stop-loop poll slice as a duration.
func (c Config) KeepAliveInterval() time.Duration {
	return time.Duration(c.KeepAlivePollSeconds) * time.Second
}

// BatchWindow is the permission aggregation window as a duration.
func (c Config) BatchWindow() time.Duration {
	return time.Duration(c.PermissionBatchWindowSeconds) * time.Second
}

// IdlePingInterval is the silence span after which an idle ping is due.
func (c Config) IdlePingInterval() time.Duration {
	return time.Duration(c.IdlePingHours) * time.Hour
}

// StaleAfter is the age past which a pending event triggers a warning.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleWarningSeconds) * time.Second
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

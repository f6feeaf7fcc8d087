// Package config loads agent settings from defaults, an optional YAML file
// and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/focus-coach/companion/internal/timers"
	"github.com/focus-coach/companion/internal/ws"
)

// Config holds the agent settings.
type Config struct {
	Server        string
	Listen        string
	DBPath        string
	Transcript    string
	NotifyCommand string
	LogLines      int

	Connection ws.Config
	Timers     timers.Config
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server:   "http://localhost:8000",
		Listen:   "127.0.0.1:7878",
		DBPath:   "data/coach.db",
		LogLines: 500,
		Connection: ws.Config{
			BaseDelay:    ws.DefaultBaseDelay,
			MaxDelay:     ws.DefaultMaxDelay,
			MaxAttempts:  ws.DefaultMaxAttempts,
			PingInterval: ws.DefaultPingInterval,
			PongTimeout:  ws.DefaultPongTimeout,
		},
		Timers: timers.DefaultConfig(),
	}
}

type yamlConfig struct {
	Server        string `yaml:"server"`
	Listen        string `yaml:"listen"`
	DBPath        string `yaml:"db_path"`
	Transcript    string `yaml:"transcript"`
	NotifyCommand string `yaml:"notify_command"`
	LogLines      int    `yaml:"log_lines"`

	Connection struct {
		BaseDelay    string `yaml:"base_delay"`
		MaxDelay     string `yaml:"max_delay"`
		MaxAttempts  int    `yaml:"max_attempts"`
		PingInterval string `yaml:"ping_interval"`
		PongTimeout  string `yaml:"pong_timeout"`
	} `yaml:"connection"`

	Timers struct {
		TimeUpdateInterval        string `yaml:"time_update_interval"`
		InteractionUpdateInterval string `yaml:"interaction_update_interval"`
		UnfocusedFor              string `yaml:"unfocused_for"`
		ActiveWithin              string `yaml:"active_within"`
		ReminderCooldown          string `yaml:"reminder_cooldown"`
	} `yaml:"timers"`
}

// Load reads the settings. A missing file at path yields the defaults; an
// empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		rawData, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config file: %w", err)
		default:
			var fileData yamlConfig
			if err := yaml.Unmarshal(rawData, &fileData); err != nil {
				return cfg, fmt.Errorf("parse config yaml: %w", err)
			}
			if err := applyYamlConfig(&cfg, fileData); err != nil {
				return cfg, err
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	cfg.Connection.ServerURL = cfg.Server
	return cfg, nil
}

func applyYamlConfig(cfg *Config, fileData yamlConfig) error {
	setString(&cfg.Server, fileData.Server)
	setString(&cfg.Listen, fileData.Listen)
	setString(&cfg.DBPath, fileData.DBPath)
	setString(&cfg.Transcript, fileData.Transcript)
	setString(&cfg.NotifyCommand, fileData.NotifyCommand)
	if fileData.LogLines > 0 {
		cfg.LogLines = fileData.LogLines
	}
	if fileData.Connection.MaxAttempts > 0 {
		cfg.Connection.MaxAttempts = fileData.Connection.MaxAttempts
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"connection.base_delay", fileData.Connection.BaseDelay, &cfg.Connection.BaseDelay},
		{"connection.max_delay", fileData.Connection.MaxDelay, &cfg.Connection.MaxDelay},
		{"connection.ping_interval", fileData.Connection.PingInterval, &cfg.Connection.PingInterval},
		{"connection.pong_timeout", fileData.Connection.PongTimeout, &cfg.Connection.PongTimeout},
		{"timers.time_update_interval", fileData.Timers.TimeUpdateInterval, &cfg.Timers.TimeUpdateInterval},
		{"timers.interaction_update_interval", fileData.Timers.InteractionUpdateInterval, &cfg.Timers.InteractionUpdateInterval},
		{"timers.unfocused_for", fileData.Timers.UnfocusedFor, &cfg.Timers.Policy.UnfocusedFor},
		{"timers.active_within", fileData.Timers.ActiveWithin, &cfg.Timers.Policy.ActiveWithin},
		{"timers.reminder_cooldown", fileData.Timers.ReminderCooldown, &cfg.Timers.Policy.Cooldown},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Server = getEnv("COACH_SERVER", cfg.Server)
	cfg.Listen = getEnv("COACH_LISTEN", cfg.Listen)
	cfg.DBPath = getEnv("COACH_DB_PATH", cfg.DBPath)
	cfg.Transcript = getEnv("COACH_TRANSCRIPT", cfg.Transcript)
	cfg.NotifyCommand = getEnv("COACH_NOTIFY_COMMAND", cfg.NotifyCommand)

	if v := os.Getenv("COACH_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse COACH_MAX_ATTEMPTS: %w", err)
		}
		cfg.Connection.MaxAttempts = n
	}
	return nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// Validate rejects settings the agent cannot run with.
func (c Config) Validate() error {
	if c.Server == "" {
		return errors.New("server URL is required")
	}
	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("invalid server URL: unsupported scheme %q", u.Scheme)
	}

	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.DBPath == "" {
		return errors.New("database path is required")
	}
	if c.Connection.MaxAttempts <= 0 {
		return errors.New("connection.max_attempts must be positive")
	}

	positive := map[string]time.Duration{
		"connection.base_delay":              c.Connection.BaseDelay,
		"connection.max_delay":               c.Connection.MaxDelay,
		"connection.ping_interval":           c.Connection.PingInterval,
		"connection.pong_timeout":            c.Connection.PongTimeout,
		"timers.time_update_interval":        c.Timers.TimeUpdateInterval,
		"timers.interaction_update_interval": c.Timers.InteractionUpdateInterval,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	nonNegative := map[string]time.Duration{
		"timers.unfocused_for":     c.Timers.Policy.UnfocusedFor,
		"timers.active_within":     c.Timers.Policy.ActiveWithin,
		"timers.reminder_cooldown": c.Timers.Policy.Cooldown,
	}
	for name, d := range nonNegative {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Connection.MaxDelay < c.Connection.BaseDelay {
		return errors.New("connection.max_delay must not be below connection.base_delay")
	}

	return nil
}

// Package config provides configuration management for mcp-nexus.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/errors"
)

// Config holds all configuration sections for mcp-nexus.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Debugger DebuggerConfig `mapstructure:"debugger"`
	Session  SessionConfig  `mapstructure:"session"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Events   EventsConfig   `mapstructure:"events"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds transport configuration.
type ServerConfig struct {
	Transport string `mapstructure:"transport"` // "stdio" or "http"
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
}

// DebuggerConfig holds the CDB subprocess configuration.
type DebuggerConfig struct {
	// Path is the explicit debugger binary path. Empty means resolve via
	// PATH and the standard architecture-specific install locations.
	Path string `mapstructure:"path"`

	// SymbolsPath is the default symbol directory applied when a session
	// does not supply its own.
	SymbolsPath string `mapstructure:"symbolsPath"`

	CommandTimeoutMs  int `mapstructure:"commandTimeoutMs"`  // per-command deadline
	StartupTimeoutMs  int `mapstructure:"startupTimeoutMs"`  // wait for first prompt
	StartupDelayMs    int `mapstructure:"startupDelayMs"`    // settle time after spawn
	DisposalTimeoutMs int `mapstructure:"disposalTimeoutMs"` // graceful quit window
	ReadIdleTimeoutMs int `mapstructure:"readIdleTimeoutMs"` // single line-read deadline
}

// SessionConfig holds session lifecycle configuration.
type SessionConfig struct {
	MaxConcurrent     int `mapstructure:"maxConcurrent"`
	IdleTimeoutMs     int `mapstructure:"idleTimeoutMs"`
	CleanupIntervalMs int `mapstructure:"cleanupIntervalMs"`
}

// QueueConfig holds command-queue retention configuration.
type QueueConfig struct {
	ResultRetentionMs  int `mapstructure:"resultRetentionMs"`
	MaxTrackedCommands int `mapstructure:"maxTrackedCommands"`
}

// EventsConfig holds notification-bus configuration.
// An empty NATS URL selects the in-memory bus.
type EventsConfig struct {
	NatsURL string `mapstructure:"natsUrl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// CommandTimeout returns the per-command deadline as a time.Duration.
func (d *DebuggerConfig) CommandTimeout() time.Duration {
	return time.Duration(d.CommandTimeoutMs) * time.Millisecond
}

// StartupTimeout returns the startup deadline as a time.Duration.
func (d *DebuggerConfig) StartupTimeout() time.Duration {
	return time.Duration(d.StartupTimeoutMs) * time.Millisecond
}

// StartupDelay returns the post-spawn settle time as a time.Duration.
func (d *DebuggerConfig) StartupDelay() time.Duration {
	return time.Duration(d.StartupDelayMs) * time.Millisecond
}

// DisposalTimeout returns the graceful-shutdown window as a time.Duration.
func (d *DebuggerConfig) DisposalTimeout() time.Duration {
	return time.Duration(d.DisposalTimeoutMs) * time.Millisecond
}

// ReadIdleTimeout returns the single-read deadline as a time.Duration.
func (d *DebuggerConfig) ReadIdleTimeout() time.Duration {
	return time.Duration(d.ReadIdleTimeoutMs) * time.Millisecond
}

// IdleTimeout returns the session expiry age as a time.Duration.
func (s *SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMs) * time.Millisecond
}

// CleanupInterval returns the expiry-sweep period as a time.Duration.
func (s *SessionConfig) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalMs) * time.Millisecond
}

// ResultRetention returns the terminal-command retention as a time.Duration.
func (q *QueueConfig) ResultRetention() time.Duration {
	return time.Duration(q.ResultRetentionMs) * time.Millisecond
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("NEXUS_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8765)

	// Debugger defaults
	v.SetDefault("debugger.path", "")
	v.SetDefault("debugger.symbolsPath", "")
	v.SetDefault("debugger.commandTimeoutMs", 600_000) // 10 min
	v.SetDefault("debugger.startupTimeoutMs", 60_000)
	v.SetDefault("debugger.startupDelayMs", 1_000)
	v.SetDefault("debugger.disposalTimeoutMs", 30_000)
	v.SetDefault("debugger.readIdleTimeoutMs", 30_000)

	// Session defaults
	v.SetDefault("session.maxConcurrent", 10)
	v.SetDefault("session.idleTimeoutMs", 1_800_000) // 30 min
	v.SetDefault("session.cleanupIntervalMs", 300_000)

	// Queue defaults
	v.SetDefault("queue.resultRetentionMs", 900_000) // 15 min
	v.SetDefault("queue.maxTrackedCommands", 1000)

	// Events defaults - empty URL means use the in-memory bus
	v.SetDefault("events.natsUrl", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stderr")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix NEXUS_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/mcp-nexus/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("NEXUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("debugger.path", "NEXUS_DEBUGGER_PATH", "CDB_PATH")
	_ = v.BindEnv("debugger.symbolsPath", "NEXUS_DEBUGGER_SYMBOLS_PATH", "_NT_SYMBOL_PATH")
	_ = v.BindEnv("debugger.commandTimeoutMs", "NEXUS_DEBUGGER_COMMAND_TIMEOUT_MS")
	_ = v.BindEnv("session.maxConcurrent", "NEXUS_SESSION_MAX_CONCURRENT")
	_ = v.BindEnv("events.natsUrl", "NEXUS_EVENTS_NATS_URL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/mcp-nexus/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that all configuration values satisfy their constraints.
// Timeouts must be strictly positive; caps must be positive.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Server.Transport {
	case "stdio", "http":
	default:
		errs = append(errs, "server.transport must be one of: stdio, http")
	}
	if cfg.Server.Transport == "http" {
		if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
	}

	if cfg.Debugger.CommandTimeoutMs <= 0 {
		errs = append(errs, "debugger.commandTimeoutMs must be positive")
	}
	if cfg.Debugger.StartupTimeoutMs <= 0 {
		errs = append(errs, "debugger.startupTimeoutMs must be positive")
	}
	if cfg.Debugger.StartupDelayMs < 0 {
		errs = append(errs, "debugger.startupDelayMs must not be negative")
	}
	if cfg.Debugger.DisposalTimeoutMs <= 0 {
		errs = append(errs, "debugger.disposalTimeoutMs must be positive")
	}
	if cfg.Debugger.ReadIdleTimeoutMs <= 0 {
		errs = append(errs, "debugger.readIdleTimeoutMs must be positive")
	}

	if cfg.Session.MaxConcurrent <= 0 {
		errs = append(errs, "session.maxConcurrent must be positive")
	}
	if cfg.Session.IdleTimeoutMs <= 0 {
		errs = append(errs, "session.idleTimeoutMs must be positive")
	}
	if cfg.Session.CleanupIntervalMs <= 0 {
		errs = append(errs, "session.cleanupIntervalMs must be positive")
	}

	if cfg.Queue.ResultRetentionMs <= 0 {
		errs = append(errs, "queue.resultRetentionMs must be positive")
	}
	if cfg.Queue.MaxTrackedCommands <= 0 {
		errs = append(errs, "queue.maxTrackedCommands must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return apperrors.ConfigInvalid(strings.Join(errs, "; "))
	}

	return nil
}

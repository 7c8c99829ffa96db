package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithPath failed: %v", err)
	}

	if cfg.Server.Transport != "stdio" {
		t.Errorf("expected stdio transport default, got %q", cfg.Server.Transport)
	}
	if cfg.Debugger.CommandTimeout() != 10*time.Minute {
		t.Errorf("expected 10m command timeout default, got %v", cfg.Debugger.CommandTimeout())
	}
	if cfg.Debugger.StartupTimeout() != time.Minute {
		t.Errorf("expected 60s startup timeout default, got %v", cfg.Debugger.StartupTimeout())
	}
	if cfg.Session.MaxConcurrent != 10 {
		t.Errorf("expected 10 max sessions default, got %d", cfg.Session.MaxConcurrent)
	}
	if cfg.Session.IdleTimeout() != 30*time.Minute {
		t.Errorf("expected 30m idle timeout default, got %v", cfg.Session.IdleTimeout())
	}
	if cfg.Queue.ResultRetention() != 15*time.Minute {
		t.Errorf("expected 15m retention default, got %v", cfg.Queue.ResultRetention())
	}
	if cfg.Queue.MaxTrackedCommands != 1000 {
		t.Errorf("expected 1000 tracked commands default, got %d", cfg.Queue.MaxTrackedCommands)
	}
	if cfg.Events.NatsURL != "" {
		t.Errorf("expected empty NATS URL default, got %q", cfg.Events.NatsURL)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  transport: http
  host: 0.0.0.0
  port: 9000
debugger:
  commandTimeoutMs: 120000
session:
  maxConcurrent: 4
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadWithPath(dir)
	if err != nil {
		t.Fatalf("LoadWithPath failed: %v", err)
	}

	if cfg.Server.Transport != "http" || cfg.Server.Port != 9000 {
		t.Errorf("config file overrides not applied: %+v", cfg.Server)
	}
	if cfg.Debugger.CommandTimeout() != 2*time.Minute {
		t.Errorf("expected 2m command timeout, got %v", cfg.Debugger.CommandTimeout())
	}
	if cfg.Session.MaxConcurrent != 4 {
		t.Errorf("expected 4 max sessions, got %d", cfg.Session.MaxConcurrent)
	}
	// Untouched keys keep their defaults.
	if cfg.Queue.MaxTrackedCommands != 1000 {
		t.Errorf("expected default tracked commands, got %d", cfg.Queue.MaxTrackedCommands)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NEXUS_SESSION_MAX_CONCURRENT", "7")
	t.Setenv("NEXUS_DEBUGGER_PATH", "/opt/debuggers/cdb")

	cfg, err := LoadWithPath(t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithPath failed: %v", err)
	}
	if cfg.Session.MaxConcurrent != 7 {
		t.Errorf("expected env override 7, got %d", cfg.Session.MaxConcurrent)
	}
	if cfg.Debugger.Path != "/opt/debuggers/cdb" {
		t.Errorf("expected env debugger path, got %q", cfg.Debugger.Path)
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Transport: "stdio", Host: "127.0.0.1", Port: 8765},
		Debugger: DebuggerConfig{
			CommandTimeoutMs:  600_000,
			StartupTimeoutMs:  60_000,
			StartupDelayMs:    1_000,
			DisposalTimeoutMs: 30_000,
			ReadIdleTimeoutMs: 30_000,
		},
		Session: SessionConfig{MaxConcurrent: 10, IdleTimeoutMs: 1_800_000, CleanupIntervalMs: 300_000},
		Queue:   QueueConfig{ResultRetentionMs: 900_000, MaxTrackedCommands: 1000},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad transport", func(c *Config) { c.Server.Transport = "grpc" }},
		{"bad http port", func(c *Config) { c.Server.Transport = "http"; c.Server.Port = 0 }},
		{"zero command timeout", func(c *Config) { c.Debugger.CommandTimeoutMs = 0 }},
		{"negative startup delay", func(c *Config) { c.Debugger.StartupDelayMs = -1 }},
		{"zero disposal timeout", func(c *Config) { c.Debugger.DisposalTimeoutMs = 0 }},
		{"zero max sessions", func(c *Config) { c.Session.MaxConcurrent = 0 }},
		{"zero idle timeout", func(c *Config) { c.Session.IdleTimeoutMs = 0 }},
		{"zero retention", func(c *Config) { c.Queue.ResultRetentionMs = 0 }},
		{"zero tracked commands", func(c *Config) { c.Queue.MaxTrackedCommands = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if !apperrors.Is(err, apperrors.KindConfigInvalid) {
				t.Errorf("expected CONFIG_INVALID, got %v", err)
			}
		})
	}
}

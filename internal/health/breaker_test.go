package health

import (
	"testing"
	"time"

	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stderr",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute, newTestLogger(t))

	if !b.Allow() {
		t.Fatal("new breaker should allow")
	}
	if b.State() != "closed" {
		t.Fatalf("expected closed, got %q", b.State())
	}

	b.RecordFailure()
	b.RecordFailure()
	if !b.Allow() {
		t.Fatal("breaker should still allow below threshold")
	}

	b.RecordFailure()
	if b.State() != "open" {
		t.Fatalf("expected open after %d failures, got %q", 3, b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker should reject")
	}
	if b.Failures() != 3 {
		t.Fatalf("expected 3 failures, got %d", b.Failures())
	}
}

func TestBreakerSuccessResets(t *testing.T) {
	b := NewBreaker(2, time.Minute, newTestLogger(t))

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != "open" {
		t.Fatalf("expected open, got %q", b.State())
	}

	b.RecordSuccess()
	if b.State() != "closed" {
		t.Fatalf("expected closed after success, got %q", b.State())
	}
	if b.Failures() != 0 {
		t.Fatalf("expected failure count reset, got %d", b.Failures())
	}
	if !b.Allow() {
		t.Fatal("closed breaker should allow")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	// Negative reset timeout makes the probe window open immediately.
	b := NewBreaker(1, -time.Second, newTestLogger(t))

	b.RecordFailure()
	if b.State() != "open" {
		t.Fatalf("expected open, got %q", b.State())
	}

	if !b.Allow() {
		t.Fatal("expected probe to be allowed once the reset window passes")
	}
	if b.State() != "half-open" {
		t.Fatalf("expected half-open, got %q", b.State())
	}

	// Half-open still lets the probe through; a failure reopens.
	if !b.Allow() {
		t.Fatal("half-open breaker should allow the probe")
	}
	b.RecordFailure()
	if b.State() != "open" {
		t.Fatalf("expected reopened after failed probe, got %q", b.State())
	}

	b.RecordSuccess()
	if b.State() != "closed" {
		t.Fatalf("expected closed after successful probe, got %q", b.State())
	}
}

func TestReadProcessStats(t *testing.T) {
	stats := ReadProcessStats()
	if stats.PID <= 0 {
		t.Errorf("expected positive pid, got %d", stats.PID)
	}
	if stats.Goroutines <= 0 {
		t.Errorf("expected positive goroutine count, got %d", stats.Goroutines)
	}
	if stats.HeapSysMB == 0 {
		t.Errorf("expected nonzero heap sys, got %d", stats.HeapSysMB)
	}
	if stats.UptimeSeconds < 0 {
		t.Errorf("expected non-negative uptime, got %d", stats.UptimeSeconds)
	}
}

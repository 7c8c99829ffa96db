// Package health provides the debugger-spawn circuit breaker and the
// process statistics surfaced by the HTTP health endpoint.
package health

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/logger"
)

// Breaker implements a circuit breaker over debugger session creation.
// Repeated startup failures (missing binary, corrupt installs, resource
// exhaustion) open the circuit so clients fail fast instead of paying the
// startup timeout on every attempt.
type Breaker struct {
	failures     int64 // current consecutive failure count
	lastFailure  int64 // unix timestamp of last failure
	threshold    int64 // failures before opening
	resetTimeout int64 // seconds to wait before trying again
	state        int32 // 0=closed, 1=open, 2=half-open

	log *logger.Logger
}

const (
	circuitClosed   int32 = 0
	circuitOpen     int32 = 1
	circuitHalfOpen int32 = 2
)

// NewBreaker creates a circuit breaker that opens after threshold
// consecutive failures and probes again after resetTimeout.
func NewBreaker(threshold int64, resetTimeout time.Duration, log *logger.Logger) *Breaker {
	return &Breaker{
		threshold:    threshold,
		resetTimeout: int64(resetTimeout.Seconds()),
		log:          log.WithFields(zap.String("component", "health-breaker")),
	}
}

// Allow reports whether a session creation should be attempted.
func (b *Breaker) Allow() bool {
	state := atomic.LoadInt32(&b.state)
	if state == circuitClosed {
		return true
	}

	if state == circuitOpen {
		lastFail := atomic.LoadInt64(&b.lastFailure)
		if time.Now().Unix()-lastFail > b.resetTimeout {
			// One probe attempt is let through.
			atomic.CompareAndSwapInt32(&b.state, circuitOpen, circuitHalfOpen)
			return true
		}
		return false
	}

	// Half-open: allow the probe.
	return true
}

// RecordSuccess closes the circuit and resets the failure count.
func (b *Breaker) RecordSuccess() {
	atomic.StoreInt64(&b.failures, 0)
	atomic.StoreInt32(&b.state, circuitClosed)
}

// RecordFailure counts a failed session creation, opening the circuit at
// the threshold.
func (b *Breaker) RecordFailure() {
	failures := atomic.AddInt64(&b.failures, 1)
	atomic.StoreInt64(&b.lastFailure, time.Now().Unix())

	if failures >= b.threshold {
		atomic.StoreInt32(&b.state, circuitOpen)
		b.log.Warn("circuit breaker opened, session creation temporarily rejected",
			zap.Int64("failures", failures))
	}
}

// State returns the current state as a string.
func (b *Breaker) State() string {
	switch atomic.LoadInt32(&b.state) {
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int64 {
	return atomic.LoadInt64(&b.failures)
}

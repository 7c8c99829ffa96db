// Package session implements debugger sessions and their lifecycle manager.
//
// A session binds one crash dump to one debugger subprocess plus its command
// queue. The manager owns the session table, enforces the concurrency cap and
// runs the idle-expiry sweep.
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/errors"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/logger"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/debugger"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/queue"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusDisposing    Status = "disposing"
	StatusDisposed     Status = "disposed"
)

// TimestampLayout is the human-readable UTC format used in tool results,
// resources and notifications.
const timestampLayout = "2006-01-02 15:04:05"

// FormatTimestamp renders t in the wire format used throughout responses.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout) + " UTC"
}

// Info is a point-in-time description of a session, suitable for tool
// results and resource payloads.
type Info struct {
	ID           string    `json:"sessionId"`
	DumpPath     string    `json:"dumpPath"`
	SymbolsPath  string    `json:"symbolsPath,omitempty"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"-"`
	LastActivity time.Time `json:"-"`
	CommandCount int       `json:"commandCount"`
}

// Session binds one crash dump to one debugger subprocess and one command
// queue. All mutable state is guarded by the manager's per-session mutex.
type Session struct {
	ID          string
	DumpPath    string
	SymbolsPath string

	driver *debugger.Driver
	queue  *queue.CommandQueue
	log    *logger.Logger

	// guarded by the owning manager's mutex
	status       Status
	createdAt    time.Time
	lastActivity time.Time
}

// Enqueue validates and queues a command on this session's queue.
func (s *Session) Enqueue(text string) (string, error) {
	return s.queue.Enqueue(text)
}

// CommandStatus returns the queue record for a command id.
func (s *Session) CommandStatus(commandID string) (queue.CommandSnapshot, error) {
	return s.queue.Status(commandID)
}

// CancelCommand requests cancellation of a queued or executing command.
func (s *Session) CancelCommand(commandID string) bool {
	return s.queue.Cancel(commandID)
}

// Commands returns a snapshot of all tracked commands on this session.
func (s *Session) Commands() []queue.CommandSnapshot {
	return s.queue.Snapshot()
}

// dispose tears the session down: drains the queue, then stops the
// subprocess. Safe to call from any goroutine; the queue's Shutdown blocks
// until the executor exits, so the driver has no in-flight Execute when
// Stop runs.
func (s *Session) dispose(ctx context.Context, reason string) {
	s.queue.Shutdown(reason)
	if err := s.driver.Stop(ctx); err != nil {
		s.log.Warn("error stopping debugger", zap.Error(err))
	}
}

// info snapshots the session for reporting. Caller holds the manager lock.
func (s *Session) infoLocked() Info {
	return Info{
		ID:           s.ID,
		DumpPath:     s.DumpPath,
		SymbolsPath:  s.SymbolsPath,
		Status:       s.status,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		CommandCount: len(s.queue.Snapshot()),
	}
}

// ParseCommandSessionID extracts the session id embedded in a command id.
// Command ids have the shape cmd-<sessionID>-<seq>.
func ParseCommandSessionID(commandID string) (string, error) {
	const prefix = "cmd-"
	if len(commandID) <= len(prefix) || commandID[:len(prefix)] != prefix {
		return "", apperrors.InvalidArgument("malformed command id: " + commandID)
	}
	rest := commandID[len(prefix):]
	// The sequence number is everything after the last dash.
	last := -1
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == '-' {
			last = i
			break
		}
	}
	if last <= 0 || last == len(rest)-1 {
		return "", apperrors.InvalidArgument("malformed command id: " + commandID)
	}
	return rest[:last], nil
}

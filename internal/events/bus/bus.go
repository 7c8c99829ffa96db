// Package bus provides the in-process notification bus for mcp-nexus.
//
// Command-status and session-event notifications are published on NATS-style
// subjects (`command.status.<sessionID>`, `session.event.<sessionID>`);
// transports subscribe with wildcards and frame matching events as JSON-RPC
// notifications. Subscriber failures are logged and swallowed, never
// propagated to publishers.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Subjects published by the core.
const (
	SubjectCommandStatus = "command.status" // command.status.<sessionID>
	SubjectSessionEvent  = "session.event"  // session.event.<sessionID>
)

// Event types carried on the bus.
const (
	TypeCommandStatus  = "command.status"
	TypeSessionCreated = "session.created"
	TypeSessionClosed  = "session.closed"
	TypeSessionExpired = "session.expired"
)

// Event represents a message on the notification bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new event with a UUID and current timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the notification bus contract. Ordering within a single
// Publish call is preserved for in-memory delivery; concurrent publishers
// may interleave.
type EventBus interface {
	// Publish sends an event to a subject.
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe creates a subscription to a subject pattern. Patterns use
	// NATS wildcards: * matches one token, > matches the rest.
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// Close closes the bus; further publishes fail.
	Close()

	// IsConnected returns connection status.
	IsConnected() bool
}

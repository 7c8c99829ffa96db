// Package queue provides the per-session debugger command queue.
//
// Each queue owns exactly one executor goroutine, which is the only caller
// of the driver's Execute primitive. Commands therefore execute strictly in
// enqueue order and at most one command is in the Executing state at any
// time. Terminal commands are retained in a bounded result table so clients
// can poll status after completion.
package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/errors"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/logger"
)

// CommandState is the lifecycle state of a queued command.
type CommandState string

const (
	StateQueued    CommandState = "queued"
	StateExecuting CommandState = "executing"
	StateCompleted CommandState = "completed"
	StateFailed    CommandState = "failed"
	StateCancelled CommandState = "cancelled"
	StateTimedOut  CommandState = "timed_out"
)

// Terminal reports whether the state is final. Terminal states are
// monotonic; a command never leaves one.
func (s CommandState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimedOut:
		return true
	}
	return false
}

// Executor is the slice of the debugger driver the queue depends on.
type Executor interface {
	Execute(ctx context.Context, command string) (string, error)
	Alive() bool
}

// StatusUpdate describes a command state transition, published on every
// entry into Executing and into a terminal state.
type StatusUpdate struct {
	CommandID string       `json:"commandId"`
	SessionID string       `json:"sessionId"`
	Command   string       `json:"command"`
	State     CommandState `json:"status"`
	Result    string       `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// CommandSnapshot is a point-in-time copy of a command record.
type CommandSnapshot struct {
	ID         string
	SessionID  string
	Text       string
	State      CommandState
	Result     string
	ErrorKind  string
	QueuedAt   time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

type command struct {
	id        string
	text      string
	state     CommandState
	result    string
	errorKind string
	queuedAt  time.Time
	started   *time.Time
	finished  *time.Time

	cancel    context.CancelFunc // non-nil while Executing
	cancelled bool               // explicit cancel requested before execution
}

// Options configures a CommandQueue.
type Options struct {
	SessionID       string
	ResultRetention time.Duration // minimum time terminal commands stay queryable
	MaxTracked      int           // hard cap on tracked commands; oldest terminals evicted
}

// CommandQueue serializes commands against one debugger driver.
type CommandQueue struct {
	opts   Options
	driver Executor
	log    *logger.Logger

	// notify receives every status transition of interest; nil disables
	// publishing. Set once before Start.
	notify func(StatusUpdate)

	// onProcessDeath is invoked (once, from the executor goroutine) when the
	// driver reports the subprocess died. Set once before Start.
	onProcessDeath func()

	mu       sync.Mutex
	pending  []string            // FIFO of ids in state Queued
	commands map[string]*command // non-terminal plus recently terminal
	counter  int
	dead     bool

	wake         chan struct{}
	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
	baseCtx      context.Context
	baseCancel   context.CancelFunc
}

// New creates a CommandQueue for the given driver. Retention bounds must be
// positive.
func New(driver Executor, opts Options, log *logger.Logger) (*CommandQueue, error) {
	if opts.ResultRetention <= 0 {
		return nil, apperrors.ConfigInvalid("result retention must be positive")
	}
	if opts.MaxTracked <= 0 {
		return nil, apperrors.ConfigInvalid("max tracked commands must be positive")
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &CommandQueue{
		opts:       opts,
		driver:     driver,
		log:        log.WithFields(zap.String("component", "command-queue"), zap.String("session_id", opts.SessionID)),
		commands:   make(map[string]*command),
		wake:       make(chan struct{}, 1),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}, nil
}

// SetNotifier installs the status publisher. Must be called before Start.
func (q *CommandQueue) SetNotifier(fn func(StatusUpdate)) {
	q.notify = fn
}

// SetProcessDeathHandler installs the process-death callback. Must be called
// before Start.
func (q *CommandQueue) SetProcessDeathHandler(fn func()) {
	q.onProcessDeath = fn
}

// Start launches the executor goroutine.
func (q *CommandQueue) Start() {
	go q.run()
}

// Enqueue validates and queues a command, wakes the executor and returns the
// command id immediately. The command output is retrieved later via Status.
func (q *CommandQueue) Enqueue(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", apperrors.InvalidArgument("command text must not be empty")
	}

	q.mu.Lock()
	if q.dead {
		q.mu.Unlock()
		return "", apperrors.New(apperrors.KindProcessDied, "debugger process is no longer running")
	}
	select {
	case <-q.shutdown:
		q.mu.Unlock()
		return "", apperrors.SessionClosing(q.opts.SessionID)
	default:
	}

	q.counter++
	id := fmt.Sprintf("cmd-%s-%04d", q.opts.SessionID, q.counter)
	q.commands[id] = &command{
		id:       id,
		text:     text,
		state:    StateQueued,
		queuedAt: time.Now().UTC(),
	}
	q.pending = append(q.pending, id)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	q.log.Debug("command enqueued", zap.String("command_id", id))
	return id, nil
}

// Status returns a snapshot of the command record. Unknown ids (never
// existed, or evicted from the result table) are a NotFound error.
func (q *CommandQueue) Status(commandID string) (CommandSnapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.commands[commandID]
	if !ok {
		return CommandSnapshot{}, apperrors.NotFound("command", commandID)
	}
	return q.snapshotLocked(c), nil
}

// Cancel requests cancellation of a command. Queued commands flip straight
// to Cancelled; an executing command has its context cancelled and reaches a
// terminal state when the executor observes the interruption. Returns false
// for unknown or already-terminal commands.
func (q *CommandQueue) Cancel(commandID string) bool {
	q.mu.Lock()
	c, ok := q.commands[commandID]
	if !ok || c.state.Terminal() {
		q.mu.Unlock()
		return false
	}

	switch c.state {
	case StateQueued:
		c.cancelled = true
		q.finishLocked(c, StateCancelled, "", string(apperrors.KindCancelled))
		q.removePendingLocked(commandID)
		update := q.updateLocked(c)
		q.mu.Unlock()
		q.publish(update)
		return true
	case StateExecuting:
		cancel := c.cancel
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return true
	}
	q.mu.Unlock()
	return false
}

// CancelAll cancels every non-terminal command. Used on session close.
func (q *CommandQueue) CancelAll(reason string) {
	q.mu.Lock()
	var updates []StatusUpdate
	var executing context.CancelFunc
	for _, id := range q.pending {
		c := q.commands[id]
		if c == nil || c.state != StateQueued {
			continue
		}
		q.finishLocked(c, StateCancelled, "", reason)
		updates = append(updates, q.updateLocked(c))
	}
	q.pending = q.pending[:0]
	for _, c := range q.commands {
		if c.state == StateExecuting && c.cancel != nil {
			executing = c.cancel
		}
	}
	q.mu.Unlock()

	for _, u := range updates {
		q.publish(u)
	}
	if executing != nil {
		executing()
	}
}

// Snapshot returns a point-in-time list of all tracked commands, pending
// first in queue order, then terminal entries.
func (q *CommandQueue) Snapshot() []CommandSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]CommandSnapshot, 0, len(q.commands))
	seen := make(map[string]bool, len(q.pending))
	for _, id := range q.pending {
		if c, ok := q.commands[id]; ok {
			out = append(out, q.snapshotLocked(c))
			seen[id] = true
		}
	}
	for id, c := range q.commands {
		if !seen[id] && !c.state.Terminal() {
			out = append(out, q.snapshotLocked(c))
			seen[id] = true
		}
	}
	for id, c := range q.commands {
		if !seen[id] {
			out = append(out, q.snapshotLocked(c))
		}
	}
	return out
}

// Shutdown stops the executor, draining remaining queued commands as
// cancelled. Blocks until the executor goroutine exits.
func (q *CommandQueue) Shutdown(reason string) {
	q.shutdownOnce.Do(func() {
		close(q.shutdown)
		q.baseCancel()
		select {
		case q.wake <- struct{}{}:
		default:
		}
	})
	q.CancelAll(reason)
	<-q.done
}

// run is the single executor loop. Only this goroutine calls the driver.
func (q *CommandQueue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.shutdown:
			q.drainRemaining("shutdown")
			return
		case <-q.wake:
		}

		for {
			c, ctx := q.popHead()
			if c == nil {
				break
			}
			q.execute(c, ctx)

			q.mu.Lock()
			dead := q.dead
			q.mu.Unlock()
			if dead {
				return
			}
		}
	}
}

// popHead transitions the head queued command to Executing and returns it
// with its execution context. Returns nil when the queue is empty.
func (q *CommandQueue) popHead() (*command, context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) > 0 {
		id := q.pending[0]
		q.pending = q.pending[1:]
		c, ok := q.commands[id]
		if !ok || c.state != StateQueued {
			continue
		}
		now := time.Now().UTC()
		c.state = StateExecuting
		c.started = &now
		ctx, cancel := context.WithCancel(q.baseCtx)
		c.cancel = cancel
		return c, ctx
	}
	return nil, nil
}

func (q *CommandQueue) execute(c *command, ctx context.Context) {
	q.mu.Lock()
	executingUpdate := q.updateLocked(c)
	q.mu.Unlock()
	q.publish(executingUpdate)

	output, err := q.driver.Execute(ctx, c.text)

	q.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	processDied := false
	switch {
	case err == nil:
		q.finishLocked(c, StateCompleted, output, "")
	case apperrors.Is(err, apperrors.KindCommandTimeout):
		q.finishLocked(c, StateTimedOut, "", err.Error())
	case apperrors.Is(err, apperrors.KindCancelled):
		q.finishLocked(c, StateCancelled, "", err.Error())
	case apperrors.Is(err, apperrors.KindProcessDied):
		q.finishLocked(c, StateFailed, "", "process-died")
		q.dead = true
		processDied = true
	default:
		q.finishLocked(c, StateFailed, "", err.Error())
	}
	terminalUpdate := q.updateLocked(c)
	q.evictLocked()
	q.mu.Unlock()

	q.publish(terminalUpdate)

	if err != nil {
		q.log.Debug("command finished with error",
			zap.String("command_id", c.id), zap.Error(err))
	}

	if processDied {
		q.drainRemaining("process-died")
		if q.onProcessDeath != nil {
			q.onProcessDeath()
		}
	} else if !q.driver.Alive() {
		// The driver could not realign after a cancel; the session must be
		// torn down rather than left wedged.
		q.mu.Lock()
		q.dead = true
		q.mu.Unlock()
		q.drainRemaining("driver-unusable")
		if q.onProcessDeath != nil {
			q.onProcessDeath()
		}
	}
}

// drainRemaining cancels every still-queued command.
func (q *CommandQueue) drainRemaining(reason string) {
	q.mu.Lock()
	var updates []StatusUpdate
	for _, id := range q.pending {
		c := q.commands[id]
		if c == nil || c.state.Terminal() {
			continue
		}
		q.finishLocked(c, StateCancelled, "", reason)
		updates = append(updates, q.updateLocked(c))
	}
	q.pending = q.pending[:0]
	q.mu.Unlock()

	for _, u := range updates {
		q.publish(u)
	}
}

// finishLocked moves c into a terminal state exactly once.
func (q *CommandQueue) finishLocked(c *command, state CommandState, result, errorKind string) {
	if c.state.Terminal() {
		return
	}
	now := time.Now().UTC()
	c.state = state
	c.result = result
	c.errorKind = errorKind
	c.finished = &now
}

// evictLocked enforces the retention policy: terminal commands are kept for
// at least the retention window, and the oldest terminals are dropped when
// the table exceeds its cap.
func (q *CommandQueue) evictLocked() {
	cutoff := time.Now().UTC().Add(-q.opts.ResultRetention)
	for id, c := range q.commands {
		if c.state.Terminal() && c.finished != nil && c.finished.Before(cutoff) {
			delete(q.commands, id)
		}
	}

	for len(q.commands) > q.opts.MaxTracked {
		oldestID := ""
		var oldest *time.Time
		for id, c := range q.commands {
			if !c.state.Terminal() || c.finished == nil {
				continue
			}
			if oldest == nil || c.finished.Before(*oldest) {
				oldest = c.finished
				oldestID = id
			}
		}
		if oldestID == "" {
			break
		}
		delete(q.commands, oldestID)
	}
}

func (q *CommandQueue) removePendingLocked(id string) {
	for i, pid := range q.pending {
		if pid == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *CommandQueue) snapshotLocked(c *command) CommandSnapshot {
	return CommandSnapshot{
		ID:         c.id,
		SessionID:  q.opts.SessionID,
		Text:       c.text,
		State:      c.state,
		Result:     c.result,
		ErrorKind:  c.errorKind,
		QueuedAt:   c.queuedAt,
		StartedAt:  c.started,
		FinishedAt: c.finished,
	}
}

func (q *CommandQueue) updateLocked(c *command) StatusUpdate {
	return StatusUpdate{
		CommandID: c.id,
		SessionID: q.opts.SessionID,
		Command:   c.text,
		State:     c.state,
		Result:    c.result,
		Error:     c.errorKind,
		Timestamp: time.Now().UTC(),
	}
}

func (q *CommandQueue) publish(u StatusUpdate) {
	if q.notify == nil {
		return
	}
	q.notify(u)
}

package session

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/config"
	apperrors "github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/errors"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/logger"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/debugger"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/events/bus"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/health"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/queue"
)

// Manager owns the session table. It enforces the concurrency cap, publishes
// session and command events on the bus, and runs the idle-expiry sweep.
type Manager struct {
	cfg     *config.Config
	bus     bus.EventBus
	breaker *health.Breaker // nil disables the spawn circuit breaker
	log     *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	reserved int // creations in flight, counted against the cap
	counter  int
	stopping bool

	sweepStop    chan struct{}
	sweepDone    chan struct{}
	sweepStarted bool
	stopOnce     sync.Once
}

// NewManager creates a session manager. Call Start to launch the expiry
// sweep and Stop to tear everything down.
func NewManager(cfg *config.Config, eventBus bus.EventBus, breaker *health.Breaker, log *logger.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		bus:       eventBus,
		breaker:   breaker,
		log:       log.WithFields(zap.String("component", "session-manager")),
		sessions:  make(map[string]*Session),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
}

// Start launches the idle-expiry sweep goroutine.
func (m *Manager) Start() {
	m.mu.Lock()
	m.sweepStarted = true
	m.mu.Unlock()
	go m.sweep()
}

// Stop halts the sweep and disposes every remaining session.
func (m *Manager) Stop(ctx context.Context) {
	m.stopOnce.Do(func() {
		close(m.sweepStop)
	})
	m.mu.Lock()
	m.stopping = true
	started := m.sweepStarted
	m.mu.Unlock()
	if started {
		<-m.sweepDone
	}

	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	// Sessions dispose independently; serializing them would multiply the
	// disposal timeout by the session count.
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if _, err := m.Close(ctx, id); err != nil && !apperrors.Is(err, apperrors.KindSessionNotFound) {
				m.log.Warn("error closing session during shutdown",
					zap.String("session_id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Create opens a new debugger session against a crash dump. It validates
// inputs, reserves capacity under the concurrency cap, spawns the debugger
// and waits for it to become ready. No session state survives a failed
// creation.
func (m *Manager) Create(ctx context.Context, dumpPath, symbolsPath string) (Info, error) {
	if strings.TrimSpace(dumpPath) == "" {
		return Info{}, apperrors.InvalidArgument("dumpPath must not be empty")
	}
	info, err := os.Stat(dumpPath)
	if err != nil || info.IsDir() {
		return Info{}, apperrors.Newf(apperrors.KindInvalidArgument,
			"dump file %q does not exist", dumpPath)
	}

	if symbolsPath == "" {
		symbolsPath = m.cfg.Debugger.SymbolsPath
	}
	if symbolsPath != "" {
		if info, err := os.Stat(symbolsPath); err != nil || !info.IsDir() {
			return Info{}, apperrors.Newf(apperrors.KindInvalidArgument,
				"symbols directory %q does not exist", symbolsPath)
		}
	}

	binary, err := debugger.LocateBinary(m.cfg.Debugger.Path)
	if err != nil {
		return Info{}, err
	}

	if m.breaker != nil && !m.breaker.Allow() {
		return Info{}, apperrors.New(apperrors.KindNotActive,
			"debugger startup temporarily disabled after repeated failures")
	}

	// Reserve capacity before the expensive spawn so concurrent creations
	// cannot overshoot the cap. The session enters the table only once it
	// is fully built; table iteration never sees a half-initialized entry.
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return Info{}, apperrors.New(apperrors.KindNotActive, "session manager is shutting down")
	}
	if len(m.sessions)+m.reserved >= m.cfg.Session.MaxConcurrent {
		m.mu.Unlock()
		return Info{}, apperrors.CapacityExceeded(m.cfg.Session.MaxConcurrent)
	}
	m.reserved++
	m.counter++
	id := fmt.Sprintf("sess-%06d-%s", m.counter,
		strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	m.mu.Unlock()

	now := time.Now().UTC()
	sess := &Session{
		ID:           id,
		DumpPath:     dumpPath,
		SymbolsPath:  symbolsPath,
		log:          m.log.WithSessionID(id),
		status:       StatusInitializing,
		createdAt:    now,
		lastActivity: now,
	}

	drv, q, err := m.buildSession(ctx, sess, binary)
	if err != nil {
		m.mu.Lock()
		m.reserved--
		m.mu.Unlock()
		if m.breaker != nil && (apperrors.Is(err, apperrors.KindStartupFailed) ||
			apperrors.Is(err, apperrors.KindStartupTimeout)) {
			m.breaker.RecordFailure()
		}
		return Info{}, err
	}
	if m.breaker != nil {
		m.breaker.RecordSuccess()
	}

	m.mu.Lock()
	m.reserved--
	if m.stopping {
		m.mu.Unlock()
		// Shutdown raced the spawn. Run the queue just long enough to drain
		// it, then stop the debugger; the session never becomes visible.
		q.Start()
		q.Shutdown("session-closed")
		stopCtx, cancel := context.WithTimeout(context.Background(), m.cfg.Debugger.DisposalTimeout())
		defer cancel()
		if err := drv.Stop(stopCtx); err != nil {
			m.log.Warn("error stopping debugger spawned during shutdown", zap.Error(err))
		}
		return Info{}, apperrors.New(apperrors.KindNotActive, "session manager is shutting down")
	}
	sess.driver = drv
	sess.queue = q
	sess.status = StatusActive
	m.sessions[id] = sess
	out := sess.infoLocked()
	m.mu.Unlock()

	q.Start()
	m.log.Info("session created",
		zap.String("session_id", id), zap.String("dump", dumpPath))
	m.publishSessionEvent(bus.TypeSessionCreated, out, "")
	return out, nil
}

// buildSession spawns the debugger and wires the command queue. On error the
// caller releases the capacity reservation.
func (m *Manager) buildSession(ctx context.Context, sess *Session, binary string) (*debugger.Driver, *queue.CommandQueue, error) {
	drv, err := debugger.NewDriver(debugger.Options{
		BinaryPath:      binary,
		DumpPath:        sess.DumpPath,
		SymbolsPath:     sess.SymbolsPath,
		SessionID:       sess.ID,
		CommandTimeout:  m.cfg.Debugger.CommandTimeout(),
		StartupTimeout:  m.cfg.Debugger.StartupTimeout(),
		StartupDelay:    m.cfg.Debugger.StartupDelay(),
		DisposalTimeout: m.cfg.Debugger.DisposalTimeout(),
		ReadIdleTimeout: m.cfg.Debugger.ReadIdleTimeout(),
	}, m.log)
	if err != nil {
		return nil, nil, err
	}

	q, err := queue.New(drv, queue.Options{
		SessionID:       sess.ID,
		ResultRetention: m.cfg.Queue.ResultRetention(),
		MaxTracked:      m.cfg.Queue.MaxTrackedCommands,
	}, m.log)
	if err != nil {
		return nil, nil, err
	}

	q.SetNotifier(m.publishCommandStatus)
	sessionID := sess.ID
	q.SetProcessDeathHandler(func() {
		// Runs on the queue's executor goroutine; disposal must not block it.
		go m.handleProcessDeath(sessionID)
	})

	if err := drv.Start(ctx); err != nil {
		return nil, nil, err
	}
	return drv, q, nil
}

// Close disposes a session: drains its queue, stops the debugger and removes
// it from the table. Returns true when this call performed the disposal;
// false when another caller is already disposing it.
func (m *Manager) Close(ctx context.Context, sessionID string) (bool, error) {
	return m.closeWith(ctx, sessionID, "session-closed", "")
}

func (m *Manager) closeWith(ctx context.Context, sessionID, reason, closeCause string) (bool, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false, apperrors.SessionNotFound(sessionID)
	}
	if sess.status == StatusDisposing || sess.status == StatusDisposed {
		m.mu.Unlock()
		return false, nil
	}
	sess.status = StatusDisposing
	m.mu.Unlock()

	sess.dispose(ctx, reason)

	m.mu.Lock()
	sess.status = StatusDisposed
	out := sess.infoLocked()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	m.log.Info("session closed",
		zap.String("session_id", sessionID), zap.String("reason", reason))
	m.publishSessionEvent(bus.TypeSessionClosed, out, closeCause)
	return true, nil
}

// handleProcessDeath disposes a session whose debugger subprocess exited
// unexpectedly. The queue has already drained its remaining commands.
func (m *Manager) handleProcessDeath(sessionID string) {
	m.log.Warn("debugger process died, disposing session",
		zap.String("session_id", sessionID))
	if _, err := m.closeWith(context.Background(), sessionID, "process-died", "process-died"); err != nil {
		if !apperrors.Is(err, apperrors.KindSessionNotFound) {
			m.log.Error("failed to dispose dead session",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

// Get returns the session for an id, including sessions mid-disposal.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, apperrors.SessionNotFound(sessionID)
	}
	return sess, nil
}

// Describe returns the Info snapshot for one session.
func (m *Manager) Describe(sessionID string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return Info{}, apperrors.SessionNotFound(sessionID)
	}
	return sess.infoLocked(), nil
}

// ListActive returns snapshots of every tracked session.
func (m *Manager) ListActive() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.infoLocked())
	}
	return out
}

// EnqueueCommand queues a command on a session and refreshes its activity.
func (m *Manager) EnqueueCommand(sessionID, text string) (string, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return "", apperrors.SessionNotFound(sessionID)
	}
	if sess.status != StatusActive {
		m.mu.Unlock()
		return "", apperrors.SessionClosing(sessionID)
	}
	sess.lastActivity = time.Now().UTC()
	m.mu.Unlock()

	return sess.Enqueue(text)
}

// CommandStatus resolves a command id to its queue record. The session id is
// embedded in the command id. Polling counts as session activity.
func (m *Manager) CommandStatus(commandID string) (queue.CommandSnapshot, error) {
	sessionID, err := ParseCommandSessionID(commandID)
	if err != nil {
		return queue.CommandSnapshot{}, err
	}

	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return queue.CommandSnapshot{}, apperrors.SessionNotFound(sessionID)
	}
	sess.lastActivity = time.Now().UTC()
	m.mu.Unlock()

	return sess.CommandStatus(commandID)
}

// CancelCommand requests cancellation of a command resolved by its id.
func (m *Manager) CancelCommand(commandID string) (bool, error) {
	sessionID, err := ParseCommandSessionID(commandID)
	if err != nil {
		return false, err
	}
	sess, err := m.Get(sessionID)
	if err != nil {
		return false, err
	}
	return sess.CancelCommand(commandID), nil
}

// sweep periodically disposes sessions idle past the configured timeout.
func (m *Manager) sweep() {
	defer close(m.sweepDone)
	ticker := time.NewTicker(m.cfg.Session.CleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-m.sweepStop:
			return
		case <-ticker.C:
			m.expireIdle()
		}
	}
}

func (m *Manager) expireIdle() {
	cutoff := time.Now().UTC().Add(-m.cfg.Session.IdleTimeout())

	m.mu.RLock()
	var expired []Info
	for _, sess := range m.sessions {
		if sess.status == StatusActive && sess.lastActivity.Before(cutoff) {
			expired = append(expired, sess.infoLocked())
		}
	}
	m.mu.RUnlock()

	for _, info := range expired {
		m.log.Info("session expired",
			zap.String("session_id", info.ID),
			zap.Time("last_activity", info.LastActivity))
		m.publishSessionEvent(bus.TypeSessionExpired, info, "idle-timeout")
		if _, err := m.closeWith(context.Background(), info.ID, "session-expired", "expired"); err != nil {
			if !apperrors.Is(err, apperrors.KindSessionNotFound) {
				m.log.Warn("failed to dispose expired session",
					zap.String("session_id", info.ID), zap.Error(err))
			}
		}
	}
}

func (m *Manager) publishCommandStatus(u queue.StatusUpdate) {
	data := map[string]interface{}{
		"commandId": u.CommandID,
		"sessionId": u.SessionID,
		"command":   u.Command,
		"status":    string(u.State),
		"timestamp": FormatTimestamp(u.Timestamp),
	}
	if u.Result != "" {
		data["result"] = u.Result
	}
	if u.Error != "" {
		data["error"] = u.Error
	}

	subject := bus.SubjectCommandStatus + "." + u.SessionID
	event := bus.NewEvent(bus.TypeCommandStatus, "session-manager", data)
	if err := m.bus.Publish(context.Background(), subject, event); err != nil {
		m.log.Warn("failed to publish command status", zap.Error(err))
	}
}

func (m *Manager) publishSessionEvent(eventType string, info Info, cause string) {
	data := map[string]interface{}{
		"sessionId": info.ID,
		"dumpPath":  info.DumpPath,
		"status":    string(info.Status),
		"timestamp": FormatTimestamp(time.Now().UTC()),
	}
	if cause != "" {
		data["reason"] = cause
	}

	subject := bus.SubjectSessionEvent + "." + info.ID
	event := bus.NewEvent(eventType, "session-manager", data)
	if err := m.bus.Publish(context.Background(), subject, event); err != nil {
		m.log.Warn("failed to publish session event", zap.Error(err))
	}
}

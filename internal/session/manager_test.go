package session

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/config"
	apperrors "github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/errors"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/logger"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/events/bus"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/queue"
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

const fakeDebuggerScript = `#!/bin/sh
echo "Loading Dump File"
echo "0:000> "
while IFS= read -r line; do
  case "$line" in
    ".echo "*) echo "${line#.echo }" ;;
    "sleep "*) sleep "${line#sleep }" ;;
    q) exit 0 ;;
    die) exit 1 ;;
    *) echo "output: $line" ;;
  esac
done
`

type fixture struct {
	manager *Manager
	bus     *bus.MemoryEventBus
	cfg     *config.Config
	dump    string
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	dir := t.TempDir()
	script := filepath.Join(dir, "fakecdb.sh")
	require.NoError(t, os.WriteFile(script, []byte(fakeDebuggerScript), 0o755))
	dump := filepath.Join(dir, "crash.dmp")
	require.NoError(t, os.WriteFile(dump, []byte("MDMP"), 0o644))

	cfg := &config.Config{
		Server: config.ServerConfig{Transport: "stdio"},
		Debugger: config.DebuggerConfig{
			Path:              script,
			CommandTimeoutMs:  10_000,
			StartupTimeoutMs:  5_000,
			StartupDelayMs:    0,
			DisposalTimeoutMs: 3_000,
			ReadIdleTimeoutMs: 1_000,
		},
		Session: config.SessionConfig{
			MaxConcurrent:     3,
			IdleTimeoutMs:     1_800_000,
			CleanupIntervalMs: 300_000,
		},
		Queue: config.QueueConfig{
			ResultRetentionMs:  900_000,
			MaxTrackedCommands: 100,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	log := newTestLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	manager := NewManager(cfg, eventBus, nil, log)
	manager.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		manager.Stop(ctx)
		eventBus.Close()
	})

	return &fixture{manager: manager, bus: eventBus, cfg: cfg, dump: dump}
}

func collectEvents(t *testing.T, eventBus *bus.MemoryEventBus, pattern string) chan *bus.Event {
	t.Helper()
	events := make(chan *bus.Event, 64)
	sub, err := eventBus.Subscribe(pattern, func(ctx context.Context, event *bus.Event) error {
		events <- event
		return nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return events
}

func waitForEvent(t *testing.T, events chan *bus.Event, eventType string) *bus.Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == eventType {
				return e
			}
		case <-deadline:
			t.Fatalf("timeout waiting for event %s", eventType)
		}
	}
}

var sessionIDPattern = regexp.MustCompile(`^sess-\d{6}-[0-9a-f]{8}$`)

func TestManagerCreateAndClose(t *testing.T) {
	f := newFixture(t, nil)
	events := collectEvents(t, f.bus, bus.SubjectSessionEvent+".>")

	info, err := f.manager.Create(context.Background(), f.dump, "")
	require.NoError(t, err)
	require.Regexp(t, sessionIDPattern, info.ID)
	require.Equal(t, StatusActive, info.Status)
	require.Equal(t, f.dump, info.DumpPath)

	created := waitForEvent(t, events, bus.TypeSessionCreated)
	require.Equal(t, info.ID, created.Data["sessionId"])

	closed, err := f.manager.Close(context.Background(), info.ID)
	require.NoError(t, err)
	require.True(t, closed)
	waitForEvent(t, events, bus.TypeSessionClosed)

	_, err = f.manager.Get(info.ID)
	require.True(t, apperrors.Is(err, apperrors.KindSessionNotFound))

	// Closing again reports not found; the session is gone.
	_, err = f.manager.Close(context.Background(), info.ID)
	require.True(t, apperrors.Is(err, apperrors.KindSessionNotFound))
}

func TestManagerCreateMissingDump(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.manager.Create(context.Background(), filepath.Join(t.TempDir(), "missing.dmp"), "")
	require.True(t, apperrors.Is(err, apperrors.KindInvalidArgument))
	require.Empty(t, f.manager.ListActive())
}

func TestManagerCreateMissingSymbolsDir(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.manager.Create(context.Background(), f.dump, filepath.Join(t.TempDir(), "no-symbols"))
	require.True(t, apperrors.Is(err, apperrors.KindInvalidArgument))
}

func TestManagerCreateMissingBinary(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Debugger.Path = filepath.Join(os.TempDir(), "no-such-debugger")
	})

	_, err := f.manager.Create(context.Background(), f.dump, "")
	require.True(t, apperrors.Is(err, apperrors.KindConfigInvalid))
	require.Empty(t, f.manager.ListActive())
}

func TestManagerCapacity(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Session.MaxConcurrent = 1
	})

	info, err := f.manager.Create(context.Background(), f.dump, "")
	require.NoError(t, err)

	_, err = f.manager.Create(context.Background(), f.dump, "")
	require.True(t, apperrors.Is(err, apperrors.KindCapacityExceeded))

	// Closing frees the slot.
	_, err = f.manager.Close(context.Background(), info.ID)
	require.NoError(t, err)
	_, err = f.manager.Create(context.Background(), f.dump, "")
	require.NoError(t, err)
}

func TestManagerCreateRacesTableOperations(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Debugger.StartupDelayMs = 500
	})

	createDone := make(chan error, 1)
	go func() {
		_, err := f.manager.Create(context.Background(), f.dump, "")
		createDone <- err
	}()

	// While the debugger is still starting, table-wide reads must neither
	// panic nor surface a half-built session.
	deadline := time.After(300 * time.Millisecond)
	for stop := false; !stop; {
		select {
		case <-deadline:
			stop = true
		default:
			for _, info := range f.manager.ListActive() {
				require.Equal(t, StatusActive, info.Status)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	f.manager.Stop(ctx)

	// Stop either refuses the in-flight creation or disposes the finished
	// session; both end with an empty table.
	select {
	case err := <-createDone:
		if err != nil {
			require.True(t, apperrors.Is(err, apperrors.KindNotActive))
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Create did not return after Stop")
	}
	require.Empty(t, f.manager.ListActive())

	_, err := f.manager.Create(context.Background(), f.dump, "")
	require.True(t, apperrors.Is(err, apperrors.KindNotActive))
}

func TestManagerEnqueueAndCommandStatus(t *testing.T) {
	f := newFixture(t, nil)
	statusEvents := collectEvents(t, f.bus, bus.SubjectCommandStatus+".>")

	info, err := f.manager.Create(context.Background(), f.dump, "")
	require.NoError(t, err)

	commandID, err := f.manager.EnqueueCommand(info.ID, "k")
	require.NoError(t, err)
	require.Equal(t, "cmd-"+info.ID+"-0001", commandID)

	var snap queue.CommandSnapshot
	require.Eventually(t, func() bool {
		snap, err = f.manager.CommandStatus(commandID)
		return err == nil && snap.State == queue.StateCompleted
	}, 10*time.Second, 20*time.Millisecond)
	require.Equal(t, "output: k", snap.Result)

	// Both the executing and the terminal transition were published.
	seen := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for len(seen) < 2 {
		select {
		case e := <-statusEvents:
			if e.Data["commandId"] == commandID {
				seen[e.Data["status"].(string)] = true
			}
		case <-deadline:
			t.Fatalf("missing status events, saw %v", seen)
		}
	}
	require.True(t, seen[string(queue.StateExecuting)])
	require.True(t, seen[string(queue.StateCompleted)])
}

func TestManagerEnqueueUnknownSession(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.manager.EnqueueCommand("sess-999999-deadbeef", "k")
	require.True(t, apperrors.Is(err, apperrors.KindSessionNotFound))
}

func TestManagerCommandStatusBadIDs(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.manager.CommandStatus("not-a-command-id")
	require.True(t, apperrors.Is(err, apperrors.KindInvalidArgument))

	_, err = f.manager.CommandStatus("cmd-sess-999999-deadbeef-0001")
	require.True(t, apperrors.Is(err, apperrors.KindSessionNotFound))
}

func TestManagerCancelCommand(t *testing.T) {
	f := newFixture(t, nil)

	info, err := f.manager.Create(context.Background(), f.dump, "")
	require.NoError(t, err)

	blockID, err := f.manager.EnqueueCommand(info.ID, "sleep 1")
	require.NoError(t, err)
	queuedID, err := f.manager.EnqueueCommand(info.ID, "k")
	require.NoError(t, err)

	ok, err := f.manager.CancelCommand(queuedID)
	require.NoError(t, err)
	require.True(t, ok)

	snap, err := f.manager.CommandStatus(queuedID)
	require.NoError(t, err)
	require.Equal(t, queue.StateCancelled, snap.State)

	ok, err = f.manager.CancelCommand(blockID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		snap, err := f.manager.CommandStatus(blockID)
		return err == nil && snap.State == queue.StateCancelled
	}, 10*time.Second, 20*time.Millisecond)
}

func TestManagerProcessDeathDisposesSession(t *testing.T) {
	f := newFixture(t, nil)
	events := collectEvents(t, f.bus, bus.SubjectSessionEvent+".>")

	info, err := f.manager.Create(context.Background(), f.dump, "")
	require.NoError(t, err)
	waitForEvent(t, events, bus.TypeSessionCreated)

	_, err = f.manager.EnqueueCommand(info.ID, "die")
	require.NoError(t, err)

	closed := waitForEvent(t, events, bus.TypeSessionClosed)
	require.Equal(t, "process-died", closed.Data["reason"])

	require.Eventually(t, func() bool {
		_, err := f.manager.Get(info.ID)
		return apperrors.Is(err, apperrors.KindSessionNotFound)
	}, 10*time.Second, 20*time.Millisecond)
}

func TestManagerExpiresIdleSessions(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Session.IdleTimeoutMs = 100
		cfg.Session.CleanupIntervalMs = 50
	})
	events := collectEvents(t, f.bus, bus.SubjectSessionEvent+".>")

	info, err := f.manager.Create(context.Background(), f.dump, "")
	require.NoError(t, err)

	waitForEvent(t, events, bus.TypeSessionExpired)
	waitForEvent(t, events, bus.TypeSessionClosed)

	require.Eventually(t, func() bool {
		_, err := f.manager.Get(info.ID)
		return apperrors.Is(err, apperrors.KindSessionNotFound)
	}, 10*time.Second, 20*time.Millisecond)
}

func TestParseCommandSessionID(t *testing.T) {
	tests := []struct {
		name      string
		commandID string
		want      string
		wantErr   bool
	}{
		{"valid", "cmd-sess-000001-abcd1234-0001", "sess-000001-abcd1234", false},
		{"valid high counter", "cmd-sess-000123-deadbeef-1042", "sess-000123-deadbeef", false},
		{"missing prefix", "sess-000001-abcd1234-0001", "", true},
		{"no sequence", "cmd-sess", "", true},
		{"empty", "", "", true},
		{"bare prefix", "cmd-", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommandSessionID(tt.commandID)
			if tt.wantErr {
				require.True(t, apperrors.Is(err, apperrors.KindInvalidArgument))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	require.Equal(t, "2025-03-14 09:26:53 UTC", FormatTimestamp(ts))

	// Non-UTC inputs are normalized.
	loc := time.FixedZone("X", -3600)
	require.Equal(t, "2025-03-14 09:26:53 UTC", FormatTimestamp(ts.In(loc)))
}

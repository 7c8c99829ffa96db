package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/events/bus"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/mcp"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/mcp/protocol"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/session"
)

func TestStdioRequestResponseAndNotifications(t *testing.T) {
	log := newTestLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()
	manager := session.NewManager(testConfig(t), eventBus, nil, log)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		manager.Stop(ctx)
	}()
	dispatcher := mcp.NewDispatcher(manager, log)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	stdio := NewStdio(dispatcher, eventBus, inR, outW, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- stdio.Run(ctx) }()

	// Drain output frames continuously so synchronous bus delivery never
	// blocks on the pipe.
	frames := make(chan []byte, 16)
	go func() {
		defer close(frames)
		scanner := bufio.NewScanner(outR)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			frames <- line
		}
	}()
	readLine := func() []byte {
		t.Helper()
		select {
		case line, ok := <-frames:
			if !ok {
				t.Fatal("output stream closed")
			}
			return line
		case <-time.After(5 * time.Second):
			t.Fatal("timeout reading output frame")
			return nil
		}
	}

	// Request/response round trip.
	_, err := inW.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}` + "\n"))
	require.NoError(t, err)

	var resp struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Result  json.RawMessage `json:"result"`
	}
	require.NoError(t, json.Unmarshal(readLine(), &resp))
	require.Equal(t, "2.0", resp.JSONRPC)
	require.Equal(t, float64(1), resp.ID)
	require.NotEmpty(t, resp.Result)

	// Bus events become JSON-RPC notifications on the same stream.
	err = eventBus.Publish(context.Background(),
		bus.SubjectCommandStatus+".sess-000001-abcd1234",
		bus.NewEvent(bus.TypeCommandStatus, "session-manager", map[string]interface{}{
			"commandId": "cmd-sess-000001-abcd1234-0001",
			"status":    "completed",
		}))
	require.NoError(t, err)

	var notif struct {
		JSONRPC string                 `json:"jsonrpc"`
		Method  string                 `json:"method"`
		Params  map[string]interface{} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(readLine(), &notif))
	require.Equal(t, protocol.NotificationCommandStatus, notif.Method)
	require.Equal(t, "completed", notif.Params["status"])

	err = eventBus.Publish(context.Background(),
		bus.SubjectSessionEvent+".sess-000001-abcd1234",
		bus.NewEvent(bus.TypeSessionClosed, "session-manager", map[string]interface{}{
			"sessionId": "sess-000001-abcd1234",
		}))
	require.NoError(t, err)

	require.NoError(t, json.Unmarshal(readLine(), &notif))
	require.Equal(t, protocol.NotificationSessionEvent, notif.Method)
	require.Equal(t, "closed", notif.Params["event"])
	require.Equal(t, "sess-000001-abcd1234", notif.Params["sessionId"])

	// EOF on stdin ends the transport cleanly.
	require.NoError(t, inW.Close())
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after stdin EOF")
	}
}

// Package transport provides the stdio and HTTP carriers for the MCP
// dispatcher. Both hand raw JSON-RPC messages to the dispatcher; stdio
// additionally pushes server notifications framed as NDJSON lines.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/logger"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/events/bus"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/mcp"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/mcp/protocol"
)

// Stdio serves JSON-RPC over newline-delimited JSON on a reader/writer
// pair, normally os.Stdin and os.Stdout. Log output must go elsewhere;
// stdout carries frames only.
type Stdio struct {
	dispatcher *mcp.Dispatcher
	bus        bus.EventBus
	log        *logger.Logger

	in  io.Reader
	out io.Writer

	// writeMu serializes frames: responses from the read loop and
	// notifications from bus handlers interleave on one stream.
	writeMu sync.Mutex
}

// NewStdio creates a stdio transport.
func NewStdio(dispatcher *mcp.Dispatcher, eventBus bus.EventBus, in io.Reader, out io.Writer, log *logger.Logger) *Stdio {
	return &Stdio{
		dispatcher: dispatcher,
		bus:        eventBus,
		log:        log.WithFields(zap.String("component", "stdio-transport")),
		in:         in,
		out:        out,
	}
}

// Run subscribes to server events and processes input lines until EOF or
// context cancellation.
func (t *Stdio) Run(ctx context.Context) error {
	subs, err := t.subscribe()
	if err != nil {
		return err
	}
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(t.in)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	t.log.Info("stdio transport ready")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if len(line) == 0 {
				continue
			}
			if resp := t.dispatcher.HandleMessage(ctx, line); resp != nil {
				t.writeFrame(resp)
			}
		}
	}
}

// subscribe wires bus events to JSON-RPC notifications.
func (t *Stdio) subscribe() ([]bus.Subscription, error) {
	commandSub, err := t.bus.Subscribe(bus.SubjectCommandStatus+".>", func(ctx context.Context, event *bus.Event) error {
		t.notify(protocol.NotificationCommandStatus, event.Data)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sessionSub, err := t.bus.Subscribe(bus.SubjectSessionEvent+".>", func(ctx context.Context, event *bus.Event) error {
		params := make(map[string]interface{}, len(event.Data)+1)
		for k, v := range event.Data {
			params[k] = v
		}
		// "session.created" on the bus becomes event "created" on the wire.
		params["event"] = strings.TrimPrefix(event.Type, "session.")
		t.notify(protocol.NotificationSessionEvent, params)
		return nil
	})
	if err != nil {
		_ = commandSub.Unsubscribe()
		return nil, err
	}

	return []bus.Subscription{commandSub, sessionSub}, nil
}

func (t *Stdio) notify(method string, params interface{}) {
	data, err := json.Marshal(protocol.NewNotification(method, params))
	if err != nil {
		t.log.Error("failed to serialize notification",
			zap.String("method", method), zap.Error(err))
		return
	}
	t.writeFrame(data)
}

func (t *Stdio) writeFrame(frame []byte) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.out.Write(append(frame, '\n')); err != nil {
		t.log.Error("failed to write frame", zap.Error(err))
	}
}

package mcp

import (
	"context"
	"encoding/json"
	"strings"

	apperrors "github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/errors"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/mcp/protocol"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/queue"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/session"
)

// Tool names exposed via tools/list.
const (
	ToolOpenSession   = "nexus_open_dump_analyze_session"
	ToolAsyncCommand  = "nexus_dump_analyze_session_async_command"
	ToolCommandStatus = "nexus_dump_analyze_session_async_command_status"
	ToolCloseSession  = "nexus_close_dump_analyze_session"
)

func toolDefinitions() []protocol.Tool {
	return []protocol.Tool{
		{
			Name: ToolOpenSession,
			Description: "Open a crash dump analysis session. Spawns a debugger against " +
				"the dump file and returns a session id for subsequent commands.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"dumpPath": {"type": "string", "description": "Path to the crash dump file"},
					"symbolsPath": {"type": "string", "description": "Optional symbol directory"}
				},
				"required": ["dumpPath"]
			}`),
		},
		{
			Name: ToolAsyncCommand,
			Description: "Queue a debugger command on an open session. Returns a command id " +
				"immediately; poll the status tool or subscribe to commandStatus notifications " +
				"for the result.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"sessionId": {"type": "string", "description": "Session id from the open tool"},
					"command": {"type": "string", "description": "Debugger command to execute"}
				},
				"required": ["sessionId", "command"]
			}`),
		},
		{
			Name: ToolCommandStatus,
			Description: "Fetch the current state of a queued command, including its output " +
				"once it completes.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"commandId": {"type": "string", "description": "Command id from the async command tool"}
				},
				"required": ["commandId"]
			}`),
		},
		{
			Name: ToolCloseSession,
			Description: "Close an analysis session: cancels outstanding commands and shuts " +
				"the debugger down.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"sessionId": {"type": "string", "description": "Session id to close"}
				},
				"required": ["sessionId"]
			}`),
		},
	}
}

type openSessionArgs struct {
	DumpPath    string `json:"dumpPath"`
	SymbolsPath string `json:"symbolsPath"`
}

type asyncCommandArgs struct {
	SessionID string `json:"sessionId"`
	Command   string `json:"command"`
}

type commandStatusArgs struct {
	CommandID string `json:"commandId"`
}

type closeSessionArgs struct {
	SessionID string `json:"sessionId"`
}

// callTool routes a tools/call to its handler. Unknown tool names and
// malformed arguments are invalid-params errors.
func (d *Dispatcher) callTool(ctx context.Context, name string, args json.RawMessage) (*protocol.ToolCallResult, error) {
	switch name {
	case ToolOpenSession:
		var a openSessionArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return d.openSession(ctx, a)
	case ToolAsyncCommand:
		var a asyncCommandArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return d.asyncCommand(a)
	case ToolCommandStatus:
		var a commandStatusArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return d.commandStatus(a)
	case ToolCloseSession:
		var a closeSessionArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return d.closeSession(ctx, a)
	default:
		return nil, apperrors.InvalidArgument("unknown tool: " + name)
	}
}

func decodeArgs(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return apperrors.InvalidArgument("missing tool arguments")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.InvalidArgument("malformed tool arguments: " + err.Error())
	}
	return nil
}

func (d *Dispatcher) openSession(ctx context.Context, a openSessionArgs) (*protocol.ToolCallResult, error) {
	if strings.TrimSpace(a.DumpPath) == "" {
		return nil, apperrors.InvalidArgument("dumpPath is required")
	}

	info, err := d.manager.Create(ctx, a.DumpPath, a.SymbolsPath)
	if err != nil {
		return nil, err
	}

	return jsonResult(map[string]interface{}{
		"sessionId": info.ID,
		"status":    string(info.Status),
		"dumpPath":  info.DumpPath,
		"createdAt": session.FormatTimestamp(info.CreatedAt),
		"message":   "Session created. Queue commands with " + ToolAsyncCommand + ".",
	})
}

func (d *Dispatcher) asyncCommand(a asyncCommandArgs) (*protocol.ToolCallResult, error) {
	if strings.TrimSpace(a.SessionID) == "" {
		return nil, apperrors.InvalidArgument("sessionId is required")
	}
	if strings.TrimSpace(a.Command) == "" {
		return nil, apperrors.InvalidArgument("command is required")
	}

	commandID, err := d.manager.EnqueueCommand(a.SessionID, a.Command)
	if err != nil {
		return nil, err
	}

	return jsonResult(map[string]interface{}{
		"commandId": commandID,
		"sessionId": a.SessionID,
		"status":    string(queue.StateQueued),
		"message":   "Command queued. Poll " + ToolCommandStatus + " for the result.",
	})
}

func (d *Dispatcher) commandStatus(a commandStatusArgs) (*protocol.ToolCallResult, error) {
	if strings.TrimSpace(a.CommandID) == "" {
		return nil, apperrors.InvalidArgument("commandId is required")
	}

	snap, err := d.manager.CommandStatus(a.CommandID)
	if err != nil {
		return nil, err
	}
	return jsonResult(commandPayload(snap))
}

func (d *Dispatcher) closeSession(ctx context.Context, a closeSessionArgs) (*protocol.ToolCallResult, error) {
	if strings.TrimSpace(a.SessionID) == "" {
		return nil, apperrors.InvalidArgument("sessionId is required")
	}

	closed, err := d.manager.Close(ctx, a.SessionID)
	if err != nil {
		return nil, err
	}

	return jsonResult(map[string]interface{}{
		"sessionId": a.SessionID,
		"success":   closed,
		"status":    "closed",
		"message":   "Session closed.",
	})
}

// commandPayload renders a queue snapshot as a response object. Absent
// timestamps are omitted rather than zero-valued.
func commandPayload(snap queue.CommandSnapshot) map[string]interface{} {
	payload := map[string]interface{}{
		"commandId": snap.ID,
		"sessionId": snap.SessionID,
		"command":   snap.Text,
		"status":    string(snap.State),
		"queuedAt":  session.FormatTimestamp(snap.QueuedAt),
	}
	if snap.StartedAt != nil {
		payload["startedAt"] = session.FormatTimestamp(*snap.StartedAt)
	}
	if snap.FinishedAt != nil {
		payload["completedAt"] = session.FormatTimestamp(*snap.FinishedAt)
	}
	if snap.Result != "" {
		payload["result"] = snap.Result
	}
	if snap.ErrorKind != "" {
		payload["error"] = snap.ErrorKind
	}
	return payload
}

func jsonResult(payload interface{}) (*protocol.ToolCallResult, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, apperrors.Internal("failed to serialize tool result", err)
	}
	return protocol.TextResult(string(data)), nil
}

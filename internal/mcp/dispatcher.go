// Package mcp implements the MCP dispatcher: JSON-RPC message handling,
// tool routing and resource resolution. Transports hand it raw messages and
// write back whatever bytes it returns.
package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/errors"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/logger"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/mcp/protocol"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/session"
)

// ServerName and ServerVersion identify this server in the initialize
// handshake.
const (
	ServerName    = "mcp-nexus"
	ServerVersion = "1.0.0"
)

// Dispatcher routes JSON-RPC messages to tool and resource handlers.
// It is transport-agnostic and safe for concurrent use.
type Dispatcher struct {
	manager *session.Manager
	log     *logger.Logger
}

// NewDispatcher creates a dispatcher bound to a session manager.
func NewDispatcher(manager *session.Manager, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		manager: manager,
		log:     log.WithFields(zap.String("component", "mcp-dispatcher")),
	}
}

// HandleMessage processes one raw JSON-RPC message and returns the
// serialized response, or nil when no response is due (notifications).
func (d *Dispatcher) HandleMessage(ctx context.Context, raw []byte) []byte {
	var req protocol.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return marshal(protocol.NewError(nil, apperrors.CodeParseError, "Parse error"))
	}

	if req.JSONRPC != protocol.Version || req.Method == "" {
		return marshal(protocol.NewError(req.ID, apperrors.CodeInvalidRequest, "Invalid Request"))
	}

	// Client-originated notifications are accepted and ignored.
	if strings.HasPrefix(req.Method, "notifications/") {
		d.log.Debug("ignoring client notification", zap.String("method", req.Method))
		return nil
	}

	resp := d.dispatch(ctx, &req)
	if req.IsNotification() || resp == nil {
		return nil
	}
	return marshal(resp)
}

func (d *Dispatcher) dispatch(ctx context.Context, req *protocol.Request) *protocol.Response {
	switch req.Method {
	case protocol.MethodInitialize:
		return protocol.NewResult(req.ID, d.initializeResult())
	case protocol.MethodToolsList:
		return protocol.NewResult(req.ID, protocol.ToolsListResult{Tools: toolDefinitions()})
	case protocol.MethodToolsCall:
		return d.handleToolCall(ctx, req)
	case protocol.MethodResourcesList:
		return protocol.NewResult(req.ID, protocol.ResourcesListResult{Resources: resourceDefinitions()})
	case protocol.MethodResourcesRead:
		return d.handleResourceRead(req)
	default:
		return protocol.NewError(req.ID, apperrors.CodeMethodNotFound,
			"Method not found: "+req.Method)
	}
}

func (d *Dispatcher) initializeResult() protocol.InitializeResult {
	return protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		ServerInfo: protocol.ServerInfo{
			Name:    ServerName,
			Version: ServerVersion,
		},
		Capabilities: protocol.ServerCapabilities{
			Tools:     map[string]interface{}{},
			Resources: map[string]interface{}{},
		},
		ActiveSessions: len(d.manager.ListActive()),
	}
}

func (d *Dispatcher) handleToolCall(ctx context.Context, req *protocol.Request) *protocol.Response {
	var params protocol.ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return protocol.NewError(req.ID, apperrors.CodeInvalidParams, "invalid tools/call params")
	}

	result, err := d.callTool(ctx, params.Name, params.Arguments)
	if err != nil {
		d.log.Debug("tool call failed",
			zap.String("tool", params.Name), zap.Error(err))
		return protocol.NewError(req.ID, apperrors.JSONRPCCode(err), err.Error())
	}
	return protocol.NewResult(req.ID, result)
}

func (d *Dispatcher) handleResourceRead(req *protocol.Request) *protocol.Response {
	var params protocol.ResourcesReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return protocol.NewError(req.ID, apperrors.CodeInvalidParams, "invalid resources/read params")
	}

	contents, err := d.readResource(params.URI)
	if err != nil {
		code := apperrors.CodeInternalError
		if apperrors.Is(err, apperrors.KindNotFound) || apperrors.Is(err, apperrors.KindSessionNotFound) ||
			apperrors.Is(err, apperrors.KindInvalidArgument) {
			code = apperrors.CodeInvalidParams
		}
		return protocol.NewError(req.ID, code, err.Error())
	}
	return protocol.NewResult(req.ID, protocol.ResourcesReadResult{
		Contents: []protocol.ResourceContents{contents},
	})
}

func marshal(resp *protocol.Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		fallback, _ := json.Marshal(protocol.NewError(resp.ID,
			apperrors.CodeInternalError, "failed to serialize response"))
		return fallback
	}
	return data
}

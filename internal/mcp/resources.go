package mcp

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/errors"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/mcp/protocol"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/session"
)

// Resource URIs exposed via resources/list. Session and command URIs embed
// the session id.
const (
	resourceScheme       = "debugging://"
	uriSessionsActive    = "debugging://sessions/active"
	uriDocsWorkflows     = "debugging://docs/debugging-workflows"
	uriDocsTroubleshoot  = "debugging://docs/troubleshooting"
	prefixSessions       = "debugging://sessions/"
	prefixCommandHistory = "debugging://commands/history/"
)

func resourceDefinitions() []protocol.Resource {
	return []protocol.Resource{
		{
			URI:         uriSessionsActive,
			Name:        "Active sessions",
			Description: "All currently tracked debugger sessions",
			MimeType:    "application/json",
		},
		{
			URI:         prefixSessions + "{sessionId}",
			Name:        "Session detail",
			Description: "State of one debugger session",
			MimeType:    "application/json",
		},
		{
			URI:         prefixSessions + "{sessionId}/dump-info",
			Name:        "Dump information",
			Description: "Crash dump metadata for one session",
			MimeType:    "application/json",
		},
		{
			URI:         prefixCommandHistory + "{sessionId}",
			Name:        "Command history",
			Description: "Tracked commands of one session, pending first",
			MimeType:    "application/json",
		},
		{
			URI:         uriDocsWorkflows,
			Name:        "Debugging workflows",
			Description: "Common crash-dump analysis walkthroughs",
			MimeType:    "application/json",
		},
		{
			URI:         uriDocsTroubleshoot,
			Name:        "Troubleshooting",
			Description: "Diagnosing server and debugger issues",
			MimeType:    "application/json",
		},
	}
}

// readResource resolves one resource URI to its contents.
func (d *Dispatcher) readResource(uri string) (protocol.ResourceContents, error) {
	if !strings.HasPrefix(uri, resourceScheme) {
		return protocol.ResourceContents{}, apperrors.InvalidArgument("unsupported resource scheme: " + uri)
	}

	switch {
	case uri == uriSessionsActive:
		return d.activeSessionsResource()
	case uri == uriDocsWorkflows:
		return docContents(uri, "Crash Dump Analysis Workflows", docDebuggingWorkflows)
	case uri == uriDocsTroubleshoot:
		return docContents(uri, "Troubleshooting", docTroubleshooting)
	case strings.HasPrefix(uri, prefixCommandHistory):
		sessionID := strings.TrimPrefix(uri, prefixCommandHistory)
		return d.commandHistoryResource(uri, sessionID)
	case strings.HasPrefix(uri, prefixSessions):
		rest := strings.TrimPrefix(uri, prefixSessions)
		if sessionID, ok := strings.CutSuffix(rest, "/dump-info"); ok {
			return d.dumpInfoResource(uri, sessionID)
		}
		if strings.Contains(rest, "/") {
			return protocol.ResourceContents{}, apperrors.NotFound("resource", uri)
		}
		return d.sessionResource(uri, rest)
	default:
		return protocol.ResourceContents{}, apperrors.NotFound("resource", uri)
	}
}

func (d *Dispatcher) activeSessionsResource() (protocol.ResourceContents, error) {
	infos := d.manager.ListActive()
	sessions := make([]map[string]interface{}, 0, len(infos))
	for _, info := range infos {
		sessions = append(sessions, sessionPayload(info))
	}
	return jsonContents(uriSessionsActive, map[string]interface{}{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (d *Dispatcher) sessionResource(uri, sessionID string) (protocol.ResourceContents, error) {
	info, err := d.manager.Describe(sessionID)
	if err != nil {
		return protocol.ResourceContents{}, err
	}
	return jsonContents(uri, sessionPayload(info))
}

func (d *Dispatcher) dumpInfoResource(uri, sessionID string) (protocol.ResourceContents, error) {
	info, err := d.manager.Describe(sessionID)
	if err != nil {
		return protocol.ResourceContents{}, err
	}
	payload := map[string]interface{}{
		"sessionId":   info.ID,
		"dumpPath":    info.DumpPath,
		"dumpFile":    filepath.Base(info.DumpPath),
		"symbolsPath": info.SymbolsPath,
		"openedAt":    session.FormatTimestamp(info.CreatedAt),
	}
	// The dump may have been moved or deleted since the session opened.
	if stat, err := os.Stat(info.DumpPath); err == nil {
		payload["exists"] = true
		payload["sizeBytes"] = stat.Size()
		payload["modifiedAt"] = session.FormatTimestamp(stat.ModTime())
	} else {
		payload["exists"] = false
	}
	return jsonContents(uri, payload)
}

func (d *Dispatcher) commandHistoryResource(uri, sessionID string) (protocol.ResourceContents, error) {
	sess, err := d.manager.Get(sessionID)
	if err != nil {
		return protocol.ResourceContents{}, err
	}
	snaps := sess.Commands()
	commands := make([]map[string]interface{}, 0, len(snaps))
	for _, snap := range snaps {
		commands = append(commands, commandPayload(snap))
	}
	return jsonContents(uri, map[string]interface{}{
		"sessionId": sessionID,
		"count":     len(commands),
		"commands":  commands,
	})
}

func sessionPayload(info session.Info) map[string]interface{} {
	return map[string]interface{}{
		"sessionId":    info.ID,
		"dumpPath":     info.DumpPath,
		"symbolsPath":  info.SymbolsPath,
		"status":       string(info.Status),
		"createdAt":    session.FormatTimestamp(info.CreatedAt),
		"lastActivity": session.FormatTimestamp(info.LastActivity),
		"commandCount": info.CommandCount,
	}
}

func jsonContents(uri string, payload interface{}) (protocol.ResourceContents, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return protocol.ResourceContents{}, apperrors.Internal("failed to serialize resource", err)
	}
	return protocol.ResourceContents{
		URI:      uri,
		MimeType: "application/json",
		Text:     string(data),
	}, nil
}

// docContents wraps a static guide in the JSON envelope all resources share.
func docContents(uri, title, body string) (protocol.ResourceContents, error) {
	return jsonContents(uri, map[string]interface{}{
		"title":   title,
		"format":  "markdown",
		"content": body,
	})
}

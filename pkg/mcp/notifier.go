package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// Notifier pushes execution lifecycle notifications to connected clients.
type Notifier interface {
	Notify(ctx context.Context, executionID string, payload map[string]any) error
}

// MCPNotifier implements Notifier using MCP push notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes to the session tracking
// each execution.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the session watching the execution.
// Best-effort: returns nil if no session is tracking it.
func (n *MCPNotifier) Notify(_ context.Context, executionID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(executionID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

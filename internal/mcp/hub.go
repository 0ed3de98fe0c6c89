// Package mcp maintains client connections to the MCP servers a
// workflow's mcp and agent nodes call tools on.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/flowd-io/flowd/pkg/schema"
)

const (
	protocolVersion = "2024-11-05"

	// defaultCallTimeout bounds a single tool invocation.
	defaultCallTimeout = 60 * time.Second

	// listToolsTimeout bounds the tool discovery call at connect time.
	listToolsTimeout = 5 * time.Second
)

// ServerConfig describes how to launch one stdio MCP server.
type ServerConfig struct {
	Command  string            `json:"command"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Disabled bool              `json:"disabled,omitempty"`
}

// Settings is the on-disk shape of the MCP server map.
type Settings struct {
	Servers map[string]ServerConfig `json:"mcpServers"`
}

// ToolInfo is a discovered tool on a connected server.
type ToolInfo struct {
	Server      string
	Name        string
	Description string
	InputSchema map[string]any
}

type connection struct {
	name   string
	client *client.Client
	tools  []mcplib.Tool
}

// Hub manages connections to multiple MCP servers and routes tool
// calls to them by server name.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*connection
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewHub creates an empty hub. Servers are attached with Connect or
// ConnectAll.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		connections: make(map[string]*connection),
		callTimeout: defaultCallTimeout,
		logger:      logger,
	}
}

// Connect launches the server process, performs the MCP handshake, and
// caches its tool list. Reconnecting an existing name replaces the old
// connection.
func (h *Hub) Connect(ctx context.Context, name string, cfg ServerConfig) error {
	if cfg.Command == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "mcp server %q has no command", name)
	}

	mcpClient, err := client.NewStdioMCPClient(cfg.Command, flattenEnv(cfg.Env), cfg.Args...)
	if err != nil {
		return fmt.Errorf("create mcp client for %q: %w", name, err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		mcpClient.Close()
		return fmt.Errorf("start mcp server %q: %w", name, err)
	}

	initReq := mcplib.InitializeRequest{}
	initReq.Params.ProtocolVersion = protocolVersion
	initReq.Params.Capabilities = mcplib.ClientCapabilities{}
	initReq.Params.ClientInfo = mcplib.Implementation{
		Name:    "flowd",
		Version: "1.0.0",
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("initialize mcp server %q: %w", name, err)
	}

	toolsCtx, cancel := context.WithTimeout(ctx, listToolsTimeout)
	defer cancel()

	var tools []mcplib.Tool
	if listed, err := mcpClient.ListTools(toolsCtx, mcplib.ListToolsRequest{}); err != nil {
		h.logger.Warn("mcp tool discovery failed", "server", name, "error", err)
	} else if listed != nil {
		tools = listed.Tools
	}

	h.mu.Lock()
	if old, ok := h.connections[name]; ok {
		old.client.Close()
	}
	h.connections[name] = &connection{name: name, client: mcpClient, tools: tools}
	h.mu.Unlock()

	h.logger.Info("mcp server connected", "server", name, "tools", len(tools))
	return nil
}

// ConnectAll connects every enabled server in the settings. A server
// that fails to come up is logged and skipped so one bad entry does
// not take down the rest.
func (h *Hub) ConnectAll(ctx context.Context, settings Settings) {
	for name, cfg := range settings.Servers {
		if cfg.Disabled {
			continue
		}
		if err := h.Connect(ctx, name, cfg); err != nil {
			h.logger.Warn("mcp server unavailable", "server", name, "error", err)
		}
	}
}

// Servers returns the connected server names, sorted.
func (h *Hub) Servers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.connections))
	for name := range h.connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tools returns the discovered tools for one server.
func (h *Hub) Tools(server string) ([]ToolInfo, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conn, ok := h.connections[server]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "mcp server %q is not connected", server)
	}

	infos := make([]ToolInfo, 0, len(conn.tools))
	for _, tool := range conn.tools {
		infos = append(infos, ToolInfo{
			Server:      server,
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaToMap(tool.InputSchema),
		})
	}
	return infos, nil
}

// CallTool invokes a tool on the named server and decodes its result.
// Text content that parses as JSON is returned as the parsed value so
// downstream expressions can address into it.
func (h *Hub) CallTool(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	h.mu.RLock()
	conn, ok := h.connections[server]
	h.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "mcp server %q is not connected", server)
	}

	callCtx, cancel := context.WithTimeout(ctx, h.callTimeout)
	defer cancel()

	result, err := conn.client.CallTool(callCtx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      tool,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("call %s/%s: %w", server, tool, err)
	}

	decoded := decodeResult(result)
	if result.IsError {
		if authErr := detectAuthRequired(server, tool, decoded); authErr != nil {
			return nil, authErr
		}
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "tool %s/%s failed: %v", server, tool, decoded)
	}
	return decoded, nil
}

// AuthRequiredError signals that a tool call cannot proceed until the
// caller completes an external authorization grant. The engine turns
// it into a pending-auth suspension rather than a node failure.
type AuthRequiredError struct {
	Server  string
	Tool    string
	AuthURL string
	Message string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("tool %s/%s requires authorization", e.Server, e.Tool)
}

// detectAuthRequired recognizes the authorization_required convention
// in tool error payloads: an error object carrying an authorization
// URL, or error text naming authorization_required.
func detectAuthRequired(server, tool string, decoded any) *AuthRequiredError {
	switch v := decoded.(type) {
	case map[string]any:
		authURL := firstString(v, "authorization_url", "auth_url", "authUrl")
		if authURL == "" {
			return nil
		}
		return &AuthRequiredError{
			Server:  server,
			Tool:    tool,
			AuthURL: authURL,
			Message: firstString(v, "message", "error"),
		}
	case string:
		if strings.Contains(strings.ToLower(v), "authorization_required") {
			return &AuthRequiredError{Server: server, Tool: tool, Message: v}
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Close shuts down every server connection.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conn := range h.connections {
		conn.client.Close()
	}
	h.connections = make(map[string]*connection)
	return nil
}

// decodeResult flattens a tool result to a plain value. Single text
// blocks dominate in practice; JSON text is parsed, other text is kept
// as a string, and multi-block results become a string slice.
func decodeResult(result *mcplib.CallToolResult) any {
	if result == nil {
		return nil
	}

	var texts []string
	for _, content := range result.Content {
		if text := mcplib.GetTextFromContent(content); text != "" {
			texts = append(texts, text)
		}
	}

	switch len(texts) {
	case 0:
		return nil
	case 1:
		return parseMaybeJSON(texts[0])
	default:
		return strings.Join(texts, "\n")
	}
}

func parseMaybeJSON(text string) any {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) == 0 {
		return text
	}
	switch trimmed[0] {
	case '{', '[':
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			return parsed
		}
	}
	return text
}

func schemaToMap(s mcplib.ToolInputSchema) map[string]any {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(env))
	for k, v := range env {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}

// Package llm provides chat completion clients for agent and extract nodes.
package llm

import "context"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is populated on assistant messages that request tool use.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`

	// ToolCallID links a tool-role message back to the call it answers.
	ToolCallID string `json:"toolCallId,omitempty"`
}

// ToolCall is a model-requested invocation of a named tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments []byte `json:"arguments"`
}

// ToolDef declares a tool the model may call.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ResponseSchema requests native structured output from the model.
type ResponseSchema struct {
	Name   string
	Schema map[string]any
	Strict bool
}

// Request is a single chat completion call.
type Request struct {
	Model          string
	Messages       []Message
	Tools          []ToolDef
	ResponseSchema *ResponseSchema
	Temperature    *float64
	MaxTokens      *int
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Response is the model's reply. Content and ToolCalls are mutually
// exclusive in practice but both are surfaced as returned by the API.
type Response struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"toolCalls,omitempty"`
	FinishReason string     `json:"finishReason,omitempty"`
	Usage        Usage      `json:"usage"`
}

// Client is a chat completion backend.
type Client interface {
	// Name returns the provider identifier for logging.
	Name() string

	// Complete performs one non-streaming chat completion.
	Complete(ctx context.Context, req *Request) (*Response, error)
}

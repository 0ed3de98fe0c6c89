package schema

import "encoding/json"

// Workflow is the JSON-serializable graph definition produced by the
// builder. It is immutable per run: the engine only reads it.
type Workflow struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Nodes    []Node         `json:"nodes"`
	Edges    []Edge         `json:"edges"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Node is a single vertex in the workflow graph. Data holds the
// type-specific configuration and is decoded by the matching handler.
type Node struct {
	ID   string          `json:"id"`
	Type NodeType        `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Edge connects two nodes. Label disambiguates the successor for
// branching node types ("if"/"else", "continue"/"break",
// "approve"/"reject"); it is empty for linear continuation.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// NodeType enumerates the kinds of nodes. The set is closed: the
// handler registry dispatches exhaustively over these values.
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeAgent     NodeType = "agent"
	NodeTypeMCP       NodeType = "mcp"
	NodeTypeHTTP      NodeType = "http"
	NodeTypeTransform NodeType = "transform"
	NodeTypeSetState  NodeType = "set-state"
	NodeTypeIfElse    NodeType = "if-else"
	NodeTypeWhile     NodeType = "while"
	NodeTypeApproval  NodeType = "user-approval"
	NodeTypeExtract   NodeType = "extract"
	NodeTypeEnd       NodeType = "end"
	NodeTypeNote      NodeType = "note"
)

// Branch labels used on edges leaving branching node types.
const (
	BranchIf       = "if"
	BranchElse     = "else"
	BranchContinue = "continue"
	BranchBreak    = "break"
	BranchApprove  = "approve"
	BranchReject   = "reject"
)

// IsBranching reports whether a node type routes successors by edge label.
func (t NodeType) IsBranching() bool {
	switch t {
	case NodeTypeIfElse, NodeTypeWhile, NodeTypeApproval:
		return true
	default:
		return false
	}
}

// BranchLabels returns the label vocabulary for a branching node type,
// nil for the rest.
func (t NodeType) BranchLabels() []string {
	switch t {
	case NodeTypeIfElse:
		return []string{BranchIf, BranchElse}
	case NodeTypeWhile:
		return []string{BranchContinue, BranchBreak}
	case NodeTypeApproval:
		return []string{BranchApprove, BranchReject}
	default:
		return nil
	}
}

// ExpressionLanguage selects the engine used to evaluate a condition
// or transform script.
type ExpressionLanguage string

const (
	LangExpr ExpressionLanguage = "expr"
	LangCEL  ExpressionLanguage = "cel"
	LangJQ   ExpressionLanguage = "jq"
)

// RetryPolicy configures retry behavior for external-call nodes
// (http, agent, mcp, extract). Absent policy means no retry.
type RetryPolicy struct {
	Max     int    `json:"max"`               // max retry attempts
	Backoff string `json:"backoff,omitempty"` // none | linear | exponential (default: none)
	Delay   string `json:"delay,omitempty"`   // initial delay (e.g. "1s", "500ms")
}

// FailurePolicy controls traversal after a node failure.
// Default is abort: the whole execution fails.
type FailurePolicy string

const (
	FailureAbort    FailurePolicy = "abort"
	FailureContinue FailurePolicy = "continue"
)

// StartData declares the workflow's input contract. InputSchema is a
// JSON Schema object; when present, the caller-supplied input is
// validated against it before the run starts.
type StartData struct {
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// AgentData configures an LLM call. Instructions may contain {{...}}
// references. Tools lists MCP server names whose tools are exposed to
// the model for the duration of the node.
type AgentData struct {
	Instructions string          `json:"instructions"`
	Model        string          `json:"model,omitempty"`
	Tools        []string        `json:"tools,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	Retry        *RetryPolicy    `json:"retry,omitempty"`
	OnFailure    FailurePolicy   `json:"onFailure,omitempty"`
}

// MCPData configures a direct tool invocation on a named MCP server.
// Argument values are interpolated against the scope before the call.
type MCPData struct {
	Server    string          `json:"server"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Retry     *RetryPolicy    `json:"retry,omitempty"`
	OnFailure FailurePolicy   `json:"onFailure,omitempty"`
}

// HTTPData configures an outbound HTTP request. Method, URL, header
// values, and body are interpolated individually.
type HTTPData struct {
	Method    string            `json:"method,omitempty"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      json.RawMessage   `json:"body,omitempty"`
	Timeout   string            `json:"timeout,omitempty"` // per-request timeout (e.g. "30s")
	Retry     *RetryPolicy      `json:"retry,omitempty"`
	OnFailure FailurePolicy     `json:"onFailure,omitempty"`
}

// TransformData holds a user-supplied script evaluated in a sandboxed
// interpreter against the current scope.
type TransformData struct {
	Script   string             `json:"script"`
	Language ExpressionLanguage `json:"language,omitempty"` // jq (default) | expr
}

// SetStateData assigns one state variable visible to later nodes.
type SetStateData struct {
	Key       string          `json:"key"`
	ValueType string          `json:"valueType"` // string | number | boolean | json | expression
	Value     json.RawMessage `json:"value"`
}

// IfElseData holds the boolean routing condition.
type IfElseData struct {
	Condition string             `json:"condition"`
	Language  ExpressionLanguage `json:"language,omitempty"` // expr (default) | cel
}

// WhileData configures a loop. MaxIterations is a hard safety cap:
// reaching it routes the break edge rather than failing the run.
type WhileData struct {
	Condition     string             `json:"condition"`
	MaxIterations int                `json:"maxIterations,omitempty"`
	Language      ExpressionLanguage `json:"language,omitempty"`
}

// ApprovalData configures a human-approval gate. TimeoutMinutes is
// enforced by the approval sweep, which records a synthetic rejection.
type ApprovalData struct {
	Message        string `json:"message"`
	TimeoutMinutes int    `json:"timeoutMinutes,omitempty"`
}

// ExtractData is an LLM call constrained to a JSON Schema; output that
// does not validate against Schema fails the node.
type ExtractData struct {
	Instructions string          `json:"instructions"`
	Model        string          `json:"model,omitempty"`
	Schema       json.RawMessage `json:"schema"`
	Retry        *RetryPolicy    `json:"retry,omitempty"`
}

// NoteData is builder-side annotation; the engine never executes notes.
type NoteData struct {
	Text string `json:"text,omitempty"`
}

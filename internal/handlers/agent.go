package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/flowd-io/flowd/internal/llm"
	"github.com/flowd-io/flowd/pkg/schema"
)

// maxToolRounds caps the model/tool conversation so a model that keeps
// requesting tools cannot loop forever.
const maxToolRounds = 8

const agentSystemPrompt = "You are a step inside an automated workflow. " +
	"Follow the instructions exactly and answer with the result only, no commentary."

// AgentHandler runs one LLM call with optional MCP tools attached.
// Instructions are interpolated against the scope; tool calls the
// model makes are executed through the hub and fed back until the
// model produces a final answer.
type AgentHandler struct {
	deps Deps
}

func (h *AgentHandler) Type() schema.NodeType { return schema.NodeTypeAgent }

func (h *AgentHandler) Execute(ctx context.Context, req *Request) (*Result, error) {
	data, err := decodeData[schema.AgentData](req.Node)
	if err != nil {
		return nil, err
	}
	if data.Instructions == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "agent instructions are required").WithNode(req.Node.ID)
	}
	if h.deps.LLM == nil {
		return nil, schema.NewError(schema.ErrCodeHandler, "no llm client configured").WithNode(req.Node.ID)
	}

	instructions, err := h.deps.Resolver.ResolveString(ctx, data.Instructions, req.Scope)
	if err != nil {
		return nil, err
	}

	tools, toolRoute := h.gatherTools(data.Tools)

	var result *Result
	attempts, err := withRetry(ctx, data.Retry, h.deps.Logger, req.Node.ID, func() error {
		var runErr error
		result, runErr = h.converse(ctx, req.Node, data, instructions, tools, toolRoute)
		return runErr
	})
	if err != nil {
		return nil, err
	}
	result.Attempts = attempts
	return result, nil
}

// gatherTools collects tool definitions from the node's attached MCP
// servers. An unavailable server is logged and skipped so the agent
// can still answer from the model alone. Routing is first-server-wins
// on tool name collisions.
func (h *AgentHandler) gatherTools(servers []string) ([]llm.ToolDef, map[string]string) {
	if len(servers) == 0 || h.deps.Tools == nil {
		return nil, nil
	}

	var defs []llm.ToolDef
	route := make(map[string]string)
	for _, server := range servers {
		infos, err := h.deps.Tools.Tools(server)
		if err != nil {
			h.deps.Logger.Warn("agent tool server unavailable", "server", server, "error", err)
			continue
		}
		for _, info := range infos {
			if _, taken := route[info.Name]; taken {
				continue
			}
			route[info.Name] = server
			defs = append(defs, llm.ToolDef{
				Name:        info.Name,
				Description: info.Description,
				InputSchema: info.InputSchema,
			})
		}
	}
	return defs, route
}

func (h *AgentHandler) converse(ctx context.Context, node schema.Node, data schema.AgentData, instructions string, tools []llm.ToolDef, route map[string]string) (*Result, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: agentSystemPrompt},
		{Role: llm.RoleUser, Content: instructions},
	}

	llmReq := &llm.Request{
		Model:    data.Model,
		Messages: messages,
		Tools:    tools,
	}
	if len(data.OutputSchema) > 0 {
		rs, err := responseSchema(node.ID, data.OutputSchema)
		if err != nil {
			return nil, err
		}
		llmReq.ResponseSchema = rs
	}

	var records []schema.ToolCallRecord
	for round := 0; round < maxToolRounds; round++ {
		resp, err := h.deps.LLM.Complete(ctx, llmReq)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeHandler, "model call failed").WithNode(node.ID).WithCause(err)
		}

		if len(resp.ToolCalls) == 0 {
			output, err := h.finalOutput(node, data, resp.Content)
			if err != nil {
				return nil, err
			}
			return &Result{Output: output, ToolCalls: records}, nil
		}

		llmReq.Messages = append(llmReq.Messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			record, reply := h.runTool(ctx, route, call)
			records = append(records, record)
			llmReq.Messages = append(llmReq.Messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    reply,
				ToolCallID: call.ID,
			})
		}
	}

	return nil, schema.NewErrorf(schema.ErrCodeHandler, "model exceeded %d tool rounds", maxToolRounds).WithNode(node.ID)
}

// runTool executes one model-requested call. Tool failures are fed
// back to the model as error text rather than failing the node; the
// model decides whether to recover or give up.
func (h *AgentHandler) runTool(ctx context.Context, route map[string]string, call llm.ToolCall) (schema.ToolCallRecord, string) {
	record := schema.ToolCallRecord{ID: call.ID, Name: call.Name}

	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			record.Error = "malformed tool arguments: " + err.Error()
			return record, record.Error
		}
	}
	record.Arguments = args

	server, ok := route[call.Name]
	if !ok {
		record.Error = "unknown tool: " + call.Name
		return record, record.Error
	}
	record.Server = server

	result, err := h.deps.Tools.CallTool(ctx, server, call.Name, args)
	if err != nil {
		record.Error = err.Error()
		return record, "tool error: " + err.Error()
	}
	record.Result = result

	reply, err := json.Marshal(result)
	if err != nil {
		return record, "null"
	}
	return record, string(reply)
}

// finalOutput parses and validates the model's answer. With an output
// schema the answer must be JSON conforming to it; otherwise text that
// happens to be JSON is surfaced parsed so later nodes can address
// into it.
func (h *AgentHandler) finalOutput(node schema.Node, data schema.AgentData, content string) (any, error) {
	trimmed := strings.TrimSpace(content)

	if len(data.OutputSchema) == 0 {
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
			var parsed any
			if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
				return parsed, nil
			}
		}
		return content, nil
	}

	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil, schema.NewError(schema.ErrCodeHandler, "model output is not valid JSON").WithNode(node.ID).WithCause(err)
	}
	if h.deps.Validator != nil {
		if err := h.deps.Validator.ValidateValue(parsed, data.OutputSchema); err != nil {
			return nil, schema.NewError(schema.ErrCodeHandler, "model output does not match the declared schema").WithNode(node.ID).WithCause(err)
		}
	}
	return parsed, nil
}

// responseSchema converts a raw JSON Schema document to the structured
// output request shape.
func responseSchema(nodeID string, raw json.RawMessage) (*llm.ResponseSchema, error) {
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "output schema is not a JSON object").WithNode(nodeID).WithCause(err)
	}
	return &llm.ResponseSchema{Name: "output", Schema: parsed, Strict: true}, nil
}

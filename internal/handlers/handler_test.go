package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowd-io/flowd/internal/expressions"
	"github.com/flowd-io/flowd/internal/llm"
	"github.com/flowd-io/flowd/internal/mcp"
	"github.com/flowd-io/flowd/internal/validation"
	"github.com/flowd-io/flowd/pkg/schema"
)

// --- Fakes ---

// fakeLLM replays scripted responses in order and records requests.
type fakeLLM struct {
	responses []*llm.Response
	err       error
	requests  []*llm.Request
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return &llm.Response{Content: "done"}, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

// fakeTools routes tool calls to a test callback.
type fakeTools struct {
	tools map[string][]mcp.ToolInfo
	call  func(server, tool string, args map[string]any) (any, error)
	calls []string
}

func (f *fakeTools) Tools(server string) ([]mcp.ToolInfo, error) {
	infos, ok := f.tools[server]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "mcp server %q is not connected", server)
	}
	return infos, nil
}

func (f *fakeTools) CallTool(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	f.calls = append(f.calls, server+"/"+tool)
	if f.call == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no tool callback")
	}
	return f.call(server, tool, args)
}

func newTestDeps(t *testing.T, model llm.Client, tools ToolCaller) Deps {
	t.Helper()
	engines, err := expressions.NewRegistry()
	require.NoError(t, err)
	validator, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	logger := slog.New(slog.DiscardHandler)

	return Deps{
		Resolver:   expressions.NewResolver(nil, logger),
		Engines:    engines,
		Validator:  validator,
		LLM:        model,
		Tools:      tools,
		HTTPClient: &http.Client{},
		Logger:     logger,
	}
}

func makeNode(id string, nodeType schema.NodeType, dataJSON string) schema.Node {
	return schema.Node{ID: id, Type: nodeType, Data: json.RawMessage(dataJSON)}
}

// --- Registry ---

func TestRegistry_CoversExecutableKinds(t *testing.T) {
	reg := NewRegistry(newTestDeps(t, nil, nil))

	for _, kind := range []schema.NodeType{
		schema.NodeTypeStart, schema.NodeTypeAgent, schema.NodeTypeMCP,
		schema.NodeTypeHTTP, schema.NodeTypeTransform, schema.NodeTypeSetState,
		schema.NodeTypeIfElse, schema.NodeTypeWhile, schema.NodeTypeApproval,
		schema.NodeTypeExtract, schema.NodeTypeEnd,
	} {
		h, err := reg.Get(kind)
		require.NoError(t, err, "kind %s", kind)
		assert.Equal(t, kind, h.Type())
	}
}

func TestRegistry_NoteIsNotDispatchable(t *testing.T) {
	reg := NewRegistry(newTestDeps(t, nil, nil))
	_, err := reg.Get(schema.NodeTypeNote)
	assert.Error(t, err)
}

// --- Start ---

func TestStartHandler(t *testing.T) {
	deps := newTestDeps(t, nil, nil)
	h := &StartHandler{deps: deps}

	t.Run("no schema passes input through", func(t *testing.T) {
		scope := expressions.NewScope(map[string]any{"msg": "hi"})
		res, err := h.Execute(context.Background(), &Request{
			Node:  schema.Node{ID: "start-1", Type: schema.NodeTypeStart},
			Scope: scope,
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"msg": "hi"}, res.Output)
	})

	t.Run("schema violation is a validation error", func(t *testing.T) {
		node := makeNode("start-1", schema.NodeTypeStart, `{
			"inputSchema": {
				"type": "object",
				"properties": {"score": {"type": "number"}},
				"required": ["score"]
			}
		}`)
		scope := expressions.NewScope(map[string]any{"other": true})

		_, err := h.Execute(context.Background(), &Request{Node: node, Scope: scope})
		require.Error(t, err)

		var flowErr *schema.FlowError
		require.ErrorAs(t, err, &flowErr)
		assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
	})

	t.Run("schema accepts valid input", func(t *testing.T) {
		node := makeNode("start-1", schema.NodeTypeStart, `{
			"inputSchema": {
				"type": "object",
				"properties": {"score": {"type": "number"}},
				"required": ["score"]
			}
		}`)
		scope := expressions.NewScope(map[string]any{"score": 42})

		res, err := h.Execute(context.Background(), &Request{Node: node, Scope: scope})
		require.NoError(t, err)
		assert.NotNil(t, res.Output)
	})
}

// --- End ---

func TestEndHandler_ReturnsLastOutput(t *testing.T) {
	h := &EndHandler{}
	scope := expressions.NewScope(nil)
	scope.SetOutput("prev", map[string]any{"answer": 42})

	res, err := h.Execute(context.Background(), &Request{
		Node:  schema.Node{ID: "end-1", Type: schema.NodeTypeEnd},
		Scope: scope,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"answer": float64(42)}, toJSONShape(t, res.Output))
}

func toJSONShape(t *testing.T, v any) any {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

// --- Set-state ---

func TestSetStateHandler(t *testing.T) {
	deps := newTestDeps(t, nil, nil)
	h := &SetStateHandler{deps: deps}

	run := func(t *testing.T, scope *expressions.Scope, dataJSON string) (*Result, error) {
		t.Helper()
		return h.Execute(context.Background(), &Request{
			Node:  makeNode("set-1", schema.NodeTypeSetState, dataJSON),
			Scope: scope,
		})
	}

	t.Run("string with interpolation", func(t *testing.T) {
		scope := expressions.NewScope(map[string]any{"name": "Ada"})
		_, err := run(t, scope, `{"key": "greeting", "valueType": "string", "value": "hello {{input.name}}"}`)
		require.NoError(t, err)

		v, ok := scope.Lookup("greeting")
		require.True(t, ok)
		assert.Equal(t, "hello Ada", v)
	})

	t.Run("number", func(t *testing.T) {
		scope := expressions.NewScope(nil)
		_, err := run(t, scope, `{"key": "limit", "valueType": "number", "value": 7}`)
		require.NoError(t, err)

		v, _ := scope.Lookup("limit")
		assert.Equal(t, float64(7), v)
	})

	t.Run("boolean", func(t *testing.T) {
		scope := expressions.NewScope(nil)
		_, err := run(t, scope, `{"key": "flag", "valueType": "boolean", "value": true}`)
		require.NoError(t, err)

		v, _ := scope.Lookup("flag")
		assert.Equal(t, true, v)
	})

	t.Run("json with interpolation", func(t *testing.T) {
		scope := expressions.NewScope(map[string]any{"city": "Lisbon"})
		_, err := run(t, scope, `{"key": "place", "valueType": "json", "value": {"city": "{{input.city}}"}}`)
		require.NoError(t, err)

		v, ok := scope.Lookup("place.city")
		require.True(t, ok)
		assert.Equal(t, "Lisbon", v)
	})

	t.Run("expression", func(t *testing.T) {
		scope := expressions.NewScope(map[string]any{"a": 2, "b": 3})
		_, err := run(t, scope, `{"key": "sum", "valueType": "expression", "value": "input.a + input.b"}`)
		require.NoError(t, err)

		v, _ := scope.Lookup("sum")
		assert.EqualValues(t, 5, v)
	})

	t.Run("missing key fails", func(t *testing.T) {
		scope := expressions.NewScope(nil)
		_, err := run(t, scope, `{"valueType": "string", "value": "x"}`)
		assert.Error(t, err)
	})

	t.Run("type mismatch fails", func(t *testing.T) {
		scope := expressions.NewScope(nil)
		_, err := run(t, scope, `{"key": "n", "valueType": "number", "value": "seven"}`)
		assert.Error(t, err)
	})
}

// --- Transform ---

func TestTransformHandler(t *testing.T) {
	deps := newTestDeps(t, nil, nil)
	h := &TransformHandler{deps: deps}

	t.Run("jq default", func(t *testing.T) {
		scope := expressions.NewScope(map[string]any{"items": []any{1, 2, 3}})
		res, err := h.Execute(context.Background(), &Request{
			Node:  makeNode("t-1", schema.NodeTypeTransform, `{"script": ".input.items | length"}`),
			Scope: scope,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 3, res.Output)
	})

	t.Run("expr language", func(t *testing.T) {
		scope := expressions.NewScope(map[string]any{"price": 10})
		res, err := h.Execute(context.Background(), &Request{
			Node:  makeNode("t-1", schema.NodeTypeTransform, `{"script": "input.price * 2", "language": "expr"}`),
			Scope: scope,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 20, res.Output)
	})

	t.Run("script error fails the node", func(t *testing.T) {
		scope := expressions.NewScope(nil)
		_, err := h.Execute(context.Background(), &Request{
			Node:  makeNode("t-1", schema.NodeTypeTransform, `{"script": ".input | bogus_fn"}`),
			Scope: scope,
		})
		require.Error(t, err)

		var flowErr *schema.FlowError
		require.ErrorAs(t, err, &flowErr)
		assert.Equal(t, schema.ErrCodeHandler, flowErr.Code)
	})
}

package validation

import (
	"encoding/json"
	"testing"

	"github.com/flowd-io/flowd/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJSV(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func validWorkflow() *schema.Workflow {
	return &schema.Workflow{
		ID: "wf-1",
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeStart},
			{ID: "end", Type: schema.NodeTypeEnd},
		},
		Edges: []schema.Edge{
			{Source: "start", Target: "end"},
		},
	}
}

// --- Workflow structure ---

func TestValidateWorkflow_Valid(t *testing.T) {
	v := newJSV(t)
	assert.NoError(t, v.ValidateWorkflow(validWorkflow()))
}

func TestValidateWorkflow_Nil(t *testing.T) {
	v := newJSV(t)
	err := v.ValidateWorkflow(nil)
	require.Error(t, err)
}

func TestValidateWorkflow_MissingID(t *testing.T) {
	v := newJSV(t)
	wf := validWorkflow()
	wf.ID = ""
	require.Error(t, v.ValidateWorkflow(wf))
}

func TestValidateWorkflow_NoNodes(t *testing.T) {
	v := newJSV(t)
	wf := validWorkflow()
	wf.Nodes = nil
	require.Error(t, v.ValidateWorkflow(wf))
}

func TestValidateWorkflow_UnknownNodeType(t *testing.T) {
	v := newJSV(t)
	wf := validWorkflow()
	wf.Nodes = append(wf.Nodes, schema.Node{ID: "x", Type: "teleport"})
	require.Error(t, v.ValidateWorkflow(wf))
}

func TestValidateWorkflow_DuplicateNodeID(t *testing.T) {
	v := newJSV(t)
	wf := validWorkflow()
	wf.Nodes = append(wf.Nodes, schema.Node{ID: "start", Type: schema.NodeTypeEnd})

	err := v.ValidateWorkflow(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node id")
}

func TestValidateWorkflow_EdgeMissingTarget(t *testing.T) {
	v := newJSV(t)
	wf := validWorkflow()
	wf.Edges = append(wf.Edges, schema.Edge{Source: "start"})
	require.Error(t, v.ValidateWorkflow(wf))
}

// --- Input validation ---

func TestValidateInput_NoSchema(t *testing.T) {
	v := newJSV(t)
	assert.NoError(t, v.ValidateInput(map[string]any{"anything": true}, nil))
}

func TestValidateInput_Valid(t *testing.T) {
	v := newJSV(t)
	inputSchema := []byte(`{
		"type": "object",
		"required": ["city"],
		"properties": {"city": {"type": "string"}}
	}`)

	assert.NoError(t, v.ValidateInput(map[string]any{"city": "Lisbon"}, inputSchema))
}

func TestValidateInput_MissingRequired(t *testing.T) {
	v := newJSV(t)
	inputSchema := []byte(`{
		"type": "object",
		"required": ["city"],
		"properties": {"city": {"type": "string"}}
	}`)

	err := v.ValidateInput(map[string]any{}, inputSchema)
	require.Error(t, err)

	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
}

func TestValidateInput_WrongType(t *testing.T) {
	v := newJSV(t)
	inputSchema := []byte(`{
		"type": "object",
		"properties": {"count": {"type": "integer"}}
	}`)

	err := v.ValidateInput(map[string]any{"count": "three"}, inputSchema)
	require.Error(t, err)
}

func TestValidateInput_NilInputAgainstSchema(t *testing.T) {
	v := newJSV(t)
	inputSchema := []byte(`{"type": "object"}`)
	assert.NoError(t, v.ValidateInput(nil, inputSchema))
}

func TestValidateInput_BadSchema(t *testing.T) {
	v := newJSV(t)
	err := v.ValidateInput(map[string]any{}, []byte(`{not json`))
	require.Error(t, err)
}

// --- Value validation (extract outputs) ---

func TestValidateValue_ExtractOutput(t *testing.T) {
	v := newJSV(t)
	extractSchema := []byte(`{
		"type": "object",
		"required": ["price", "currency"],
		"properties": {
			"price": {"type": "number"},
			"currency": {"type": "string"}
		}
	}`)

	ok := map[string]any{"price": 12.5, "currency": "EUR"}
	assert.NoError(t, v.ValidateValue(ok, extractSchema))

	bad := map[string]any{"price": "twelve"}
	require.Error(t, v.ValidateValue(bad, extractSchema))
}

func TestValidateValue_SchemaCached(t *testing.T) {
	v := newJSV(t)
	s := []byte(`{"type": "string"}`)

	require.NoError(t, v.ValidateValue("a", s))
	require.NoError(t, v.ValidateValue("b", s))

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}

func TestValidateWorkflow_FromJSON(t *testing.T) {
	v := newJSV(t)

	raw := `{
		"id": "wf-echo",
		"nodes": [
			{"id": "start", "type": "start"},
			{"id": "say", "type": "transform", "data": {"script": ".input"}},
			{"id": "end", "type": "end"}
		],
		"edges": [
			{"source": "start", "target": "say"},
			{"source": "say", "target": "end"}
		]
	}`

	var wf schema.Workflow
	require.NoError(t, json.Unmarshal([]byte(raw), &wf))
	assert.NoError(t, v.ValidateWorkflow(&wf))
}

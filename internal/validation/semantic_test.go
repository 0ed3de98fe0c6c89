package validation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/flowd-io/flowd/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id string, t schema.NodeType, data string) schema.Node {
	n := schema.Node{ID: id, Type: t}
	if data != "" {
		n.Data = json.RawMessage(data)
	}
	return n
}

func findIssue(issues []schema.ValidationIssue, substr string) bool {
	for _, i := range issues {
		if strings.Contains(i.Message, substr) {
			return true
		}
	}
	return false
}

// --- Node data requirements ---

func TestSemantic_AgentRequiresInstructions(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{node("a", schema.NodeTypeAgent, `{}`)},
	}
	result := validateSemantic(wf)
	assert.False(t, result.Valid())
	assert.True(t, findIssue(result.Errors, "requires instructions"))
}

func TestSemantic_MCPRequiresServerAndTool(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{node("m", schema.NodeTypeMCP, `{"server":"","tool":""}`)},
	}
	result := validateSemantic(wf)
	require.Len(t, result.Errors, 2)
}

func TestSemantic_HTTPRequiresURL(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{node("h", schema.NodeTypeHTTP, `{"method":"GET"}`)},
	}
	result := validateSemantic(wf)
	assert.True(t, findIssue(result.Errors, "requires a url"))
}

func TestSemantic_TransformRequiresScript(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{node("t", schema.NodeTypeTransform, `{"script":""}`)},
	}
	result := validateSemantic(wf)
	assert.True(t, findIssue(result.Errors, "requires a script"))
}

func TestSemantic_TransformLanguage(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{node("t", schema.NodeTypeTransform, `{"script":".","language":"cel"}`)},
	}
	result := validateSemantic(wf)
	assert.True(t, findIssue(result.Errors, "must be jq or expr"))
}

func TestSemantic_SetStateValueTypes(t *testing.T) {
	valid := `{"key":"k","valueType":"number","value":"1"}`
	wf := &schema.Workflow{Nodes: []schema.Node{node("s", schema.NodeTypeSetState, valid)}}
	assert.True(t, validateSemantic(wf).Valid())

	invalid := `{"key":"k","valueType":"tuple","value":"1"}`
	wf = &schema.Workflow{Nodes: []schema.Node{node("s", schema.NodeTypeSetState, invalid)}}
	assert.True(t, findIssue(validateSemantic(wf).Errors, "unknown valueType"))
}

func TestSemantic_IfElseRequiresCondition(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{node("gate", schema.NodeTypeIfElse, `{}`)},
	}
	result := validateSemantic(wf)
	assert.True(t, findIssue(result.Errors, "requires a condition"))
}

func TestSemantic_WhileChecks(t *testing.T) {
	t.Run("negative cap", func(t *testing.T) {
		wf := &schema.Workflow{
			Nodes: []schema.Node{node("w", schema.NodeTypeWhile, `{"condition":"x","maxIterations":-1}`)},
		}
		assert.True(t, findIssue(validateSemantic(wf).Errors, "cannot be negative"))
	})

	t.Run("missing cap warns", func(t *testing.T) {
		wf := &schema.Workflow{
			Nodes: []schema.Node{node("w", schema.NodeTypeWhile, `{"condition":"x"}`)},
		}
		result := validateSemantic(wf)
		assert.True(t, result.Valid())
		assert.True(t, findIssue(result.Warnings, "default cap"))
	})
}

func TestSemantic_ApprovalRequiresMessage(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{node("ap", schema.NodeTypeApproval, `{"timeoutMinutes":30}`)},
	}
	assert.True(t, findIssue(validateSemantic(wf).Errors, "requires a message"))
}

func TestSemantic_ExtractRequiresSchema(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{node("ex", schema.NodeTypeExtract, `{"instructions":"get price"}`)},
	}
	assert.True(t, findIssue(validateSemantic(wf).Errors, "requires a schema"))
}

func TestSemantic_StartEndNoteNeedNoData(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{
			node("start", schema.NodeTypeStart, ""),
			node("end", schema.NodeTypeEnd, ""),
			node("memo", schema.NodeTypeNote, ""),
		},
	}
	assert.True(t, validateSemantic(wf).Valid())
}

func TestSemantic_MalformedData(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{node("h", schema.NodeTypeHTTP, `{"url": 42}`)},
	}
	assert.True(t, findIssue(validateSemantic(wf).Errors, "malformed node data"))
}

// --- Retry policies ---

func TestSemantic_RetryChecks(t *testing.T) {
	t.Run("negative max", func(t *testing.T) {
		wf := &schema.Workflow{
			Nodes: []schema.Node{node("h", schema.NodeTypeHTTP,
				`{"url":"https://x","retry":{"max":-1}}`)},
		}
		assert.True(t, findIssue(validateSemantic(wf).Errors, "cannot be negative"))
	})

	t.Run("high max warns", func(t *testing.T) {
		wf := &schema.Workflow{
			Nodes: []schema.Node{node("h", schema.NodeTypeHTTP,
				`{"url":"https://x","retry":{"max":20}}`)},
		}
		result := validateSemantic(wf)
		assert.True(t, result.Valid())
		assert.True(t, findIssue(result.Warnings, "high retry count"))
	})

	t.Run("unknown backoff", func(t *testing.T) {
		wf := &schema.Workflow{
			Nodes: []schema.Node{node("h", schema.NodeTypeHTTP,
				`{"url":"https://x","retry":{"max":2,"backoff":"fibonacci"}}`)},
		}
		assert.True(t, findIssue(validateSemantic(wf).Errors, "unknown backoff"))
	})
}

// --- Edge labels ---

func TestSemantic_EdgeLabelVocabulary(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{
			node("gate", schema.NodeTypeIfElse, `{"condition":"true"}`),
			node("a", schema.NodeTypeEnd, ""),
		},
		Edges: []schema.Edge{
			{Source: "gate", Target: "a", Label: "maybe"},
		},
	}
	result := validateSemantic(wf)
	assert.True(t, findIssue(result.Errors, "not valid for if-else"))
}

func TestSemantic_UnlabeledBranchEdgeWarns(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{
			node("w", schema.NodeTypeWhile, `{"condition":"true","maxIterations":3}`),
			node("a", schema.NodeTypeEnd, ""),
		},
		Edges: []schema.Edge{
			{Source: "w", Target: "a"},
		},
	}
	result := validateSemantic(wf)
	assert.True(t, findIssue(result.Warnings, "never followed"))
}

func TestSemantic_LabelOnLinearEdgeWarns(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{
			node("h", schema.NodeTypeHTTP, `{"url":"https://x"}`),
			node("a", schema.NodeTypeEnd, ""),
		},
		Edges: []schema.Edge{
			{Source: "h", Target: "a", Label: "if"},
		},
	}
	result := validateSemantic(wf)
	assert.True(t, findIssue(result.Warnings, "is ignored"))
}

func TestSemantic_EdgeToUnknownNode(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{node("a", schema.NodeTypeEnd, "")},
		Edges: []schema.Edge{{Source: "a", Target: "ghost"}},
	}
	assert.True(t, findIssue(validateSemantic(wf).Errors, "non-existent node"))
}

func TestSemantic_BranchCoverageWarnings(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{
			node("gate", schema.NodeTypeIfElse, `{"condition":"true"}`),
			node("yes", schema.NodeTypeEnd, ""),
		},
		Edges: []schema.Edge{
			{Source: "gate", Target: "yes", Label: schema.BranchIf},
		},
	}
	result := validateSemantic(wf)
	assert.True(t, result.Valid())
	assert.True(t, findIssue(result.Warnings, `no "else" edge`))
}

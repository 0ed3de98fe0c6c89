package validation

import (
	"testing"

	"github.com/flowd-io/flowd/pkg/schema"
	"github.com/stretchr/testify/assert"
)

func TestGraph_NoStart(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{node("a", schema.NodeTypeEnd, "")},
	}
	result := validateGraph(wf)
	assert.True(t, findIssue(result.Errors, "no start node"))
}

func TestGraph_MultipleStarts(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{
			node("s1", schema.NodeTypeStart, ""),
			node("s2", schema.NodeTypeStart, ""),
		},
	}
	result := validateGraph(wf)
	assert.True(t, findIssue(result.Errors, "2 start nodes"))
}

func TestGraph_MissingEndWarns(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{
			node("start", schema.NodeTypeStart, ""),
			node("h", schema.NodeTypeHTTP, `{"url":"https://x"}`),
		},
		Edges: []schema.Edge{{Source: "start", Target: "h"}},
	}
	result := validateGraph(wf)
	assert.True(t, result.Valid())
	assert.True(t, findIssue(result.Warnings, "no end node"))
}

func TestGraph_UnreachableWarns(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{
			node("start", schema.NodeTypeStart, ""),
			node("end", schema.NodeTypeEnd, ""),
			node("island", schema.NodeTypeHTTP, `{"url":"https://x"}`),
		},
		Edges: []schema.Edge{{Source: "start", Target: "end"}},
	}
	result := validateGraph(wf)
	assert.True(t, result.Valid())
	assert.True(t, findIssue(result.Warnings, "unreachable"))
}

func TestGraph_IncomingStartEdgeWarns(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{
			node("start", schema.NodeTypeStart, ""),
			node("end", schema.NodeTypeEnd, ""),
		},
		Edges: []schema.Edge{
			{Source: "start", Target: "end"},
			{Source: "end", Target: "start"},
		},
	}
	result := validateGraph(wf)
	assert.True(t, findIssue(result.Warnings, "incoming edges"))
}

func TestGraph_WhileLoopIsLegal(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{
			node("start", schema.NodeTypeStart, ""),
			node("loop", schema.NodeTypeWhile, `{"condition":"iteration < 3","maxIterations":3}`),
			node("body", schema.NodeTypeSetState, `{"key":"k","valueType":"number","value":"1"}`),
			node("end", schema.NodeTypeEnd, ""),
		},
		Edges: []schema.Edge{
			{Source: "start", Target: "loop"},
			{Source: "loop", Target: "body", Label: schema.BranchContinue},
			{Source: "body", Target: "loop"},
			{Source: "loop", Target: "end", Label: schema.BranchBreak},
		},
	}
	result := validateGraph(wf)
	assert.True(t, result.Valid(), "errors: %v", result.Errors)
}

func TestGraph_CycleWithoutWhileIsError(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{
			node("start", schema.NodeTypeStart, ""),
			node("a", schema.NodeTypeHTTP, `{"url":"https://x"}`),
			node("b", schema.NodeTypeHTTP, `{"url":"https://y"}`),
			node("end", schema.NodeTypeEnd, ""),
		},
		Edges: []schema.Edge{
			{Source: "start", Target: "a"},
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
			{Source: "a", Target: "end"},
		},
	}
	result := validateGraph(wf)
	assert.True(t, findIssue(result.Errors, "cycle"))
}

func TestGraph_NotesIgnored(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.Node{
			node("start", schema.NodeTypeStart, ""),
			node("end", schema.NodeTypeEnd, ""),
			node("memo", schema.NodeTypeNote, ""),
		},
		Edges: []schema.Edge{{Source: "start", Target: "end"}},
	}
	result := validateGraph(wf)
	assert.True(t, result.Valid())
	assert.False(t, findIssue(result.Warnings, "memo"))
}

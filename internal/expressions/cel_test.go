package expressions

import (
	"context"
	"testing"

	"github.com/flowd-io/flowd/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCEL(t *testing.T) *CELEngine {
	t.Helper()
	e, err := NewCELEngine()
	require.NoError(t, err)
	return e
}

func TestNewCELEngine(t *testing.T) {
	e := newCEL(t)
	assert.Equal(t, "cel", e.Name())
}

// --- Evaluation against declared variables ---

func TestCEL_InputAccess(t *testing.T) {
	e := newCEL(t)
	data := map[string]any{
		"input": map[string]any{"city": "Lisbon"},
	}

	out, err := e.Evaluate(context.Background(), `input.city == "Lisbon"`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_NodeOutputAccess(t *testing.T) {
	e := newCEL(t)
	data := map[string]any{
		"nodes": map[string]any{
			"score_node": map[string]any{"score": 85.0},
		},
	}

	out, err := e.Evaluate(context.Background(), `nodes["score_node"].score > 70.0`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_IterationCounter(t *testing.T) {
	e := newCEL(t)
	data := map[string]any{"iteration": 2}

	out, err := e.Evaluate(context.Background(), "iteration < 3", data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_MissingKeysDefaultEmpty(t *testing.T) {
	e := newCEL(t)

	// No data at all: declared maps default to empty, no runtime error.
	out, err := e.Evaluate(context.Background(), `"x" in state`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

// --- Errors ---

func TestCEL_EmptyExpression(t *testing.T) {
	e := newCEL(t)

	_, err := e.Evaluate(context.Background(), "", map[string]any{})
	require.Error(t, err)
}

func TestCEL_CompileError(t *testing.T) {
	e := newCEL(t)

	_, err := e.Evaluate(context.Background(), "input..bad", map[string]any{})
	require.Error(t, err)

	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeExpression, flowErr.Code)
}

func TestCEL_UndeclaredVariableIsCompileError(t *testing.T) {
	e := newCEL(t)

	// Bare node ids are not declared in the CEL env; the nodes map is
	// the supported access path.
	_, err := e.Evaluate(context.Background(), "some_node.score > 1", map[string]any{})
	require.Error(t, err)
}

// --- Caching ---

func TestCEL_CacheReuse(t *testing.T) {
	e := newCEL(t)
	ctx := context.Background()

	_, err := e.Evaluate(ctx, "iteration >= 0", map[string]any{"iteration": 0})
	require.NoError(t, err)

	e.mu.RLock()
	_, cached := e.cache["iteration >= 0"]
	e.mu.RUnlock()
	assert.True(t, cached)
}

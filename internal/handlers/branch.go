package handlers

import (
	"context"

	"github.com/flowd-io/flowd/pkg/schema"
)

// defaultMaxIterations caps while loops whose definition omits one.
const defaultMaxIterations = 100

// IfElseHandler routes exclusively along the "if" edge when the
// condition is truthy, "else" otherwise. A malformed condition logs a
// warning and routes "else"; one bad expression never aborts a run.
type IfElseHandler struct {
	deps Deps
}

func (h *IfElseHandler) Type() schema.NodeType { return schema.NodeTypeIfElse }

func (h *IfElseHandler) Execute(ctx context.Context, req *Request) (*Result, error) {
	data, err := decodeData[schema.IfElseData](req.Node)
	if err != nil {
		return nil, err
	}

	eng, err := h.deps.Engines.ForLanguage(data.Language)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "condition language %q is not supported", data.Language).WithNode(req.Node.ID)
	}

	truthy := h.deps.Resolver.Condition(ctx, eng, data.Condition, req.Scope)
	branch := schema.BranchElse
	if truthy {
		branch = schema.BranchIf
	}

	return &Result{
		Branch: branch,
		Output: map[string]any{"condition": data.Condition, "result": truthy},
	}, nil
}

// WhileHandler evaluates its condition once per arrival. While the
// condition holds and the iteration counter is under the cap it routes
// "continue"; otherwise "break". Reaching the cap is a designed safety
// valve, not an error.
//
// Counter convention: iterations[node] is the value evaluated at this
// arrival and observed by the body; it advances when "continue" is
// chosen, so the body sees 0..N-1 across N passes and a checkpoint
// taken mid-body restores the same observed value.
type WhileHandler struct {
	deps Deps
}

func (h *WhileHandler) Type() schema.NodeType { return schema.NodeTypeWhile }

func (h *WhileHandler) Execute(ctx context.Context, req *Request) (*Result, error) {
	data, err := decodeData[schema.WhileData](req.Node)
	if err != nil {
		return nil, err
	}

	eng, err := h.deps.Engines.ForLanguage(data.Language)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "condition language %q is not supported", data.Language).WithNode(req.Node.ID)
	}

	maxIterations := data.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	iteration := req.Scope.Iteration(req.Node.ID)
	req.Scope.EnterLoop(req.Node.ID)

	capped := iteration >= maxIterations
	truthy := false
	if !capped {
		truthy = h.deps.Resolver.Condition(ctx, eng, data.Condition, req.Scope)
	}

	branch := schema.BranchBreak
	if truthy && !capped {
		branch = schema.BranchContinue
		req.Scope.IncrementIteration(req.Node.ID)
	}

	return &Result{
		Branch: branch,
		Output: map[string]any{
			"iteration": iteration,
			"condition": truthy,
			"capped":    capped,
		},
	}, nil
}

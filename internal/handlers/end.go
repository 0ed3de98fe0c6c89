package handlers

import (
	"context"

	"github.com/flowd-io/flowd/pkg/schema"
)

// EndHandler terminates the walk. Whatever reached it, the
// predecessor's output, becomes the execution's final output.
type EndHandler struct{}

func (h *EndHandler) Type() schema.NodeType { return schema.NodeTypeEnd }

func (h *EndHandler) Execute(ctx context.Context, req *Request) (*Result, error) {
	return &Result{Output: req.Scope.LastOutput()}, nil
}

package handlers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowd-io/flowd/pkg/schema"
)

// ApprovalToolName identifies human-approval gates in pending-auth
// records, distinguishing them from OAuth-gated tool suspensions.
const ApprovalToolName = "user-approval"

// ApprovalHandler is the human gate. First dispatch resolves the
// message and suspends the run with a pending-auth record; re-dispatch
// with a decision routes the approve or reject edge. Timeout handling
// lives in the approval sweep, which resumes with a synthetic reject.
type ApprovalHandler struct {
	deps Deps
}

func (h *ApprovalHandler) Type() schema.NodeType { return schema.NodeTypeApproval }

func (h *ApprovalHandler) Execute(ctx context.Context, req *Request) (*Result, error) {
	data, err := decodeData[schema.ApprovalData](req.Node)
	if err != nil {
		return nil, err
	}

	if req.Decision != nil {
		return &Result{
			Branch: req.Decision.Branch(),
			Output: map[string]any{
				"approved":   req.Decision.Approved,
				"comment":    req.Decision.Comment,
				"decided_by": req.Decision.DecidedBy,
			},
		}, nil
	}

	message, err := h.deps.Resolver.ResolveString(ctx, data.Message, req.Scope)
	if err != nil {
		return nil, err
	}

	pending := &schema.PendingAuth{
		AuthID:   uuid.New().String(),
		NodeID:   req.Node.ID,
		ToolName: ApprovalToolName,
		Message:  message,
	}
	if data.TimeoutMinutes > 0 {
		pending.ExpiresAt = time.Now().UTC().Add(time.Duration(data.TimeoutMinutes) * time.Minute)
	}

	return &Result{PendingAuth: pending}, nil
}

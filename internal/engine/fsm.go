package engine

import (
	"github.com/flowd-io/flowd/pkg/schema"
)

// validExecutionTransitions is the execution lifecycle table. waiting_auth
// loops back to running on resume; terminal states admit nothing.
var validExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusPending:     {schema.ExecutionStatusRunning, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusRunning:     {schema.ExecutionStatusCompleted, schema.ExecutionStatusFailed, schema.ExecutionStatusWaitingAuth, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusWaitingAuth: {schema.ExecutionStatusRunning, schema.ExecutionStatusCancelled, schema.ExecutionStatusFailed},
	schema.ExecutionStatusCompleted:   {},
	schema.ExecutionStatusFailed:      {},
	schema.ExecutionStatusCancelled:   {},
}

// validNodeTransitions is the per-node lifecycle table. pending_auth
// returns to running when the gate resolves and the node re-dispatches.
var validNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeStatusPending:     {schema.NodeStatusRunning, schema.NodeStatusSkipped},
	schema.NodeStatusRunning:     {schema.NodeStatusCompleted, schema.NodeStatusFailed, schema.NodeStatusPendingAuth},
	schema.NodeStatusPendingAuth: {schema.NodeStatusRunning, schema.NodeStatusSkipped, schema.NodeStatusFailed},
	schema.NodeStatusCompleted:   {schema.NodeStatusRunning}, // loop bodies re-execute
	schema.NodeStatusFailed:      {},
	schema.NodeStatusSkipped:     {},
}

func validExecutionTransition(from, to schema.ExecutionStatus) bool {
	for _, a := range validExecutionTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func validNodeTransition(from, to schema.NodeStatus) bool {
	for _, a := range validNodeTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// executionEventType maps a status change to its log event. Entering
// running from waiting_auth is a resume, not a fresh start.
func executionEventType(from, to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionStatusRunning:
		if from == schema.ExecutionStatusWaitingAuth {
			return schema.EventWorkflowResumed
		}
		return schema.EventWorkflowStarted
	case schema.ExecutionStatusCompleted:
		return schema.EventWorkflowCompleted
	case schema.ExecutionStatusFailed:
		return schema.EventWorkflowFailed
	case schema.ExecutionStatusWaitingAuth:
		return schema.EventWorkflowWaitingAuth
	case schema.ExecutionStatusCancelled:
		return schema.EventWorkflowCancelled
	default:
		return ""
	}
}

// nodeEventType maps a target node status to its log event.
func nodeEventType(to schema.NodeStatus) string {
	switch to {
	case schema.NodeStatusRunning:
		return schema.EventNodeStarted
	case schema.NodeStatusCompleted:
		return schema.EventNodeCompleted
	case schema.NodeStatusFailed:
		return schema.EventNodeFailed
	case schema.NodeStatusPendingAuth:
		return schema.EventNodePendingAuth
	case schema.NodeStatusSkipped:
		return schema.EventNodeSkipped
	default:
		return ""
	}
}

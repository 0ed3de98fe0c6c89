package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowd-io/flowd/pkg/schema"
)

// --- Execution transitions ---

func TestExecutionTransitions(t *testing.T) {
	cases := []struct {
		from, to schema.ExecutionStatus
		valid    bool
	}{
		{schema.ExecutionStatusPending, schema.ExecutionStatusRunning, true},
		{schema.ExecutionStatusPending, schema.ExecutionStatusCancelled, true},
		{schema.ExecutionStatusPending, schema.ExecutionStatusCompleted, false},
		{schema.ExecutionStatusRunning, schema.ExecutionStatusCompleted, true},
		{schema.ExecutionStatusRunning, schema.ExecutionStatusFailed, true},
		{schema.ExecutionStatusRunning, schema.ExecutionStatusWaitingAuth, true},
		{schema.ExecutionStatusRunning, schema.ExecutionStatusCancelled, true},
		{schema.ExecutionStatusRunning, schema.ExecutionStatusPending, false},
		{schema.ExecutionStatusWaitingAuth, schema.ExecutionStatusRunning, true},
		{schema.ExecutionStatusWaitingAuth, schema.ExecutionStatusCancelled, true},
		{schema.ExecutionStatusWaitingAuth, schema.ExecutionStatusCompleted, false},
		{schema.ExecutionStatusCompleted, schema.ExecutionStatusRunning, false},
		{schema.ExecutionStatusFailed, schema.ExecutionStatusRunning, false},
		{schema.ExecutionStatusCancelled, schema.ExecutionStatusRunning, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.valid, validExecutionTransition(tc.from, tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatusesAdmitNothing(t *testing.T) {
	all := []schema.ExecutionStatus{
		schema.ExecutionStatusPending,
		schema.ExecutionStatusRunning,
		schema.ExecutionStatusWaitingAuth,
		schema.ExecutionStatusCompleted,
		schema.ExecutionStatusFailed,
		schema.ExecutionStatusCancelled,
	}
	for _, from := range all {
		if !from.Terminal() {
			continue
		}
		for _, to := range all {
			assert.False(t, validExecutionTransition(from, to), "%s -> %s", from, to)
		}
	}
}

// --- Node transitions ---

func TestNodeTransitions(t *testing.T) {
	cases := []struct {
		from, to schema.NodeStatus
		valid    bool
	}{
		{schema.NodeStatusPending, schema.NodeStatusRunning, true},
		{schema.NodeStatusPending, schema.NodeStatusSkipped, true},
		{schema.NodeStatusPending, schema.NodeStatusCompleted, false},
		{schema.NodeStatusRunning, schema.NodeStatusCompleted, true},
		{schema.NodeStatusRunning, schema.NodeStatusFailed, true},
		{schema.NodeStatusRunning, schema.NodeStatusPendingAuth, true},
		{schema.NodeStatusPendingAuth, schema.NodeStatusRunning, true},
		{schema.NodeStatusPendingAuth, schema.NodeStatusFailed, true},
		// Loop bodies revisit completed nodes.
		{schema.NodeStatusCompleted, schema.NodeStatusRunning, true},
		{schema.NodeStatusFailed, schema.NodeStatusRunning, false},
		{schema.NodeStatusSkipped, schema.NodeStatusRunning, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.valid, validNodeTransition(tc.from, tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

// --- Event mapping ---

func TestExecutionEventTypes(t *testing.T) {
	assert.Equal(t, schema.EventWorkflowStarted,
		executionEventType(schema.ExecutionStatusPending, schema.ExecutionStatusRunning))
	assert.Equal(t, schema.EventWorkflowResumed,
		executionEventType(schema.ExecutionStatusWaitingAuth, schema.ExecutionStatusRunning))
	assert.Equal(t, schema.EventWorkflowCompleted,
		executionEventType(schema.ExecutionStatusRunning, schema.ExecutionStatusCompleted))
	assert.Equal(t, schema.EventWorkflowFailed,
		executionEventType(schema.ExecutionStatusRunning, schema.ExecutionStatusFailed))
	assert.Equal(t, schema.EventWorkflowWaitingAuth,
		executionEventType(schema.ExecutionStatusRunning, schema.ExecutionStatusWaitingAuth))
	assert.Equal(t, schema.EventWorkflowCancelled,
		executionEventType(schema.ExecutionStatusRunning, schema.ExecutionStatusCancelled))
}

func TestNodeEventTypes(t *testing.T) {
	assert.Equal(t, schema.EventNodeStarted, nodeEventType(schema.NodeStatusRunning))
	assert.Equal(t, schema.EventNodeCompleted, nodeEventType(schema.NodeStatusCompleted))
	assert.Equal(t, schema.EventNodeFailed, nodeEventType(schema.NodeStatusFailed))
	assert.Equal(t, schema.EventNodePendingAuth, nodeEventType(schema.NodeStatusPendingAuth))
	assert.Equal(t, schema.EventNodeSkipped, nodeEventType(schema.NodeStatusSkipped))
	assert.Equal(t, "", nodeEventType(schema.NodeStatusPending))
}

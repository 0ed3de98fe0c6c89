package streaming

import "context"

// StreamEvent is a real-time event emitted while an execution runs.
// Sequence mirrors the store's event-log ordering for replay callers.
type StreamEvent struct {
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id,omitempty"`
	NodeID      string `json:"node_id,omitempty"`
	EventType   string `json:"event_type"`
	Sequence    int64  `json:"sequence,omitempty"`
	Payload     any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	WorkflowID  string   `json:"workflow_id,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time execution events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}

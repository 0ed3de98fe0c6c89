package store

import (
	"context"
	"log/slog"

	"github.com/flowd-io/flowd/internal/streaming"
	"github.com/flowd-io/flowd/pkg/schema"
)

// Recorder writes execution events to the append-only log and fans them
// out to live stream subscribers. The store assigns the sequence; the
// published stream event carries the same sequence so catch-up readers
// can splice ListEvents output with the live feed.
type Recorder struct {
	store  Store
	hub    streaming.EventHub
	logger *slog.Logger
}

// NewRecorder wires a store and a hub. hub may be nil, in which case
// events are only persisted.
func NewRecorder(s Store, hub streaming.EventHub, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: s, hub: hub, logger: logger}
}

// Record persists the event and publishes it. Persistence failures are
// returned; publish failures are logged and swallowed so a slow
// subscriber cannot fail an execution.
func (r *Recorder) Record(ctx context.Context, workflowID string, event *schema.Event) error {
	if err := r.store.AppendEvent(ctx, event); err != nil {
		return schema.NewError(schema.ErrCodeStore, "append event").WithCause(err)
	}
	if r.hub == nil {
		return nil
	}
	se := streaming.StreamEvent{
		ExecutionID: event.ExecutionID,
		WorkflowID:  workflowID,
		NodeID:      event.NodeID,
		EventType:   event.Type,
		Sequence:    event.Sequence,
		Payload:     event.Payload,
	}
	if err := r.hub.Publish(ctx, se); err != nil {
		r.logger.WarnContext(ctx, "event publish failed",
			"execution_id", event.ExecutionID, "event_type", event.Type, "error", err)
	}
	return nil
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/flowd-io/flowd/internal/streaming"
	"github.com/flowd-io/flowd/pkg/schema"
)

// maxRunDuration caps a detached execution once its HTTP client is no
// longer part of the picture.
const maxRunDuration = 30 * time.Minute

// terminalWorkflowEvents close an SSE stream; waiting_auth counts
// because no further events arrive until an external resume.
var terminalWorkflowEvents = map[string]bool{
	schema.EventWorkflowCompleted:   true,
	schema.EventWorkflowFailed:      true,
	schema.EventWorkflowCancelled:   true,
	schema.EventWorkflowWaitingAuth: true,
}

// handleExecuteStream starts an execution and streams its events as
// they happen, closing with a result frame once the run settles.
func (s *Server) handleExecuteStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	record, err := s.deps.Store.GetWorkflow(ctx, r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	var body executeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before the run starts so the first event is not missed.
	executionID := uuid.New().String()
	ch, cancel, err := s.deps.Hub.Subscribe(ctx, streaming.EventFilter{ExecutionID: executionID})
	if err != nil {
		writeFlowError(w, err)
		return
	}
	defer cancel()

	sseHeaders(w)

	type outcome struct {
		exec *schema.Execution
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		// The run survives a dropped client; cancellation stays an
		// explicit API action.
		runCtx, cancelRun := context.WithTimeout(context.Background(), maxRunDuration)
		defer cancelRun()
		exec, execErr := s.deps.Engine.ExecuteAs(runCtx, record, body.Input, executionID)
		done <- outcome{exec, execErr}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ch:
			writeSSE(w, flusher, event.EventType, event)
		case result := <-done:
			drainEvents(w, flusher, ch)
			if result.err != nil {
				writeSSE(w, flusher, "error", map[string]any{"error": result.err.Error()})
				return
			}
			s.writeResultFrame(w, flusher, r, result.exec)
			return
		}
	}
}

// handleExecutionStream attaches to an existing execution: stored
// events first, then the live feed spliced in by sequence.
func (s *Server) handleExecutionStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executionID := r.PathValue("id")

	exec, err := s.deps.Store.GetExecution(ctx, executionID)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before catch-up so nothing falls between the two.
	ch, cancel, err := s.deps.Hub.Subscribe(ctx, streaming.EventFilter{ExecutionID: executionID})
	if err != nil {
		writeFlowError(w, err)
		return
	}
	defer cancel()

	sseHeaders(w)

	since := queryInt64(r, "since", 0)
	stored, err := s.deps.Store.ListEvents(ctx, executionID, since)
	if err != nil {
		writeSSE(w, flusher, "error", map[string]any{"error": err.Error()})
		return
	}
	var lastSeq int64
	for _, event := range stored {
		writeSSE(w, flusher, event.Type, event)
		lastSeq = event.Sequence
		if terminalWorkflowEvents[event.Type] {
			return
		}
	}
	if exec.Status.Terminal() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			if event.Sequence <= lastSeq {
				continue
			}
			writeSSE(w, flusher, event.EventType, event)
			if terminalWorkflowEvents[event.EventType] {
				return
			}
		}
	}
}

func (s *Server) writeResultFrame(w http.ResponseWriter, flusher http.Flusher, r *http.Request, exec *schema.Execution) {
	results, err := s.deps.Store.ListNodeResults(r.Context(), exec.ID)
	if err != nil {
		s.deps.Logger.WarnContext(r.Context(), "list node results failed",
			"execution_id", exec.ID, "error", err)
	}
	writeSSE(w, flusher, "result", map[string]any{
		"executionId": exec.ID,
		"status":      exec.Status,
		"output":      exec.Output,
		"error":       exec.Error,
		"pendingAuth": exec.PendingAuth,
		"nodeResults": results,
	})
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, eventType string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	flusher.Flush()
}

// drainEvents flushes whatever the hub already buffered for a finished
// run before the result frame goes out.
func drainEvents(w http.ResponseWriter, flusher http.Flusher, ch <-chan streaming.StreamEvent) {
	for {
		select {
		case event := <-ch:
			writeSSE(w, flusher, event.EventType, event)
		default:
			return
		}
	}
}

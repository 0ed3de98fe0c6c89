package mcp

import "sync"

// SessionRegistry maps execution IDs to MCP session IDs. Populated when
// a session runs a workflow or resolves an approval, so lifecycle
// notifications for that execution reach the right client.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // executionID → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates an execution ID with a session ID. A later caller
// taking over the execution (an approver, say) overwrites the mapping.
func (r *SessionRegistry) Register(executionID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[executionID] = sessionID
}

// SessionFor returns the session ID watching the given execution.
func (r *SessionRegistry) SessionFor(executionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[executionID]
	return sid, ok
}

// Remove deletes all execution mappings for the given session ID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for executionID, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, executionID)
		}
	}
}

package expressions

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
)

// Reserved scope names that always resolve ahead of node ids and state keys.
const (
	ScopeInput      = "input"
	ScopeState      = "state"
	ScopeNodes      = "nodes"
	ScopeLastOutput = "lastOutput"
	ScopeIteration  = "iteration"
	ScopeSecrets    = "secrets"
)

// Scope holds the runtime variables of a single execution: the caller
// input, accumulated node outputs, set-state variables, and while-loop
// counters. It is created at run start and never shared across runs.
// Writes are serialized so fan-out branches can record outputs safely.
type Scope struct {
	mu         sync.RWMutex
	input      map[string]any
	state      map[string]any
	outputs    map[string]any // normalized node ID -> frozen output
	lastOutput any
	iterations map[string]int // while node ID -> counter
	iteration  int            // see EnterLoop
}

// NewScope creates a Scope seeded with the caller-supplied input.
// The input is deep-copied so later external mutation cannot leak in.
func NewScope(input map[string]any) *Scope {
	return &Scope{
		input:      deepCopyMap(input),
		state:      make(map[string]any),
		outputs:    make(map[string]any),
		iterations: make(map[string]int),
	}
}

// Snapshot is the checkpointable image of a Scope. Iteration is the
// active loop counter so a run suspended inside a loop body resumes
// observing the same value.
type Snapshot struct {
	Input      map[string]any `json:"input,omitempty"`
	State      map[string]any `json:"state,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	LastOutput any            `json:"last_output,omitempty"`
	Iterations map[string]int `json:"iterations,omitempty"`
	Iteration  int            `json:"iteration,omitempty"`
}

// RestoreScope rebuilds a Scope from a checkpointed snapshot.
func RestoreScope(snap Snapshot) *Scope {
	s := &Scope{
		input:      deepCopyMap(snap.Input),
		state:      deepCopyMap(snap.State),
		outputs:    deepCopyMap(snap.Outputs),
		lastOutput: deepCopyAny(snap.LastOutput),
		iterations: make(map[string]int, len(snap.Iterations)),
		iteration:  snap.Iteration,
	}
	if s.state == nil {
		s.state = make(map[string]any)
	}
	if s.outputs == nil {
		s.outputs = make(map[string]any)
	}
	for k, v := range snap.Iterations {
		s.iterations[k] = v
	}
	return s
}

// NormalizeID maps a node id to its scope name: hyphens become underscores.
func NormalizeID(id string) string {
	return strings.ReplaceAll(id, "-", "_")
}

// SetOutput records a node's output under its normalized id and updates
// lastOutput. The value is frozen by deep copy. Re-recording the same
// node replaces the previous value; loop bodies re-execute their nodes.
func (s *Scope) SetOutput(nodeID string, output any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frozen := deepCopyAny(output)
	s.outputs[NormalizeID(nodeID)] = frozen
	s.lastOutput = frozen
}

// SetState assigns one state variable visible to later nodes.
func (s *Scope) SetState(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = deepCopyAny(value)
}

// LastOutput returns the most recent node output.
func (s *Scope) LastOutput() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastOutput
}

// Output returns a node's recorded output by raw or normalized id.
func (s *Scope) Output(nodeID string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.outputs[NormalizeID(nodeID)]
	return v, ok
}

// Iteration returns the loop counter for a while node (zero if untouched).
func (s *Scope) Iteration(nodeID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iterations[nodeID]
}

// IncrementIteration bumps a while node's counter and returns the new value.
func (s *Scope) IncrementIteration(nodeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations[nodeID]++
	return s.iterations[nodeID]
}

// EnterLoop marks a while node's counter as the active "iteration"
// variable observed by expressions inside its subgraph. The variable
// is scope-global: the most recently entered loop wins, so when
// fan-out runs two while subgraphs concurrently their bodies observe
// the same value. Bodies that need their own counter key off the
// per-node map via Iteration instead.
func (s *Scope) EnterLoop(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iteration = s.iterations[nodeID]
}

// Flatten builds the evaluation environment: reserved names, top-level
// state keys, and normalized node ids. Reserved names win collisions,
// node outputs win over state keys. The result is a snapshot; mutating
// it does not affect the scope.
func (s *Scope) Flatten() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env := make(map[string]any, len(s.state)+len(s.outputs)+5)
	for k, v := range s.state {
		env[k] = deepCopyAny(v)
	}
	for k, v := range s.outputs {
		env[k] = deepCopyAny(v)
	}

	env[ScopeInput] = deepCopyMap(s.input)
	env[ScopeState] = deepCopyMap(s.state)
	env[ScopeNodes] = deepCopyMap(s.outputs)
	env[ScopeLastOutput] = deepCopyAny(s.lastOutput)
	env[ScopeIteration] = s.iteration

	return env
}

// Lookup resolves a dotted path against the scope without copying.
// The first segment is matched against reserved names, then node ids,
// then state keys. Missing paths return (nil, false), never an error.
func (s *Scope) Lookup(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	segments := strings.Split(path, ".")
	head := NormalizeID(segments[0])

	var current any
	switch head {
	case ScopeInput:
		current = s.input
	case ScopeState:
		current = s.state
	case ScopeNodes:
		current = s.outputs
	case ScopeLastOutput:
		current = s.lastOutput
	case ScopeIteration:
		current = s.iteration
	default:
		if v, ok := s.outputs[head]; ok {
			current = v
		} else if v, ok := s.state[segments[0]]; ok {
			current = v
		} else if v, ok := s.input[segments[0]]; ok {
			// Bare input fields resolve as a convenience for short paths.
			current = v
		} else {
			return nil, false
		}
	}

	return traverse(current, segments[1:])
}

// Snapshot returns a deep copy of the checkpointable scope fields.
func (s *Scope) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	iterations := make(map[string]int, len(s.iterations))
	for k, v := range s.iterations {
		iterations[k] = v
	}
	return Snapshot{
		Input:      deepCopyMap(s.input),
		State:      deepCopyMap(s.state),
		Outputs:    deepCopyMap(s.outputs),
		LastOutput: deepCopyAny(s.lastOutput),
		Iterations: iterations,
		Iteration:  s.iteration,
	}
}

// traverse walks nested maps and slices along path segments.
func traverse(root any, segments []string) (any, bool) {
	current := root
	for _, seg := range segments {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}

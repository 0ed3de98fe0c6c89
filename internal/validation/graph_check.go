package validation

import (
	"fmt"
	"sort"

	"github.com/flowd-io/flowd/pkg/schema"
)

// validateGraph performs whole-graph analysis: single start node,
// reachability from start, and cycle detection. Cycles that pass
// through a while node are legal loop structure; any other cycle can
// never terminate and is an error.
func validateGraph(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	var starts []string
	hasEnd := false
	isWhile := make(map[string]bool)
	isNote := make(map[string]bool)
	nodeIDs := make(map[string]bool, len(wf.Nodes))

	for _, n := range wf.Nodes {
		nodeIDs[n.ID] = true
		switch n.Type {
		case schema.NodeTypeStart:
			starts = append(starts, n.ID)
		case schema.NodeTypeEnd:
			hasEnd = true
		case schema.NodeTypeWhile:
			isWhile[n.ID] = true
		case schema.NodeTypeNote:
			isNote[n.ID] = true
		}
	}

	switch len(starts) {
	case 0:
		result.AddError("nodes", schema.ErrCodeValidation, "workflow has no start node")
		return result
	case 1:
	default:
		sort.Strings(starts)
		result.AddError("nodes", schema.ErrCodeValidation,
			fmt.Sprintf("workflow has %d start nodes: %v", len(starts), starts))
		return result
	}
	start := starts[0]

	if !hasEnd {
		result.AddWarning("nodes", schema.ErrCodeValidation,
			"workflow has no end node; the run finishes when the frontier empties")
	}

	// Adjacency over executable nodes only.
	succ := make(map[string][]string)
	incomingStart := false
	for _, e := range wf.Edges {
		if isNote[e.Source] || isNote[e.Target] || !nodeIDs[e.Source] || !nodeIDs[e.Target] {
			continue
		}
		succ[e.Source] = append(succ[e.Source], e.Target)
		if e.Target == start {
			incomingStart = true
		}
	}

	if incomingStart {
		result.AddWarning("edges", schema.ErrCodeValidation,
			"start node has incoming edges; they are never followed")
	}

	// Reachability from start.
	reachable := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range succ[cur] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for _, n := range wf.Nodes {
		if isNote[n.ID] || reachable[n.ID] {
			continue
		}
		result.AddWarning(fmt.Sprintf("nodes[%s]", n.ID), schema.ErrCodeValidation,
			fmt.Sprintf("node %q is unreachable from start", n.ID))
	}

	// Cycle detection with while nodes removed: continue/break loops
	// route through the while node, so a cycle that survives its removal
	// has no exit condition.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, next := range succ[id] {
			if isWhile[next] {
				continue
			}
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for id := range nodeIDs {
		if isNote[id] || isWhile[id] || color[id] != white {
			continue
		}
		if visit(id) {
			result.AddError("edges", schema.ErrCodeValidation,
				"workflow contains a cycle that does not pass through a while node")
			break
		}
	}

	return result
}

// Package graph builds the traversal view of a workflow definition:
// node lookup, the start node, and label-filtered successor edges.
package graph

import (
	"github.com/flowd-io/flowd/pkg/schema"
)

// Graph is the immutable traversal index of one workflow. Note nodes
// and any edges touching them are excluded at build time; the walker
// never sees them.
type Graph struct {
	nodes map[string]*schema.Node
	out   map[string][]schema.Edge
	start string
}

// Build indexes a workflow for traversal. It enforces the structural
// minimum the walker depends on: unique node ids, exactly one start
// node, and edges whose endpoints exist. Full semantic validation
// lives in the validation package.
func Build(wf *schema.Workflow) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]*schema.Node, len(wf.Nodes)),
		out:   make(map[string][]schema.Edge),
	}

	for i := range wf.Nodes {
		node := &wf.Nodes[i]
		if node.ID == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "node with empty id")
		}
		if _, dup := g.nodes[node.ID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node id %q", node.ID)
		}
		if node.Type == schema.NodeTypeNote {
			continue
		}
		g.nodes[node.ID] = node

		if node.Type == schema.NodeTypeStart {
			if g.start != "" {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"multiple start nodes: %q and %q", g.start, node.ID)
			}
			g.start = node.ID
		}
	}

	if g.start == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has no start node")
	}

	for _, edge := range wf.Edges {
		src, okSrc := g.nodes[edge.Source]
		_, okDst := g.nodes[edge.Target]
		if !okSrc || !okDst {
			// Edges to or from note nodes are decorative.
			if isNote(wf, edge.Source) || isNote(wf, edge.Target) {
				continue
			}
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"edge %s -> %s references unknown node", edge.Source, edge.Target)
		}
		// Unlabeled edges from branching nodes cannot be routed; drop
		// them rather than fail the whole definition.
		if src.Type.IsBranching() && edge.Label == "" {
			continue
		}
		g.out[edge.Source] = append(g.out[edge.Source], edge)
	}

	return g, nil
}

// Start returns the workflow's single start node.
func (g *Graph) Start() *schema.Node {
	return g.nodes[g.start]
}

// Node returns a node by id.
func (g *Graph) Node(id string) (*schema.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the number of executable nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Successors returns the targets of a node's outgoing edges matching
// the selected branch. An empty branch selects the unlabeled edges of
// a non-branching node, which may fan out to several targets.
func (g *Graph) Successors(id, branch string) []*schema.Node {
	var out []*schema.Node
	for _, edge := range g.out[id] {
		if edge.Label != branch {
			continue
		}
		if n, ok := g.nodes[edge.Target]; ok {
			out = append(out, n)
		}
	}
	return out
}

// OutEdges returns a node's routed outgoing edges.
func (g *Graph) OutEdges(id string) []schema.Edge {
	return g.out[id]
}

func isNote(wf *schema.Workflow, id string) bool {
	for i := range wf.Nodes {
		if wf.Nodes[i].ID == id {
			return wf.Nodes[i].Type == schema.NodeTypeNote
		}
	}
	return false
}

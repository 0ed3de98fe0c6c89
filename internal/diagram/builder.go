package diagram

import (
	"encoding/json"
	"fmt"

	"github.com/flowd-io/flowd/pkg/schema"
)

// Build constructs a Model from a workflow definition. When node
// results are given, each matching node carries a status overlay.
func Build(wf *schema.Workflow, results []*schema.NodeResult) *Model {
	resultMap := make(map[string]*schema.NodeResult, len(results))
	for _, r := range results {
		resultMap[r.NodeID] = r
	}

	nodes := make([]*Node, 0, len(wf.Nodes))
	for _, n := range wf.Nodes {
		node := &Node{
			ID:    n.ID,
			Label: nodeLabel(n),
			Type:  string(n.Type),
		}
		if r, ok := resultMap[n.ID]; ok {
			node.Status = &StatusOverlay{
				Status: string(r.Status),
				Error:  r.Error,
			}
		}
		nodes = append(nodes, node)
	}

	edges := make([]Edge, 0, len(wf.Edges))
	for _, e := range wf.Edges {
		edges = append(edges, Edge{From: e.Source, To: e.Target, Label: e.Label})
	}

	title := wf.Name
	if title == "" {
		title = wf.ID
	}

	return &Model{Title: title, Nodes: nodes, Edges: edges}
}

// nodeLabel prefers a display name from the node data, falling back to
// "id (type)".
func nodeLabel(n schema.Node) string {
	if len(n.Data) > 0 {
		var data struct {
			Label string `json:"label"`
			Name  string `json:"name"`
		}
		if err := json.Unmarshal(n.Data, &data); err == nil {
			if data.Label != "" {
				return data.Label
			}
			if data.Name != "" {
				return data.Name
			}
		}
	}
	return fmt.Sprintf("%s (%s)", n.ID, n.Type)
}

// Package diagram renders workflow definitions as Mermaid flowcharts,
// optionally overlaid with the runtime status of one execution.
package diagram

// Model is the intermediate representation handed to the renderer.
type Model struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is one workflow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Type   string // schema.NodeType value
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status string // schema.NodeStatus value
	Error  string
}

// Edge is a directed connection, with the branch label if any.
type Edge struct {
	From  string
	To    string
	Label string
}

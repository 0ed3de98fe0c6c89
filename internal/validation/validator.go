package validation

import "github.com/flowd-io/flowd/pkg/schema"

// Validator checks workflow definitions and run inputs before execution.
// Uses JSON Schema Draft 2020-12 for structural validation.
type Validator interface {
	ValidateWorkflow(wf *schema.Workflow) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

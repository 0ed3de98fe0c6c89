package validation

import (
	"encoding/json"
	"fmt"

	"github.com/flowd-io/flowd/pkg/schema"
)

// validateSemantic checks per-node configuration and edge labels:
// required data fields per node type, branch labels within each
// branching node's vocabulary, and edge endpoints.
func validateSemantic(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeTypes := make(map[string]schema.NodeType, len(wf.Nodes))
	for _, n := range wf.Nodes {
		nodeTypes[n.ID] = n.Type
	}

	for i := range wf.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		validateNodeData(&wf.Nodes[i], path, result)
	}

	for i, edge := range wf.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		validateEdge(edge, path, nodeTypes, result)
	}

	validateBranchCoverage(wf, nodeTypes, result)

	return result
}

// validateNodeData decodes each node's data and checks the fields its
// handler requires at runtime.
func validateNodeData(node *schema.Node, path string, result *schema.ValidationResult) {
	switch node.Type {
	case schema.NodeTypeAgent:
		var data schema.AgentData
		if !decodeData(node.Data, &data, path, result) {
			return
		}
		if data.Instructions == "" {
			result.AddError(path+".data.instructions", schema.ErrCodeValidation,
				"agent node requires instructions")
		}
		validateRetry(data.Retry, path, result)

	case schema.NodeTypeMCP:
		var data schema.MCPData
		if !decodeData(node.Data, &data, path, result) {
			return
		}
		if data.Server == "" {
			result.AddError(path+".data.server", schema.ErrCodeValidation,
				"mcp node requires a server name")
		}
		if data.Tool == "" {
			result.AddError(path+".data.tool", schema.ErrCodeValidation,
				"mcp node requires a tool name")
		}
		validateRetry(data.Retry, path, result)

	case schema.NodeTypeHTTP:
		var data schema.HTTPData
		if !decodeData(node.Data, &data, path, result) {
			return
		}
		if data.URL == "" {
			result.AddError(path+".data.url", schema.ErrCodeValidation,
				"http node requires a url")
		}
		validateRetry(data.Retry, path, result)

	case schema.NodeTypeTransform:
		var data schema.TransformData
		if !decodeData(node.Data, &data, path, result) {
			return
		}
		if data.Script == "" {
			result.AddError(path+".data.script", schema.ErrCodeValidation,
				"transform node requires a script")
		}
		if data.Language != "" && data.Language != schema.LangJQ && data.Language != schema.LangExpr {
			result.AddError(path+".data.language", schema.ErrCodeValidation,
				fmt.Sprintf("transform language must be jq or expr, got %q", data.Language))
		}

	case schema.NodeTypeSetState:
		var data schema.SetStateData
		if !decodeData(node.Data, &data, path, result) {
			return
		}
		if data.Key == "" {
			result.AddError(path+".data.key", schema.ErrCodeValidation,
				"set-state node requires a key")
		}
		switch data.ValueType {
		case "string", "number", "boolean", "json", "expression":
		case "":
			result.AddError(path+".data.valueType", schema.ErrCodeValidation,
				"set-state node requires a valueType")
		default:
			result.AddError(path+".data.valueType", schema.ErrCodeValidation,
				fmt.Sprintf("unknown valueType %q", data.ValueType))
		}

	case schema.NodeTypeIfElse:
		var data schema.IfElseData
		if !decodeData(node.Data, &data, path, result) {
			return
		}
		if data.Condition == "" {
			result.AddError(path+".data.condition", schema.ErrCodeValidation,
				"if-else node requires a condition")
		}
		validateLanguage(data.Language, path, result)

	case schema.NodeTypeWhile:
		var data schema.WhileData
		if !decodeData(node.Data, &data, path, result) {
			return
		}
		if data.Condition == "" {
			result.AddError(path+".data.condition", schema.ErrCodeValidation,
				"while node requires a condition")
		}
		if data.MaxIterations < 0 {
			result.AddError(path+".data.maxIterations", schema.ErrCodeValidation,
				"maxIterations cannot be negative")
		}
		if data.MaxIterations == 0 {
			result.AddWarning(path+".data.maxIterations", schema.ErrCodeValidation,
				"no maxIterations set; the default cap applies")
		}
		validateLanguage(data.Language, path, result)

	case schema.NodeTypeApproval:
		var data schema.ApprovalData
		if !decodeData(node.Data, &data, path, result) {
			return
		}
		if data.Message == "" {
			result.AddError(path+".data.message", schema.ErrCodeValidation,
				"user-approval node requires a message")
		}
		if data.TimeoutMinutes < 0 {
			result.AddError(path+".data.timeoutMinutes", schema.ErrCodeValidation,
				"timeoutMinutes cannot be negative")
		}

	case schema.NodeTypeExtract:
		var data schema.ExtractData
		if !decodeData(node.Data, &data, path, result) {
			return
		}
		if data.Instructions == "" {
			result.AddError(path+".data.instructions", schema.ErrCodeValidation,
				"extract node requires instructions")
		}
		if len(data.Schema) == 0 {
			result.AddError(path+".data.schema", schema.ErrCodeValidation,
				"extract node requires a schema")
		}
		validateRetry(data.Retry, path, result)

	case schema.NodeTypeStart, schema.NodeTypeEnd, schema.NodeTypeNote:
		// No required data fields.
	}
}

func validateEdge(edge schema.Edge, path string, nodeTypes map[string]schema.NodeType, result *schema.ValidationResult) {
	srcType, srcOK := nodeTypes[edge.Source]
	_, dstOK := nodeTypes[edge.Target]

	if !srcOK {
		result.AddError(path+".source", schema.ErrCodeValidation,
			fmt.Sprintf("references non-existent node %q", edge.Source))
	}
	if !dstOK {
		result.AddError(path+".target", schema.ErrCodeValidation,
			fmt.Sprintf("references non-existent node %q", edge.Target))
	}
	if !srcOK || !dstOK {
		return
	}

	if srcType.IsBranching() {
		if edge.Label == "" {
			result.AddWarning(path+".label", schema.ErrCodeValidation,
				fmt.Sprintf("unlabeled edge from branching node %q is never followed", edge.Source))
			return
		}
		if !labelInVocabulary(edge.Label, srcType.BranchLabels()) {
			result.AddError(path+".label", schema.ErrCodeValidation,
				fmt.Sprintf("label %q is not valid for %s node %q", edge.Label, srcType, edge.Source))
		}
	} else if edge.Label != "" {
		result.AddWarning(path+".label", schema.ErrCodeValidation,
			fmt.Sprintf("label %q on edge from non-branching node %q is ignored", edge.Label, edge.Source))
	}
}

// validateBranchCoverage warns when a branching node is missing an edge
// for one of its branches: that branch silently ends the walk.
func validateBranchCoverage(wf *schema.Workflow, nodeTypes map[string]schema.NodeType, result *schema.ValidationResult) {
	labels := make(map[string]map[string]bool)
	for _, edge := range wf.Edges {
		if labels[edge.Source] == nil {
			labels[edge.Source] = make(map[string]bool)
		}
		labels[edge.Source][edge.Label] = true
	}

	for id, t := range nodeTypes {
		for _, want := range t.BranchLabels() {
			if !labels[id][want] {
				result.AddWarning(fmt.Sprintf("nodes[%s]", id), schema.ErrCodeValidation,
					fmt.Sprintf("%s node %q has no %q edge; that branch ends the run", t, id, want))
			}
		}
	}
}

func validateRetry(retry *schema.RetryPolicy, path string, result *schema.ValidationResult) {
	if retry == nil {
		return
	}
	if retry.Max < 0 {
		result.AddError(path+".data.retry.max", schema.ErrCodeValidation,
			"retry max cannot be negative")
	}
	if retry.Max > 10 {
		result.AddWarning(path+".data.retry.max", schema.ErrCodeValidation,
			fmt.Sprintf("high retry count (%d) may cause excessive delays", retry.Max))
	}
	switch retry.Backoff {
	case "", "none", "linear", "exponential":
	default:
		result.AddError(path+".data.retry.backoff", schema.ErrCodeValidation,
			fmt.Sprintf("unknown backoff %q", retry.Backoff))
	}
}

func validateLanguage(lang schema.ExpressionLanguage, path string, result *schema.ValidationResult) {
	switch lang {
	case "", schema.LangExpr, schema.LangCEL:
	default:
		result.AddError(path+".data.language", schema.ErrCodeValidation,
			fmt.Sprintf("condition language must be expr or cel, got %q", lang))
	}
}

func decodeData(raw json.RawMessage, dst any, path string, result *schema.ValidationResult) bool {
	if len(raw) == 0 {
		result.AddError(path+".data", schema.ErrCodeValidation, "missing node data")
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		result.AddError(path+".data", schema.ErrCodeValidation,
			fmt.Sprintf("malformed node data: %s", err.Error()))
		return false
	}
	return true
}

func labelInVocabulary(label string, vocab []string) bool {
	for _, v := range vocab {
		if v == label {
			return true
		}
	}
	return false
}

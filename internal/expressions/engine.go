package expressions

import (
	"context"

	"github.com/flowd-io/flowd/pkg/schema"
)

// Engine evaluates expressions against a flattened run scope.
// Three implementations: Expr (conditions, default), CEL (opt-in
// conditions), GoJQ (transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Registry holds one engine per supported language.
type Registry struct {
	expr *ExprEngine
	cel  *CELEngine
	jq   *GoJQEngine
}

// NewRegistry constructs all engines. CEL environment setup can fail.
func NewRegistry() (*Registry, error) {
	celEng, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Registry{
		expr: NewExprEngine(),
		cel:  celEng,
		jq:   NewGoJQEngine(),
	}, nil
}

// ForLanguage returns the engine for a language tag. Empty defaults to expr.
func (r *Registry) ForLanguage(lang schema.ExpressionLanguage) (Engine, error) {
	switch lang {
	case "", schema.LangExpr:
		return r.expr, nil
	case schema.LangCEL:
		return r.cel, nil
	case schema.LangJQ:
		return r.jq, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown expression language %q", lang)
	}
}

// Expr returns the default condition engine.
func (r *Registry) Expr() *ExprEngine { return r.expr }

// JQ returns the transform engine.
func (r *Registry) JQ() *GoJQEngine { return r.jq }

// Truthy applies JS-style truthiness to an evaluation result.
// nil, false, zero numbers, empty strings, and empty collections are falsy.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case float32:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case int32:
		return val != 0
	case uint64:
		return val != 0
	case map[string]any:
		return len(val) > 0
	case []any:
		return len(val) > 0
	default:
		return true
	}
}

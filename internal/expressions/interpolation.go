package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flowd-io/flowd/internal/secrets"
	"github.com/flowd-io/flowd/pkg/schema"
)

// Resolver substitutes {{...}} placeholders in node configuration and
// evaluates bare condition expressions. Resolution is lenient: a missing
// path serializes to an empty value and a malformed condition evaluates
// falsy with a logged warning, so one bad expression never kills a run.
// Secrets ({{secrets.KEY}}) resolve through the vault in a second pass
// and do fail hard; silently dropping a credential would only surface
// later as a confusing auth error.
type Resolver struct {
	vault  secrets.Vault
	logger *slog.Logger
}

// NewResolver creates a Resolver. vault may be nil when no secret
// backend is configured; secret references then fail resolution.
func NewResolver(vault secrets.Vault, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{vault: vault, logger: logger}
}

// ResolveString substitutes every {{path}} in s with the stringified
// scope value. Missing paths become empty strings. An unclosed {{ is
// left verbatim with a warning.
func (r *Resolver) ResolveString(ctx context.Context, s string, scope *Scope) (string, error) {
	return r.resolve(ctx, s, scope, stringifyInline)
}

// ResolveRaw substitutes placeholders inside a raw JSON blob. Missing
// paths become JSON null so the result stays parseable. String values
// are embedded JSON-escaped but without added quotes; templates carry
// their own.
func (r *Resolver) ResolveRaw(ctx context.Context, raw json.RawMessage, scope *Scope) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	out, err := r.resolve(ctx, string(raw), scope, jsonifyInline)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}

// ResolveMap substitutes placeholders in each value of a string map.
// Used for HTTP headers.
func (r *Resolver) ResolveMap(ctx context.Context, m map[string]string, scope *Scope) (map[string]string, error) {
	if len(m) == 0 {
		return m, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		resolved, err := r.ResolveString(ctx, v, scope)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

// Condition evaluates a boolean routing expression against the scope
// and applies truthiness. A surrounding {{...}} wrapper is tolerated.
// Evaluation errors log a warning and yield false.
func (r *Resolver) Condition(ctx context.Context, eng Engine, expression string, scope *Scope) bool {
	expression = strings.TrimSpace(expression)
	if strings.HasPrefix(expression, "{{") && strings.HasSuffix(expression, "}}") {
		expression = strings.TrimSpace(expression[2 : len(expression)-2])
	}
	if expression == "" {
		return false
	}

	val, err := eng.Evaluate(ctx, expression, scope.Flatten())
	if err != nil {
		r.logger.WarnContext(ctx, "condition evaluation failed, treating as false",
			"expression", expression, "engine", eng.Name(), "error", err)
		return false
	}
	return Truthy(val)
}

// resolve scans for {{...}} tokens, resolving each through the scope or
// the vault and rendering with the supplied formatter.
func (r *Resolver) resolve(ctx context.Context, input string, scope *Scope, render func(any) string) (string, error) {
	if !strings.Contains(input, "{{") {
		return input, nil
	}

	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "{{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		result.WriteString(input[i : i+idx])
		start := i + idx + 2

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			r.logger.Warn("unclosed {{ placeholder, leaving verbatim",
				"remainder", input[i+idx:])
			result.WriteString(input[i+idx:])
			break
		}
		end += start

		path := strings.TrimSpace(input[start:end])
		i = end + 2

		if path == "" {
			continue
		}

		if key, ok := strings.CutPrefix(path, ScopeSecrets+"."); ok {
			val, err := r.resolveSecret(ctx, key)
			if err != nil {
				return "", err
			}
			result.WriteString(render(val))
			continue
		}

		val, found := scope.Lookup(path)
		if !found {
			r.logger.Debug("placeholder path not in scope, resolving empty", "path", path)
			result.WriteString(render(nil))
			continue
		}
		result.WriteString(render(val))
	}

	return result.String(), nil
}

func (r *Resolver) resolveSecret(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", schema.NewError(schema.ErrCodeExpression, "empty secret reference: {{secrets.}}")
	}
	if r.vault == nil {
		return "", schema.NewErrorf(schema.ErrCodeExpression,
			"cannot resolve secret %q: no vault configured", key)
	}
	val, err := r.vault.Resolve(ctx, key)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeExpression,
			"failed to resolve secret %q: %s", key, err.Error()).WithCause(err)
	}
	return string(val), nil
}

// stringifyInline renders a value for plain-text contexts.
// nil is the empty string; composites are compact JSON.
func stringifyInline(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// jsonifyInline renders a value for embedding inside a JSON template.
// nil becomes null, and strings are escaped without the outer quotes
// (the template supplies those), so quotes or newlines in a value
// cannot break the surrounding document.
func jsonifyInline(val any) string {
	switch v := val.(type) {
	case nil:
		return "null"
	case string:
		b, err := json.Marshal(v)
		if err != nil {
			return v
		}
		return string(b[1 : len(b)-1])
	default:
		return stringifyInline(val)
	}
}

// HasPlaceholder reports whether a blob contains any {{...}} references.
func HasPlaceholder(raw json.RawMessage) bool {
	return strings.Contains(string(raw), "{{")
}

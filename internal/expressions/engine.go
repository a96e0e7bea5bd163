package expressions

import "context"

// Engine evaluates user-supplied expressions against run data.
// Three implementations: CEL (stop conditions), Expr (candidate admission
// filters), GoJQ (trace queries).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

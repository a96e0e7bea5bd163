package insertion

import (
	"context"

	"github.com/matgraph/ionflow/internal/expressions"
)

// TerminationPolicy decides when the recursion stops. Two independent
// governors: the step budget (checked on entry to each round) and the
// no-survivor signal (checked after selection). Neither consumes the other.
// An optional CEL condition adds a third, user-supplied governor evaluated
// after each successful selection.
type TerminationPolicy struct {
	// MaxSteps caps sequential rounds; nil is unbounded.
	MaxSteps *int

	// Condition is an optional CEL expression over
	// {step, inserted, survivor_found, energy, metadata}.
	Condition string

	CEL *expressions.CELEngine
}

// BudgetExhausted reports whether a round must not start.
func (p *TerminationPolicy) BudgetExhausted(stepsRemaining *int) bool {
	return stepsRemaining != nil && *stepsRemaining <= 0
}

// ConditionMet evaluates the stop condition for the round that just
// selected a survivor. With no condition configured it is always false.
func (p *TerminationPolicy) ConditionMet(ctx context.Context, step, inserted int, survivorFound bool, energy float64, metadata map[string]any) (bool, error) {
	if p.Condition == "" || p.CEL == nil {
		return false, nil
	}
	return p.CEL.EvaluateBool(ctx, p.Condition, map[string]any{
		"step":           step,
		"inserted":       inserted,
		"survivor_found": survivorFound,
		"energy":         energy,
		"metadata":       metadata,
	})
}

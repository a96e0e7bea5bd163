package insertion

import (
	"context"

	"github.com/matgraph/ionflow/internal/compute"
	"github.com/matgraph/ionflow/internal/expressions"
	"github.com/matgraph/ionflow/pkg/schema"
)

// Selector picks the best candidate of a fan-out round. It is a pure
// function of its inputs: an optional Expr admission filter, then the
// topotactic filter against the reference, then minimum energy per atom
// among survivors, ties broken by candidate index.
type Selector struct {
	Equivalence compute.Equivalence

	// Ignore is the species excluded from the equivalence comparison.
	// The inserted species is always present; callers may add more.
	Ignore map[schema.Species]bool

	// AdmitFilter is an optional Expr expression over
	// {index, energy, energy_per_atom, natoms}, evaluated per summary
	// before the equivalence check.
	AdmitFilter string

	Expr *expressions.ExprEngine
}

// SelectBest returns the index and summary of the winning candidate, or
// (-1, nil) when no candidate survives. No survivor is the natural
// recursion-termination signal, never an error.
func (s *Selector) SelectBest(ctx context.Context, summaries []*schema.RelaxSummary, reference *schema.Structure) (int, *schema.RelaxSummary, error) {
	bestIdx := -1
	var best *schema.RelaxSummary

	for i, summary := range summaries {
		if summary == nil || summary.Structure == nil {
			continue
		}

		if s.AdmitFilter != "" && s.Expr != nil {
			admitted, err := s.Expr.Admit(ctx, s.AdmitFilter, map[string]any{
				"index":           i,
				"energy":          summary.Energy,
				"energy_per_atom": summary.EnergyPerAtom(),
				"natoms":          summary.Structure.NumSites(),
			})
			if err != nil {
				return -1, nil, err
			}
			if !admitted {
				continue
			}
		}

		if !s.Equivalence.Fit(reference, summary.Structure, s.Ignore) {
			continue
		}

		// Strict less-than keeps the first-by-index winner on ties.
		if best == nil || summary.EnergyPerAtom() < best.EnergyPerAtom() {
			bestIdx, best = i, summary
		}
	}

	return bestIdx, best, nil
}

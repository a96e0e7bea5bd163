package insertion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matgraph/ionflow/internal/compute"
	"github.com/matgraph/ionflow/internal/expressions"
	"github.com/matgraph/ionflow/pkg/schema"
)

func structureWithSites(n int) *schema.Structure {
	s := &schema.Structure{Lattice: schema.Lattice{{4, 0, 0}, {0, 4, 0}, {0, 0, 4}}}
	for i := 0; i < n; i++ {
		s.Sites = append(s.Sites, schema.Site{Species: "O", Coords: [3]float64{float64(i), 0, 0}})
	}
	return s
}

func summary(energy float64, natoms int) *schema.RelaxSummary {
	return &schema.RelaxSummary{Structure: structureWithSites(natoms), Energy: energy}
}

func acceptAll() compute.Equivalence {
	return compute.FitFunc(func(ref, cand *schema.Structure, ignore map[schema.Species]bool) bool {
		return true
	})
}

func TestSelector_PicksMinimumEnergyPerAtom(t *testing.T) {
	s := &Selector{Equivalence: acceptAll()}

	summaries := []*schema.RelaxSummary{
		summary(-10.2, 2),
		summary(-9.8, 2),
		summary(-11.0, 2),
	}
	idx, best, err := s.SelectBest(context.Background(), summaries, structureWithSites(2))
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	assert.Equal(t, -11.0, best.Energy)
}

func TestSelector_EquivalenceFiltersBeforeEnergy(t *testing.T) {
	// Only indices 0 and 2 are topotactic; index 1 has the lowest energy
	// but must not win.
	calls := 0
	s := &Selector{
		Equivalence: compute.FitFunc(func(ref, cand *schema.Structure, ignore map[schema.Species]bool) bool {
			calls++
			return calls != 2
		}),
	}

	summaries := []*schema.RelaxSummary{
		summary(-10.2, 2),
		summary(-99.0, 2),
		summary(-11.0, 2),
	}
	idx, best, err := s.SelectBest(context.Background(), summaries, structureWithSites(2))
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	assert.Equal(t, -11.0, best.Energy)
}

func TestSelector_TieBreaksFirstByIndex(t *testing.T) {
	s := &Selector{Equivalence: acceptAll()}

	summaries := []*schema.RelaxSummary{
		summary(-10.0, 2),
		summary(-10.0, 2),
		summary(-10.0, 2),
	}
	idx, _, err := s.SelectBest(context.Background(), summaries, structureWithSites(2))
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestSelector_Deterministic(t *testing.T) {
	s := &Selector{Equivalence: acceptAll()}
	summaries := []*schema.RelaxSummary{
		summary(-10.2, 3),
		summary(-9.8, 2),
		summary(-11.0, 4),
	}
	ref := structureWithSites(2)

	firstIdx, firstBest, err := s.SelectBest(context.Background(), summaries, ref)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		idx, best, err := s.SelectBest(context.Background(), summaries, ref)
		require.NoError(t, err)
		assert.Equal(t, firstIdx, idx)
		assert.Same(t, firstBest, best)
	}
}

func TestSelector_NoSurvivorIsNotAnError(t *testing.T) {
	s := &Selector{
		Equivalence: compute.FitFunc(func(ref, cand *schema.Structure, ignore map[schema.Species]bool) bool {
			return false
		}),
	}

	idx, best, err := s.SelectBest(context.Background(),
		[]*schema.RelaxSummary{summary(-10.0, 2)}, structureWithSites(2))
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
	assert.Nil(t, best)
}

func TestSelector_EmptySummaries(t *testing.T) {
	s := &Selector{Equivalence: acceptAll()}
	idx, best, err := s.SelectBest(context.Background(), nil, structureWithSites(2))
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
	assert.Nil(t, best)
}

func TestSelector_AdmitFilterRunsBeforeEquivalence(t *testing.T) {
	s := &Selector{
		Equivalence: acceptAll(),
		AdmitFilter: "energy_per_atom < -5.2",
		Expr:        expressions.NewExprEngine(),
	}

	summaries := []*schema.RelaxSummary{
		summary(-10.2, 2), // -5.1 per atom: filtered out
		summary(-11.0, 2), // -5.5 per atom: admitted
	}
	idx, best, err := s.SelectBest(context.Background(), summaries, structureWithSites(2))
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, -11.0, best.Energy)
}

func TestSelector_AdmitFilterNonBoolFails(t *testing.T) {
	s := &Selector{
		Equivalence: acceptAll(),
		AdmitFilter: "energy + 1",
		Expr:        expressions.NewExprEngine(),
	}

	_, _, err := s.SelectBest(context.Background(),
		[]*schema.RelaxSummary{summary(-10.0, 2)}, structureWithSites(2))
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
}

// Package compute defines the contracts of the external collaborators the
// task-graph engine drives: the DFT solver, the field-extraction routine,
// the structural-equivalence predicate, and the insertion-site generator.
// Implementations are injected; the engine never depends on a concrete one.
package compute

import (
	"context"

	"github.com/matgraph/ionflow/pkg/schema"
)

// Engine submits one calculation to the external solver and resolves to its
// result. Submit is invoked once per task; the returned result is owned by
// that task and referenced, never copied, downstream.
type Engine interface {
	Submit(ctx context.Context, structure *schema.Structure, kind schema.CalculationKind) (*schema.CalculationResult, error)
}

// FieldExtractor turns a static calculation's artifact directory into a
// volumetric field. It fails with an EXTRACTION_ERROR when required output
// files are absent or malformed.
type FieldExtractor interface {
	Extract(ctx context.Context, artifactDir string) (*schema.VolumetricField, error)
}

// Equivalence judges whether a candidate structure is topotactic with
// respect to a reference, up to symmetry, with the given species excluded
// from the comparison.
type Equivalence interface {
	Fit(ref, cand *schema.Structure, ignore map[schema.Species]bool) bool
}

// FitFunc adapts a plain function to the Equivalence interface.
type FitFunc func(ref, cand *schema.Structure, ignore map[schema.Species]bool) bool

func (f FitFunc) Fit(ref, cand *schema.Structure, ignore map[schema.Species]bool) bool {
	return f(ref, cand, ignore)
}

// Generator proposes up to cap insertion-site candidates from a volumetric
// field, each the field's host structure with one guest atom added at a
// locally favorable site. Order is the generator's ranking; truncation keeps
// the first cap candidates.
type Generator interface {
	Generate(field *schema.VolumetricField, species schema.Species, cap int) []*schema.Structure
}

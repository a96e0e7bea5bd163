package validation

import (
	"math"

	"github.com/matgraph/ionflow/pkg/schema"
)

// validateSemantics applies the checks JSON Schema cannot express:
// a non-degenerate lattice, sane fractional coordinates, and expression
// fields that are at least non-blank when present.
func validateSemantics(req *schema.InsertionRequest) error {
	s := req.Structure

	if det := latticeDeterminant(s.Lattice); math.Abs(det) < 1e-12 {
		return schema.NewError(schema.ErrCodeValidation,
			"host lattice is degenerate (zero cell volume)")
	}

	for i, site := range s.Sites {
		for _, c := range site.Coords {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"site %d has a non-finite coordinate", i)
			}
		}
	}

	if isBlank(req.StopCondition) {
		return schema.NewError(schema.ErrCodeValidation, "stop_condition is blank")
	}
	if isBlank(req.AdmitFilter) {
		return schema.NewError(schema.ErrCodeValidation, "admit_filter is blank")
	}

	return nil
}

// isBlank reports a present-but-whitespace-only expression field.
func isBlank(expr string) bool {
	if expr == "" {
		return false
	}
	for _, r := range expr {
		if r != ' ' && r != '\t' && r != '\n' {
			return false
		}
	}
	return true
}

func latticeDeterminant(l schema.Lattice) float64 {
	return l[0][0]*(l[1][1]*l[2][2]-l[1][2]*l[2][1]) -
		l[0][1]*(l[1][0]*l[2][2]-l[1][2]*l[2][0]) +
		l[0][2]*(l[1][0]*l[2][1]-l[1][1]*l[2][0])
}

package compute

import (
	"context"
	"fmt"
	"sync"

	"github.com/matgraph/ionflow/pkg/schema"
)

// SimEngine is a deterministic in-memory compute engine for tests and the
// example binary. Relaxations are identity transforms with an energy
// computed by EnergyFn; static runs produce an artifact directory that
// SimExtractor resolves back to the submitted structure.
type SimEngine struct {
	// EnergyFn computes the relaxed total energy of a structure. Defaults
	// to -1.0 per site, minus 0.1 per guest coordinate sum, so distinct
	// insertion sites get distinct energies.
	EnergyFn func(s *schema.Structure) float64

	mu        sync.Mutex
	artifacts map[string]*schema.Structure
	seq       int
}

// NewSimEngine creates a simulator with the default energy model.
func NewSimEngine() *SimEngine {
	return &SimEngine{artifacts: make(map[string]*schema.Structure)}
}

func (e *SimEngine) Submit(ctx context.Context, structure *schema.Structure, kind schema.CalculationKind) (*schema.CalculationResult, error) {
	if structure == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "submit: structure is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.seq++
	id := fmt.Sprintf("sim-%04d", e.seq)
	dir := "/sim/artifacts/" + id
	e.artifacts[dir] = structure
	e.mu.Unlock()

	result := &schema.CalculationResult{
		Structure:   structure,
		ArtifactDir: dir,
		ID:          id,
	}
	if kind == schema.KindRelax {
		energy := e.energy(structure)
		result.Energy = &energy
	}
	return result, nil
}

func (e *SimEngine) energy(s *schema.Structure) float64 {
	if e.EnergyFn != nil {
		return e.EnergyFn(s)
	}
	total := -1.0 * float64(len(s.Sites))
	for _, site := range s.Sites {
		total -= 0.1 * (site.Coords[0] + site.Coords[1] + site.Coords[2])
	}
	return total
}

// Structure resolves an artifact directory back to the structure submitted
// with it. Used by SimExtractor.
func (e *SimEngine) Structure(artifactDir string) (*schema.Structure, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.artifacts[artifactDir]
	return s, ok
}

// SimExtractor derives a flat volumetric field over the structure recorded
// for the artifact directory.
type SimExtractor struct {
	Engine *SimEngine
}

func (x *SimExtractor) Extract(ctx context.Context, artifactDir string) (*schema.VolumetricField, error) {
	s, ok := x.Engine.Structure(artifactDir)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExtraction, "no field data under %s", artifactDir)
	}
	return &schema.VolumetricField{
		Structure: s,
		Shape:     [3]int{2, 2, 2},
		Values:    make([]float64, 8),
	}, nil
}

// SimGenerator proposes insertion sites on a fixed fractional-coordinate
// ladder. SitesPerRound optionally scripts how many candidates each
// successive call proposes (before the cap); past the script's end it
// proposes zero, which downstream stages treat as natural completion.
type SimGenerator struct {
	SitesPerRound []int

	mu    sync.Mutex
	round int
}

func (g *SimGenerator) Generate(field *schema.VolumetricField, species schema.Species, cap int) []*schema.Structure {
	if field == nil || field.Structure == nil || cap <= 0 {
		return nil
	}

	n := cap
	if g.SitesPerRound != nil {
		g.mu.Lock()
		if g.round < len(g.SitesPerRound) {
			n = g.SitesPerRound[g.round]
		} else {
			n = 0
		}
		g.round++
		g.mu.Unlock()
	}
	if n > cap {
		n = cap
	}

	host := field.Structure
	out := make([]*schema.Structure, 0, n)
	for i := 0; i < n; i++ {
		frac := float64(i+1) / float64(n+1)
		out = append(out, host.WithSite(schema.Site{
			Species: species,
			Coords:  [3]float64{frac, frac / 2, frac / 4},
		}))
	}
	return out
}

// CompositionEquivalence is a lightweight topotactic check: identical
// lattice and identical per-species site counts, with ignored species
// excluded. Real deployments inject a symmetry-aware matcher instead.
type CompositionEquivalence struct{}

func (CompositionEquivalence) Fit(ref, cand *schema.Structure, ignore map[schema.Species]bool) bool {
	if ref == nil || cand == nil {
		return false
	}
	if ref.Lattice != cand.Lattice {
		return false
	}
	counts := func(s *schema.Structure) map[schema.Species]int {
		m := make(map[schema.Species]int)
		for _, site := range s.Sites {
			if ignore[site.Species] {
				continue
			}
			m[site.Species]++
		}
		return m
	}
	refCounts, candCounts := counts(ref), counts(cand)
	if len(refCounts) != len(candCounts) {
		return false
	}
	for sp, n := range refCounts {
		if candCounts[sp] != n {
			return false
		}
	}
	return true
}

package schema

// Species identifies an atomic species, e.g. "Li" or "Mg".
type Species string

// Site is a single atomic position in fractional coordinates.
type Site struct {
	Species Species    `json:"species"`
	Coords  [3]float64 `json:"coords"`
}

// Lattice is the 3x3 cell matrix, rows are lattice vectors in angstroms.
type Lattice [3][3]float64

// Structure is an atomic configuration: a lattice plus occupied sites.
// Structures are immutable once produced by the compute engine; the core
// never compares them by identity, only through the injected equivalence
// predicate.
type Structure struct {
	Lattice Lattice `json:"lattice"`
	Sites   []Site  `json:"sites"`
}

// NumSites returns the number of occupied sites.
func (s *Structure) NumSites() int {
	return len(s.Sites)
}

// Count returns how many sites are occupied by the given species.
func (s *Structure) Count(sp Species) int {
	n := 0
	for _, site := range s.Sites {
		if site.Species == sp {
			n++
		}
	}
	return n
}

// WithSite returns a copy of the structure with one additional site.
// The receiver is not modified.
func (s *Structure) WithSite(site Site) *Structure {
	sites := make([]Site, len(s.Sites), len(s.Sites)+1)
	copy(sites, s.Sites)
	return &Structure{
		Lattice: s.Lattice,
		Sites:   append(sites, site),
	}
}

// CalculationKind selects which compute-engine entry point is invoked.
type CalculationKind string

const (
	KindStatic CalculationKind = "static"
	KindRelax  CalculationKind = "relax"
)

// CalculationResult is the outcome of one submitted calculation.
// Produced exactly once per task and never mutated afterwards; downstream
// tasks hold references, not copies. Energy is nil until a relaxation
// completes (static runs may leave it unset).
type CalculationResult struct {
	Structure   *Structure `json:"structure"`
	Energy      *float64   `json:"energy,omitempty"`
	ArtifactDir string     `json:"artifact_dir"`
	ID          string     `json:"id"`
}

// RelaxSummary is the externally visible projection of a relaxation result,
// one per fan-out candidate, collected in candidate order.
type RelaxSummary struct {
	Structure   *Structure `json:"structure"`
	Energy      float64    `json:"energy"`
	ArtifactDir string     `json:"artifact_dir"`
	ID          string     `json:"id"`
}

// EnergyPerAtom returns the relaxed total energy divided by the site count.
// Returns the raw energy when the structure is empty or absent.
func (r *RelaxSummary) EnergyPerAtom() float64 {
	if r.Structure == nil || len(r.Structure.Sites) == 0 {
		return r.Energy
	}
	return r.Energy / float64(len(r.Structure.Sites))
}

// VolumetricField is a scalar field sampled over the host structure's cell,
// as produced by the external analysis routine on a static calculation's
// artifacts. It carries the host structure the grid is defined over; the
// core otherwise treats it as opaque input to the candidate generator.
type VolumetricField struct {
	Structure *Structure `json:"structure"`
	Shape     [3]int     `json:"shape"`
	Values    []float64  `json:"values"`
}

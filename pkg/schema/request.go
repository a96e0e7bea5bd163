package schema

// InsertionRequest is the JSON-serializable request format for an insertion
// run. Callers provide it inline (MCP, CLI) or via a scheduled run.
type InsertionRequest struct {
	// Name labels the run; defaults to "ion insertion".
	Name string `json:"name,omitempty"`

	// Structure is the host structure the guest species is inserted into.
	Structure *Structure `json:"structure"`

	// Species is the guest species to insert.
	Species Species `json:"species"`

	// MaxSteps caps the number of sequential insertion rounds.
	// nil means unbounded (recursion ends only when no candidate survives).
	MaxSteps *int `json:"max_steps,omitempty"`

	// CandidatesPerStep caps how many insertion sites are attempted per round.
	CandidatesPerStep int `json:"candidates_per_step"`

	// SkipBulkRelax skips the initial relaxation of the host structure.
	SkipBulkRelax bool `json:"skip_bulk_relax,omitempty"`

	// StopCondition is an optional CEL expression evaluated after each
	// selection over {step, inserted, survivor_found, energy}. When it
	// yields true the recursion stops with the last known-good structure.
	StopCondition string `json:"stop_condition,omitempty"`

	// AdmitFilter is an optional Expr expression evaluated per relaxation
	// summary over {index, energy, energy_per_atom, natoms} before the
	// equivalence filter. Summaries yielding false are not considered.
	AdmitFilter string `json:"admit_filter,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

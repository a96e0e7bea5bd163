// Package insertion builds the self-expanding task graph of an ion
// insertion run: an optional bulk relaxation of the host, then a chain of
// recursive steps, each of which fans out candidate relaxations and either
// recurses on the selected survivor or stops with the last good structure.
package insertion

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/matgraph/ionflow/internal/compute"
	"github.com/matgraph/ionflow/internal/engine"
	"github.com/matgraph/ionflow/internal/expressions"
	"github.com/matgraph/ionflow/internal/graph"
	"github.com/matgraph/ionflow/internal/logging"
	"github.com/matgraph/ionflow/internal/store"
	"github.com/matgraph/ionflow/pkg/schema"
)

// DefaultCandidatesPerStep caps fan-out width when the request leaves it unset.
const DefaultCandidatesPerStep = 4

// Node kinds recorded per node state.
const (
	KindStep     = "step"
	KindBulk     = "bulk_relax"
	KindStatic   = "static"
	KindExtract  = "extract"
	KindGenerate = "generate"
	KindFanOut   = "fanout"
	KindRelax    = "relax"
	KindCollect  = "collect"
	KindSelect   = "select"
)

// Flow assembles insertion task graphs from injected collaborators.
// All fields but Engine, Extractor, Generator and Equivalence are optional.
type Flow struct {
	Engine      compute.Engine
	BulkEngine  compute.Engine // distinct submitter for the host prelude; falls back to Engine
	Extractor   compute.FieldExtractor
	Generator   compute.Generator
	Equivalence compute.Equivalence

	CEL  *expressions.CELEngine
	Expr *expressions.ExprEngine

	// Events receives domain events (fan-out dispatch, survivor selection,
	// recursion stops) during execution. Optional.
	Events engine.EventAppender

	Logger *slog.Logger
}

// Build turns a request into a live graph whose exit value is the best
// final structure. The graph starts with one or two nodes; everything else
// is spliced in by deferred expansion as results arrive.
func (f *Flow) Build(req *schema.InsertionRequest) (*graph.Builder, error) {
	if req == nil || req.Structure == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "request has no host structure")
	}
	if req.Species == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "request has no guest species")
	}
	if f.Engine == nil || f.Extractor == nil || f.Generator == nil || f.Equivalence == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "flow is missing a collaborator")
	}

	cap := req.CandidatesPerStep
	if cap <= 0 {
		cap = DefaultCandidatesPerStep
	}

	var stepsRemaining *int
	if req.MaxSteps != nil {
		n := *req.MaxSteps
		stepsRemaining = &n
	}

	selector := &Selector{
		Equivalence: f.Equivalence,
		Ignore:      map[schema.Species]bool{req.Species: true},
		AdmitFilter: req.AdmitFilter,
		Expr:        f.Expr,
	}
	policy := &TerminationPolicy{
		MaxSteps:  req.MaxSteps,
		Condition: req.StopCondition,
		CEL:       f.CEL,
	}

	g := graph.NewBuilder()

	// A zero step budget emits no compute tasks at all, prelude included:
	// the run resolves to the input structure unchanged.
	seed := graph.Literal(req.Structure)
	if !req.SkipBulkRelax && !(stepsRemaining != nil && *stepsRemaining <= 0) {
		bulk := graph.New("bulk relax", KindBulk, f.bulkRelaxBody(req.Structure))
		if err := g.Add(bulk); err != nil {
			return nil, err
		}
		seed = bulk.Output()
	}

	root := f.stepNode(seed, stepParams{
		tag:            graph.RootTag().Child(0),
		step:           0,
		inserted:       0,
		stepsRemaining: stepsRemaining,
		cap:            cap,
		species:        req.Species,
		metadata:       req.Metadata,
		selector:       selector,
		policy:         policy,
	})
	if err := g.Add(root); err != nil {
		return nil, err
	}
	g.SetExit(root.Output())

	return g, nil
}

// bulkRelaxBody relaxes the host structure before the first insertion round.
// The relaxed structure, not the raw host, seeds step 0.
func (f *Flow) bulkRelaxBody(host *schema.Structure) graph.BodyFunc {
	return func(ctx context.Context, _ []any) (*graph.Outcome, error) {
		eng := f.BulkEngine
		if eng == nil {
			eng = f.Engine
		}
		result, err := eng.Submit(ctx, host, schema.KindRelax)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeCompute,
				"bulk relaxation failed: %s", err.Error()).WithCause(err)
		}
		return &graph.Outcome{Value: result.Structure}, nil
	}
}

func (f *Flow) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// emit appends a domain event, best effort. The run ID travels in the
// context, put there by the executor.
func (f *Flow) emit(ctx context.Context, node, eventType string, payload any) {
	if f.Events == nil {
		return
	}
	runID := logging.RunID(ctx)
	if runID == "" {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	if err := f.Events.AppendEvent(ctx, &store.Event{
		RunID:   runID,
		Node:    node,
		Type:    eventType,
		Payload: raw,
	}); err != nil {
		f.logger().WarnContext(ctx, "append event failed",
			slog.String("type", eventType), slog.String("error", err.Error()))
	}
}

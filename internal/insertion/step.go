package insertion

import (
	"context"
	"log/slog"

	"github.com/matgraph/ionflow/internal/graph"
	"github.com/matgraph/ionflow/pkg/schema"
)

// stepParams is the recursion state threaded through the chain of step
// nodes. inserted drives naming only, never termination.
type stepParams struct {
	tag            graph.Tag
	step           int
	inserted       int
	stepsRemaining *int
	cap            int
	species        schema.Species
	metadata       map[string]any
	selector       *Selector
	policy         *TerminationPolicy
}

// stepNode builds one recursive insertion round as a deferred-expansion
// node. Its input is the structure from the previous round (or the seed);
// on expansion it splices in static → extract → generate → fan-out →
// select, with select itself expanding into the next round when a survivor
// is found.
func (f *Flow) stepNode(input *graph.OutputRef, p stepParams) *graph.Node {
	name := p.tag.Qualify("insert")

	body := func(ctx context.Context, inputs []any) (*graph.Outcome, error) {
		structure, _ := inputs[0].(*schema.Structure)

		// Guards: both are benign terminations, not errors.
		if structure == nil {
			f.stopped(ctx, name, schema.StopReasonInputAbsent, p)
			return &graph.Outcome{Value: nil}, nil
		}
		if p.policy.BudgetExhausted(p.stepsRemaining) {
			f.stopped(ctx, name, schema.StopReasonBudgetExhausted, p)
			return &graph.Outcome{Value: structure}, nil
		}

		static := graph.New(p.tag.Qualify("static"), KindStatic,
			f.staticBody(), graph.Literal(structure))

		extract := graph.New(p.tag.Qualify("extract field"), KindExtract,
			f.extractBody(), static.Output())

		generate := graph.New(p.tag.Qualify("generate"), KindGenerate,
			f.generateBody(p), extract.Output())

		fanout := f.fanOutNode(p, generate.Output())

		selectNode := graph.New(p.tag.Qualify("select"), KindSelect,
			f.selectBody(structure, p), fanout.Output())

		return &graph.Outcome{Replace: &graph.Replacement{
			Children: []*graph.Node{static, extract, generate, fanout, selectNode},
			Exit:     selectNode.Output(),
		}}, nil
	}

	return graph.New(name, KindStep, body, input)
}

// staticBody submits one static evaluation of the round's structure.
func (f *Flow) staticBody() graph.BodyFunc {
	return func(ctx context.Context, inputs []any) (*graph.Outcome, error) {
		structure := inputs[0].(*schema.Structure)
		result, err := f.Engine.Submit(ctx, structure, schema.KindStatic)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeCompute,
				"static evaluation failed: %s", err.Error()).WithCause(err)
		}
		return &graph.Outcome{Value: result}, nil
	}
}

// extractBody turns the static artifacts into a volumetric field. Pure
// adaptation, no compute submission.
func (f *Flow) extractBody() graph.BodyFunc {
	return func(ctx context.Context, inputs []any) (*graph.Outcome, error) {
		result := inputs[0].(*schema.CalculationResult)
		field, err := f.Extractor.Extract(ctx, result.ArtifactDir)
		if err != nil {
			if flowErr, ok := err.(*schema.FlowError); ok {
				return nil, flowErr
			}
			return nil, schema.NewErrorf(schema.ErrCodeExtraction,
				"field extraction failed: %s", err.Error()).WithCause(err)
		}
		return &graph.Outcome{Value: field}, nil
	}
}

// generateBody proposes candidate structures from the extracted field.
// An empty candidate set flows through unchanged; the selector turns it
// into a no-survivor stop downstream.
func (f *Flow) generateBody(p stepParams) graph.BodyFunc {
	return func(ctx context.Context, inputs []any) (*graph.Outcome, error) {
		field := inputs[0].(*schema.VolumetricField)
		candidates := f.Generator.Generate(field, p.species, p.cap)
		if len(candidates) > p.cap {
			candidates = candidates[:p.cap]
		}
		f.logger().DebugContext(ctx, "candidates generated",
			slog.Int("count", len(candidates)))
		return &graph.Outcome{Value: candidates}, nil
	}
}

// selectBody filters the fan-out summaries and decides whether to recurse.
// A survivor expands into the next step node; no survivor or a met stop
// condition terminates with the last known-good structure.
func (f *Flow) selectBody(reference *schema.Structure, p stepParams) graph.BodyFunc {
	name := p.tag.Qualify("select")

	return func(ctx context.Context, inputs []any) (*graph.Outcome, error) {
		summaries, _ := inputs[0].([]*schema.RelaxSummary)

		idx, survivor, err := p.selector.SelectBest(ctx, summaries, reference)
		if err != nil {
			return nil, err
		}
		if survivor == nil {
			f.stopped(ctx, name, schema.StopReasonNoSurvivor, p)
			return &graph.Outcome{Value: reference}, nil
		}

		f.emit(ctx, name, schema.EventSurvivorSelected, map[string]any{
			"index":           idx,
			"energy":          survivor.Energy,
			"energy_per_atom": survivor.EnergyPerAtom(),
		})

		stop, err := p.policy.ConditionMet(ctx, p.step, p.inserted+1, true,
			survivor.EnergyPerAtom(), p.metadata)
		if err != nil {
			return nil, err
		}
		if stop {
			f.stopped(ctx, name, schema.StopReasonCondition, p)
			return &graph.Outcome{Value: survivor.Structure}, nil
		}

		next := stepParams{
			tag:      p.tag.Child(p.inserted + 1),
			step:     p.step + 1,
			inserted: p.inserted + 1,
			cap:      p.cap,
			species:  p.species,
			metadata: p.metadata,
			selector: p.selector,
			policy:   p.policy,
		}
		if p.stepsRemaining != nil {
			n := *p.stepsRemaining - 1
			next.stepsRemaining = &n
		}

		child := f.stepNode(graph.Literal(survivor.Structure), next)
		return &graph.Outcome{Replace: &graph.Replacement{
			Children: []*graph.Node{child},
			Exit:     child.Output(),
		}}, nil
	}
}

// stopped records a benign termination on the event log.
func (f *Flow) stopped(ctx context.Context, node, reason string, p stepParams) {
	f.logger().InfoContext(ctx, "recursion stopped", slog.String("reason", reason))
	f.emit(ctx, node, schema.EventRecursionStopped, map[string]any{
		"reason":   reason,
		"step":     p.step,
		"inserted": p.inserted,
	})
}

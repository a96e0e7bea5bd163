package insertion

import (
	"context"

	"github.com/matgraph/ionflow/internal/graph"
	"github.com/matgraph/ionflow/pkg/schema"
)

// fanOutNode builds the fan-out relaxation stage. The candidate count is
// unknown until generation resolves, so the stage is itself a deferred
// expansion: one independent relax node per candidate plus a collect node
// that reassembles summaries by candidate index. The collect node is the
// fan-in barrier; its output exists only once every relax child resolved,
// and one failed child fails the whole stage.
func (f *Flow) fanOutNode(p stepParams, candidates *graph.OutputRef) *graph.Node {
	name := p.tag.Qualify("fan out")

	body := func(ctx context.Context, inputs []any) (*graph.Outcome, error) {
		cands, _ := inputs[0].([]*schema.Structure)

		f.emit(ctx, name, schema.EventFanOutDispatched, map[string]any{
			"candidates": len(cands),
		})

		if len(cands) == 0 {
			return &graph.Outcome{Value: []*schema.RelaxSummary{}}, nil
		}

		children := make([]*graph.Node, 0, len(cands)+1)
		refs := make([]*graph.OutputRef, len(cands))
		for i, cand := range cands {
			relax := graph.New(graph.RelaxName(p.tag, i), KindRelax,
				f.relaxBody(i), graph.Literal(cand))
			children = append(children, relax)
			refs[i] = relax.Output()
		}

		collect := graph.New(p.tag.Qualify("collect"), KindCollect,
			collectBody(), refs...)
		children = append(children, collect)

		return &graph.Outcome{Replace: &graph.Replacement{
			Children: children,
			Exit:     collect.Output(),
		}}, nil
	}

	return graph.New(name, KindFanOut, body, candidates)
}

// relaxBody submits one candidate relaxation and projects the result into
// a summary. Any failure is FANOUT_FAILED: partial fan-out results would
// silently bias the minimum-energy selection.
func (f *Flow) relaxBody(index int) graph.BodyFunc {
	return func(ctx context.Context, inputs []any) (*graph.Outcome, error) {
		cand := inputs[0].(*schema.Structure)

		result, err := f.Engine.Submit(ctx, cand, schema.KindRelax)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeFanOut,
				"candidate %d relaxation failed: %s", index, err.Error()).WithCause(err)
		}
		if result.Energy == nil {
			return nil, schema.NewErrorf(schema.ErrCodeFanOut,
				"candidate %d relaxation returned no energy (id %s)", index, result.ID)
		}

		summary := &schema.RelaxSummary{
			Structure:   result.Structure,
			Energy:      *result.Energy,
			ArtifactDir: result.ArtifactDir,
			ID:          result.ID,
		}
		return &graph.Outcome{Value: summary}, nil
	}
}

// collectBody reassembles relax summaries in candidate order. Input order
// is declaration order, so the sequence matches the candidate set
// one-to-one regardless of completion order.
func collectBody() graph.BodyFunc {
	return func(ctx context.Context, inputs []any) (*graph.Outcome, error) {
		summaries := make([]*schema.RelaxSummary, len(inputs))
		for i, in := range inputs {
			s, ok := in.(*schema.RelaxSummary)
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeFanOut,
					"fan-in input %d is not a relaxation summary", i)
			}
			summaries[i] = s
		}
		return &graph.Outcome{Value: summaries}, nil
	}
}

// Package trace builds the traversable record of a finished or in-flight
// run: every emitted task keyed by its depth-qualified name, plus the event
// history, queryable with jq expressions.
package trace

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/matgraph/ionflow/internal/expressions"
	"github.com/matgraph/ionflow/internal/store"
	"github.com/matgraph/ionflow/pkg/schema"
)

// NodeRecord is one task in the run record.
type NodeRecord struct {
	Name       string            `json:"name"`
	Kind       string            `json:"kind"`
	Status     schema.NodeStatus `json:"status"`
	Depth      int               `json:"depth"`
	Output     json.RawMessage   `json:"output,omitempty"`
	Error      json.RawMessage   `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
}

// Record is the full run record.
type Record struct {
	RunID  string                 `json:"run_id"`
	Name   string                 `json:"name"`
	Status schema.RunStatus       `json:"status"`
	Output json.RawMessage        `json:"output,omitempty"`
	Error  json.RawMessage        `json:"error,omitempty"`
	Nodes  map[string]*NodeRecord `json:"nodes"`
	Events []*store.Event         `json:"events,omitempty"`
}

// Tracer assembles and queries run records.
type Tracer struct {
	store store.Store
	jq    *expressions.GoJQEngine
}

// New creates a Tracer over the given store.
func New(s store.Store) *Tracer {
	return &Tracer{store: s, jq: expressions.NewGoJQEngine()}
}

// Record assembles the run record from the store's materialized node states.
func (t *Tracer) Record(ctx context.Context, runID string) (*Record, error) {
	run, err := t.store.GetRun(ctx, runID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load run: %s", err.Error()).WithCause(err)
	}
	if run == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run not found: %s", runID)
	}

	states, err := t.store.ListNodeStates(ctx, runID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list node states: %s", err.Error()).WithCause(err)
	}
	events, err := t.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get events: %s", err.Error()).WithCause(err)
	}

	rec := &Record{
		RunID:  run.ID,
		Name:   run.Name,
		Status: run.Status,
		Output: run.Output,
		Error:  run.Error,
		Nodes:  make(map[string]*NodeRecord, len(states)),
		Events: events,
	}
	for _, ns := range states {
		rec.Nodes[ns.Name] = &NodeRecord{
			Name:       ns.Name,
			Kind:       ns.Kind,
			Status:     ns.Status,
			Depth:      NameDepth(ns.Name),
			Output:     ns.Output,
			Error:      ns.Error,
			DurationMs: ns.DurationMs,
		}
	}
	return rec, nil
}

// Replay rebuilds node records purely from the event log, bypassing the
// materialized view. Useful to audit that the two agree.
func (t *Tracer) Replay(ctx context.Context, runID string) (map[string]*NodeRecord, error) {
	states, err := store.NewEventLog(t.store).ReplayEvents(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*NodeRecord, len(states))
	for name, ns := range states {
		out[name] = &NodeRecord{
			Name:       name,
			Kind:       ns.Kind,
			Status:     ns.Status,
			Depth:      NameDepth(name),
			Output:     ns.Output,
			Error:      ns.Error,
			DurationMs: ns.DurationMs,
		}
	}
	return out, nil
}

// Query runs a jq expression over the JSON form of the run record, e.g.
// `.nodes | to_entries | map(select(.value.kind == "relax")) | length`.
func (t *Tracer) Query(ctx context.Context, runID, query string) (any, error) {
	rec, err := t.Record(ctx, runID)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "marshal run record: %s", err.Error()).WithCause(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "unmarshal run record: %s", err.Error()).WithCause(err)
	}

	return t.jq.Evaluate(ctx, query, doc)
}

// NameDepth derives the recursion depth from a depth-qualified name: the
// count of bare integer tokens in the name ("static 0 1" is depth 2,
// "relax 0 (2)" is depth 1, "bulk relax" is depth 0).
func NameDepth(name string) int {
	depth := 0
	for _, tok := range strings.Fields(name) {
		if _, err := strconv.Atoi(tok); err == nil {
			depth++
		}
	}
	return depth
}

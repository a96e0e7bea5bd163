package store

import (
	"context"

	"github.com/matgraph/ionflow/pkg/schema"
)

// EventLog provides replay on top of a Store's append-only event stream.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store to provide event replay.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent forwards to the underlying store.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	return el.store.AppendEvent(ctx, event)
}

// GetEvents forwards to the underlying store.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// ReplayEvents replays a run's event log and returns the reconstructed node
// states keyed by depth-qualified name. Sequence gaps are a store corruption
// and fail the replay.
func (el *EventLog) ReplayEvents(ctx context.Context, runID string) (map[string]*NodeState, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get events for replay: %s", err.Error()).WithCause(err)
	}

	states := make(map[string]*NodeState)
	for i, e := range events {
		if e.Sequence != int64(i+1) {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, i+1, e.Sequence)
		}
		if e.Node == "" {
			continue
		}

		ns, ok := states[e.Node]
		if !ok {
			ns = &NodeState{
				RunID:  runID,
				Name:   e.Node,
				Status: schema.NodeStatusPending,
			}
			states[e.Node] = ns
		}

		switch e.Type {
		case schema.EventNodeStarted:
			ns.Status = schema.NodeStatusRunning
			ts := e.Timestamp
			ns.StartedAt = &ts

		case schema.EventNodeCompleted:
			ns.Status = schema.NodeStatusCompleted
			ts := e.Timestamp
			ns.CompletedAt = &ts
			ns.Output = e.Payload
			if ns.StartedAt != nil {
				ns.DurationMs = ts.Sub(*ns.StartedAt).Milliseconds()
			}

		case schema.EventNodeExpanded:
			ns.Status = schema.NodeStatusExpanded
			ts := e.Timestamp
			ns.CompletedAt = &ts

		case schema.EventNodeFailed:
			ns.Status = schema.NodeStatusFailed
			ns.Error = e.Payload

		case schema.EventNodeSkipped:
			ns.Status = schema.NodeStatusSkipped
		}
	}

	return states, nil
}

package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matgraph/ionflow/pkg/schema"
)

func TestEventLog_ReplayReconstructsNodeStates(t *testing.T) {
	s := NewMemoryStore()
	el := NewEventLog(s)
	ctx := context.Background()

	output := json.RawMessage(`{"energy":-11.0}`)
	seq := []*Event{
		{RunID: "run-1", Type: schema.EventRunStarted},
		{RunID: "run-1", Node: "insert 0", Type: schema.EventNodeStarted},
		{RunID: "run-1", Node: "insert 0", Type: schema.EventNodeExpanded},
		{RunID: "run-1", Node: "relax 0 (0)", Type: schema.EventNodeStarted},
		{RunID: "run-1", Node: "relax 0 (0)", Type: schema.EventNodeCompleted, Payload: output},
		{RunID: "run-1", Node: "relax 0 (1)", Type: schema.EventNodeStarted},
		{RunID: "run-1", Node: "relax 0 (1)", Type: schema.EventNodeFailed, Payload: json.RawMessage(`{"error":"boom"}`)},
		{RunID: "run-1", Node: "select 0", Type: schema.EventNodeSkipped},
	}
	for _, e := range seq {
		require.NoError(t, el.AppendEvent(ctx, e))
	}

	states, err := el.ReplayEvents(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, states, 4)

	assert.Equal(t, schema.NodeStatusExpanded, states["insert 0"].Status)
	assert.Equal(t, schema.NodeStatusCompleted, states["relax 0 (0)"].Status)
	assert.Equal(t, output, states["relax 0 (0)"].Output)
	assert.NotNil(t, states["relax 0 (0)"].CompletedAt)
	assert.Equal(t, schema.NodeStatusFailed, states["relax 0 (1)"].Status)
	assert.Equal(t, schema.NodeStatusSkipped, states["select 0"].Status)
}

func TestEventLog_ReplayEmptyRun(t *testing.T) {
	el := NewEventLog(NewMemoryStore())

	states, err := el.ReplayEvents(context.Background(), "run-none")
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestEventLog_ReplayDetectsSequenceGap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "run-1", Type: schema.EventNodeCompleted, Node: "a"}))
	}

	// Read past the first event: the replay sees sequence 2 where it
	// expects 1 and must refuse to reconstruct.
	gapped := &gapStore{Store: s}
	_, err := NewEventLog(gapped).ReplayEvents(ctx, "run-1")
	require.Error(t, err)

	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeStore, flowErr.Code)
}

// gapStore drops the first event of every GetEvents read.
type gapStore struct {
	Store
}

func (g *gapStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	events, err := g.Store.GetEvents(ctx, runID, since)
	if err != nil || len(events) == 0 {
		return events, err
	}
	return events[1:], nil
}

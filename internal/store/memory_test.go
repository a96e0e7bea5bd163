package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matgraph/ionflow/pkg/schema"
)

func newRun(id string, status schema.RunStatus) *Run {
	return &Run{ID: id, Name: "test", Status: status, CreatedAt: time.Now().UTC()}
}

func TestMemoryStore_RunLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, newRun("run-1", schema.RunStatusPending)))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, schema.RunStatusPending, got.Status)

	completed := schema.RunStatusCompleted
	now := time.Now().UTC()
	output := json.RawMessage(`{"sites":[]}`)
	require.NoError(t, s.UpdateRun(ctx, "run-1", RunUpdate{
		Status:      &completed,
		Output:      output,
		CompletedAt: &now,
	}))

	got, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, got.Status)
	assert.Equal(t, output, got.Output)
	require.NotNil(t, got.CompletedAt)
}

func TestMemoryStore_CreateRunConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, newRun("run-1", schema.RunStatusPending)))
	err := s.CreateRun(ctx, newRun("run-1", schema.RunStatusPending))
	require.Error(t, err)

	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConflict, flowErr.Code)
}

func TestMemoryStore_GetRunMissingIsNilNil(t *testing.T) {
	s := NewMemoryStore()

	got, err := s.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_UpdateRunMissing(t *testing.T) {
	s := NewMemoryStore()

	active := schema.RunStatusActive
	err := s.UpdateRun(context.Background(), "nope", RunUpdate{Status: &active})
	require.Error(t, err)

	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, flowErr.Code)
}

func TestMemoryStore_GetRunReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, newRun("run-1", schema.RunStatusPending)))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	got.Status = schema.RunStatusFailed // caller mutation must not leak back

	again, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusPending, again.Status)
}

func TestMemoryStore_ListRunsFilterAndLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		run := newRun(fmt.Sprintf("run-%d", i), schema.RunStatusCompleted)
		run.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.CreateRun(ctx, run))
	}
	require.NoError(t, s.CreateRun(ctx, newRun("run-active", schema.RunStatusActive)))

	completed, err := s.ListRuns(ctx, RunFilter{Status: schema.RunStatusCompleted})
	require.NoError(t, err)
	assert.Len(t, completed, 3)
	assert.Equal(t, "run-0", completed[0].ID) // oldest first

	limited, err := s.ListRuns(ctx, RunFilter{Status: schema.RunStatusCompleted, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMemoryStore_AppendEventAssignsSequence(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e := &Event{RunID: "run-1", Type: schema.EventNodeStarted, Node: "static 0"}
		require.NoError(t, s.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence)
		assert.False(t, e.Timestamp.IsZero())
	}

	// Sequences are per run, not global.
	other := &Event{RunID: "run-2", Type: schema.EventRunStarted}
	require.NoError(t, s.AppendEvent(ctx, other))
	assert.Equal(t, int64(1), other.Sequence)
}

func TestMemoryStore_GetEventsSince(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "run-1", Type: schema.EventNodeCompleted}))
	}

	tail, err := s.GetEvents(ctx, "run-1", 3)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(4), tail[0].Sequence)
	assert.Equal(t, int64(5), tail[1].Sequence)
}

func TestMemoryStore_ConcurrentAppendsStayContiguous(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.AppendEvent(ctx, &Event{RunID: "run-1", Type: schema.EventNodeCompleted})
		}()
	}
	wg.Wait()

	events, err := s.GetEvents(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 50)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestMemoryStore_NodeStateUpsert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertNodeState(ctx, &NodeState{
		RunID: "run-1", Name: "insert 0", Kind: "step", Status: schema.NodeStatusPending,
	}))
	require.NoError(t, s.UpsertNodeState(ctx, &NodeState{
		RunID: "run-1", Name: "insert 0", Kind: "step", Status: schema.NodeStatusExpanded,
	}))
	require.NoError(t, s.UpsertNodeState(ctx, &NodeState{
		RunID: "run-1", Name: "static 0", Kind: "static", Status: schema.NodeStatusPending,
	}))

	got, err := s.GetNodeState(ctx, "run-1", "insert 0")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, schema.NodeStatusExpanded, got.Status)

	states, err := s.ListNodeStates(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, states, 2)
	// Upsert order is preserved; updating in place does not reorder.
	assert.Equal(t, "insert 0", states[0].Name)
	assert.Equal(t, "static 0", states[1].Name)
}

func TestMemoryStore_ScheduledRuns(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	job := &ScheduledRun{ID: "job-1", Name: "nightly", CronSpec: "0 3 * * *", Enabled: true}
	require.NoError(t, s.CreateScheduledRun(ctx, job))
	require.Error(t, s.CreateScheduledRun(ctx, job))

	disabled := false
	require.NoError(t, s.UpdateScheduledRun(ctx, "job-1", ScheduledRunUpdate{Enabled: &disabled}))

	got, err := s.GetScheduledRun(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	enabled := true
	jobs, err := s.ListScheduledRuns(ctx, ScheduledRunFilter{Enabled: &enabled})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

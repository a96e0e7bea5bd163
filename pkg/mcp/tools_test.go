package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matgraph/ionflow/internal/compute"
	"github.com/matgraph/ionflow/internal/engine"
	"github.com/matgraph/ionflow/internal/expressions"
	"github.com/matgraph/ionflow/internal/insertion"
	"github.com/matgraph/ionflow/internal/store"
	"github.com/matgraph/ionflow/internal/trace"
	"github.com/matgraph/ionflow/internal/validation"
)

// --- Helpers ---

func newTestServer(t *testing.T) (*IonflowServer, *store.MemoryStore) {
	t.Helper()

	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	exec := engine.NewExecutor(st, engine.Config{PoolSize: 4}, nil)
	t.Cleanup(exec.Shutdown)

	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)

	sim := compute.NewSimEngine()
	flow := &insertion.Flow{
		Engine:      sim,
		Extractor:   &compute.SimExtractor{Engine: sim},
		Generator:   &compute.SimGenerator{SitesPerRound: []int{2}},
		Equivalence: compute.CompositionEquivalence{},
		CEL:         cel,
		Expr:        expressions.NewExprEngine(),
	}
	svc := insertion.NewService(st, exec, flow, nil)

	validator, err := validation.NewRequestValidator()
	require.NoError(t, err)

	srv := NewIonflowServer(IonflowServerDeps{
		Service:   svc,
		Store:     st,
		Tracer:    trace.New(st),
		Validator: validator,
	})
	return srv, st
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func requestDoc() map[string]any {
	return map[string]any{
		"structure": map[string]any{
			"lattice": []any{
				[]any{4.0, 0.0, 0.0},
				[]any{0.0, 4.0, 0.0},
				[]any{0.0, 0.0, 4.0},
			},
			"sites": []any{
				map[string]any{"species": "O", "coords": []any{0.0, 0.0, 0.0}},
			},
		},
		"species":         "Mg",
		"max_steps":       1,
		"skip_bulk_relax": true,
	}
}

func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &doc))
	return doc
}

// --- Tests ---

func TestRunTool(t *testing.T) {
	s, st := newTestServer(t)

	result, err := s.handleRun(context.Background(),
		buildRequest("ionflow.run", map[string]any{"request": requestDoc()}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	doc := resultJSON(t, result)
	assert.Equal(t, "completed", doc["status"])
	assert.NotEmpty(t, doc["run_id"])

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestRunToolMissingRequest(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleRun(context.Background(), buildRequest("ionflow.run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunToolInvalidRequest(t *testing.T) {
	s, _ := newTestServer(t)

	bad := requestDoc()
	delete(bad, "species")
	result, err := s.handleRun(context.Background(),
		buildRequest("ionflow.run", map[string]any{"request": bad}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStatusTool(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	runResult, err := s.handleRun(ctx,
		buildRequest("ionflow.run", map[string]any{"request": requestDoc()}))
	require.NoError(t, err)
	runID := resultJSON(t, runResult)["run_id"].(string)

	result, err := s.handleStatus(ctx, buildRequest("ionflow.status", map[string]any{"run_id": runID}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	doc := resultJSON(t, result)
	run := doc["run"].(map[string]any)
	assert.Equal(t, "completed", run["status"])
	assert.NotEmpty(t, doc["nodes"])
	assert.NotEmpty(t, doc["events"])
}

func TestStatusToolNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleStatus(context.Background(),
		buildRequest("ionflow.status", map[string]any{"run_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestTraceTool(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	runResult, err := s.handleRun(ctx,
		buildRequest("ionflow.run", map[string]any{"request": requestDoc()}))
	require.NoError(t, err)
	runID := resultJSON(t, runResult)["run_id"].(string)

	// Without a query the whole record comes back.
	full, err := s.handleTrace(ctx, buildRequest("ionflow.trace", map[string]any{"run_id": runID}))
	require.NoError(t, err)
	assert.False(t, full.IsError)
	assert.NotEmpty(t, resultJSON(t, full)["nodes"])

	// With a jq query only the projection comes back.
	queried, err := s.handleTrace(ctx, buildRequest("ionflow.trace", map[string]any{
		"run_id": runID,
		"query":  ".status",
	}))
	require.NoError(t, err)
	assert.False(t, queried.IsError)
	assert.Equal(t, "completed", resultJSON(t, queried)["result"])
}

func TestScheduleTool(t *testing.T) {
	s, st := newTestServer(t)

	result, err := s.handleSchedule(context.Background(), buildRequest("ionflow.schedule", map[string]any{
		"name":    "nightly",
		"cron":    "0 3 * * *",
		"request": requestDoc(),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	enabled := true
	jobs, err := st.ListScheduledRuns(context.Background(), store.ScheduledRunFilter{Enabled: &enabled})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "nightly", jobs[0].Name)
	assert.Equal(t, "0 3 * * *", jobs[0].CronSpec)
}

func TestScheduleToolMissingParams(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleSchedule(context.Background(),
		buildRequest("ionflow.schedule", map[string]any{"name": "nightly"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCancelToolNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleCancel(context.Background(),
		buildRequest("ionflow.cancel", map[string]any{"run_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/matgraph/ionflow/internal/store"
	"github.com/matgraph/ionflow/pkg/schema"
)

// handleRun validates and executes an insertion run, blocking until the
// graph resolves.
func (s *IonflowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := mcp.ParseStringMap(req, "request", nil)
	if raw == nil {
		return mcp.NewToolResultError("request is required"), nil
	}

	insReq, err := s.parseRequest(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid request: %v", err)), nil
	}

	result, runErr := s.service.Run(ctx, insReq)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", runErr)), nil
	}

	return marshalResult(result)
}

// handleStatus returns the stored snapshot of a run.
func (s *IonflowServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	snapshot, statusErr := s.service.Status(ctx, runID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}

	return marshalResult(snapshot)
}

// handleTrace queries the run record with a jq expression.
func (s *IonflowServer) handleTrace(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	query := req.GetString("query", "")

	if query == "" {
		record, recErr := s.tracer.Record(ctx, runID)
		if recErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("trace failed: %v", recErr)), nil
		}
		return marshalResult(record)
	}

	out, queryErr := s.tracer.Query(ctx, runID, query)
	if queryErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("trace query failed: %v", queryErr)), nil
	}
	return marshalResult(map[string]any{"run_id": runID, "result": out})
}

// handleSchedule registers a recurring run. The scheduler loop picks it up
// on its next tick.
func (s *IonflowServer) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	cronSpec, err := req.RequireString("cron")
	if err != nil {
		return mcp.NewToolResultError("cron is required"), nil
	}
	raw := mcp.ParseStringMap(req, "request", nil)
	if raw == nil {
		return mcp.NewToolResultError("request is required"), nil
	}

	insReq, err := s.parseRequest(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid request: %v", err)), nil
	}

	job := &store.ScheduledRun{
		ID:        uuid.New().String(),
		Name:      name,
		CronSpec:  cronSpec,
		Request:   *insReq,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	if createErr := s.store.CreateScheduledRun(ctx, job); createErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create scheduled run: %v", createErr)), nil
	}

	return marshalResult(map[string]any{
		"ok":           true,
		"scheduled_id": job.ID,
		"cron":         cronSpec,
	})
}

// handleCancel terminates a run.
func (s *IonflowServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	reason := req.GetString("reason", "cancelled via mcp")

	if cancelErr := s.service.Cancel(ctx, runID, reason); cancelErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", cancelErr)), nil
	}

	return marshalResult(map[string]any{
		"ok":     true,
		"run_id": runID,
		"reason": reason,
	})
}

// parseRequest round-trips the tool argument map through JSON and runs it
// through the request validator.
func (s *IonflowServer) parseRequest(raw map[string]any) (*schema.InsertionRequest, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return s.validator.ParseRequest(data)
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}

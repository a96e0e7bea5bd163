package insertion

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/matgraph/ionflow/internal/engine"
	"github.com/matgraph/ionflow/internal/store"
	"github.com/matgraph/ionflow/pkg/schema"
)

// DefaultRunName labels runs whose request carries no name.
const DefaultRunName = "ion insertion"

// Service is the run-level entry point tying the flow builder, the graph
// executor and the store together. The MCP surface, the scheduler and the
// CLI all drive runs through it.
type Service struct {
	store  store.Store
	exec   *engine.Executor
	flow   *Flow
	logger *slog.Logger
}

// NewService creates a Service. The flow's Events appender defaults to the
// store when unset so domain events land on the same run log as lifecycle
// events.
func NewService(s store.Store, exec *engine.Executor, flow *Flow, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if flow.Events == nil {
		flow.Events = s
	}
	if flow.Logger == nil {
		flow.Logger = logger
	}
	return &Service{store: s, exec: exec, flow: flow, logger: logger}
}

// Run registers and executes an insertion run to completion, returning the
// execution result. Benign terminations produce a completed run whose
// output is the best structure reached.
func (s *Service) Run(ctx context.Context, req *schema.InsertionRequest) (*engine.ExecutionResult, error) {
	g, err := s.flow.Build(req)
	if err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = DefaultRunName
	}
	run := &store.Run{
		ID:        uuid.New().String(),
		Name:      name,
		Request:   *req,
		Status:    schema.RunStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create run: %s", err.Error()).WithCause(err)
	}

	s.logger.InfoContext(ctx, "run starting",
		slog.String("run_id", run.ID),
		slog.String("name", name),
		slog.String("species", string(req.Species)))

	result, err := s.exec.Execute(ctx, run, g)
	if err != nil {
		return nil, err
	}

	if result.Error != nil {
		s.logger.WarnContext(ctx, "run finished with error",
			slog.String("run_id", run.ID),
			slog.String("code", result.Error.Code))
	} else {
		s.logger.InfoContext(ctx, "run completed",
			slog.String("run_id", run.ID),
			slog.Int("nodes", len(result.Nodes)))
	}
	return result, nil
}

// Status returns the stored snapshot of a run.
func (s *Service) Status(ctx context.Context, runID string) (*engine.RunSnapshot, error) {
	return s.exec.Status(ctx, runID)
}

// Cancel terminates a run; already-resolved nodes keep their results.
func (s *Service) Cancel(ctx context.Context, runID, reason string) error {
	return s.exec.Cancel(ctx, runID, reason)
}

// List returns stored runs matching the filter.
func (s *Service) List(ctx context.Context, filter store.RunFilter) ([]*store.Run, error) {
	return s.store.ListRuns(ctx, filter)
}

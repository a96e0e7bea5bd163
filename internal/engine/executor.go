package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/matgraph/ionflow/internal/graph"
	"github.com/matgraph/ionflow/internal/logging"
	"github.com/matgraph/ionflow/internal/store"
	"github.com/matgraph/ionflow/pkg/schema"
)

// DefaultPoolSize is the default worker pool concurrency.
const DefaultPoolSize = 8

// Config holds executor configuration.
type Config struct {
	PoolSize int // max concurrent node goroutines
}

// ExecutionResult is returned by Execute with the run outcome.
type ExecutionResult struct {
	RunID       string                 `json:"run_id"`
	Status      schema.RunStatus       `json:"status"`
	Output      *schema.Structure      `json:"output,omitempty"`
	Error       *schema.FlowError      `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Nodes       map[string]*NodeResult `json:"nodes,omitempty"`
}

// NodeResult summarizes the outcome of a single node, keyed by its
// depth-qualified name.
type NodeResult struct {
	Name       string            `json:"name"`
	Kind       string            `json:"kind"`
	Status     schema.NodeStatus `json:"status"`
	Output     json.RawMessage   `json:"output,omitempty"`
	Error      *schema.FlowError `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
}

// RunSnapshot is the current state of a run for status queries.
type RunSnapshot struct {
	Run    *store.Run         `json:"run"`
	Nodes  []*store.NodeState `json:"nodes,omitempty"`
	Events []*store.Event     `json:"events,omitempty"`
}

// Executor drives a live task graph to completion. It dispatches ready
// nodes to the worker pool in waves: within a wave nodes run concurrently
// with no ordering constraints, and nodes spliced in by a deferred
// expansion become eligible in the following wave. A node is never
// dispatched before every one of its declared inputs resolves.
type Executor struct {
	store   store.Store
	runFSM  *RunFSM
	nodeFSM *NodeFSM
	pool    *WorkerPool
	logger  *slog.Logger

	mu      sync.Mutex
	running map[string]*liveRun
}

// liveRun tracks one in-flight run.
type liveRun struct {
	runID  string
	graph  *graph.Builder
	cancel context.CancelFunc

	mu     sync.Mutex // guards states
	states map[string]*store.NodeState
}

// NewExecutor creates an Executor over the given store.
func NewExecutor(s store.Store, cfg Config, logger *slog.Logger) *Executor {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:   s,
		runFSM:  NewRunFSM(s),
		nodeFSM: NewNodeFSM(s),
		pool:    NewWorkerPool(cfg.PoolSize),
		logger:  logger,
		running: make(map[string]*liveRun),
	}
}

// Execute runs a graph to completion and returns the run outcome. The run
// record must already exist in the store with status pending.
func (e *Executor) Execute(ctx context.Context, run *store.Run, g *graph.Builder) (*ExecutionResult, error) {
	if run == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "run is nil")
	}

	ctx = logging.WithRunID(ctx, run.ID)

	if err := e.runFSM.Transition(ctx, run.ID, run.Status, schema.RunStatusActive); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	active := schema.RunStatusActive
	if err := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{Status: &active, StartedAt: &now}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "update run status: %s", err.Error()).WithCause(err)
	}

	execCtx, cancel := context.WithCancel(ctx)
	lr := &liveRun{
		runID:  run.ID,
		graph:  g,
		cancel: cancel,
		states: make(map[string]*store.NodeState),
	}
	for _, name := range g.Names() {
		e.ensureNodeState(execCtx, lr, g.Node(name))
	}

	e.mu.Lock()
	e.running[run.ID] = lr
	e.mu.Unlock()

	result := e.executeGraph(execCtx, lr)

	cancel()
	e.mu.Lock()
	delete(e.running, run.ID)
	e.mu.Unlock()

	return result, nil
}

type nodeExecError struct {
	node string
	err  error
}

// executeGraph walks the live graph in waves until nothing is ready.
func (e *Executor) executeGraph(ctx context.Context, lr *liveRun) *ExecutionResult {
	startedAt := time.Now().UTC()
	result := &ExecutionResult{
		RunID:     lr.runID,
		Status:    schema.RunStatusActive,
		StartedAt: startedAt,
		Nodes:     make(map[string]*NodeResult),
	}

	var finalErr *schema.FlowError

	for {
		if ctx.Err() != nil {
			break
		}
		ready := lr.graph.Ready()
		if len(ready) == 0 {
			break
		}

		var wg sync.WaitGroup
		nodeErrors := make(chan nodeExecError, len(ready))

		for _, n := range ready {
			e.ensureNodeState(ctx, lr, n)
			wg.Add(1)
			node := n
			err := e.pool.Submit(ctx, func(nodeCtx context.Context) error {
				defer wg.Done()
				if execErr := e.executeNode(nodeCtx, lr, node); execErr != nil {
					nodeErrors <- nodeExecError{node: node.Name, err: execErr}
				}
				return nil
			})
			if err != nil {
				wg.Done()
				nodeErrors <- nodeExecError{node: node.Name, err: err}
			}
		}

		// Full fan-in barrier: the wave's output exists only once every
		// dispatched node resolved. A single failed node fails the wave,
		// but in-flight siblings finish first and keep their results.
		wg.Wait()
		close(nodeErrors)

		for ne := range nodeErrors {
			if finalErr == nil {
				if flowErr, ok := ne.err.(*schema.FlowError); ok {
					finalErr = flowErr
				} else {
					finalErr = schema.NewErrorf(schema.ErrCodeExecution, "%s", ne.err.Error()).WithNode(ne.node)
				}
			}
		}
		if finalErr != nil {
			break
		}
	}

	if ctx.Err() != nil && finalErr == nil {
		finalErr = schema.NewError(schema.ErrCodeCancelled, "run cancelled")
	}

	if finalErr == nil {
		if output, ok := lr.graph.ExitValue(); ok {
			if s, ok := output.(*schema.Structure); ok {
				result.Output = s
			}
		} else if len(lr.graph.Unresolved()) > 0 {
			// Nothing ready yet nodes remain: a dependency that can never
			// resolve. Programmer error, not user-recoverable.
			finalErr = schema.NewErrorf(schema.ErrCodeSpliceViolation,
				"graph stalled with %d unresolved nodes", len(lr.graph.Unresolved()))
		}
	}

	if finalErr != nil {
		result.Status = schema.RunStatusFailed
		result.Error = finalErr
		if finalErr.Code == schema.ErrCodeCancelled {
			result.Status = schema.RunStatusCancelled
		}
		e.transitionRun(ctx, lr.runID, schema.RunStatusActive, result.Status)
	} else {
		result.Status = schema.RunStatusCompleted
		e.transitionRun(ctx, lr.runID, schema.RunStatusActive, schema.RunStatusCompleted)
	}

	now := time.Now().UTC()
	result.CompletedAt = &now
	e.collectNodeResults(lr, result)
	e.persistRunEnd(lr.runID, result)

	return result
}

// executeNode runs a single node through its lifecycle.
func (e *Executor) executeNode(ctx context.Context, lr *liveRun, n *graph.Node) error {
	ctx = logging.WithNode(ctx, n.Name)

	if err := e.nodeFSM.Transition(ctx, lr.runID, n.Name, schema.NodeStatusPending, schema.NodeStatusScheduled); err != nil {
		return err
	}
	lr.setStatus(n.Name, schema.NodeStatusScheduled)

	if err := e.nodeFSM.Transition(ctx, lr.runID, n.Name, schema.NodeStatusScheduled, schema.NodeStatusRunning); err != nil {
		return err
	}
	started := time.Now().UTC()
	lr.mu.Lock()
	if ns := lr.states[n.Name]; ns != nil {
		ns.Status = schema.NodeStatusRunning
		ns.StartedAt = &started
	}
	lr.mu.Unlock()
	e.persistNodeState(lr, n.Name)

	out, execErr := invokeNode(ctx, n)
	if execErr == nil && ctx.Err() != nil {
		execErr = ctx.Err()
	}
	if execErr != nil {
		e.logger.ErrorContext(ctx, "node failed", slog.String("error", execErr.Error()))
		return e.failNode(ctx, lr, n.Name, execErr)
	}

	if out.Replace != nil {
		if err := lr.graph.Resolve(n, out); err != nil {
			return e.failNode(ctx, lr, n.Name, err)
		}
		if err := e.nodeFSM.Transition(ctx, lr.runID, n.Name, schema.NodeStatusRunning, schema.NodeStatusExpanded); err != nil {
			return err
		}
		completed := time.Now().UTC()
		lr.mu.Lock()
		if ns := lr.states[n.Name]; ns != nil {
			ns.Status = schema.NodeStatusExpanded
			ns.CompletedAt = &completed
			ns.DurationMs = completed.Sub(started).Milliseconds()
		}
		lr.mu.Unlock()
		e.persistNodeState(lr, n.Name)
		for _, child := range out.Replace.Children {
			e.ensureNodeState(ctx, lr, child)
		}
		e.logger.DebugContext(ctx, "node expanded",
			slog.Int("children", len(out.Replace.Children)))
		return nil
	}

	if err := lr.graph.Resolve(n, out); err != nil {
		return e.failNode(ctx, lr, n.Name, err)
	}
	if err := e.nodeFSM.Transition(ctx, lr.runID, n.Name, schema.NodeStatusRunning, schema.NodeStatusCompleted); err != nil {
		return err
	}

	completed := time.Now().UTC()
	outputJSON, _ := json.Marshal(out.Value)
	lr.mu.Lock()
	if ns := lr.states[n.Name]; ns != nil {
		ns.Status = schema.NodeStatusCompleted
		ns.Output = outputJSON
		ns.CompletedAt = &completed
		ns.DurationMs = completed.Sub(started).Milliseconds()
	}
	lr.mu.Unlock()
	e.persistNodeState(lr, n.Name)
	return nil
}

// invokeNode runs the node body, converting a panic into an error. A
// panicking collaborator must fail the node like any other error; left
// unrecovered it would strand the node unresolved and the wave loop would
// re-dispatch it forever.
func invokeNode(ctx context.Context, n *graph.Node) (out *graph.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeExecution, "node body panicked: %v", r)
		}
	}()
	return n.Invoke(ctx)
}

// failNode transitions a node to failed and returns the node-tagged error.
func (e *Executor) failNode(ctx context.Context, lr *liveRun, name string, execErr error) error {
	_ = e.nodeFSM.Transition(ctx, lr.runID, name, schema.NodeStatusRunning, schema.NodeStatusFailed)

	errPayload, _ := json.Marshal(map[string]string{"error": execErr.Error()})
	lr.mu.Lock()
	if ns := lr.states[name]; ns != nil {
		ns.Status = schema.NodeStatusFailed
		ns.Error = errPayload
	}
	lr.mu.Unlock()
	e.persistNodeState(lr, name)

	if flowErr, ok := execErr.(*schema.FlowError); ok {
		if flowErr.Node == "" {
			flowErr.Node = name
		}
		return flowErr
	}
	if errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded) {
		return schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithNode(name)
	}
	return schema.NewErrorf(schema.ErrCodeExecution, "%s", execErr.Error()).WithNode(name)
}

// Cancel terminates a run. Pending nodes are skipped; resolved nodes keep
// their results (cancellation is forward-only).
func (e *Executor) Cancel(ctx context.Context, runID string, reason string) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "load run: %s", err.Error()).WithCause(err)
	}
	if run == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run not found: %s", runID)
	}

	nodeStates, err := e.store.ListNodeStates(ctx, runID)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "list node states: %s", err.Error()).WithCause(err)
	}
	stateMap := make(map[string]schema.NodeStatus, len(nodeStates))
	for _, ns := range nodeStates {
		stateMap[ns.Name] = ns.Status
	}

	if err := CancelRun(ctx, e.runFSM, e.nodeFSM, runID, run.Status, stateMap); err != nil {
		return err
	}

	cancelled := schema.RunStatusCancelled
	now := time.Now().UTC()
	errPayload, _ := json.Marshal(map[string]string{"reason": reason})
	if err := e.store.UpdateRun(ctx, runID, store.RunUpdate{
		Status:      &cancelled,
		CompletedAt: &now,
		Error:       errPayload,
	}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "update run status: %s", err.Error()).WithCause(err)
	}

	// Only nodes the FSM allows to skip are marked; running nodes are left
	// to finish on their own once the live context is cancelled.
	for _, ns := range nodeStates {
		if validTransition(ValidNodeTransitions, ns.Status, schema.NodeStatusSkipped) {
			ns.Status = schema.NodeStatusSkipped
			_ = e.store.UpsertNodeState(ctx, ns)
		}
	}

	e.mu.Lock()
	if lr, ok := e.running[runID]; ok {
		lr.cancel()
	}
	e.mu.Unlock()

	return nil
}

// Status returns a snapshot of a run's current state.
func (e *Executor) Status(ctx context.Context, runID string) (*RunSnapshot, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load run: %s", err.Error()).WithCause(err)
	}
	if run == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run not found: %s", runID)
	}

	nodes, err := e.store.ListNodeStates(ctx, runID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list node states: %s", err.Error()).WithCause(err)
	}
	events, err := e.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get events: %s", err.Error()).WithCause(err)
	}

	return &RunSnapshot{Run: run, Nodes: nodes, Events: events}, nil
}

// Shutdown stops the worker pool after in-flight work drains.
func (e *Executor) Shutdown() {
	e.pool.Shutdown()
}

// --- helpers ---

func (e *Executor) ensureNodeState(ctx context.Context, lr *liveRun, n *graph.Node) {
	if n == nil {
		return
	}
	lr.mu.Lock()
	if _, ok := lr.states[n.Name]; ok {
		lr.mu.Unlock()
		return
	}
	status := schema.NodeStatusPending
	if n.Resolved() {
		// Literal seed nodes are born resolved.
		status = schema.NodeStatusCompleted
	}
	ns := &store.NodeState{
		RunID:  lr.runID,
		Name:   n.Name,
		Kind:   n.Kind,
		Status: status,
	}
	lr.states[n.Name] = ns
	lr.mu.Unlock()
	_ = e.store.UpsertNodeState(ctx, ns)
}

func (lr *liveRun) setStatus(name string, status schema.NodeStatus) {
	lr.mu.Lock()
	if ns, ok := lr.states[name]; ok {
		ns.Status = status
	}
	lr.mu.Unlock()
}

func (e *Executor) persistNodeState(lr *liveRun, name string) {
	lr.mu.Lock()
	ns := lr.states[name]
	lr.mu.Unlock()
	if ns != nil {
		// Best-effort persist; execution continues even if this fails.
		_ = e.store.UpsertNodeState(context.Background(), ns)
	}
}

func (e *Executor) transitionRun(ctx context.Context, runID string, from, to schema.RunStatus) {
	transCtx := ctx
	if ctx.Err() != nil {
		transCtx = context.Background()
	}
	_ = e.runFSM.Transition(transCtx, runID, from, to)
}

func (e *Executor) collectNodeResults(lr *liveRun, result *ExecutionResult) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	for name, ns := range lr.states {
		nr := &NodeResult{
			Name:       name,
			Kind:       ns.Kind,
			Status:     ns.Status,
			Output:     ns.Output,
			DurationMs: ns.DurationMs,
		}
		if ns.Error != nil {
			nr.Error = schema.NewError(schema.ErrCodeExecution, string(ns.Error)).WithNode(name)
		}
		result.Nodes[name] = nr
	}
}

func (e *Executor) persistRunEnd(runID string, result *ExecutionResult) {
	update := store.RunUpdate{
		Status:      &result.Status,
		CompletedAt: result.CompletedAt,
	}
	if result.Output != nil {
		outputJSON, _ := json.Marshal(result.Output)
		update.Output = outputJSON
	}
	if result.Error != nil {
		errJSON, _ := json.Marshal(result.Error)
		update.Error = errJSON
	}
	_ = e.store.UpdateRun(context.Background(), runID, update)
}

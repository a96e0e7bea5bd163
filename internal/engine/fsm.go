package engine

import (
	"context"
	"sync"

	"github.com/matgraph/ionflow/internal/store"
	"github.com/matgraph/ionflow/pkg/schema"
)

// EventAppender is satisfied by the Store and EventLog; FSMs emit lifecycle
// events on transitions through it.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// ValidRunTransitions defines the allowed lifecycle transitions for runs.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending:   {schema.RunStatusActive, schema.RunStatusCancelled},
	schema.RunStatusActive:    {schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusCancelled},
	schema.RunStatusCompleted: {},
	schema.RunStatusFailed:    {},
	schema.RunStatusCancelled: {},
}

// ValidNodeTransitions defines the allowed lifecycle transitions for nodes.
// "expanded" is terminal the same way "completed" is: a node that resolved
// into a replacement subgraph is never re-expanded.
var ValidNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeStatusPending:   {schema.NodeStatusScheduled, schema.NodeStatusSkipped},
	schema.NodeStatusScheduled: {schema.NodeStatusRunning, schema.NodeStatusSkipped},
	schema.NodeStatusRunning:   {schema.NodeStatusCompleted, schema.NodeStatusExpanded, schema.NodeStatusFailed},
	schema.NodeStatusCompleted: {},
	schema.NodeStatusExpanded:  {},
	schema.NodeStatusFailed:    {},
	schema.NodeStatusSkipped:   {},
}

// RunFSM manages run lifecycle transitions and emits run events.
type RunFSM struct {
	mu       sync.Mutex
	appender EventAppender
}

// NewRunFSM creates a RunFSM that emits events via the given appender.
func NewRunFSM(appender EventAppender) *RunFSM {
	return &RunFSM{appender: appender}
}

// Transition validates and executes a run state transition.
func (f *RunFSM) Transition(ctx context.Context, runID string, from, to schema.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !validTransition(ValidRunTransitions, from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID})
	}

	if eventType := runEventType(to); eventType != "" {
		if err := f.appender.AppendEvent(ctx, &store.Event{RunID: runID, Type: eventType}); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit run event: %s", err.Error()).WithCause(err)
		}
	}
	return nil
}

// NodeFSM manages node lifecycle transitions and emits node events.
type NodeFSM struct {
	mu       sync.Mutex
	appender EventAppender
}

// NewNodeFSM creates a NodeFSM that emits events via the given appender.
func NewNodeFSM(appender EventAppender) *NodeFSM {
	return &NodeFSM{appender: appender}
}

// Transition validates and executes a node state transition.
func (f *NodeFSM) Transition(ctx context.Context, runID, node string, from, to schema.NodeStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !validTransition(ValidNodeTransitions, from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid node transition: %s -> %s", from, to).
			WithNode(node).
			WithDetails(map[string]any{"run_id": runID})
	}

	if eventType := nodeEventType(to); eventType != "" {
		event := &store.Event{RunID: runID, Node: node, Type: eventType}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit node event: %s", err.Error()).
				WithNode(node).WithCause(err)
		}
	}
	return nil
}

func validTransition[S comparable](table map[S][]S, from, to S) bool {
	for _, allowed := range table[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusActive:
		return schema.EventRunStarted
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	case schema.RunStatusCancelled:
		return schema.EventRunCancelled
	default:
		return ""
	}
}

func nodeEventType(to schema.NodeStatus) string {
	switch to {
	case schema.NodeStatusRunning:
		return schema.EventNodeStarted
	case schema.NodeStatusCompleted:
		return schema.EventNodeCompleted
	case schema.NodeStatusExpanded:
		return schema.EventNodeExpanded
	case schema.NodeStatusFailed:
		return schema.EventNodeFailed
	case schema.NodeStatusSkipped:
		return schema.EventNodeSkipped
	default:
		return ""
	}
}

// CancelRun transitions a run to cancelled and skips every node that has
// not reached a terminal state. Cancellation is forward-only: resolved
// nodes are untouched.
func CancelRun(ctx context.Context, runFSM *RunFSM, nodeFSM *NodeFSM, runID string, current schema.RunStatus, nodeStates map[string]schema.NodeStatus) error {
	if err := runFSM.Transition(ctx, runID, current, schema.RunStatusCancelled); err != nil {
		return err
	}
	for node, status := range nodeStates {
		if isTerminalNode(status) {
			continue
		}
		if validTransition(ValidNodeTransitions, status, schema.NodeStatusSkipped) {
			if err := nodeFSM.Transition(ctx, runID, node, status, schema.NodeStatusSkipped); err != nil {
				return err
			}
		}
	}
	return nil
}

func isTerminalNode(s schema.NodeStatus) bool {
	switch s {
	case schema.NodeStatusCompleted, schema.NodeStatusExpanded, schema.NodeStatusFailed, schema.NodeStatusSkipped:
		return true
	}
	return false
}

package schema

// Event type constants for the run event log.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
	EventRunCancelled = "run_cancelled"

	EventNodeStarted   = "node_started"
	EventNodeCompleted = "node_completed"
	EventNodeExpanded  = "node_expanded"
	EventNodeFailed    = "node_failed"
	EventNodeSkipped   = "node_skipped"

	EventFanOutDispatched = "fanout_dispatched"
	EventSurvivorSelected = "survivor_selected"
	EventRecursionStopped = "recursion_stopped"
)

// Stop reasons recorded on EventRecursionStopped payloads.
const (
	StopReasonInputAbsent     = "input_absent"
	StopReasonBudgetExhausted = "step_budget_exhausted"
	StopReasonNoSurvivor      = "no_survivor"
	StopReasonCondition       = "stop_condition"
)

// RunStatus represents the lifecycle state of an insertion run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusActive    RunStatus = "active"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// NodeStatus represents the lifecycle state of a graph node.
// A node that resolves with a replacement subgraph ends in "expanded";
// a node that resolves with a terminal output ends in "completed".
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusScheduled NodeStatus = "scheduled"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusExpanded  NodeStatus = "expanded"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

package store

import (
	"encoding/json"
	"time"

	"github.com/matgraph/ionflow/pkg/schema"
)

// Run is one insertion run tracked by the store.
type Run struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Request     schema.InsertionRequest `json:"request"`
	Status      schema.RunStatus        `json:"status"`
	Output      json.RawMessage         `json:"output,omitempty"`
	Error       json.RawMessage         `json:"error,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	StartedAt   *time.Time              `json:"started_at,omitempty"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
}

// RunUpdate is a partial update applied to a run. Nil fields are untouched.
type RunUpdate struct {
	Status      *schema.RunStatus
	Output      json.RawMessage
	Error       json.RawMessage
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status schema.RunStatus
	Limit  int
}

// Event is one append-only entry in a run's event log. Sequence is a
// run-scoped monotone counter assigned on append.
type Event struct {
	RunID     string          `json:"run_id"`
	Node      string          `json:"node,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// NodeState is the materialized view of a graph node, keyed by the node's
// depth-qualified name within its run.
type NodeState struct {
	RunID       string            `json:"run_id"`
	Name        string            `json:"name"`
	Kind        string            `json:"kind"`
	Status      schema.NodeStatus `json:"status"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
}

// ScheduledRun is a recurring insertion run driven by a cron expression.
type ScheduledRun struct {
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	CronSpec  string                  `json:"cron_spec"`
	Request   schema.InsertionRequest `json:"request"`
	Enabled   bool                    `json:"enabled"`
	NextRunAt *time.Time              `json:"next_run_at,omitempty"`
	LastRunAt *time.Time              `json:"last_run_at,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
}

// ScheduledRunUpdate is a partial update applied to a scheduled run.
type ScheduledRunUpdate struct {
	Enabled   *bool
	NextRunAt *time.Time
	LastRunAt *time.Time
}

// ScheduledRunFilter narrows ListScheduledRuns.
type ScheduledRunFilter struct {
	Enabled *bool
}

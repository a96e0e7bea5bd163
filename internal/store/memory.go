package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/matgraph/ionflow/pkg/schema"
)

// MemoryStore is the in-memory Store implementation. It is the only backend
// ionflow ships: the store is an injected collaborator and durability is out
// of scope.
type MemoryStore struct {
	mu         sync.RWMutex
	runs       map[string]*Run
	events     map[string][]*Event     // run ID → ordered events
	nodeStates map[string][]*NodeState // run ID → states in upsert order
	scheduled  map[string]*ScheduledRun
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:       make(map[string]*Run),
		events:     make(map[string][]*Event),
		nodeStates: make(map[string][]*NodeState),
		scheduled:  make(map[string]*ScheduledRun),
	}
}

func (s *MemoryStore) CreateRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "run already exists: %s", run.ID)
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run not found: %s", id)
	}
	if update.Status != nil {
		run.Status = *update.Status
	}
	if update.Output != nil {
		run.Output = update.Output
	}
	if update.Error != nil {
		run.Error = update.Error
	}
	if update.StartedAt != nil {
		run.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		run.CompletedAt = update.CompletedAt
	}
	return nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		cp := *run
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// AppendEvent appends an event with a monotonically increasing per-run
// sequence, assigned under the store lock.
func (s *MemoryStore) AppendEvent(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.Sequence = int64(len(s.events[event.RunID])) + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	cp := *event
	s.events[event.RunID] = append(s.events[event.RunID], &cp)
	return nil
}

func (s *MemoryStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, e := range s.events[runID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertNodeState(ctx context.Context, state *NodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	states := s.nodeStates[state.RunID]
	for i, existing := range states {
		if existing.Name == state.Name {
			states[i] = &cp
			return nil
		}
	}
	s.nodeStates[state.RunID] = append(states, &cp)
	return nil
}

func (s *MemoryStore) GetNodeState(ctx context.Context, runID, name string) (*NodeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.nodeStates[runID] {
		if st.Name == name {
			cp := *st
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListNodeStates(ctx context.Context, runID string) ([]*NodeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := s.nodeStates[runID]
	out := make([]*NodeState, len(states))
	for i, st := range states {
		cp := *st
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) CreateScheduledRun(ctx context.Context, job *ScheduledRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.scheduled[job.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "scheduled run already exists: %s", job.ID)
	}
	cp := *job
	s.scheduled[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetScheduledRun(ctx context.Context, id string) (*ScheduledRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.scheduled[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.scheduled[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scheduled run not found: %s", id)
	}
	if update.Enabled != nil {
		job.Enabled = *update.Enabled
	}
	if update.NextRunAt != nil {
		job.NextRunAt = update.NextRunAt
	}
	if update.LastRunAt != nil {
		job.LastRunAt = update.LastRunAt
	}
	return nil
}

func (s *MemoryStore) ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ScheduledRun, 0, len(s.scheduled))
	for _, job := range s.scheduled {
		if filter.Enabled != nil && job.Enabled != *filter.Enabled {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

package trigger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stintio/stint/pkg/core"
)

// Memory is an in-process core.Trigger holding pending resumptions in a
// map. Scheduling a job that already has a pending resumption replaces it,
// so triggers never stack into duplicate concurrent runs. Use the
// database-backed trigger in pkg/storage when resumptions must survive a
// process restart.
type Memory struct {
	mu      sync.Mutex
	pending map[string]*core.Resumption
}

// NewMemory creates an empty in-memory trigger.
func NewMemory() *Memory {
	return &Memory{pending: make(map[string]*core.Resumption)}
}

// Schedule arms a resumption of the job at the given instant, replacing
// any pending one.
func (m *Memory) Schedule(_ context.Context, jobID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[jobID] = &core.Resumption{
		ID:        uuid.New().String(),
		JobID:     jobID,
		RunAt:     at,
		CreatedAt: time.Now(),
	}
	return nil
}

// Cancel removes any pending resumption for the job.
func (m *Memory) Cancel(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, jobID)
	return nil
}

// Claim removes and returns up to limit resumptions due at or before now,
// earliest first.
func (m *Memory) Claim(_ context.Context, now time.Time, limit int) ([]*core.Resumption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*core.Resumption
	for _, r := range m.pending {
		if !r.RunAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, r := range due {
		delete(m.pending, r.JobID)
	}
	return due, nil
}

// Pending returns the number of armed resumptions.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

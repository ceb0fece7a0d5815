package core

import (
	"time"
)

// CheckpointVersion is the schema version written into every checkpoint
// record. Loading a record with a different version fails with
// CheckpointCorruptError rather than guessing at field meanings.
const CheckpointVersion = 1

// Standard counter names accumulated in a checkpoint.
const (
	CounterItemsProcessed = "items_processed"
	CounterItemsFailed    = "items_failed"
	CounterRuns           = "runs"
)

// Checkpoint is the persisted progress record for a job. Records are kept
// compact (an offset and small counters, never item payloads) because the
// key-value backend may cap the size of a single value.
type Checkpoint struct {
	Version             int              `json:"v"`
	JobID               string           `json:"job_id"`
	LastCompletedOffset int              `json:"offset"` // -1 when no item has completed
	Status              JobStatus        `json:"status"`
	Counters            map[string]int64 `json:"counters,omitempty"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// NewCheckpoint returns the initial checkpoint for a job that has not
// completed any item yet.
func NewCheckpoint(jobID string) *Checkpoint {
	return &Checkpoint{
		Version:             CheckpointVersion,
		JobID:               jobID,
		LastCompletedOffset: -1,
		Status:              StatusRunning,
		Counters:            make(map[string]int64),
	}
}

// Counter returns the named counter, zero when absent.
func (c *Checkpoint) Counter(name string) int64 {
	if c.Counters == nil {
		return 0
	}
	return c.Counters[name]
}

// AddCounter adds delta to the named counter, creating it at zero first.
func (c *Checkpoint) AddCounter(name string, delta int64) {
	if c.Counters == nil {
		c.Counters = make(map[string]int64)
	}
	c.Counters[name] += delta
}

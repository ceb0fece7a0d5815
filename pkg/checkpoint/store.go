package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stintio/stint/pkg/core"
	"github.com/stintio/stint/pkg/security"
)

const keyPrefix = "stint:checkpoint:"

// Key returns the KV key a job's checkpoint is stored under.
func Key(jobID string) string {
	return keyPrefix + jobID
}

// Store persists checkpoints on a durable key-value backend. Records are
// compact JSON so they fit the backend's per-value size cap. The store
// enforces offset monotonicity; concurrent-run exclusion is the caller's
// job via the advisory lock.
type Store struct {
	kv  core.KV
	now func() time.Time
}

// NewStore creates a checkpoint store over the given backend.
func NewStore(kv core.KV) *Store {
	return &Store{kv: kv, now: time.Now}
}

// Load returns the job's checkpoint, or nil when none has been saved.
// Records that cannot be decoded or carry an unknown schema version fail
// with *core.CheckpointCorruptError instead of being guessed at.
func (s *Store) Load(ctx context.Context, jobID string) (*core.Checkpoint, error) {
	raw, err := s.kv.Get(ctx, Key(jobID))
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	var cp core.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, &core.CheckpointCorruptError{JobID: jobID, Reason: "malformed record", Err: err}
	}
	if cp.Version != core.CheckpointVersion {
		return nil, &core.CheckpointCorruptError{
			JobID:  jobID,
			Reason: fmt.Sprintf("unknown schema version %d", cp.Version),
		}
	}
	if cp.LastCompletedOffset < -1 {
		return nil, &core.CheckpointCorruptError{
			JobID:  jobID,
			Reason: fmt.Sprintf("invalid offset %d", cp.LastCompletedOffset),
		}
	}
	return &cp, nil
}

// Save upserts the checkpoint, stamping UpdatedAt. While a job is running
// or paused its offset only moves forward; a save that would move it
// backwards fails with ErrCheckpointRegression. Restart a job explicitly
// with Reset instead.
func (s *Store) Save(ctx context.Context, cp *core.Checkpoint) error {
	if cp.Version == 0 {
		cp.Version = core.CheckpointVersion
	}

	existing, err := s.Load(ctx, cp.JobID)
	if err != nil {
		return err
	}
	if existing != nil && !existing.Status.Terminal() &&
		cp.LastCompletedOffset < existing.LastCompletedOffset {
		return fmt.Errorf("%w: job %q at %d, save requested %d",
			core.ErrCheckpointRegression, cp.JobID,
			existing.LastCompletedOffset, cp.LastCompletedOffset)
	}

	cp.UpdatedAt = s.now()
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := security.ValidateCheckpointSize(raw); err != nil {
		return err
	}
	if err := s.kv.Set(ctx, Key(cp.JobID), raw); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Delete removes the job's checkpoint. Deleting an absent checkpoint is
// not an error.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	return s.kv.Delete(ctx, Key(jobID))
}

// Reset removes the checkpoint so the job restarts from the beginning.
// This is the only sanctioned way to move an offset backwards.
func (s *Store) Reset(ctx context.Context, jobID string) error {
	return s.Delete(ctx, jobID)
}

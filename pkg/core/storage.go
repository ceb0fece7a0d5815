package core

import (
	"context"
	"time"
)

// WorkFunc performs one item of a job. It is supplied by the caller and
// opaque to the engine; errors it returns are classified by the retry
// policy. A WorkFunc must be safe to call again with a later offset after
// the job is resumed in a fresh process.
type WorkFunc func(ctx context.Context, job *Job, offset int) error

// Starter is the interface for background components the engine starts.
type Starter interface {
	Start(ctx context.Context) error
}

// JobStore persists job records and their lifecycle transitions.
type JobStore interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// CreateJob inserts a new job. When job.UniqueKey is set, inserting a
	// second job with the same key fails with ErrDuplicateJob.
	CreateJob(ctx context.Context, job *Job) error

	GetJob(ctx context.Context, jobID string) (*Job, error)
	ListJobs(ctx context.Context, status JobStatus, limit int) ([]*Job, error)

	// MarkRunning transitions a new or paused job to running and counts
	// the run. It fails with ErrJobNotResumable when the job is terminal
	// or already running.
	MarkRunning(ctx context.Context, jobID string) error

	MarkPaused(ctx context.Context, jobID string, reason string, resumeAt time.Time, processed, failed int64) error
	MarkCompleted(ctx context.Context, jobID string, processed, failed int64) error
	MarkFailed(ctx context.Context, jobID string, errMsg string, processed, failed int64) error
	MarkCancelled(ctx context.Context, jobID string) error
}

// KV is the minimal durable key-value contract the checkpoint store runs
// on. Get returns nil with no error for an absent key. Implementations may
// cap the size of a single value; callers keep records small.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Locker provides advisory locks for mutual exclusion between concurrent
// invocations of the same job. Acquire waits at most maxWait for the lock
// and returns false, without error, when it cannot be had in time. Release
// only releases locks held by this locker instance.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl, maxWait time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// LockName returns the advisory lock name guarding a job's runs.
func LockName(jobID string) string {
	return "stint:job:" + jobID
}

// Resumption is a pending timer row arming one future run of a paused job.
// At most one resumption exists per job; scheduling again replaces it.
type Resumption struct {
	ID        string    `gorm:"primaryKey;size:36"`
	JobID     string    `gorm:"uniqueIndex;size:36;not null"`
	RunAt     time.Time `gorm:"index;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Trigger schedules future resumptions of paused jobs. Timing is
// best-effort; a fired trigger may run minutes after RunAt.
type Trigger interface {
	// Schedule arms a resumption of jobID at the given instant, replacing
	// any pending resumption for the same job.
	Schedule(ctx context.Context, jobID string, at time.Time) error

	// Cancel removes any pending resumption for the job.
	Cancel(ctx context.Context, jobID string) error

	// Claim atomically removes and returns up to limit resumptions due at
	// or before now. Each claimed resumption is dispatched exactly once.
	Claim(ctx context.Context, now time.Time, limit int) ([]*Resumption, error)
}

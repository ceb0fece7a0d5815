// Package stint is a resumable, quota-aware batch execution engine. Work is
// split into ordered items processed in bounded runs: each run checkpoints
// its progress and voluntarily returns before its wall-clock budget, so jobs
// survive process restarts and hostile execution ceilings.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	db, _ := gorm.Open(sqlite.Open("stint.db"), &gorm.Config{})
//	store := stint.NewStore(db)
//	engine := stint.NewEngine(store)
//	engine.Migrate(context.Background())
//
//	// Register a budget and a handler
//	engine.Quota().Add("api_calls", 1000, stint.DailyIn(0, 0, time.UTC))
//	engine.Register("sync-contacts", func(ctx context.Context, job *stint.Job, offset int) error {
//	    return syncContact(ctx, offset)
//	}, stint.WithBudget("api_calls", 1))
//
//	// Submit and run
//	job, _ := engine.Submit(ctx, "sync-contacts", nil, 5000)
//	report, _ := engine.Run(ctx, job.ID)
//
//	// Or let the dispatcher pick up paused jobs as their triggers fire
//	go engine.Start(ctx)
package stint

import (
	"time"

	"gorm.io/gorm"

	"github.com/stintio/stint/pkg/core"
	"github.com/stintio/stint/pkg/retry"
	"github.com/stintio/stint/pkg/runner"
	"github.com/stintio/stint/pkg/security"
	"github.com/stintio/stint/pkg/storage"
	"github.com/stintio/stint/pkg/window"

	breakerpkg "github.com/stintio/stint/pkg/breaker"
)

// Type aliases for the public API surface
type (
	// Job represents one resumable unit of batch work.
	Job = core.Job

	// JobStatus represents the current state of a job.
	JobStatus = core.JobStatus

	// Checkpoint is the persisted progress record of a job.
	Checkpoint = core.Checkpoint

	// Report summarizes one bounded run.
	Report = core.Report

	// RunStatus is the outcome of one bounded run.
	RunStatus = core.RunStatus

	// FailurePolicy decides what a fatal item failure does to the job.
	FailurePolicy = core.FailurePolicy

	// WorkFunc performs one item of a job.
	WorkFunc = core.WorkFunc

	// Store is the GORM-backed persistence layer.
	Store = storage.Store

	// Event is the interface for all engine events.
	Event = core.Event

	// JobStarted is emitted when a bounded run begins processing a job.
	JobStarted = core.JobStarted

	// JobCompleted is emitted when a run finishes the last item of its job.
	JobCompleted = core.JobCompleted

	// JobPaused is emitted when a run stops voluntarily and arms a resumption.
	JobPaused = core.JobPaused

	// JobFailed is emitted when a job reaches terminal failure.
	JobFailed = core.JobFailed

	// ItemFailed is emitted when a single item fails fatally.
	ItemFailed = core.ItemFailed

	// CheckpointSaved is emitted when a checkpoint is persisted.
	CheckpointSaved = core.CheckpointSaved

	// CircuitOpened is emitted when a dependency's breaker trips open.
	CircuitOpened = core.CircuitOpened

	// CircuitClosed is emitted when a dependency's breaker recovers.
	CircuitClosed = core.CircuitClosed

	// NoRetryError indicates an error that should not be retried.
	NoRetryError = core.NoRetryError

	// RetryAfterError indicates an error that should be retried after a delay.
	RetryAfterError = core.RetryAfterError

	// QuotaExceededError reports that a budget has no room for a spend.
	QuotaExceededError = core.QuotaExceededError

	// CircuitOpenError reports a fast-reject by an open circuit breaker.
	CircuitOpenError = core.CircuitOpenError

	// RetryExhaustedError wraps the last error after retries are used up.
	RetryExhaustedError = core.RetryExhaustedError

	// Boundary yields the quota window reset instant after a given time.
	Boundary = window.Boundary

	// RetryPolicy shapes per-item retry attempts and backoff.
	RetryPolicy = retry.Policy

	// RunConfig holds the per-run policy.
	RunConfig = runner.RunConfig

	// RunOption adjusts the policy for one run or registration.
	RunOption = runner.RunOption

	// BreakerConfig holds circuit breaker thresholds.
	BreakerConfig = breakerpkg.Config
)

// Job status constants
const (
	StatusNew       = core.StatusNew
	StatusRunning   = core.StatusRunning
	StatusPaused    = core.StatusPaused
	StatusCompleted = core.StatusCompleted
	StatusFailed    = core.StatusFailed
	StatusCancelled = core.StatusCancelled
)

// Run outcome constants
const (
	RunCompleted = core.RunCompleted
	RunPaused    = core.RunPaused
	RunFailed    = core.RunFailed
	RunSkipped   = core.RunSkipped
)

// Failure policy constants
const (
	SkipItem = core.SkipItem
	AbortJob = core.AbortJob
)

// Security limits
const (
	MaxJobTypeNameLength  = security.MaxJobTypeNameLength
	MaxJobArgsSize        = security.MaxJobArgsSize
	MaxAttempts           = security.MaxAttempts
	MaxErrorMessageLength = security.MaxErrorMessageLength
	MaxUniqueKeyLength    = security.MaxUniqueKeyLength
	MaxCheckpointSize     = security.MaxCheckpointSize
)

// Error variables
var (
	ErrInvalidJobTypeName = core.ErrInvalidJobTypeName
	ErrJobArgsTooLarge    = core.ErrJobArgsTooLarge
	ErrDuplicateJob       = core.ErrDuplicateJob
	ErrJobNotFound        = core.ErrJobNotFound
	ErrUnknownJobType     = core.ErrUnknownJobType
	ErrJobNotResumable    = core.ErrJobNotResumable
)

// NewStore creates a GORM-backed store implementing the engine's Backend.
func NewStore(db *gorm.DB) *Store {
	return storage.NewStore(db)
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return core.NoRetry(err)
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return core.RetryAfter(d, err)
}

// Every is a rolling quota window of fixed length.
func Every(d time.Duration) Boundary {
	return window.Every(d)
}

// Daily resets a quota budget at the given local wall-clock time each day.
func Daily(hour, minute int) Boundary {
	return window.Daily(hour, minute)
}

// DailyIn resets a quota budget at the given wall-clock time each day in the
// given location.
func DailyIn(hour, minute int, loc *time.Location) Boundary {
	return window.DailyIn(hour, minute, loc)
}

// Cron resets a quota budget on a cron schedule, with CRON_TZ support. It
// panics on an invalid expression.
func Cron(expr string) Boundary {
	return window.Cron(expr)
}

// Run policy options, re-exported from pkg/runner.
var (
	WithTimeBudget     = runner.WithTimeBudget
	WithSafetyFraction = runner.WithSafetyFraction
	WithSaveEvery      = runner.WithSaveEvery
	WithResumeDelay    = runner.WithResumeDelay
	WithBudget         = runner.WithBudget
	WithDependency     = runner.WithDependency
	WithRetry          = runner.WithRetry
	WithClassifier     = runner.WithClassifier
	WithFailurePolicy  = runner.WithFailurePolicy
)

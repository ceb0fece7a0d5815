package core

import (
	"errors"
	"fmt"
	"time"
)

// Validation and lifecycle errors
var (
	ErrInvalidJobTypeName = errors.New("stint: invalid job type name (must be alphanumeric, start with letter)")
	ErrJobTypeNameTooLong = errors.New("stint: job type name too long")
	ErrJobArgsTooLarge    = errors.New("stint: job arguments exceed size limit")
	ErrDuplicateJob       = errors.New("stint: duplicate job with same unique key")
	ErrUniqueKeyTooLong   = errors.New("stint: unique key exceeds maximum length")
	ErrJobNotFound        = errors.New("stint: job not found")
	ErrUnknownJobType     = errors.New("stint: no handler registered for job type")
	ErrJobNotResumable    = errors.New("stint: job is not in a resumable state")
	ErrNegativeItemCount  = errors.New("stint: item count must not be negative")

	ErrInvalidBudgetName     = errors.New("stint: invalid budget name (must be alphanumeric, start with letter)")
	ErrInvalidDependencyName = errors.New("stint: invalid dependency name (must be alphanumeric, start with letter)")
	ErrCheckpointTooLarge    = errors.New("stint: checkpoint record exceeds size limit")
	ErrCheckpointRegression  = errors.New("stint: checkpoint offset would move backwards")
)

// NoRetryError indicates an error that should not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// RetryAfterError indicates an error that should be retried after a delay.
type RetryAfterError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return &RetryAfterError{Err: err, Delay: d}
}

// QuotaExceededError reports that a budget has no room for a spend. It is
// never retried inline; the run pauses the job until the window resets.
type QuotaExceededError struct {
	Budget    string
	Requested int64
	Remaining int64
	ResetAt   time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("stint: quota exceeded for budget %q (requested %d, remaining %d, resets at %s)",
		e.Budget, e.Requested, e.Remaining, e.ResetAt.Format(time.RFC3339))
}

// CircuitOpenError reports a fast-reject by an open circuit breaker. It is
// not a work failure; the run pauses the job until the cooldown elapses.
type CircuitOpenError struct {
	Dependency string
	RetryAt    time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("stint: circuit open for dependency %q (retry at %s)",
		e.Dependency, e.RetryAt.Format(time.RFC3339))
}

// RetryExhaustedError wraps the last error after the retry policy has used
// every allowed attempt.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("stint: retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// CheckpointCorruptError reports a checkpoint record that cannot be trusted,
// either malformed bytes or an unknown schema version.
type CheckpointCorruptError struct {
	JobID  string
	Reason string
	Err    error
}

func (e *CheckpointCorruptError) Error() string {
	return fmt.Sprintf("stint: corrupt checkpoint for job %q: %s", e.JobID, e.Reason)
}

func (e *CheckpointCorruptError) Unwrap() error {
	return e.Err
}

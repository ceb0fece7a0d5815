package core

import "time"

// RunStatus is the tagged outcome of one bounded run. Callers branch on the
// status instead of inspecting errors to tell a voluntary pause apart from a
// genuine fault.
type RunStatus string

const (
	// RunCompleted means every item of the job has been processed.
	RunCompleted RunStatus = "completed"
	// RunPaused means the run stopped voluntarily at an item boundary and
	// a resumption trigger has been armed.
	RunPaused RunStatus = "paused"
	// RunFailed means the job reached a terminal failure.
	RunFailed RunStatus = "failed"
	// RunSkipped means the run never started because another invocation
	// holds the job lock. Nothing was modified.
	RunSkipped RunStatus = "skipped"
)

// FailurePolicy decides what a fatal item-level error does to the job.
type FailurePolicy string

const (
	// SkipItem records the failure and continues with the next item.
	SkipItem FailurePolicy = "skip_item"
	// AbortJob marks the whole job failed on the first fatal item error.
	AbortJob FailurePolicy = "abort_job"
)

// Report describes what one bounded run did. Exactly one run produces a
// report per invocation; a skipped run carries only the job ID.
type Report struct {
	JobID  string
	Status RunStatus

	// Reason and Detail are set when Status is RunPaused. Detail names the
	// exhausted budget or the open dependency, empty for a time pause.
	Reason PauseReason
	Detail string

	// ResumeAt is the earliest instant the armed trigger will fire, zero
	// unless Status is RunPaused.
	ResumeAt time.Time

	// LastCompletedOffset mirrors the checkpoint at the time of return.
	LastCompletedOffset int

	// Counters is a snapshot of the checkpoint counters.
	Counters map[string]int64

	// Err is the terminal error when Status is RunFailed.
	Err error
}

// Counter returns the named counter from the report snapshot, zero when absent.
func (r *Report) Counter(name string) int64 {
	if r.Counters == nil {
		return 0
	}
	return r.Counters[name]
}

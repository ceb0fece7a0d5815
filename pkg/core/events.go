package core

import "time"

// Event is the interface for all engine events.
type Event interface {
	eventMarker()
}

// JobStarted is emitted when a bounded run begins processing a job.
type JobStarted struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobStarted) eventMarker() {}

// JobCompleted is emitted when a run finishes the last item of its job.
type JobCompleted struct {
	Job       *Job
	Report    *Report
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobCompleted) eventMarker() {}

// JobPaused is emitted when a run stops voluntarily and arms a resumption.
type JobPaused struct {
	Job       *Job
	Report    *Report
	ResumeAt  time.Time
	Timestamp time.Time
}

func (*JobPaused) eventMarker() {}

// JobFailed is emitted when a job reaches terminal failure.
type JobFailed struct {
	Job       *Job
	Error     error
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// ItemFailed is emitted when a single item fails fatally. The job may still
// continue depending on its failure policy.
type ItemFailed struct {
	JobID     string
	Offset    int
	Error     error
	Timestamp time.Time
}

func (*ItemFailed) eventMarker() {}

// CheckpointSaved is emitted when a checkpoint is persisted.
type CheckpointSaved struct {
	JobID     string
	Offset    int
	Status    JobStatus
	Timestamp time.Time
}

func (*CheckpointSaved) eventMarker() {}

// CircuitOpened is emitted when a dependency's breaker trips open.
type CircuitOpened struct {
	Dependency string
	RetryAt    time.Time
	Timestamp  time.Time
}

func (*CircuitOpened) eventMarker() {}

// CircuitClosed is emitted when a dependency's breaker recovers.
type CircuitClosed struct {
	Dependency string
	Timestamp  time.Time
}

func (*CircuitClosed) eventMarker() {}

package core

// PauseReason identifies why a run returned before finishing its job.
type PauseReason string

const (
	// PauseTimeBudget means the run hit its time budget minus the safety margin.
	PauseTimeBudget PauseReason = "time_budget"
	// PauseQuota means a named budget had no room for the next item.
	PauseQuota PauseReason = "quota"
	// PauseCircuit means the dependency's circuit breaker is open.
	PauseCircuit PauseReason = "circuit"
	// PauseStale means the run's process died and the stale sweep parked
	// the job for resumption.
	PauseStale PauseReason = "stale"
)

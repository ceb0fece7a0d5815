// Package runner orchestrates bounded, resumable batch runs.
//
// This package includes:
//   - Runner, the scheduler loop over a job's ordered items
//   - RunConfig and per-run options binding budgets, dependencies, retry
//     policy and failure policy to a job type
//
// A run holds the job's advisory lock, processes items in strict ascending
// offset order and voluntarily returns before the host's execution ceiling,
// leaving a saved checkpoint and an armed resumption trigger behind. Time,
// quota and circuit state are rechecked at every item boundary; suspension
// never happens inside a single work item call.
//
// Most users should import the root package github.com/stintio/stint
// whose Engine wraps a runner.
package runner

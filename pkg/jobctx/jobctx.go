// Package jobctx exposes the current run to work item functions.
//
// The runner installs the job, the item offset and a counter sink on the
// context it hands each work function. Work functions use the accessors
// here for logging and progress tracking without importing the runner.
package jobctx

import (
	"context"

	"github.com/stintio/stint/pkg/core"
)

type ctxKey int

const runKey ctxKey = 0

// runScope is what the runner attaches before each item call.
type runScope struct {
	job    *core.Job
	offset int
	add    func(name string, delta int64)
}

// WithRun attaches the current job, offset and counter sink to ctx. It is
// called by the runner before each work item; work functions only read.
func WithRun(ctx context.Context, job *core.Job, offset int, add func(name string, delta int64)) context.Context {
	return context.WithValue(ctx, runKey, &runScope{job: job, offset: offset, add: add})
}

// JobFromContext returns the current Job, or nil outside a work function.
func JobFromContext(ctx context.Context) *core.Job {
	rs, _ := ctx.Value(runKey).(*runScope)
	if rs == nil {
		return nil
	}
	return rs.job
}

// JobIDFromContext returns the current job ID, or "" outside a work function.
func JobIDFromContext(ctx context.Context) string {
	job := JobFromContext(ctx)
	if job == nil {
		return ""
	}
	return job.ID
}

// OffsetFromContext returns the offset of the item being processed. The
// second return is false outside a work function.
func OffsetFromContext(ctx context.Context) (int, bool) {
	rs, _ := ctx.Value(runKey).(*runScope)
	if rs == nil {
		return 0, false
	}
	return rs.offset, true
}

// AddCounter adds delta to a named counter merged into the job's
// checkpoint on the next save. Outside a work function it silently does
// nothing, so helpers shared with non-job code stay safe.
func AddCounter(ctx context.Context, name string, delta int64) {
	rs, _ := ctx.Value(runKey).(*runScope)
	if rs == nil || rs.add == nil {
		return
	}
	rs.add(name, delta)
}

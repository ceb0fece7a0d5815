package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stintio/stint/pkg/checkpoint"
	"github.com/stintio/stint/pkg/core"
	"github.com/stintio/stint/pkg/jobctx"
	"github.com/stintio/stint/pkg/metrics"
	"github.com/stintio/stint/pkg/pace"
	"github.com/stintio/stint/pkg/quota"
	"github.com/stintio/stint/pkg/security"

	breakerpkg "github.com/stintio/stint/pkg/breaker"
)

// LockName returns the advisory lock name guarding a job's runs.
func LockName(jobID string) string {
	return core.LockName(jobID)
}

// Runner drives bounded runs: it loads the job's checkpoint, processes
// items in strict offset order under the time budget, and pauses with a
// saved checkpoint and an armed resumption whenever time, quota or a
// dependency's circuit blocks further progress.
type Runner struct {
	checkpoints *checkpoint.Store
	locker      core.Locker

	jobs      core.JobStore
	tracker   *quota.Tracker
	breaker   *breakerpkg.Breaker
	trigger   core.Trigger
	pacer     *pace.Pacer
	collector *metrics.Collector

	logger   *slog.Logger
	emit     func(core.Event)
	defaults RunConfig
	now      func() time.Time
}

// New creates a runner. The checkpoint store and locker are required;
// everything else is optional and wired with options.
func New(checkpoints *checkpoint.Store, locker core.Locker, opts ...Option) *Runner {
	r := &Runner{
		checkpoints: checkpoints,
		locker:      locker,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt.Apply(r)
	}
	r.defaults = r.defaults.withDefaults()
	return r
}

func (r *Runner) publish(e core.Event) {
	if r.emit != nil {
		r.emit(e)
	}
}

// run carries the state of one bounded invocation.
type run struct {
	job     *core.Job
	work    core.WorkFunc
	cfg     RunConfig
	cp      *core.Checkpoint
	started time.Time
	unsaved int
}

// Run executes one bounded run of the job. It returns a Report describing
// the outcome; an error return means the run aborted without mutating the
// persisted checkpoint (lock failure, storage failure, corrupt record) and
// a later trigger should retry.
func (r *Runner) Run(ctx context.Context, job *core.Job, work core.WorkFunc, opts ...RunOption) (*core.Report, error) {
	if job == nil || job.ID == "" {
		return nil, core.ErrJobNotFound
	}
	if work == nil {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownJobType, job.Type)
	}
	if job.ItemCount < 0 {
		return nil, core.ErrNegativeItemCount
	}

	cfg := r.defaults
	for _, opt := range opts {
		opt.Apply(&cfg)
	}
	cfg = cfg.withDefaults()

	ok, err := r.locker.Acquire(ctx, LockName(job.ID), cfg.LockTTL, cfg.LockWait)
	if err != nil {
		return nil, fmt.Errorf("acquire job lock: %w", err)
	}
	if !ok {
		// Another invocation is running this job; back off untouched.
		r.logger.Debug("job lock held elsewhere, skipping run", "job_id", job.ID)
		return &core.Report{JobID: job.ID, Status: core.RunSkipped}, nil
	}
	defer func() {
		if relErr := r.locker.Release(context.WithoutCancel(ctx), LockName(job.ID)); relErr != nil {
			r.logger.Error("failed to release job lock", "job_id", job.ID, "error", relErr)
		}
	}()

	cp, err := r.checkpoints.Load(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		cp = core.NewCheckpoint(job.ID)
	}
	switch cp.Status {
	case core.StatusCompleted:
		return r.completedReport(cp), nil
	case core.StatusFailed, core.StatusCancelled:
		return nil, fmt.Errorf("%w: job %q is %s", core.ErrJobNotResumable, job.ID, cp.Status)
	}

	if r.jobs != nil {
		if err := r.jobs.MarkRunning(ctx, job.ID); err != nil {
			return nil, err
		}
	}

	st := &run{
		job:     job,
		work:    work,
		cfg:     cfg,
		cp:      cp,
		started: r.now(),
	}
	cp.Status = core.StatusRunning
	cp.AddCounter(core.CounterRuns, 1)

	r.publish(&core.JobStarted{Job: job, Timestamp: st.started})
	r.logger.Info("run started",
		"job_id", job.ID,
		"type", job.Type,
		"offset", cp.LastCompletedOffset,
		"items", job.ItemCount)

	report, err := r.loop(ctx, st)
	if err != nil {
		return nil, err
	}
	if r.collector != nil {
		r.collector.RecordRun(string(report.Status), r.now().Sub(st.started).Seconds())
		if cfg.Budget != "" && r.tracker != nil {
			r.collector.SetQuotaRemaining(cfg.Budget, r.tracker.Remaining(cfg.Budget))
		}
	}
	return report, nil
}

func (r *Runner) loop(ctx context.Context, st *run) (*core.Report, error) {
	for {
		offset := st.cp.LastCompletedOffset + 1
		if offset >= st.job.ItemCount {
			// Covers the empty job and a source that shrank between runs.
			return r.finish(ctx, st)
		}

		// The time check runs every iteration because item durations vary.
		if r.now().Sub(st.started) >= st.cfg.TimeBudget-st.cfg.safetyMargin() {
			return r.pause(ctx, st, core.PauseTimeBudget, "", r.now().Add(st.cfg.ResumeDelay))
		}

		if st.cfg.Budget != "" && r.tracker != nil &&
			!r.tracker.CanSpend(st.cfg.Budget, st.cfg.CostPerItem) {
			if r.collector != nil {
				r.collector.RecordQuotaRejection(st.cfg.Budget)
			}
			return r.pause(ctx, st, core.PauseQuota, st.cfg.Budget, r.quotaResumeAt(st))
		}

		// Peek at the circuit without consuming the half-open trial; the
		// attempt's own Allow call does that.
		if st.cfg.Dependency != "" && r.breaker != nil &&
			r.breaker.State(st.cfg.Dependency) == breakerpkg.Open {
			if retryAt, open := r.breaker.RetryAt(st.cfg.Dependency); open && r.now().Before(retryAt) {
				return r.pause(ctx, st, core.PauseCircuit, st.cfg.Dependency, retryAt)
			}
		}

		err := r.processItem(ctx, st, offset)
		if err == nil {
			st.cp.LastCompletedOffset = offset
			st.cp.AddCounter(core.CounterItemsProcessed, 1)
			if r.collector != nil {
				r.collector.RecordItemProcessed()
			}
			if saveErr := r.maybeSave(ctx, st); saveErr != nil {
				return nil, saveErr
			}
			continue
		}

		var quotaErr *core.QuotaExceededError
		if errors.As(err, &quotaErr) {
			if r.collector != nil {
				r.collector.RecordQuotaRejection(quotaErr.Budget)
			}
			resumeAt := quotaErr.ResetAt
			if resumeAt.IsZero() {
				resumeAt = r.now().Add(st.cfg.ResumeDelay)
			}
			return r.pause(ctx, st, core.PauseQuota, quotaErr.Budget, resumeAt)
		}

		var circuitErr *core.CircuitOpenError
		if errors.As(err, &circuitErr) {
			resumeAt := circuitErr.RetryAt
			if resumeAt.IsZero() {
				resumeAt = r.now().Add(st.cfg.ResumeDelay)
			}
			return r.pause(ctx, st, core.PauseCircuit, circuitErr.Dependency, resumeAt)
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Host cancellation: abort without touching the checkpoint.
			return nil, err
		}

		report, fatalErr := r.itemFailed(ctx, st, offset, err)
		if fatalErr != nil {
			return nil, fatalErr
		}
		if report != nil {
			return report, nil
		}
	}
}

// processItem runs one item through the retry policy. Every attempt that
// can reach the dependency is individually paced, spent against the budget
// and recorded on the circuit.
func (r *Runner) processItem(ctx context.Context, st *run, offset int) error {
	itemCtx := jobctx.WithRun(ctx, st.job, offset, st.cp.AddCounter)

	return st.cfg.Retry.Execute(ctx, func() error {
		if r.pacer != nil && st.cfg.Dependency != "" {
			if err := r.pacer.Wait(ctx, st.cfg.Dependency); err != nil {
				return err
			}
		}
		if r.tracker != nil && st.cfg.Budget != "" {
			if err := r.tracker.Spend(st.cfg.Budget, st.cfg.CostPerItem); err != nil {
				return err
			}
		}
		if r.breaker != nil && st.cfg.Dependency != "" {
			if !r.breaker.Allow(st.cfg.Dependency) {
				retryAt, _ := r.breaker.RetryAt(st.cfg.Dependency)
				return &core.CircuitOpenError{Dependency: st.cfg.Dependency, RetryAt: retryAt}
			}
		}

		err := st.work(itemCtx, st.job, offset)
		if r.breaker != nil && st.cfg.Dependency != "" {
			if err != nil {
				r.breaker.RecordFailure(st.cfg.Dependency)
			} else {
				r.breaker.RecordSuccess(st.cfg.Dependency)
			}
		}
		return err
	}, st.cfg.Classifier)
}

// itemFailed applies the failure policy to a fatally failed item. It
// returns a terminal report when the policy aborts the job, nil to skip
// and continue.
func (r *Runner) itemFailed(ctx context.Context, st *run, offset int, itemErr error) (*core.Report, error) {
	st.cp.AddCounter(core.CounterItemsFailed, 1)
	if r.collector != nil {
		r.collector.RecordItemFailed()
	}
	r.publish(&core.ItemFailed{JobID: st.job.ID, Offset: offset, Error: itemErr, Timestamp: r.now()})
	r.logger.Warn("item failed",
		"job_id", st.job.ID,
		"offset", offset,
		"policy", string(st.cfg.OnFatal),
		"error", itemErr)

	if st.cfg.OnFatal == core.AbortJob {
		st.cp.Status = core.StatusFailed
		if err := r.checkpoints.Save(ctx, st.cp); err != nil {
			return nil, err
		}
		msg := security.SanitizeErrorMessage(itemErr.Error())
		if r.jobs != nil {
			if err := r.jobs.MarkFailed(ctx, st.job.ID, msg,
				st.cp.Counter(core.CounterItemsProcessed),
				st.cp.Counter(core.CounterItemsFailed)); err != nil {
				r.logger.Error("failed to mark job failed", "job_id", st.job.ID, "error", err)
			}
		}
		if r.trigger != nil {
			if err := r.trigger.Cancel(ctx, st.job.ID); err != nil {
				r.logger.Error("failed to cancel pending resumption", "job_id", st.job.ID, "error", err)
			}
		}
		r.publish(&core.JobFailed{Job: st.job, Error: itemErr, Timestamp: r.now()})

		report := r.report(st, core.RunFailed)
		report.Err = itemErr
		return report, nil
	}

	// Skip policy: the failed item is left behind and the offset advances.
	st.cp.LastCompletedOffset = offset
	if err := r.maybeSave(ctx, st); err != nil {
		return nil, err
	}
	return nil, nil
}

// maybeSave persists the checkpoint when the cadence is due.
func (r *Runner) maybeSave(ctx context.Context, st *run) error {
	st.unsaved++
	if st.unsaved < st.cfg.SaveEvery {
		return nil
	}
	if err := r.checkpoints.Save(ctx, st.cp); err != nil {
		return err
	}
	st.unsaved = 0
	r.publish(&core.CheckpointSaved{
		JobID:     st.job.ID,
		Offset:    st.cp.LastCompletedOffset,
		Status:    st.cp.Status,
		Timestamp: r.now(),
	})
	return nil
}

// pause saves the checkpoint, records the job transition and arms the
// resumption trigger, replacing any pending one.
func (r *Runner) pause(ctx context.Context, st *run, reason core.PauseReason, detail string, resumeAt time.Time) (*core.Report, error) {
	st.cp.Status = core.StatusPaused
	st.cp.AddCounter("paused:"+string(reason), 1)
	if err := r.checkpoints.Save(ctx, st.cp); err != nil {
		return nil, err
	}
	st.unsaved = 0
	r.publish(&core.CheckpointSaved{
		JobID:     st.job.ID,
		Offset:    st.cp.LastCompletedOffset,
		Status:    st.cp.Status,
		Timestamp: r.now(),
	})

	reasonDetail := string(reason)
	if detail != "" {
		reasonDetail += ":" + detail
	}
	if r.jobs != nil {
		if err := r.jobs.MarkPaused(ctx, st.job.ID, reasonDetail, resumeAt,
			st.cp.Counter(core.CounterItemsProcessed),
			st.cp.Counter(core.CounterItemsFailed)); err != nil {
			r.logger.Error("failed to mark job paused", "job_id", st.job.ID, "error", err)
		}
	}
	if r.trigger != nil {
		if err := r.trigger.Schedule(ctx, st.job.ID, resumeAt); err != nil {
			r.logger.Error("failed to arm resumption", "job_id", st.job.ID, "error", err)
		}
	}

	report := r.report(st, core.RunPaused)
	report.Reason = reason
	report.Detail = detail
	report.ResumeAt = resumeAt

	r.publish(&core.JobPaused{Job: st.job, Report: report, ResumeAt: resumeAt, Timestamp: r.now()})
	r.logger.Info("run paused",
		"job_id", st.job.ID,
		"reason", reasonDetail,
		"offset", st.cp.LastCompletedOffset,
		"resume_at", resumeAt)
	return report, nil
}

// finish completes the job: the job record keeps the terminal status and
// final counters, the compact checkpoint is deleted.
func (r *Runner) finish(ctx context.Context, st *run) (*core.Report, error) {
	st.cp.Status = core.StatusCompleted
	if r.jobs != nil {
		if err := r.jobs.MarkCompleted(ctx, st.job.ID,
			st.cp.Counter(core.CounterItemsProcessed),
			st.cp.Counter(core.CounterItemsFailed)); err != nil {
			return nil, err
		}
	}
	if err := r.checkpoints.Delete(ctx, st.job.ID); err != nil {
		r.logger.Error("failed to delete completed checkpoint", "job_id", st.job.ID, "error", err)
	}
	if r.trigger != nil {
		if err := r.trigger.Cancel(ctx, st.job.ID); err != nil {
			r.logger.Error("failed to cancel pending resumption", "job_id", st.job.ID, "error", err)
		}
	}

	report := r.report(st, core.RunCompleted)
	r.publish(&core.JobCompleted{
		Job:       st.job,
		Report:    report,
		Duration:  r.now().Sub(st.started),
		Timestamp: r.now(),
	})
	r.logger.Info("run completed",
		"job_id", st.job.ID,
		"processed", report.Counter(core.CounterItemsProcessed),
		"failed", report.Counter(core.CounterItemsFailed))
	return report, nil
}

func (r *Runner) quotaResumeAt(st *run) time.Time {
	if resetAt, ok := r.tracker.NextReset(st.cfg.Budget); ok {
		return resetAt
	}
	return r.now().Add(st.cfg.ResumeDelay)
}

func (r *Runner) report(st *run, status core.RunStatus) *core.Report {
	counters := make(map[string]int64, len(st.cp.Counters))
	for k, v := range st.cp.Counters {
		counters[k] = v
	}
	return &core.Report{
		JobID:               st.job.ID,
		Status:              status,
		LastCompletedOffset: st.cp.LastCompletedOffset,
		Counters:            counters,
	}
}

func (r *Runner) completedReport(cp *core.Checkpoint) *core.Report {
	counters := make(map[string]int64, len(cp.Counters))
	for k, v := range cp.Counters {
		counters[k] = v
	}
	return &core.Report{
		JobID:               cp.JobID,
		Status:              core.RunCompleted,
		LastCompletedOffset: cp.LastCompletedOffset,
		Counters:            counters,
	}
}

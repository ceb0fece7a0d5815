package trigger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/stintio/stint/pkg/core"
)

// RunFunc is invoked for each claimed resumption. Errors are logged, never
// fatal; the dispatcher re-arms the resumption so the job is retried on a
// later poll.
type RunFunc func(ctx context.Context, jobID string) error

// StaleReleaser sweeps expired lock leases and parks running jobs whose
// holder died, so a crashed process cannot wedge a job forever.
// Implemented by storage.Store.
type StaleReleaser interface {
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// DispatcherConfig holds dispatcher settings. Zero fields take defaults.
type DispatcherConfig struct {
	// PollInterval is how often due resumptions are claimed. Default 1s.
	PollInterval time.Duration
	// ClaimLimit caps resumptions claimed per poll. Default 10.
	ClaimLimit int
	// StaleSweepInterval is how often the stale sweep runs. Default 1m;
	// negative disables it. Ignored when no StaleReleaser is set.
	StaleSweepInterval time.Duration
	// StaleAfter is the lease age handed to the releaser. Default 10m.
	StaleAfter time.Duration
	// RetryDelay is how long a resumption waits after its run errored
	// before it is re-armed. Default 30s.
	RetryDelay time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ClaimLimit <= 0 {
		c.ClaimLimit = 10
	}
	if c.StaleSweepInterval == 0 {
		c.StaleSweepInterval = time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
	return c
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption interface {
	Apply(*Dispatcher)
}

type dispatcherOptionFunc func(*Dispatcher)

func (f dispatcherOptionFunc) Apply(d *Dispatcher) { f(d) }

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return dispatcherOptionFunc(func(d *Dispatcher) {
		d.logger = logger
	})
}

// WithStaleReleaser enables periodic stale-lease sweeping.
func WithStaleReleaser(r StaleReleaser) DispatcherOption {
	return dispatcherOptionFunc(func(d *Dispatcher) {
		d.releaser = r
	})
}

// Dispatcher polls a trigger for due resumptions and re-invokes the run
// function for each, one at a time. Claimed resumptions are dispatched
// exactly once per dispatcher; the job lock inside the run function keeps
// multiple dispatchers over shared storage safe.
type Dispatcher struct {
	trigger  core.Trigger
	run      RunFunc
	config   DispatcherConfig
	logger   *slog.Logger
	releaser StaleReleaser
	now      func() time.Time
}

// NewDispatcher creates a dispatcher over the given trigger.
func NewDispatcher(trg core.Trigger, run RunFunc, config DispatcherConfig, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		trigger: trg,
		run:     run,
		config:  config.withDefaults(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt.Apply(d)
	}
	return d
}

// Start polls until the context is cancelled. It blocks; run it in its own
// goroutine.
func (d *Dispatcher) Start(ctx context.Context) error {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	var sweep <-chan time.Time
	if d.releaser != nil && d.config.StaleSweepInterval > 0 {
		sweeper := time.NewTicker(d.config.StaleSweepInterval)
		defer sweeper.Stop()
		sweep = sweeper.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.dispatchDue(ctx)
		case <-sweep:
			released, err := d.releaser.ReleaseStale(ctx, d.config.StaleAfter)
			if err != nil {
				d.logger.Error("failed to release stale locks", "error", err)
			} else if released > 0 {
				d.logger.Warn("recovered stale locks and jobs", "count", released)
			}
		}
	}
}

func (d *Dispatcher) dispatchDue(ctx context.Context) {
	due, err := d.trigger.Claim(ctx, d.now(), d.config.ClaimLimit)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			d.logger.Error("failed to claim due resumptions", "error", err)
		}
		return
	}

	for _, r := range due {
		if err := d.run(ctx, r.JobID); err != nil {
			d.logger.Error("resumed run failed", "job_id", r.JobID, "error", err)
			if errors.Is(err, core.ErrJobNotFound) || errors.Is(err, core.ErrJobNotResumable) {
				continue
			}
			// The claim consumed the resumption; arm it again or the job
			// would wait forever on a transient failure.
			if serr := d.trigger.Schedule(ctx, r.JobID, d.now().Add(d.config.RetryDelay)); serr != nil {
				d.logger.Error("failed to re-arm resumption", "job_id", r.JobID, "error", serr)
			}
		}
	}
}

package runner

import (
	"log/slog"
	"time"

	"github.com/stintio/stint/pkg/core"
	"github.com/stintio/stint/pkg/metrics"
	"github.com/stintio/stint/pkg/pace"
	"github.com/stintio/stint/pkg/quota"
	"github.com/stintio/stint/pkg/retry"

	breakerpkg "github.com/stintio/stint/pkg/breaker"
)

// Default run settings.
var (
	DefaultTimeBudget     = 5 * time.Minute
	DefaultSafetyFraction = 0.15
	DefaultSaveEvery      = 10
	DefaultResumeDelay    = time.Minute
	DefaultLockTTL        = 10 * time.Minute
	DefaultLockWait       = 5 * time.Second
)

// RunConfig holds the per-run policy. Zero fields take the defaults; each
// Run starts from the runner's defaults and applies its RunOptions on top.
type RunConfig struct {
	// TimeBudget is the wall-clock ceiling for one bounded run.
	TimeBudget time.Duration
	// SafetyFraction is the share of TimeBudget reserved to checkpoint
	// and return cleanly before the host terminates the run.
	SafetyFraction float64
	// SaveEvery is the checkpoint save cadence in completed items.
	SaveEvery int
	// ResumeDelay is how long after a time-budget pause the resumption
	// trigger fires.
	ResumeDelay time.Duration
	// LockTTL is the advisory lock lease. Values shorter than the time
	// budget plus its safety margin are raised to that floor.
	LockTTL time.Duration
	// LockWait bounds how long a run waits for the job lock.
	LockWait time.Duration

	// Retry wraps each work item call.
	Retry retry.Policy
	// Classifier decides which item errors retry. Nil uses the default.
	Classifier retry.Classifier

	// Budget names the quota budget each attempt spends against, with
	// CostPerItem units per attempt. Empty means unmetered.
	Budget      string
	CostPerItem int64

	// Dependency names the circuit and pacing key for the remote resource
	// the work function calls. Empty disables both.
	Dependency string

	// OnFatal decides whether a fatally failed item is skipped or aborts
	// the job.
	OnFatal core.FailurePolicy
}

func (c RunConfig) withDefaults() RunConfig {
	if c.TimeBudget <= 0 {
		c.TimeBudget = DefaultTimeBudget
	}
	if c.SafetyFraction <= 0 || c.SafetyFraction >= 1 {
		c.SafetyFraction = DefaultSafetyFraction
	}
	if c.SaveEvery <= 0 {
		c.SaveEvery = DefaultSaveEvery
	}
	if c.ResumeDelay <= 0 {
		c.ResumeDelay = DefaultResumeDelay
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	// The lease must outlast the run or a concurrent invocation could
	// steal the lock mid-run.
	if min := c.TimeBudget + c.safetyMargin(); c.LockTTL < min {
		c.LockTTL = min
	}
	if c.LockWait < 0 {
		c.LockWait = DefaultLockWait
	}
	if c.CostPerItem <= 0 {
		c.CostPerItem = 1
	}
	if c.OnFatal == "" {
		c.OnFatal = core.SkipItem
	}
	return c
}

// safetyMargin is the slice of the budget reserved for a clean return.
func (c RunConfig) safetyMargin() time.Duration {
	return time.Duration(float64(c.TimeBudget) * c.SafetyFraction)
}

// RunOption adjusts the policy for one run.
type RunOption interface {
	Apply(*RunConfig)
}

type runOptionFunc func(*RunConfig)

func (f runOptionFunc) Apply(c *RunConfig) { f(c) }

// WithTimeBudget sets the run's wall-clock ceiling.
func WithTimeBudget(d time.Duration) RunOption {
	return runOptionFunc(func(c *RunConfig) { c.TimeBudget = d })
}

// WithSafetyFraction sets the share of the budget reserved for returning.
func WithSafetyFraction(f float64) RunOption {
	return runOptionFunc(func(c *RunConfig) { c.SafetyFraction = f })
}

// WithSaveEvery sets the checkpoint save cadence in items.
func WithSaveEvery(n int) RunOption {
	return runOptionFunc(func(c *RunConfig) { c.SaveEvery = n })
}

// WithResumeDelay sets the trigger delay after a time-budget pause.
func WithResumeDelay(d time.Duration) RunOption {
	return runOptionFunc(func(c *RunConfig) { c.ResumeDelay = d })
}

// WithLockWait bounds the wait for the job lock.
func WithLockWait(d time.Duration) RunOption {
	return runOptionFunc(func(c *RunConfig) { c.LockWait = d })
}

// WithBudget meters each attempt against the named budget at the given
// cost. Every retry that reaches the dependency spends again.
func WithBudget(name string, costPerItem int64) RunOption {
	return runOptionFunc(func(c *RunConfig) {
		c.Budget = name
		c.CostPerItem = costPerItem
	})
}

// WithDependency names the circuit and pacing key for the run's remote
// resource.
func WithDependency(name string) RunOption {
	return runOptionFunc(func(c *RunConfig) { c.Dependency = name })
}

// WithRetry sets the per-item retry policy.
func WithRetry(p retry.Policy) RunOption {
	return runOptionFunc(func(c *RunConfig) { c.Retry = p })
}

// WithClassifier sets the error classifier handed to the retry policy.
func WithClassifier(fn retry.Classifier) RunOption {
	return runOptionFunc(func(c *RunConfig) { c.Classifier = fn })
}

// WithFailurePolicy decides what a fatal item failure does to the job.
func WithFailurePolicy(p core.FailurePolicy) RunOption {
	return runOptionFunc(func(c *RunConfig) { c.OnFatal = p })
}

// Option configures a Runner.
type Option interface {
	Apply(*Runner)
}

type optionFunc func(*Runner)

func (f optionFunc) Apply(r *Runner) { f(r) }

// WithJobStore keeps job records in step with run transitions.
func WithJobStore(s core.JobStore) Option {
	return optionFunc(func(r *Runner) { r.jobs = s })
}

// WithQuota sets the shared quota tracker.
func WithQuota(t *quota.Tracker) Option {
	return optionFunc(func(r *Runner) { r.tracker = t })
}

// WithBreaker sets the shared circuit breaker.
func WithBreaker(b *breakerpkg.Breaker) Option {
	return optionFunc(func(r *Runner) { r.breaker = b })
}

// WithTrigger sets the resumption trigger armed on pauses.
func WithTrigger(t core.Trigger) Option {
	return optionFunc(func(r *Runner) { r.trigger = t })
}

// WithPacer smooths per-dependency call rates.
func WithPacer(p *pace.Pacer) Option {
	return optionFunc(func(r *Runner) { r.pacer = p })
}

// WithMetrics publishes run metrics to the collector.
func WithMetrics(c *metrics.Collector) Option {
	return optionFunc(func(r *Runner) { r.collector = c })
}

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(r *Runner) { r.logger = logger })
}

// WithEmitter forwards run events to fn. The engine wires its event hub
// through this.
func WithEmitter(fn func(core.Event)) Option {
	return optionFunc(func(r *Runner) { r.emit = fn })
}

// WithDefaults replaces the runner's base run configuration.
func WithDefaults(cfg RunConfig) Option {
	return optionFunc(func(r *Runner) { r.defaults = cfg })
}

package stint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stintio/stint/pkg/checkpoint"
	"github.com/stintio/stint/pkg/core"
	"github.com/stintio/stint/pkg/metrics"
	"github.com/stintio/stint/pkg/pace"
	"github.com/stintio/stint/pkg/quota"
	"github.com/stintio/stint/pkg/runner"
	"github.com/stintio/stint/pkg/security"
	"github.com/stintio/stint/pkg/trigger"

	breakerpkg "github.com/stintio/stint/pkg/breaker"
)

// Backend is the combined persistence surface the engine runs on.
// storage.Store implements all of it over one GORM database.
type Backend interface {
	core.JobStore
	core.KV
	core.Locker
	core.Trigger
}

type handler struct {
	work core.WorkFunc
	opts []runner.RunOption
}

// Engine ties the persistence backend, the run orchestrator, and the shared
// protection state (quota budgets, circuit breakers, pacing) into one facade.
// One Engine per process is the intended shape; the shared state is what
// makes quota accounting hold across every job the process runs.
type Engine struct {
	backend   Backend
	runner    *runner.Runner
	tracker   *quota.Tracker
	breaker   *breakerpkg.Breaker
	pacer     *pace.Pacer
	collector *metrics.Collector
	logger    *slog.Logger

	dispatcher trigger.DispatcherConfig

	mu        sync.RWMutex
	handlers  map[string]*handler
	eventSubs []chan core.Event
}

// EngineOption configures an Engine.
type EngineOption interface {
	apply(*engineConfig)
}

type engineConfig struct {
	logger        *slog.Logger
	breakerConfig breakerpkg.Config
	registerer    prometheus.Registerer
	runDefaults   runner.RunConfig
	dispatcher    trigger.DispatcherConfig
}

type engineOptionFunc func(*engineConfig)

func (f engineOptionFunc) apply(c *engineConfig) { f(c) }

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return engineOptionFunc(func(c *engineConfig) { c.logger = logger })
}

// WithBreakerConfig sets the shared circuit breaker thresholds.
func WithBreakerConfig(cfg breakerpkg.Config) EngineOption {
	return engineOptionFunc(func(c *engineConfig) { c.breakerConfig = cfg })
}

// WithMetricsRegisterer registers the engine's metrics with reg instead of
// the default prometheus registry.
func WithMetricsRegisterer(reg prometheus.Registerer) EngineOption {
	return engineOptionFunc(func(c *engineConfig) { c.registerer = reg })
}

// WithRunDefaults sets the base run policy applied before per-registration
// options.
func WithRunDefaults(cfg runner.RunConfig) EngineOption {
	return engineOptionFunc(func(c *engineConfig) { c.runDefaults = cfg })
}

// WithDispatcher sets the resumption dispatcher's polling configuration.
func WithDispatcher(cfg trigger.DispatcherConfig) EngineOption {
	return engineOptionFunc(func(c *engineConfig) { c.dispatcher = cfg })
}

// NewEngine creates an Engine over the given backend.
func NewEngine(backend Backend, opts ...EngineOption) *Engine {
	cfg := engineConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	e := &Engine{
		backend:    backend,
		tracker:    quota.NewTracker(),
		pacer:      pace.New(),
		collector:  metrics.NewCollector(cfg.registerer),
		logger:     cfg.logger,
		dispatcher: cfg.dispatcher,
		handlers:   make(map[string]*handler),
	}

	e.breaker = breakerpkg.New(cfg.breakerConfig,
		breakerpkg.WithStateChange(e.onBreakerChange))

	e.runner = runner.New(checkpoint.NewStore(backend), backend,
		runner.WithJobStore(backend),
		runner.WithTrigger(backend),
		runner.WithQuota(e.tracker),
		runner.WithBreaker(e.breaker),
		runner.WithPacer(e.pacer),
		runner.WithMetrics(e.collector),
		runner.WithLogger(cfg.logger),
		runner.WithEmitter(e.Emit),
		runner.WithDefaults(cfg.runDefaults),
	)

	return e
}

// Migrate creates the backend's tables.
func (e *Engine) Migrate(ctx context.Context) error {
	return e.backend.Migrate(ctx)
}

// Quota is the engine's shared budget tracker. Register budgets here before
// referencing them from a job registration.
func (e *Engine) Quota() *quota.Tracker { return e.tracker }

// Breaker is the engine's shared circuit breaker.
func (e *Engine) Breaker() *breakerpkg.Breaker { return e.breaker }

// Pacer is the engine's shared per-dependency rate smoother.
func (e *Engine) Pacer() *pace.Pacer { return e.pacer }

// Metrics is the engine's metrics collector.
func (e *Engine) Metrics() *metrics.Collector { return e.collector }

// Register installs the work function for a job type, with the run options
// applied to every run of that type.
func (e *Engine) Register(jobType string, work core.WorkFunc, opts ...runner.RunOption) error {
	if err := security.ValidateJobTypeName(jobType); err != nil {
		return err
	}
	if work == nil {
		return fmt.Errorf("stint: nil work function for job type %q", jobType)
	}

	// Catch misspelled budget or dependency names at registration rather
	// than as silently unmetered runs.
	var cfg runner.RunConfig
	for _, opt := range opts {
		opt.Apply(&cfg)
	}
	if cfg.Budget != "" {
		if err := security.ValidateBudgetName(cfg.Budget); err != nil {
			return err
		}
	}
	if cfg.Dependency != "" {
		if err := security.ValidateDependencyName(cfg.Dependency); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[jobType] = &handler{work: work, opts: opts}
	return nil
}

// SubmitOption adjusts one submission.
type SubmitOption interface {
	applySubmit(*core.Job)
}

type submitOptionFunc func(*core.Job)

func (f submitOptionFunc) applySubmit(j *core.Job) { f(j) }

// WithUniqueKey deduplicates submissions: a second live job with the same
// key is rejected with ErrDuplicateJob.
func WithUniqueKey(key string) SubmitOption {
	return submitOptionFunc(func(j *core.Job) { j.UniqueKey = key })
}

// Submit persists a new job of the given type. Args are JSON-marshaled onto
// the job record; itemCount fixes the number of ordered items the work
// function will be called for.
func (e *Engine) Submit(ctx context.Context, jobType string, args any, itemCount int, opts ...SubmitOption) (*core.Job, error) {
	if err := security.ValidateJobTypeName(jobType); err != nil {
		return nil, err
	}
	if itemCount < 0 {
		return nil, core.ErrNegativeItemCount
	}

	e.mu.RLock()
	_, registered := e.handlers[jobType]
	e.mu.RUnlock()
	if !registered {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownJobType, jobType)
	}

	var raw []byte
	if args != nil {
		var err error
		raw, err = json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("stint: marshal job args: %w", err)
		}
	}
	if err := security.ValidateJobArgs(raw); err != nil {
		return nil, err
	}

	job := &core.Job{
		Type:      jobType,
		Args:      raw,
		ItemCount: itemCount,
	}
	for _, opt := range opts {
		opt.applySubmit(job)
	}

	if err := e.backend.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	e.logger.Info("job submitted", "job_id", job.ID, "type", jobType, "items", itemCount)
	return job, nil
}

// Run executes one bounded run of the job, resolving the registered work
// function for its type. It returns when the job completes, pauses, fails,
// or the lock is contended.
func (e *Engine) Run(ctx context.Context, jobID string) (*core.Report, error) {
	job, err := e.backend.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}

	e.mu.RLock()
	h := e.handlers[job.Type]
	e.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownJobType, job.Type)
	}

	return e.runner.Run(ctx, job, h.work, h.opts...)
}

// Start runs the resumption dispatcher until ctx is cancelled, claiming due
// resumptions and running each job in turn. The backend's stale lock leases
// are swept on the dispatcher's schedule.
func (e *Engine) Start(ctx context.Context) error {
	run := func(ctx context.Context, jobID string) error {
		_, err := e.Run(ctx, jobID)
		return err
	}

	opts := []trigger.DispatcherOption{trigger.WithLogger(e.logger)}
	if sr, ok := e.backend.(trigger.StaleReleaser); ok {
		opts = append(opts, trigger.WithStaleReleaser(sr))
	}

	d := trigger.NewDispatcher(e.backend, run, e.dispatcher, opts...)
	return d.Start(ctx)
}

// Cancel terminates a job that has not finished. Its checkpoint and any
// pending resumption are removed; the job record keeps its counters.
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	if err := e.backend.MarkCancelled(ctx, jobID); err != nil {
		return err
	}
	if err := e.backend.Cancel(ctx, jobID); err != nil {
		return err
	}
	if err := checkpoint.NewStore(e.backend).Delete(ctx, jobID); err != nil {
		return err
	}
	e.logger.Info("job cancelled", "job_id", jobID)
	return nil
}

// Job retrieves a job record, nil when absent.
func (e *Engine) Job(ctx context.Context, jobID string) (*core.Job, error) {
	return e.backend.GetJob(ctx, jobID)
}

// Jobs lists job records by status, newest first. An empty status lists all.
func (e *Engine) Jobs(ctx context.Context, status core.JobStatus, limit int) ([]*core.Job, error) {
	return e.backend.ListJobs(ctx, status, limit)
}

// Events returns a channel for receiving engine events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (e *Engine) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	e.mu.Lock()
	e.eventSubs = append(e.eventSubs, ch)
	e.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events(). The channel
// is not closed; callers must stop reading before calling Unsubscribe.
func (e *Engine) Unsubscribe(ch <-chan core.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, sub := range e.eventSubs {
		if sub == ch {
			e.eventSubs = append(e.eventSubs[:i], e.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit broadcasts an event to all subscribers without blocking. Events to a
// full subscriber channel are dropped rather than stalling a run.
func (e *Engine) Emit(evt core.Event) {
	e.mu.RLock()
	subs := make([]chan core.Event, len(e.eventSubs))
	copy(subs, e.eventSubs)
	e.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (e *Engine) onBreakerChange(dependency string, from, to breakerpkg.State, retryAt time.Time) {
	e.collector.RecordBreakerTransition(dependency, string(to))
	switch to {
	case breakerpkg.Open:
		e.logger.Warn("circuit opened", "dependency", dependency, "retry_at", retryAt)
		e.Emit(&core.CircuitOpened{Dependency: dependency, RetryAt: retryAt, Timestamp: time.Now()})
	case breakerpkg.Closed:
		e.logger.Info("circuit closed", "dependency", dependency)
		e.Emit(&core.CircuitClosed{Dependency: dependency, Timestamp: time.Now()})
	}
}

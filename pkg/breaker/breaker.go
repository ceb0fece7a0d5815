package breaker

import (
	"sort"
	"sync"
	"time"
)

// State of one dependency's circuit.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Default thresholds.
var (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 3
	DefaultCooldown         = 30 * time.Second
)

// Config holds breaker thresholds. Zero fields take the defaults.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes
	// that closes it again.
	SuccessThreshold int
	// Cooldown is how long an open circuit rejects calls before allowing
	// a trial.
	Cooldown time.Duration
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		SuccessThreshold: DefaultSuccessThreshold,
		Cooldown:         DefaultCooldown,
	}
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	return c
}

// circuit is the fault state of one dependency.
type circuit struct {
	state               State
	consecutiveFailures int
	halfOpenSuccesses   int
	openedAt            time.Time
	trialInFlight       bool
}

// Circuit is a point-in-time view of one dependency's circuit.
type Circuit struct {
	Dependency          string
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// StateChangeFunc observes circuit transitions. retryAt is set when the new
// state is Open.
type StateChangeFunc func(dependency string, from, to State, retryAt time.Time)

// Option configures a Breaker.
type Option interface {
	Apply(*Breaker)
}

type optionFunc func(*Breaker)

func (f optionFunc) Apply(b *Breaker) { f(b) }

// WithStateChange installs an observer for circuit transitions. The
// observer runs with the breaker lock held and must not call back in.
func WithStateChange(fn StateChangeFunc) Option {
	return optionFunc(func(b *Breaker) {
		b.onChange = fn
	})
}

// Breaker tracks per-dependency circuits, created lazily on first use.
// All methods are safe for concurrent use.
type Breaker struct {
	mu       sync.Mutex
	config   Config
	circuits map[string]*circuit
	now      func() time.Time
	onChange StateChangeFunc
}

// New creates a breaker with the given configuration.
func New(config Config, opts ...Option) *Breaker {
	b := &Breaker{
		config:   config.withDefaults(),
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt.Apply(b)
	}
	return b
}

func (b *Breaker) circuit(dependency string) *circuit {
	c, ok := b.circuits[dependency]
	if !ok {
		c = &circuit{state: Closed}
		b.circuits[dependency] = c
	}
	return c
}

func (b *Breaker) transition(dependency string, c *circuit, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	if b.onChange != nil {
		var retryAt time.Time
		if to == Open {
			retryAt = c.openedAt.Add(b.config.Cooldown)
		}
		b.onChange(dependency, from, to, retryAt)
	}
}

// Allow reports whether a call to the dependency may proceed. An open
// circuit rejects until its cooldown elapses, then half-opens and admits
// the single trial call. A rejected call is a fast-reject, not a work
// failure; callers must not count it against the item's retry budget.
func (b *Breaker) Allow(dependency string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(dependency)
	switch c.state {
	case Closed:
		return true
	case Open:
		if b.now().Before(c.openedAt.Add(b.config.Cooldown)) {
			return false
		}
		c.halfOpenSuccesses = 0
		c.trialInFlight = true
		b.transition(dependency, c, HalfOpen)
		return true
	case HalfOpen:
		if c.trialInFlight {
			return false
		}
		c.trialInFlight = true
		return true
	}
	return true
}

// RecordSuccess records a successful call to the dependency.
func (b *Breaker) RecordSuccess(dependency string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(dependency)
	c.consecutiveFailures = 0
	if c.state != HalfOpen {
		return
	}
	c.trialInFlight = false
	c.halfOpenSuccesses++
	if c.halfOpenSuccesses >= b.config.SuccessThreshold {
		c.halfOpenSuccesses = 0
		b.transition(dependency, c, Closed)
	}
}

// RecordFailure records a failed call to the dependency. The circuit opens
// on the failure that reaches the threshold, and reopens immediately on a
// failed half-open trial.
func (b *Breaker) RecordFailure(dependency string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(dependency)
	c.consecutiveFailures++
	switch c.state {
	case Closed:
		if c.consecutiveFailures >= b.config.FailureThreshold {
			c.openedAt = b.now()
			b.transition(dependency, c, Open)
		}
	case HalfOpen:
		c.trialInFlight = false
		c.halfOpenSuccesses = 0
		c.openedAt = b.now()
		b.transition(dependency, c, Open)
	}
}

// State returns the dependency's current state. The open to half-open
// transition happens on the first Allow after the cooldown, not here.
func (b *Breaker) State(dependency string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[dependency]
	if !ok {
		return Closed
	}
	return c.state
}

// RetryAt returns the earliest instant a rejected dependency may admit a
// call again. The second return is false when the circuit is closed.
func (b *Breaker) RetryAt(dependency string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[dependency]
	if !ok {
		return time.Time{}, false
	}
	switch c.state {
	case Open:
		return c.openedAt.Add(b.config.Cooldown), true
	case HalfOpen:
		return b.now().Add(b.config.Cooldown), true
	}
	return time.Time{}, false
}

// Snapshot returns a view of every known circuit, sorted by dependency.
func (b *Breaker) Snapshot() []Circuit {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Circuit, 0, len(b.circuits))
	for dep, c := range b.circuits {
		out = append(out, Circuit{
			Dependency:          dep,
			State:               c.state,
			ConsecutiveFailures: c.consecutiveFailures,
			OpenedAt:            c.openedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dependency < out[j].Dependency })
	return out
}

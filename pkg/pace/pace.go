package pace

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Pacer smooths the call rate to named dependencies. Quota budgets bound
// how much a window may spend; the pacer bounds how fast those spends
// arrive. Dependencies without a configured rate are unlimited.
type Pacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates an empty pacer.
func New() *Pacer {
	return &Pacer{limiters: make(map[string]*rate.Limiter)}
}

// Set configures the dependency's sustained rate in calls per second and
// its burst size. A burst below 1 is raised to 1 so the limiter can admit
// anything at all. Re-setting replaces the previous limiter.
func (p *Pacer) Set(dependency string, callsPerSecond float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limiters[dependency] = rate.NewLimiter(rate.Limit(callsPerSecond), burst)
}

// Wait blocks until the dependency's limiter admits one call or the
// context ends. Unknown dependencies return immediately.
func (p *Pacer) Wait(ctx context.Context, dependency string) error {
	p.mu.Lock()
	l, ok := p.limiters[dependency]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}

// Allow reports whether one call to the dependency may proceed right now,
// consuming a token when it may. Unknown dependencies are always allowed.
func (p *Pacer) Allow(dependency string) bool {
	p.mu.Lock()
	l, ok := p.limiters[dependency]
	p.mu.Unlock()
	if !ok {
		return true
	}
	return l.Allow()
}

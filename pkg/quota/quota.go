package quota

import (
	"sort"
	"sync"
	"time"

	"github.com/stintio/stint/pkg/core"
	"github.com/stintio/stint/pkg/window"
)

// budget is one named, time-windowed spend counter.
type budget struct {
	limit       int64
	consumed    int64
	boundary    window.Boundary
	windowStart time.Time
	resetAt     time.Time
}

// roll applies a pending window reset. Callers hold the tracker mutex.
func (b *budget) roll(now time.Time) {
	if now.Before(b.resetAt) {
		return
	}
	b.windowStart = b.resetAt
	b.consumed = 0
	b.resetAt = b.boundary.Next(now)
}

// Budget is a point-in-time view of one named budget.
type Budget struct {
	Name        string
	Limit       int64
	Consumed    int64
	WindowStart time.Time
	ResetAt     time.Time
}

// Tracker tracks consumption against named budgets. All methods are safe
// for concurrent use. Spending against a name that was never registered is
// unlimited, so callers can wire budgets only for the resources that have
// real quotas.
type Tracker struct {
	mu      sync.Mutex
	budgets map[string]*budget
	now     func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		budgets: make(map[string]*budget),
		now:     time.Now,
	}
}

// Add registers a budget with its limit and reset boundary. Re-adding an
// existing name updates the limit and boundary but keeps the consumption
// already recorded in the current window.
func (t *Tracker) Add(name string, limit int64, b window.Boundary) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if existing, ok := t.budgets[name]; ok {
		existing.limit = limit
		existing.boundary = b
		existing.resetAt = b.Next(now)
		return
	}
	t.budgets[name] = &budget{
		limit:       limit,
		boundary:    b,
		windowStart: now,
		resetAt:     b.Next(now),
	}
}

// CanSpend reports whether amount more units fit in the budget's current
// window. Unregistered budgets always fit.
func (t *Tracker) CanSpend(name string, amount int64) bool {
	if amount < 1 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.budgets[name]
	if !ok {
		return true
	}
	b.roll(t.now())
	return b.consumed+amount <= b.limit
}

// Spend records a spend against the budget. It fails with
// *core.QuotaExceededError when the spend would cross the limit; the
// tracker never clamps silently, callers check-then-spend.
func (t *Tracker) Spend(name string, amount int64) error {
	if amount < 1 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.budgets[name]
	if !ok {
		return nil
	}
	b.roll(t.now())
	if b.consumed+amount > b.limit {
		return &core.QuotaExceededError{
			Budget:    name,
			Requested: amount,
			Remaining: b.limit - b.consumed,
			ResetAt:   b.resetAt,
		}
	}
	b.consumed += amount
	return nil
}

// Remaining returns the unspent units in the budget's current window, or
// -1 when the budget is not registered.
func (t *Tracker) Remaining(name string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.budgets[name]
	if !ok {
		return -1
	}
	b.roll(t.now())
	return b.limit - b.consumed
}

// NextReset returns the instant the budget's current window resets. The
// second return is false for unregistered budgets.
func (t *Tracker) NextReset(name string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.budgets[name]
	if !ok {
		return time.Time{}, false
	}
	b.roll(t.now())
	return b.resetAt, true
}

// Reset clears the budget's consumption immediately and starts a fresh
// window. Used when the real resource's reset is observed out of band.
func (t *Tracker) Reset(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.budgets[name]
	if !ok {
		return
	}
	now := t.now()
	b.consumed = 0
	b.windowStart = now
	b.resetAt = b.boundary.Next(now)
}

// Snapshot returns a view of every registered budget, sorted by name.
func (t *Tracker) Snapshot() []Budget {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := make([]Budget, 0, len(t.budgets))
	for name, b := range t.budgets {
		b.roll(now)
		out = append(out, Budget{
			Name:        name,
			Limit:       b.limit,
			Consumed:    b.consumed,
			WindowStart: b.windowStart,
			ResetAt:     b.resetAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

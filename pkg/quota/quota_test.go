package quota

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stintio/stint/pkg/core"
	"github.com/stintio/stint/pkg/window"
)

func TestTracker_UnknownBudgetIsUnlimited(t *testing.T) {
	tr := NewTracker()

	assert.True(t, tr.CanSpend("never_registered", 1000000))
	assert.NoError(t, tr.Spend("never_registered", 1000000))
	assert.Equal(t, int64(-1), tr.Remaining("never_registered"))

	_, ok := tr.NextReset("never_registered")
	assert.False(t, ok)
}

func TestTracker_CanSpend(t *testing.T) {
	tr := NewTracker()
	tr.Add("email_sends", 10, window.Daily(0, 0))

	assert.True(t, tr.CanSpend("email_sends", 1))
	assert.True(t, tr.CanSpend("email_sends", 10))
	assert.False(t, tr.CanSpend("email_sends", 11))
}

func TestTracker_SpendRecordsConsumption(t *testing.T) {
	tr := NewTracker()
	tr.Add("email_sends", 10, window.Daily(0, 0))

	require.NoError(t, tr.Spend("email_sends", 3))
	assert.Equal(t, int64(7), tr.Remaining("email_sends"))

	require.NoError(t, tr.Spend("email_sends", 7))
	assert.Equal(t, int64(0), tr.Remaining("email_sends"))
	assert.False(t, tr.CanSpend("email_sends", 1))
}

func TestTracker_SpendPastLimitFails(t *testing.T) {
	tr := NewTracker()
	tr.Add("email_sends", 5, window.Daily(0, 0))
	require.NoError(t, tr.Spend("email_sends", 5))

	err := tr.Spend("email_sends", 1)
	require.Error(t, err)

	var quotaErr *core.QuotaExceededError
	require.True(t, errors.As(err, &quotaErr))
	assert.Equal(t, "email_sends", quotaErr.Budget)
	assert.Equal(t, int64(1), quotaErr.Requested)
	assert.Equal(t, int64(0), quotaErr.Remaining)
	assert.False(t, quotaErr.ResetAt.IsZero())

	// A rejected spend does not change consumption.
	assert.Equal(t, int64(0), tr.Remaining("email_sends"))
}

func TestTracker_SpendNeverPartiallyApplies(t *testing.T) {
	tr := NewTracker()
	tr.Add("reads", 10, window.Daily(0, 0))
	require.NoError(t, tr.Spend("reads", 8))

	// 3 units do not fit; nothing is consumed.
	err := tr.Spend("reads", 3)
	require.Error(t, err)
	assert.Equal(t, int64(2), tr.Remaining("reads"))
}

func TestTracker_ZeroAmountAlwaysFits(t *testing.T) {
	tr := NewTracker()
	tr.Add("reads", 0, window.Daily(0, 0))

	assert.True(t, tr.CanSpend("reads", 0))
	assert.NoError(t, tr.Spend("reads", 0))
	assert.False(t, tr.CanSpend("reads", 1))
}

func TestTracker_FixedBoundaryResetsAtClockInstant(t *testing.T) {
	current := time.Date(2024, 1, 1, 23, 50, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = func() time.Time { return current }
	tr.Add("email_sends", 5, window.Daily(0, 0))

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.Spend("email_sends", 1))
	}
	assert.False(t, tr.CanSpend("email_sends", 1))

	// Crossing midnight resets the window, ten minutes later.
	current = current.Add(20 * time.Minute)
	assert.True(t, tr.CanSpend("email_sends", 1))
	assert.Equal(t, int64(5), tr.Remaining("email_sends"))

	reset, ok := tr.NextReset("email_sends")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), reset)
}

func TestTracker_RollingWindowDoesNotResetAtClockInstant(t *testing.T) {
	current := time.Date(2024, 1, 1, 23, 50, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = func() time.Time { return current }
	tr.Add("email_sends", 5, window.Every(24*time.Hour))

	require.NoError(t, tr.Spend("email_sends", 5))

	// Midnight passes but the rolling window has almost a day to go.
	current = current.Add(20 * time.Minute)
	assert.False(t, tr.CanSpend("email_sends", 1))
	assert.Equal(t, int64(0), tr.Remaining("email_sends"))
}

func TestTracker_TimeZonePinnedBoundary(t *testing.T) {
	// Resource resets at midnight PST (08:00 UTC).
	pst := time.FixedZone("PST", -8*3600)
	current := time.Date(2024, 1, 1, 7, 50, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = func() time.Time { return current }
	tr.Add("api_reads", 3, window.DailyIn(0, 0, pst))

	require.NoError(t, tr.Spend("api_reads", 3))
	assert.False(t, tr.CanSpend("api_reads", 1))

	current = time.Date(2024, 1, 1, 8, 10, 0, 0, time.UTC)
	assert.True(t, tr.CanSpend("api_reads", 3))
}

func TestTracker_LongIdleRollsSingleWindow(t *testing.T) {
	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = func() time.Time { return current }
	tr.Add("email_sends", 5, window.Daily(0, 0))
	require.NoError(t, tr.Spend("email_sends", 5))

	// A week idle; the next reset is computed from now, not replayed
	// day by day.
	current = current.AddDate(0, 0, 7)
	assert.Equal(t, int64(5), tr.Remaining("email_sends"))

	reset, ok := tr.NextReset("email_sends")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC), reset)
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker()
	tr.Add("email_sends", 5, window.Daily(0, 0))
	require.NoError(t, tr.Spend("email_sends", 5))
	assert.False(t, tr.CanSpend("email_sends", 1))

	tr.Reset("email_sends")
	assert.Equal(t, int64(5), tr.Remaining("email_sends"))
}

func TestTracker_AddReplacesLimitKeepsConsumption(t *testing.T) {
	tr := NewTracker()
	tr.Add("email_sends", 5, window.Daily(0, 0))
	require.NoError(t, tr.Spend("email_sends", 4))

	tr.Add("email_sends", 10, window.Daily(0, 0))
	assert.Equal(t, int64(6), tr.Remaining("email_sends"))
}

func TestTracker_MultipleBudgetsAreIndependent(t *testing.T) {
	tr := NewTracker()
	tr.Add("email_sends", 2, window.Daily(0, 0))
	tr.Add("api_reads", 100, window.Daily(8, 0))

	require.NoError(t, tr.Spend("email_sends", 2))
	assert.False(t, tr.CanSpend("email_sends", 1))
	assert.True(t, tr.CanSpend("api_reads", 100))
}

func TestTracker_Snapshot(t *testing.T) {
	tr := NewTracker()
	tr.Add("email_sends", 5, window.Daily(0, 0))
	tr.Add("api_reads", 100, window.Daily(8, 0))
	require.NoError(t, tr.Spend("email_sends", 2))

	budgets := tr.Snapshot()
	require.Len(t, budgets, 2)
	assert.Equal(t, "api_reads", budgets[0].Name)
	assert.Equal(t, "email_sends", budgets[1].Name)
	assert.Equal(t, int64(2), budgets[1].Consumed)
	assert.Equal(t, int64(5), budgets[1].Limit)
	assert.False(t, budgets[1].ResetAt.IsZero())
}

func TestTracker_ConcurrentSpendNeverExceedsLimit(t *testing.T) {
	tr := NewTracker()
	tr.Add("email_sends", 100, window.Daily(0, 0))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	rejected := 0

	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				err := tr.Spend("email_sends", 1)
				mu.Lock()
				if err != nil {
					rejected++
				} else {
					succeeded++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, succeeded)
	assert.Equal(t, 100, rejected)
	assert.Equal(t, int64(0), tr.Remaining("email_sends"))
}

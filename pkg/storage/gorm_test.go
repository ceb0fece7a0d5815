package storage

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stintio/stint/pkg/core"
)

func TestStore_CreateJobDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &core.Job{Type: "mail-merge", ItemCount: 25}
	require.NoError(t, s.CreateJob(ctx, job))

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, core.StatusNew, job.Status)

	loaded, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "mail-merge", loaded.Type)
	assert.Equal(t, 25, loaded.ItemCount)
}

func TestStore_GetJobAbsentReturnsNil(t *testing.T) {
	s := newTestStore(t)

	job, err := s.GetJob(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestStore_UniqueKeyBlocksLiveDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &core.Job{Type: "daily-report", UniqueKey: "report-2024-01-01"}
	require.NoError(t, s.CreateJob(ctx, first))

	dup := &core.Job{Type: "daily-report", UniqueKey: "report-2024-01-01"}
	assert.ErrorIs(t, s.CreateJob(ctx, dup), core.ErrDuplicateJob)

	// Terminal jobs free the key.
	require.NoError(t, s.MarkRunning(ctx, first.ID))
	require.NoError(t, s.MarkCompleted(ctx, first.ID, 10, 0))
	again := &core.Job{Type: "daily-report", UniqueKey: "report-2024-01-01"}
	assert.NoError(t, s.CreateJob(ctx, again))
}

func TestStore_UniqueKeyTooLong(t *testing.T) {
	s := newTestStore(t)

	job := &core.Job{Type: "daily-report", UniqueKey: strings.Repeat("k", 300)}
	assert.ErrorIs(t, s.CreateJob(context.Background(), job), core.ErrUniqueKeyTooLong)
}

func TestStore_LifecycleTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &core.Job{Type: "mail-merge", ItemCount: 8}
	require.NoError(t, s.CreateJob(ctx, job))

	require.NoError(t, s.MarkRunning(ctx, job.ID))
	loaded, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRunning, loaded.Status)
	assert.Equal(t, 1, loaded.Runs)
	assert.NotNil(t, loaded.StartedAt)

	// Running jobs cannot be marked running again.
	assert.ErrorIs(t, s.MarkRunning(ctx, job.ID), core.ErrJobNotResumable)

	resumeAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, s.MarkPaused(ctx, job.ID, "quota:mail_sends", resumeAt, 5, 0))
	loaded, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPaused, loaded.Status)
	assert.Equal(t, "quota:mail_sends", loaded.PauseReason)
	require.NotNil(t, loaded.ResumeAt)
	assert.Equal(t, int64(5), loaded.ItemsProcessed)

	// Paused jobs resume.
	require.NoError(t, s.MarkRunning(ctx, job.ID))
	loaded, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Runs)
	assert.Empty(t, loaded.PauseReason)
	assert.Nil(t, loaded.ResumeAt)

	require.NoError(t, s.MarkCompleted(ctx, job.ID, 8, 0))
	loaded, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, loaded.Status)
	assert.NotNil(t, loaded.CompletedAt)
	assert.Equal(t, int64(8), loaded.ItemsProcessed)

	// Terminal jobs stay terminal.
	assert.ErrorIs(t, s.MarkRunning(ctx, job.ID), core.ErrJobNotResumable)
	assert.ErrorIs(t, s.MarkCancelled(ctx, job.ID), core.ErrJobNotResumable)
}

func TestStore_MarkFailedSanitizesError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &core.Job{Type: "mail-merge"}
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.MarkRunning(ctx, job.ID))

	require.NoError(t, s.MarkFailed(ctx, job.ID, "bad\x00input", 3, 1))
	loaded, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, loaded.Status)
	assert.Equal(t, "badinput", loaded.LastError)
	assert.Equal(t, int64(1), loaded.ItemsFailed)
}

func TestStore_MarkCancelled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &core.Job{Type: "mail-merge"}
	require.NoError(t, s.CreateJob(ctx, job))

	require.NoError(t, s.MarkCancelled(ctx, job.ID))
	loaded, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, loaded.Status)
}

func TestStore_ListJobsByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateJob(ctx, &core.Job{Type: "mail-merge"}))
	}
	running := &core.Job{Type: "mail-merge"}
	require.NoError(t, s.CreateJob(ctx, running))
	require.NoError(t, s.MarkRunning(ctx, running.ID))

	newJobs, err := s.ListJobs(ctx, core.StatusNew, 0)
	require.NoError(t, err)
	assert.Len(t, newJobs, 3)

	limited, err := s.ListJobs(ctx, core.StatusNew, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	all, err := s.ListJobs(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestStore_KVRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.Get(ctx, "stint:checkpoint:job-1")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.Set(ctx, "stint:checkpoint:job-1", []byte(`{"offset":3}`)))
	v, err = s.Get(ctx, "stint:checkpoint:job-1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"offset":3}`), v)

	// Upsert replaces in place.
	require.NoError(t, s.Set(ctx, "stint:checkpoint:job-1", []byte(`{"offset":9}`)))
	v, err = s.Get(ctx, "stint:checkpoint:job-1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"offset":9}`), v)

	require.NoError(t, s.Delete(ctx, "stint:checkpoint:job-1"))
	require.NoError(t, s.Delete(ctx, "stint:checkpoint:job-1"))
	v, err = s.Get(ctx, "stint:checkpoint:job-1")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestStore_LockAcquireRelease(t *testing.T) {
	db := openTestDB(t)
	a := NewStore(db)
	require.NoError(t, a.Migrate(context.Background()))
	b := NewStore(db)
	ctx := context.Background()

	ok, err := a.Acquire(ctx, "stint:job:j1", time.Minute, 0)
	require.NoError(t, err)
	require.True(t, ok)

	// A second owner cannot take a live lease.
	ok, err = b.Acquire(ctx, "stint:job:j1", time.Minute, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	// A foreign release is a no-op.
	require.NoError(t, b.Release(ctx, "stint:job:j1"))
	ok, err = b.Acquire(ctx, "stint:job:j1", time.Minute, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx, "stint:job:j1"))
	ok, err = b.Acquire(ctx, "stint:job:j1", time.Minute, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_LockExpiredLeaseIsStealable(t *testing.T) {
	db := openTestDB(t)
	a := NewStore(db)
	require.NoError(t, a.Migrate(context.Background()))
	b := NewStore(db)
	ctx := context.Background()

	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return current }
	b.now = func() time.Time { return current }

	ok, err := a.Acquire(ctx, "stint:job:j1", time.Minute, 0)
	require.NoError(t, err)
	require.True(t, ok)

	current = current.Add(2 * time.Minute)

	ok, err = b.Acquire(ctx, "stint:job:j1", time.Minute, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_ReleaseStale(t *testing.T) {
	db := openTestDB(t)
	s := NewStore(db)
	require.NoError(t, s.Migrate(context.Background()))
	ctx := context.Background()

	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	ok, err := s.Acquire(ctx, "stint:job:stale", time.Minute, 0)
	require.NoError(t, err)
	require.True(t, ok)

	current = current.Add(time.Hour)
	ok, err = s.Acquire(ctx, "stint:job:fresh", time.Minute, 0)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := s.ReleaseStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)
}

func TestStore_ReleaseStaleRecoversOrphanedRunningJob(t *testing.T) {
	db := openTestDB(t)
	s := NewStore(db)
	require.NoError(t, s.Migrate(context.Background()))
	ctx := context.Background()

	current := time.Now().UTC()
	s.now = func() time.Time { return current }

	job := &core.Job{Type: "export", ItemCount: 10}
	require.NoError(t, s.CreateJob(ctx, job))

	ok, err := s.Acquire(ctx, core.LockName(job.ID), time.Minute, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.MarkRunning(ctx, job.ID))

	// The process dies here: the job stays running and its lease expires.
	current = current.Add(time.Hour)

	// A healthy run on another job keeps its live lease and is untouched.
	other := &core.Job{Type: "export", ItemCount: 10}
	require.NoError(t, s.CreateJob(ctx, other))
	ok, err = s.Acquire(ctx, core.LockName(other.ID), time.Minute, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.MarkRunning(ctx, other.ID))

	released, err := s.ReleaseStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	// One expired lease removed, one job recovered.
	assert.Equal(t, int64(2), released)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, core.StatusPaused, got.Status)
	assert.Equal(t, string(core.PauseStale), got.PauseReason)

	kept, err := s.GetJob(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRunning, kept.Status)

	// The armed resumption is claimable and the job is resumable again.
	due, err := s.Claim(ctx, current, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, job.ID, due[0].JobID)
	assert.NoError(t, s.MarkRunning(ctx, job.ID))
}

func TestStore_LockContentionSingleWinner(t *testing.T) {
	db := openTestDB(t)
	base := NewStore(db)
	require.NoError(t, base.Migrate(context.Background()))
	ctx := context.Background()

	var wg sync.WaitGroup
	wins := make(chan string, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := NewStore(db)
			ok, err := s.Acquire(ctx, "stint:job:contested", time.Minute, 0)
			if err == nil && ok {
				wins <- s.owner
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestStore_TriggerScheduleReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Schedule(ctx, "job-1", base.Add(time.Hour)))
	require.NoError(t, s.Schedule(ctx, "job-1", base.Add(time.Minute)))

	due, err := s.Claim(ctx, base.Add(5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "job-1", due[0].JobID)
}

func TestStore_TriggerClaimDispatchesOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Schedule(ctx, "job-1", base))
	require.NoError(t, s.Schedule(ctx, "job-2", base.Add(time.Minute)))
	require.NoError(t, s.Schedule(ctx, "job-3", base.Add(time.Hour)))

	due, err := s.Claim(ctx, base.Add(10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "job-1", due[0].JobID)
	assert.Equal(t, "job-2", due[1].JobID)

	// Claimed rows are gone; job-3 is not due yet.
	due, err = s.Claim(ctx, base.Add(10*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestStore_TriggerCancel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Schedule(ctx, "job-1", time.Now().Add(-time.Minute)))
	require.NoError(t, s.Cancel(ctx, "job-1"))
	require.NoError(t, s.Cancel(ctx, "job-1"))

	due, err := s.Claim(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

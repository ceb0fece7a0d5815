package checkpoint

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stintio/stint/pkg/core"
)

// mapKV is an in-memory core.KV for tests.
type mapKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapKV() *mapKV {
	return &mapKV{data: make(map[string][]byte)}
}

func (m *mapKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *mapKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *mapKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func newTestStore() (*Store, *mapKV) {
	kv := newMapKV()
	s := NewStore(kv)
	s.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	return s, kv
}

func TestStore_LoadAbsentReturnsNil(t *testing.T) {
	s, _ := newTestStore()

	cp, err := s.Load(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	cp := core.NewCheckpoint("job-1")
	cp.LastCompletedOffset = 9
	cp.Status = core.StatusPaused
	cp.AddCounter(core.CounterItemsProcessed, 10)

	require.NoError(t, s.Save(ctx, cp))

	loaded, err := s.Load(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, core.CheckpointVersion, loaded.Version)
	assert.Equal(t, 9, loaded.LastCompletedOffset)
	assert.Equal(t, core.StatusPaused, loaded.Status)
	assert.Equal(t, int64(10), loaded.Counter(core.CounterItemsProcessed))
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestStore_SaveRejectsOffsetRegression(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	cp := core.NewCheckpoint("job-1")
	cp.LastCompletedOffset = 10
	require.NoError(t, s.Save(ctx, cp))

	back := core.NewCheckpoint("job-1")
	back.LastCompletedOffset = 4
	err := s.Save(ctx, back)
	assert.ErrorIs(t, err, core.ErrCheckpointRegression)

	// The stored record is untouched.
	loaded, err := s.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.LastCompletedOffset)
}

func TestStore_TerminalRecordAllowsRewrite(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	cp := core.NewCheckpoint("job-1")
	cp.LastCompletedOffset = 24
	cp.Status = core.StatusCompleted
	require.NoError(t, s.Save(ctx, cp))

	// A fresh run over a completed record is a restart, not a regression.
	fresh := core.NewCheckpoint("job-1")
	assert.NoError(t, s.Save(ctx, fresh))
}

func TestStore_ResetAllowsStartingOver(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	cp := core.NewCheckpoint("job-1")
	cp.LastCompletedOffset = 10
	require.NoError(t, s.Save(ctx, cp))

	require.NoError(t, s.Reset(ctx, "job-1"))

	fresh := core.NewCheckpoint("job-1")
	require.NoError(t, s.Save(ctx, fresh))

	loaded, err := s.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, -1, loaded.LastCompletedOffset)
}

func TestStore_MalformedRecordFailsLoudly(t *testing.T) {
	s, kv := newTestStore()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, Key("job-1"), []byte("{not json")))

	_, err := s.Load(ctx, "job-1")
	var corrupt *core.CheckpointCorruptError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, "job-1", corrupt.JobID)
}

func TestStore_UnknownSchemaVersionFailsLoudly(t *testing.T) {
	s, kv := newTestStore()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, Key("job-1"),
		[]byte(`{"v":99,"job_id":"job-1","offset":3,"status":"running"}`)))

	_, err := s.Load(ctx, "job-1")
	var corrupt *core.CheckpointCorruptError
	require.ErrorAs(t, err, &corrupt)
	assert.Contains(t, corrupt.Reason, "99")
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	cp := core.NewCheckpoint("job-1")
	require.NoError(t, s.Save(ctx, cp))

	require.NoError(t, s.Delete(ctx, "job-1"))
	require.NoError(t, s.Delete(ctx, "job-1"))

	loaded, err := s.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStore_MonotonicAcrossSaveLoadCycles(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	offsets := []int{-1, 3, 3, 9, 15, 24}
	prev := -1
	for _, off := range offsets {
		cp := core.NewCheckpoint("job-1")
		cp.LastCompletedOffset = off
		cp.Status = core.StatusPaused
		require.NoError(t, s.Save(ctx, cp))

		loaded, err := s.Load(ctx, "job-1")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, loaded.LastCompletedOffset, prev)
		prev = loaded.LastCompletedOffset
	}
}

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stintio/stint/pkg/core"
	"github.com/stintio/stint/pkg/security"
)

// KVRecord is one row of the durable key-value table backing checkpoints.
type KVRecord struct {
	Key       string    `gorm:"primaryKey;size:255"`
	Value     []byte    `gorm:"type:bytes"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// LockLease is one advisory lock row. A lease past its expiry is free for
// the taking, so a crashed holder cannot wedge its job forever.
type LockLease struct {
	Name      string    `gorm:"primaryKey;size:255"`
	Owner     string    `gorm:"size:36;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Store implements the engine's persistence contracts (core.JobStore,
// core.KV, core.Locker, core.Trigger) on a single GORM database. Each
// Store instance owns its lock leases through a generated owner ID.
type Store struct {
	db    *gorm.DB
	owner string
	now   func() time.Time

	// retryInterval paces lock acquisition attempts within the wait bound.
	retryInterval time.Duration
}

// NewStore creates a GORM-backed store.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:            db,
		owner:         uuid.New().String(),
		now:           time.Now,
		retryInterval: 50 * time.Millisecond,
	}
}

// Migrate creates the necessary tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.Job{},
		&core.Resumption{},
		&KVRecord{},
		&LockLease{},
	)
}

// --- core.JobStore ---

// CreateJob inserts a new job. Duplicate unique keys among live jobs fail
// with core.ErrDuplicateJob.
func (s *Store) CreateJob(ctx context.Context, job *core.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = core.StatusNew
	}
	if err := security.ValidateUniqueKey(job.UniqueKey); err != nil {
		return err
	}

	if job.UniqueKey != "" {
		var count int64
		err := s.db.WithContext(ctx).
			Model(&core.Job{}).
			Where("unique_key = ?", job.UniqueKey).
			Where("status IN ?", []core.JobStatus{core.StatusNew, core.StatusRunning, core.StatusPaused}).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return core.ErrDuplicateJob
		}
	}

	return s.db.WithContext(ctx).Create(job).Error
}

// GetJob retrieves a job by ID, nil when absent.
func (s *Store) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs retrieves jobs by status, newest first. An empty status lists
// every job.
func (s *Store) ListJobs(ctx context.Context, status core.JobStatus, limit int) ([]*core.Job, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var jobs []*core.Job
	err := q.Find(&jobs).Error
	return jobs, err
}

// MarkRunning transitions a new or paused job to running and counts the
// run. The guarded update keeps a terminal or already-running job out.
func (s *Store) MarkRunning(ctx context.Context, jobID string) error {
	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", jobID).
		Where("status IN ?", []core.JobStatus{core.StatusNew, core.StatusPaused}).
		Updates(map[string]any{
			"status":       core.StatusRunning,
			"runs":         gorm.Expr("runs + 1"),
			"started_at":   now,
			"pause_reason": "",
			"resume_at":    nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotResumable
	}
	return nil
}

// MarkPaused records a voluntary pause with its reason and earliest
// resumption instant.
func (s *Store) MarkPaused(ctx context.Context, jobID string, reason string, resumeAt time.Time, processed, failed int64) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status = ?", jobID, core.StatusRunning).
		Updates(map[string]any{
			"status":          core.StatusPaused,
			"pause_reason":    security.SanitizeErrorMessage(reason),
			"resume_at":       resumeAt,
			"items_processed": processed,
			"items_failed":    failed,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotResumable
	}
	return nil
}

// MarkCompleted records terminal success with the final counters.
func (s *Store) MarkCompleted(ctx context.Context, jobID string, processed, failed int64) error {
	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status = ?", jobID, core.StatusRunning).
		Updates(map[string]any{
			"status":          core.StatusCompleted,
			"completed_at":    now,
			"pause_reason":    "",
			"resume_at":       nil,
			"items_processed": processed,
			"items_failed":    failed,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotResumable
	}
	return nil
}

// MarkFailed records terminal failure. Error messages are sanitized
// before storage.
func (s *Store) MarkFailed(ctx context.Context, jobID string, errMsg string, processed, failed int64) error {
	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", jobID).
		Where("status IN ?", []core.JobStatus{core.StatusRunning, core.StatusNew, core.StatusPaused}).
		Updates(map[string]any{
			"status":          core.StatusFailed,
			"completed_at":    now,
			"last_error":      security.SanitizeErrorMessage(errMsg),
			"items_processed": processed,
			"items_failed":    failed,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotResumable
	}
	return nil
}

// MarkCancelled terminates a job that has not finished. Cancelling a
// terminal job fails with core.ErrJobNotResumable.
func (s *Store) MarkCancelled(ctx context.Context, jobID string) error {
	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", jobID).
		Where("status IN ?", []core.JobStatus{core.StatusNew, core.StatusRunning, core.StatusPaused}).
		Updates(map[string]any{
			"status":       core.StatusCancelled,
			"completed_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotResumable
	}
	return nil
}

// --- core.KV ---

// Get returns the value at key, nil when absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var rec KVRecord
	err := s.db.WithContext(ctx).First(&rec, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

// Set upserts the value at key atomically.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	rec := KVRecord{Key: key, Value: value}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&rec).Error
}

// Delete removes the key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&KVRecord{}, "key = ?", key).Error
}

// --- core.Locker ---

// Acquire takes the named lock lease for ttl, waiting up to maxWait. It
// returns false without error when the wait bound elapses first.
func (s *Store) Acquire(ctx context.Context, name string, ttl, maxWait time.Duration) (bool, error) {
	deadline := s.now().Add(maxWait)
	for {
		ok, err := s.tryAcquire(ctx, name, ttl)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if !s.now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(s.retryInterval):
		}
	}
}

func (s *Store) tryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	now := s.now()
	expires := now.Add(ttl)

	// Fresh lease first; an existing row means someone holds or held it.
	err := s.db.WithContext(ctx).Create(&LockLease{
		Name:      name,
		Owner:     s.owner,
		ExpiresAt: expires,
	}).Error
	if err == nil {
		return true, nil
	}

	// Steal only an expired lease, guarded by the previous expiry so two
	// stealers cannot both win.
	result := s.db.WithContext(ctx).
		Model(&LockLease{}).
		Where("name = ? AND expires_at < ?", name, now).
		Updates(map[string]any{
			"owner":      s.owner,
			"expires_at": expires,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Release frees the named lock if this store still owns it. Releasing a
// lost or foreign lease is a no-op so deferred releases are always safe.
func (s *Store) Release(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).
		Where("name = ? AND owner = ?", name, s.owner).
		Delete(&LockLease{}).Error
}

// ReleaseStale removes lock leases whose expiry is older than olderThan
// and parks the running jobs those dead holders abandoned: a job still
// marked running with no live lease and no update for olderThan is moved
// back to paused with a resumption armed, so the next claim picks it up.
// It returns the number of leases removed plus jobs recovered.
func (s *Store) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.now()
	cutoff := now.Add(-olderThan)

	result := s.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&LockLease{})
	if result.Error != nil {
		return 0, result.Error
	}
	released := result.RowsAffected

	var ids []string
	err := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("status = ? AND updated_at < ?", core.StatusRunning, cutoff).
		Pluck("id", &ids).Error
	if err != nil {
		return released, err
	}

	for _, id := range ids {
		var lease LockLease
		err := s.db.WithContext(ctx).First(&lease, "name = ?", core.LockName(id)).Error
		if err == nil && lease.ExpiresAt.After(now) {
			continue
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return released, err
		}

		// Guarded so a run that resumed between the select and here wins.
		res := s.db.WithContext(ctx).
			Model(&core.Job{}).
			Where("id = ? AND status = ?", id, core.StatusRunning).
			Updates(map[string]any{
				"status":       core.StatusPaused,
				"pause_reason": string(core.PauseStale),
				"resume_at":    now,
			})
		if res.Error != nil {
			return released, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		if err := s.Schedule(ctx, id, now); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

// --- core.Trigger ---

// Schedule arms a resumption of the job at the given instant, replacing
// any pending resumption for the same job.
func (s *Store) Schedule(ctx context.Context, jobID string, at time.Time) error {
	rec := core.Resumption{
		ID:    uuid.New().String(),
		JobID: jobID,
		RunAt: at,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"run_at"}),
		}).
		Create(&rec).Error
}

// Cancel removes any pending resumption for the job.
func (s *Store) Cancel(ctx context.Context, jobID string) error {
	return s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Delete(&core.Resumption{}).Error
}

// Claim atomically removes and returns up to limit resumptions due at or
// before now, earliest first. Deleting by row ID keeps a resumption from
// being dispatched twice even with concurrent claimers.
func (s *Store) Claim(ctx context.Context, now time.Time, limit int) ([]*core.Resumption, error) {
	var claimed []*core.Resumption
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []*core.Resumption
		q := tx.Where("run_at <= ?", now).Order("run_at ASC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		if err := q.Find(&due).Error; err != nil {
			return err
		}

		for _, r := range due {
			result := tx.Where("id = ?", r.ID).Delete(&core.Resumption{})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				claimed = append(claimed, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

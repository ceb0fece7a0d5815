package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_Values(t *testing.T) {
	assert.Equal(t, JobStatus("new"), StatusNew)
	assert.Equal(t, JobStatus("running"), StatusRunning)
	assert.Equal(t, JobStatus("paused"), StatusPaused)
	assert.Equal(t, JobStatus("completed"), StatusCompleted)
	assert.Equal(t, JobStatus("failed"), StatusFailed)
	assert.Equal(t, JobStatus("cancelled"), StatusCancelled)
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, StatusNew.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusPaused.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestJob_Defaults(t *testing.T) {
	job := &Job{}
	assert.Empty(t, job.ID)
	assert.Empty(t, job.Type)
	assert.Equal(t, 0, job.ItemCount)
	assert.Equal(t, JobStatus(""), job.Status)
	assert.Equal(t, 0, job.Runs)
	assert.Equal(t, int64(0), job.ItemsProcessed)
	assert.Equal(t, int64(0), job.ItemsFailed)
}

func TestJob_WithValues(t *testing.T) {
	resumeAt := time.Now().Add(time.Hour)
	job := &Job{
		ID:          "test-123",
		Type:        "send-newsletter",
		Args:        []byte(`{"list":"subscribers"}`),
		ItemCount:   250,
		Status:      StatusPaused,
		Runs:        2,
		PauseReason: "time_budget",
		ResumeAt:    &resumeAt,
	}

	assert.Equal(t, "test-123", job.ID)
	assert.Equal(t, "send-newsletter", job.Type)
	assert.Equal(t, 250, job.ItemCount)
	assert.Equal(t, StatusPaused, job.Status)
	assert.Equal(t, 2, job.Runs)
	assert.Equal(t, "time_budget", job.PauseReason)
	assert.NotNil(t, job.ResumeAt)
}

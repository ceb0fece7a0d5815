// Package core provides the domain models and interfaces for the stint engine.
package core

import (
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusNew       JobStatus = "new"
	StatusRunning   JobStatus = "running"
	StatusPaused    JobStatus = "paused"    // Suspended, waiting for a resumption trigger
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled" // Terminated before completion
)

// Terminal reports whether the status is final. Terminal jobs are never
// picked up by a resumption trigger.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job represents one logical unit of resumable batch work. A job is split
// into ItemCount ordered items processed strictly in ascending offset order,
// possibly across many bounded runs.
type Job struct {
	ID             string     `gorm:"primaryKey;size:36"`
	Type           string     `gorm:"index;size:255;not null"`
	Args           []byte     `gorm:"type:bytes"`
	ItemCount      int        `gorm:"not null;default:0"`
	Status         JobStatus  `gorm:"index;size:20;default:'new'"`
	Runs           int        `gorm:"default:0"` // Bounded runs consumed so far
	ItemsProcessed int64      `gorm:"default:0"`
	ItemsFailed    int64      `gorm:"default:0"`
	LastError      string     `gorm:"type:text"`
	PauseReason    string     `gorm:"size:255"` // Why the last run paused, empty otherwise
	ResumeAt       *time.Time `gorm:"index"`    // Earliest time the next run may start
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
	UniqueKey      string    `gorm:"index;size:255"` // For job deduplication
}

// Package core provides the fundamental types and interfaces for the stint engine.
//
// This package contains:
//   - Job and Checkpoint data models
//   - Report, the tagged result returned by every bounded run
//   - Backend contracts (JobStore, KV, Locker, Trigger) implemented by the storage layer
//   - Event types for engine monitoring
//   - Error types shared across the engine
//
// Most users should import the root package github.com/stintio/stint
// instead of this package directly.
package core

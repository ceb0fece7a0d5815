// Package checkpoint persists job progress records.
//
// This package includes:
//   - Store, a versioned compact-JSON codec over the core.KV contract
//   - Offset monotonicity enforcement for running and paused jobs
//   - Corruption detection via schema version and shape checks
//
// Checkpoints carry an offset and small counters, never item payloads,
// because the backing key-value store may cap the size of a single value.
//
// Most users should import the root package github.com/stintio/stint
// which re-exports the store constructor.
package checkpoint

// Package breaker provides per-dependency circuit breaking.
//
// This package includes:
//   - Breaker, a concurrency-safe registry of per-dependency circuits
//   - The closed, open and half-open state machine with configurable
//     failure threshold, cooldown and recovery threshold
//
// A circuit opens after a run of consecutive failures and fast-rejects
// calls until the cooldown elapses. Exactly one trial call is let through
// when the circuit half-opens; enough consecutive trial successes close it
// again. A fast-reject is not a work failure, callers pause the job and
// come back after the cooldown.
//
// Most users should import the root package github.com/stintio/stint
// which re-exports the breaker constructor.
package breaker

// Package quota tracks consumption against named, time-windowed budgets.
//
// This package includes:
//   - Tracker, a concurrency-safe spend counter over named budgets
//   - Lazy window resets driven by window.Boundary reset instants
//
// Budgets model real resource quotas (mail sends, API reads) that reset at
// a fixed clock instant, often in a time zone other than the host's.
// Spending past a limit fails with core.QuotaExceededError, which pauses
// the whole job rather than failing the current item.
//
// Most users should import the root package github.com/stintio/stint
// which re-exports the tracker constructor.
package quota

// Package lock provides in-process advisory locking.
//
// This package includes:
//   - Memory, a core.Locker with bounded-wait acquire and TTL leases
//
// Locks guard against two concurrent runs of the same job. The in-memory
// locker covers single-process engines and tests; multi-process
// deployments use the lease table in pkg/storage instead.
package lock

// Package storage provides GORM-backed persistence for the stint engine.
//
// This package includes:
//   - Store, implementing core.JobStore, core.KV, core.Locker and
//     core.Trigger on one database
//   - Lock leases with TTL expiry and stale-lease recovery
//   - Resumption rows with replace-on-schedule semantics
//   - Connection pool configuration helpers
//
// SQLite covers embedded use; PostgreSQL is exercised by the integration
// tests when TEST_DATABASE_URL is set.
package storage

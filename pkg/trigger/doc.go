// Package trigger arms and fires job resumptions.
//
// This package includes:
//   - Memory, an in-process core.Trigger with replace-on-schedule semantics
//   - Dispatcher, the poll loop that claims due resumptions and re-invokes
//     runs for them
//
// Resumption timing is best-effort; a trigger firing minutes late is
// tolerated because runs always recheck their time and quota budgets.
//
// Most users should import the root package github.com/stintio/stint
// whose Engine wraps a dispatcher.
package trigger

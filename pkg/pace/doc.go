// Package pace smooths the call rate to external dependencies.
//
// This package includes:
//   - Pacer, a registry of per-dependency token-bucket limiters
//
// The pacer complements quota budgets: a budget caps total spend per
// window, the pacer shapes how fast calls are issued inside the window so
// a run does not trip the remote service's burst detection.
package pace

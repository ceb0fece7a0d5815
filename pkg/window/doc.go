// Package window computes quota reset boundaries.
//
// This package includes:
//   - Boundary interface answering "when does this window reset next?"
//   - Every() for rolling fixed-length windows
//   - Daily()/DailyIn() for windows resetting at a fixed clock time
//   - Weekly()/WeeklyIn() for weekly reset instants
//   - Cron() for cron expression boundaries; CRON_TZ= prefixes pin the
//     boundary to the time zone the real resource resets in
//
// Most users should import the root package github.com/stintio/stint
// which re-exports these functions.
package window

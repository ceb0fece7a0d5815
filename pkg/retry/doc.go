// Package retry wraps a single unit-of-work call with bounded attempts.
//
// This package includes:
//   - Policy, exponential backoff with jitter and a configurable ceiling
//   - Classifier, the caller-supplied verdict on which errors retry
//   - DefaultClassifier covering the engine's error taxonomy
//
// The policy never consults quota or circuit state itself; callers account
// for every attempt that reaches a dependency individually.
//
// Most users should import the root package github.com/stintio/stint
// which re-exports the policy type.
package retry

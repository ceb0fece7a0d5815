package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/stintio/stint/pkg/core"
	"github.com/stintio/stint/pkg/security"
)

// Class is the retry policy's verdict on an error.
type Class int

const (
	// Retryable errors are worth another attempt after a backoff.
	Retryable Class = iota
	// Fatal errors stop the attempt loop immediately.
	Fatal
)

// Classifier decides whether an error is worth retrying. It is only
// consulted for non-nil errors.
type Classifier func(error) Class

// DefaultClassifier treats context cancellation, explicit no-retry wraps,
// quota exhaustion and open circuits as fatal; everything else, including
// RetryAfter wraps, is retryable. Unknown errors default to retryable
// because most remote failures are transient.
func DefaultClassifier(err error) Class {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal
	}
	var noRetry *core.NoRetryError
	if errors.As(err, &noRetry) {
		return Fatal
	}
	var quotaErr *core.QuotaExceededError
	if errors.As(err, &quotaErr) {
		return Fatal
	}
	var circuitErr *core.CircuitOpenError
	if errors.As(err, &circuitErr) {
		return Fatal
	}
	return Retryable
}

// Default policy values.
var (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 100 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
)

// Policy executes an operation with bounded attempts and exponential
// backoff. Zero fields take the defaults. A Policy is immutable after
// creation and safe for concurrent use.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the backoff before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration

	// jitter draws from [0, 1); tests inject a deterministic source.
	jitter func() float64
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	p.MaxAttempts = security.ClampAttempts(p.MaxAttempts)
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.jitter == nil {
		p.jitter = rand.Float64
	}
	return p
}

// Delay returns the backoff before attempt+2, so Delay(0) is the wait
// after the first failure. The delay doubles each attempt, is scaled by a
// jitter factor in [0.5, 1.0] and is capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	backoff := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= float64(p.MaxDelay) {
			break
		}
	}
	backoff *= 0.5 + 0.5*p.jitter()
	if backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}
	return time.Duration(backoff)
}

// Execute invokes fn until it succeeds, a fatal error is classified, the
// attempts are exhausted or the context ends. A nil classifier uses
// DefaultClassifier. Failures after the final verdict are returned wrapped
// in *core.RetryExhaustedError carrying the attempt count; context errors
// during the backoff sleep are returned bare.
func (p Policy) Execute(ctx context.Context, fn func() error, classify Classifier) error {
	p = p.withDefaults()
	if classify == nil {
		classify = DefaultClassifier
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if classify(lastErr) == Fatal {
			return &core.RetryExhaustedError{Attempts: attempt + 1, Err: lastErr}
		}
		if attempt+1 >= p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		// An explicit RetryAfter wrap knows better than the computed backoff.
		var retryAfter *core.RetryAfterError
		if errors.As(lastErr, &retryAfter) && retryAfter.Delay > 0 {
			delay = retryAfter.Delay
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return &core.RetryExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}

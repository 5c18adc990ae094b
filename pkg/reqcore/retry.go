package reqcore

import (
	"context"
	"math/rand"
	"time"
)

// RetryOptions configures RetryFeature: backoff with jitter (exponential
// when Multiplier is set, constant otherwise), a capped delay, and a
// pluggable retryability check.
type RetryOptions struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	// Jitter is the fraction, in [0,1], of the computed backoff delay
	// added as random extra wait. Zero disables jitter entirely.
	Jitter float64

	// ShouldRetry decides whether err is worth another attempt, given how
	// many attempts have already been made (0 on the first failure).
	// Defaults to DefaultShouldRetry when nil. A panicking ShouldRetry is
	// treated as "stop retrying" and the original error is returned.
	ShouldRetry func(err error, attempt int) bool

	// CircuitBreaker, if set, short-circuits retries for a tag once it
	// trips open (see circuitbreaker.go). Additive: omit it and
	// RetryFeature falls back to plain backoff retries.
	CircuitBreaker *CircuitBreakerOptions

	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryOptions returns a conservative policy: 3 retries, 100ms
// base delay doubling up to 5s, with a 10% jitter fraction.
func DefaultRetryOptions() *RetryOptions {
	return &RetryOptions{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// DefaultShouldRetry retries NETWORK and TIMEOUT errors and HTTP 5xx
// responses, regardless of attempt. Any other HTTP status (including 429)
// and validation errors stop retrying.
func DefaultShouldRetry(err error, attempt int) bool {
	e := AsError(err)
	if e == nil {
		return false
	}
	switch e.Type {
	case ErrNetwork, ErrTimeout:
		return true
	case ErrHTTP:
		return e.Status >= 500 && e.Status < 600
	default:
		return false
	}
}

// RetryStats reports how a single call through RetryFeature behaved.
type RetryStats struct {
	Attempts  int
	TotalWait time.Duration
}

type retryFeature struct {
	metrics RetryMetricsRecorder
	breaker *CircuitBreakerRegistry
}

// RetryMetricsRecorder receives per-attempt retry telemetry; implemented
// by internal/telemetry over Prometheus, grounded on pkg/metrics/retry.go.
type RetryMetricsRecorder interface {
	RecordAttempt(operation, outcome, errorType string, durationSeconds float64)
	RecordBackoff(operation string, delaySeconds float64)
	RecordFinalAttempts(operation, outcome string, attempts int)
}

type noopRetryMetrics struct{}

func (noopRetryMetrics) RecordAttempt(string, string, string, float64) {}
func (noopRetryMetrics) RecordBackoff(string, float64)                 {}
func (noopRetryMetrics) RecordFinalAttempts(string, string, int)       {}

func newRetryFeature(m RetryMetricsRecorder, breakers *CircuitBreakerRegistry) *retryFeature {
	if m == nil {
		m = noopRetryMetrics{}
	}
	return &retryFeature{metrics: m, breaker: breakers}
}

// Do runs operation, retrying per opts until it succeeds, opts.MaxRetries
// is exhausted, ctx is cancelled, or a CircuitBreaker trips. operation is
// called at least once even when opts is nil (treated as "no retries").
func (rf *retryFeature) Do(ctx context.Context, tag string, opts *RetryOptions, operation func(ctx context.Context) (*Response, error)) (*Response, *RetryStats, error) {
	if opts == nil {
		opts = &RetryOptions{}
	}
	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}

	var breaker *CircuitBreaker
	if opts.CircuitBreaker != nil && rf.breaker != nil {
		breaker = rf.breaker.Get(tag, opts.CircuitBreaker)
	}

	stats := &RetryStats{}
	delay := opts.BaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		if breaker != nil && !breaker.CanAttempt() {
			stats.Attempts = attempt
			return nil, stats, fmtErrf(ErrRetry, "circuit breaker open for %q", tag)
		}

		attemptStart := now()
		resp, err := operation(ctx)
		elapsed := now().Sub(attemptStart).Seconds()
		stats.Attempts = attempt + 1

		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			rf.metrics.RecordAttempt(tag, "success", "none", elapsed)
			rf.metrics.RecordFinalAttempts(tag, "success", stats.Attempts)
			return resp, stats, nil
		}

		if breaker != nil {
			breaker.RecordFailure()
		}
		errType := string(AsError(err).Type)
		rf.metrics.RecordAttempt(tag, "failure", errType, elapsed)

		if attempt >= opts.MaxRetries || !safeShouldRetry(shouldRetry, err, attempt) {
			rf.metrics.RecordFinalAttempts(tag, "failure", stats.Attempts)
			return nil, stats, err
		}

		wait := delay
		if opts.Jitter > 0 {
			wait += time.Duration(rand.Float64() * float64(delay) * opts.Jitter)
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, wait, err)
		}
		rf.metrics.RecordBackoff(tag, wait.Seconds())
		stats.TotalWait += wait

		if !sleepWithContext(ctx, wait) {
			return nil, stats, fmtErrf(ErrTimeout, "retry cancelled while waiting: %v", ctx.Err())
		}

		delay = nextDelay(delay, opts)
	}
}

// safeShouldRetry calls shouldRetry with panic recovery: a policy that
// panics is treated as declining the retry rather than crashing the
// call.
func safeShouldRetry(shouldRetry func(err error, attempt int) bool, err error, attempt int) (retry bool) {
	defer func() {
		if r := recover(); r != nil {
			retry = false
		}
	}()
	return shouldRetry(err, attempt)
}

// nextDelay computes the next backoff delay, capped at opts.MaxDelay. An
// unset Multiplier means constant delay; exponential backoff only happens
// when a policy asks for it explicitly.
func nextDelay(current time.Duration, opts *RetryOptions) time.Duration {
	mult := opts.Multiplier
	if mult <= 0 {
		mult = 1.0
	}
	next := time.Duration(float64(current) * mult)
	if opts.MaxDelay > 0 && next > opts.MaxDelay {
		return opts.MaxDelay
	}
	return next
}

// sleepWithContext waits for d or ctx cancellation, whichever comes
// first, reporting which happened.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

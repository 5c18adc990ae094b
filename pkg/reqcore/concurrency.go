package reqcore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ConcurrencyOptions configures ConcurrencyFeature's fan-out.
//
// MaxConcurrency is a pointer so "not provided" (nil, or opts itself nil)
// can be told apart from "explicitly zero": nil means unbounded
// parallelism (every task admitted at once); zero is a VALIDATION error;
// a positive value bounds the number of in-flight tasks to that value.
type ConcurrencyOptions struct {
	MaxConcurrency *int
	FailFast       bool
	Timeout        time.Duration

	// RateLimit, if set, additionally paces admission into the
	// semaphore so a batch doesn't just burst MaxConcurrency tasks at
	// once. Does not change MaxConcurrency's semantics.
	RateLimit *rate.Limiter
}

// IntPtr is a small convenience for populating ConcurrencyOptions.MaxConcurrency
// from a literal, e.g. &ConcurrencyOptions{MaxConcurrency: IntPtr(4)}.
func IntPtr(v int) *int { return &v }

// DefaultConcurrencyOptions leaves MaxConcurrency nil: unbounded
// parallelism and no rate limiting, matching §4.7's "absent maxConcurrency"
// case.
func DefaultConcurrencyOptions() *ConcurrencyOptions {
	return &ConcurrencyOptions{}
}

// ConcurrencyResult is one task's outcome, always reported at its
// original slice index regardless of completion order. Config is the
// caller's input config for that index (set by RequestCore.Batch, which
// is the layer that has it); RetryCount reports how many retries the
// task performed when composed with RetryFeature, 0 otherwise.
type ConcurrencyResult struct {
	Index      int
	Config     *RequestConfig
	Response   *Response
	Err        error
	Success    bool
	Duration   time.Duration
	RetryCount int
}

// ConcurrencyStats reports lifetime batch activity across every RunAll
// call on a ConcurrencyFeature.
type ConcurrencyStats struct {
	TotalBatches  int64
	TotalTasks    int64
	TotalFailures int64
}

// ConcurrencyFeature runs a batch of tasks with bounded parallelism,
// fanning results back in index-aligned order via a buffered-channel
// semaphore. It keeps no per-task state between batches, only the
// lifetime counters backing Stats.
type ConcurrencyFeature struct {
	totalBatches  int64
	totalTasks    int64
	totalFailures int64
}

// NewConcurrencyFeature returns a ConcurrencyFeature ready for use; every
// RunAll call is otherwise independent.
func NewConcurrencyFeature() *ConcurrencyFeature {
	return &ConcurrencyFeature{}
}

// Stats returns a snapshot of lifetime batch activity.
func (cf *ConcurrencyFeature) Stats() ConcurrencyStats {
	return ConcurrencyStats{
		TotalBatches:  atomic.LoadInt64(&cf.totalBatches),
		TotalTasks:    atomic.LoadInt64(&cf.totalTasks),
		TotalFailures: atomic.LoadInt64(&cf.totalFailures),
	}
}

// RunAll executes tasks with bounded parallelism per opts, returning one
// ConcurrencyResult per task indexed exactly as tasks was. When
// opts.FailFast is set, the first task error cancels the run context and
// RunAll returns that error immediately without awaiting still-running
// tasks (their results are discarded). When opts.Timeout is set, the
// whole batch is bounded by it regardless of FailFast and rejects with a
// TIMEOUT error naming the limit.
func (cf *ConcurrencyFeature) RunAll(ctx context.Context, opts *ConcurrencyOptions, tasks []func(ctx context.Context) (*Response, error)) ([]ConcurrencyResult, error) {
	if opts == nil {
		opts = DefaultConcurrencyOptions()
	}
	if opts.MaxConcurrency != nil && *opts.MaxConcurrency <= 0 {
		return nil, fmtErrf(ErrValidation, "maxConcurrency must be greater than zero, got %d", *opts.MaxConcurrency)
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	atomic.AddInt64(&cf.totalBatches, 1)
	atomic.AddInt64(&cf.totalTasks, int64(len(tasks)))
	maxConcurrency := len(tasks)
	if opts.MaxConcurrency != nil {
		maxConcurrency = *opts.MaxConcurrency
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	var failCancel context.CancelFunc = func() {}
	if opts.FailFast {
		runCtx, failCancel = context.WithCancel(runCtx)
		defer failCancel()
	}

	results := make([]ConcurrencyResult, len(tasks))
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	var firstErrOnce sync.Once
	firstErr := make(chan error, 1)

	for i, task := range tasks {
		i, task := i, task
		wg.Add(1)
		go func() {
			defer wg.Done()

			if opts.RateLimit != nil {
				if err := opts.RateLimit.Wait(runCtx); err != nil {
					results[i] = ConcurrencyResult{Index: i, Err: fmtErrf(ErrConcurrent, "rate limiter wait failed: %v", err)}
					return
				}
			}

			select {
			case sem <- struct{}{}:
			case <-runCtx.Done():
				results[i] = ConcurrencyResult{Index: i, Err: fmtErrf(ErrConcurrent, "task %d did not start: %v", i, runCtx.Err())}
				return
			}
			defer func() { <-sem }()

			start := now()
			resp, err := task(runCtx)
			results[i] = ConcurrencyResult{
				Index:    i,
				Response: resp,
				Err:      err,
				Success:  err == nil,
				Duration: now().Sub(start),
			}
			if err != nil {
				atomic.AddInt64(&cf.totalFailures, 1)
			}

			if err != nil && opts.FailFast {
				firstErrOnce.Do(func() {
					firstErr <- err
					failCancel()
				})
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case err := <-firstErr:
		// Fail-fast: reject now; still-running tasks finish on their own
		// and their results are discarded.
		return nil, err
	case <-runCtx.Done():
		// A fail-fast cancellation also closes runCtx; the task error wins
		// over the generic cancellation report.
		select {
		case err := <-firstErr:
			return nil, err
		default:
		}
		if opts.Timeout > 0 && runCtx.Err() == context.DeadlineExceeded {
			return nil, fmtErrf(ErrTimeout, "concurrency batch timed out after %s", opts.Timeout)
		}
		return nil, fmtErrf(ErrConcurrent, "concurrency batch cancelled: %v", runCtx.Err())
	}

	// Completed before any cancellation won the select, but a fail-fast
	// error may still be pending if the failing task was the last to
	// finish.
	select {
	case err := <-firstErr:
		return results, err
	default:
	}
	if opts.Timeout > 0 && runCtx.Err() == context.DeadlineExceeded {
		return results, fmtErrf(ErrTimeout, "concurrency batch timed out after %s", opts.Timeout)
	}
	return results, nil
}

package reqcore

import (
	"context"
	"sync"
	"time"
)

// SerialQueueOptions configures one key's queue within a SerialQueue.
type SerialQueueOptions struct {
	// MaxQueueSize bounds how many tasks may be waiting (queued, not yet
	// running) for a key at once. Zero means unbounded. A Submit call
	// that would exceed it fails immediately with an ErrValidation error
	// instead of being enqueued.
	MaxQueueSize int
}

// SerialQueueStats reports one key's queue depth and rolling processing
// time, computed with a simple exponential moving average.
type SerialQueueStats struct {
	PendingTasks    int
	CompletedTasks  int64
	FailedTasks     int64
	AvgProcessingMs float64

	// Running reports whether a task for this key is currently executing
	// (or the drain loop is actively between tasks).
	Running bool
}

// SerialAggregateStats is the runtime-wide rollup across every key.
type SerialAggregateStats struct {
	TotalQueues         int
	ActiveQueues        int
	TotalTasks          int64
	TotalPendingTasks   int
	TotalCompletedTasks int64
	TotalFailedTasks    int64
	Queues              map[string]SerialQueueStats
}

type serialTaskResult struct {
	resp *Response
	err  error
}

type serialTask struct {
	ctx    context.Context
	fn     func(ctx context.Context) (*Response, error)
	result chan serialTaskResult
}

// serialKeyQueue holds one key's pending FIFO task list plus its rolling
// stats, all under one mutex so queue depth and stats never drift apart.
type serialKeyQueue struct {
	mu        sync.Mutex
	opts      *SerialQueueOptions
	tasks     []*serialTask
	draining  bool
	completed int64
	failed    int64
	avgMs     float64
}

func (kq *serialKeyQueue) snapshot() SerialQueueStats {
	kq.mu.Lock()
	defer kq.mu.Unlock()
	return SerialQueueStats{
		PendingTasks:    len(kq.tasks),
		CompletedTasks:  kq.completed,
		FailedTasks:     kq.failed,
		AvgProcessingMs: kq.avgMs,
		Running:         kq.draining,
	}
}

// clearPending removes and returns every currently-queued (not yet
// running) task, leaving the running task (if any, already popped by the
// drain loop) untouched.
func (kq *serialKeyQueue) clearPending() []*serialTask {
	kq.mu.Lock()
	cleared := kq.tasks
	kq.tasks = nil
	kq.mu.Unlock()
	return cleared
}

func (kq *serialKeyQueue) recordCompletion(d time.Duration, err error) {
	kq.mu.Lock()
	defer kq.mu.Unlock()
	if err != nil {
		kq.failed++
	} else {
		kq.completed++
	}
	const alpha = 0.2
	ms := float64(d.Microseconds()) / 1000.0
	if kq.completed+kq.failed == 1 {
		kq.avgMs = ms
	} else {
		kq.avgMs = alpha*ms + (1-alpha)*kq.avgMs
	}
}

// SerialQueue guarantees that, for a given key, at most one task runs at
// a time and tasks run in the order they were submitted. Each key owns an
// explicit FIFO task list drained by a single goroutine that starts when
// the first task for a (previously idle) key arrives and exits once the
// list empties.
type SerialQueue struct {
	mu     sync.Mutex
	queues map[string]*serialKeyQueue
}

// NewSerialQueue builds an empty SerialQueue.
func NewSerialQueue() *SerialQueue {
	return &SerialQueue{queues: make(map[string]*serialKeyQueue)}
}

// queueFor returns key's queue, creating it with opts on first use.
// Options bind at creation: a later Submit with different opts inherits
// the queue's original configuration.
func (q *SerialQueue) queueFor(key string, opts *SerialQueueOptions) *serialKeyQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	kq, ok := q.queues[key]
	if !ok {
		kq = &serialKeyQueue{opts: opts}
		q.queues[key] = kq
	}
	return kq
}

// Submit enqueues task under key and waits for it to run to completion,
// in the order it was submitted relative to other Submit calls on the
// same key. opts may be nil (unbounded queue) and only takes effect for
// the Submit call that creates the queue. If ctx is cancelled while task
// is still queued, Submit returns immediately with an error and the task
// is dropped from the queue without running; if task has already started,
// Submit still waits for it to finish and returns its result.
func (q *SerialQueue) Submit(ctx context.Context, key string, opts *SerialQueueOptions, task func(ctx context.Context) (*Response, error)) (*Response, error) {
	kq := q.queueFor(key, opts)

	kq.mu.Lock()
	if kq.opts != nil && kq.opts.MaxQueueSize > 0 && len(kq.tasks) >= kq.opts.MaxQueueSize {
		kq.mu.Unlock()
		return nil, fmtErrf(ErrValidation, "Serial queue is full")
	}
	t := &serialTask{ctx: ctx, fn: task, result: make(chan serialTaskResult, 1)}
	kq.tasks = append(kq.tasks, t)
	shouldStart := !kq.draining
	kq.draining = true
	kq.mu.Unlock()

	if shouldStart {
		go q.drain(key, kq)
	}

	select {
	case res := <-t.result:
		return res.resp, res.err
	case <-ctx.Done():
		removed := removeTask(kq, t)
		if removed {
			return nil, fmtErrf(ErrConcurrent, "serial task for key %q cancelled while queued: %v", key, ctx.Err())
		}
		// Already dequeued by the drain loop; wait for its actual result
		// rather than racing it.
		res := <-t.result
		return res.resp, res.err
	}
}

// removeTask deletes t from kq.tasks if it is still present (i.e. hasn't
// been dequeued by the drain loop yet), reporting whether it removed it.
func removeTask(kq *serialKeyQueue, t *serialTask) bool {
	kq.mu.Lock()
	defer kq.mu.Unlock()
	for i, candidate := range kq.tasks {
		if candidate == t {
			kq.tasks = append(kq.tasks[:i], kq.tasks[i+1:]...)
			return true
		}
	}
	return false
}

func (q *SerialQueue) drain(key string, kq *serialKeyQueue) {
	for {
		kq.mu.Lock()
		if len(kq.tasks) == 0 {
			kq.draining = false
			kq.mu.Unlock()
			return
		}
		t := kq.tasks[0]
		kq.tasks = kq.tasks[1:]
		kq.mu.Unlock()

		start := now()
		resp, err := t.fn(t.ctx)
		kq.recordCompletion(now().Sub(start), err)

		t.result <- serialTaskResult{resp: resp, err: err}
		close(t.result)
	}
}

// Stats returns the rolling stats for key, or the zero value if key has
// never been used.
func (q *SerialQueue) Stats(key string) SerialQueueStats {
	q.mu.Lock()
	kq, ok := q.queues[key]
	q.mu.Unlock()
	if !ok {
		return SerialQueueStats{}
	}
	return kq.snapshot()
}

// AllStats returns a snapshot of every key currently tracked, keyed by
// serial key.
func (q *SerialQueue) AllStats() map[string]SerialQueueStats {
	q.mu.Lock()
	keys := make(map[string]*serialKeyQueue, len(q.queues))
	for k, kq := range q.queues {
		keys[k] = kq
	}
	q.mu.Unlock()

	out := make(map[string]SerialQueueStats, len(keys))
	for k, kq := range keys {
		out[k] = kq.snapshot()
	}
	return out
}

// AggregateStats rolls AllStats up into runtime-wide totals.
func (q *SerialQueue) AggregateStats() SerialAggregateStats {
	per := q.AllStats()
	agg := SerialAggregateStats{
		TotalQueues: len(per),
		Queues:      per,
	}
	for _, s := range per {
		if s.Running {
			agg.ActiveQueues++
		}
		agg.TotalPendingTasks += s.PendingTasks
		agg.TotalCompletedTasks += s.CompletedTasks
		agg.TotalFailedTasks += s.FailedTasks
		agg.TotalTasks += int64(s.PendingTasks) + s.CompletedTasks + s.FailedTasks
	}
	return agg
}

// Depth reports how many keys currently have a task in flight or queued.
func (q *SerialQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, kq := range q.queues {
		kq.mu.Lock()
		if kq.draining || len(kq.tasks) > 0 {
			n++
		}
		kq.mu.Unlock()
	}
	return n
}

// ClearSerialQueue drops every not-yet-started task queued under key,
// failing each one's Submit call with an error, and reports whether key
// was known at all — an unknown key returns false. The key's stats and
// any already-running task are left untouched.
func (q *SerialQueue) ClearSerialQueue(key string) bool {
	q.mu.Lock()
	kq, ok := q.queues[key]
	q.mu.Unlock()
	if !ok {
		return false
	}
	clearAndFail(key, kq)
	return true
}

// RemoveSerialQueue clears key's pending tasks (as ClearSerialQueue) and
// forgets the key entirely, so a later Submit starts a fresh queue and
// fresh stats. Reports whether the key existed.
func (q *SerialQueue) RemoveSerialQueue(key string) bool {
	q.mu.Lock()
	kq, ok := q.queues[key]
	if ok {
		delete(q.queues, key)
	}
	q.mu.Unlock()
	if !ok {
		return false
	}
	clearAndFail(key, kq)
	return true
}

// ClearAllSerialQueues clears every key's pending tasks without
// forgetting the keys or their stats, and returns the total number of
// tasks cleared.
func (q *SerialQueue) ClearAllSerialQueues() int {
	q.mu.Lock()
	keys := make(map[string]*serialKeyQueue, len(q.queues))
	for k, kq := range q.queues {
		keys[k] = kq
	}
	q.mu.Unlock()

	total := 0
	for k, kq := range keys {
		total += clearAndFail(k, kq)
	}
	return total
}

// RemoveAllSerialQueues clears every key's pending tasks and forgets
// every key, returning how many keys were removed.
func (q *SerialQueue) RemoveAllSerialQueues() int {
	q.mu.Lock()
	all := q.queues
	q.queues = make(map[string]*serialKeyQueue)
	q.mu.Unlock()

	for k, kq := range all {
		clearAndFail(k, kq)
	}
	return len(all)
}

func clearAndFail(key string, kq *serialKeyQueue) int {
	cleared := kq.clearPending()
	for _, t := range cleared {
		t.result <- serialTaskResult{err: fmtErrf(ErrConcurrent, "serial queue for key %q was cleared", key)}
		close(t.result)
	}
	return len(cleared)
}

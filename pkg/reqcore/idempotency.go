package reqcore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// IdempotencyOptions configures IdempotencyFeature.
type IdempotencyOptions struct {
	// TTL bounds how long a completed call's result stays eligible for
	// reuse by a duplicate arriving after the original finished.
	// Defaults to 30s.
	TTL time.Duration

	HashAlgorithm HashAlgorithm
	KeyFunc       func(cfg *RequestConfig) string

	// IncludeHeaders, when non-empty, folds these header values
	// (case-insensitive) into the idempotency key. IncludeAllHeaders
	// folds every header in instead; it wins if both are set.
	IncludeHeaders    []string
	IncludeAllHeaders bool

	// Methods is the set of HTTP methods IdempotencyFeature coalesces.
	// A request whose method isn't in this set bypasses coalescing
	// entirely and runs directly. Defaults to {GET, PUT, DELETE}.
	Methods []Method

	// OnDuplicate fires whenever a caller coalesces onto an already
	// in-flight call, reporting how many callers (including this one)
	// are currently attached to it — grounded on the durable-streams
	// IdempotentProducer's InFlightCount/PendingCount introspection.
	OnDuplicate func(key string, waitersAtCall int)
}

// DefaultIdempotencyOptions hashes with FNV-1a, keeps results around for
// 30s, and coalesces GET/PUT/DELETE (the methods whose re-execution is
// safe by default).
func DefaultIdempotencyOptions() *IdempotencyOptions {
	return &IdempotencyOptions{
		TTL:           30 * time.Second,
		HashAlgorithm: HashFNV1a,
		Methods:       []Method{MethodGet, MethodPut, MethodDelete},
	}
}

func isIdempotentMethod(m Method, methods []Method) bool {
	if len(methods) == 0 {
		methods = DefaultIdempotencyOptions().Methods
	}
	for _, candidate := range methods {
		if candidate == m {
			return true
		}
	}
	return false
}

// IdempotencyResult is the durable, JSON-friendly projection of a
// completed call, used only by the optional Redis-backed storage — the
// in-memory fast path carries the real error value instead of this
// lossy string form.
type IdempotencyResult struct {
	Response     *Response
	ErrorMessage string
}

// IdempotencyStats reports lifetime coalescing activity, named after
// the ratios and counters a caller would want on a dashboard.
type IdempotencyStats struct {
	TotalRequests         int64
	DuplicatesBlocked     int64
	CacheHits             int64
	PendingRequestsReused int64
	ActualNetworkRequests int64

	// DuplicateRate is duplicatesBlocked/totalRequests*100.
	DuplicateRate float64

	AvgResponseTime      time.Duration
	AvgKeyGenerationTime time.Duration
}

type pendingCall struct {
	done    chan struct{}
	resp    *Response
	err     error
	waiters int32
}

// cachedIdempotentResult is a completed call kept around for TTL so a
// duplicate arriving after the original finished can still short-circuit
// without a second transport call.
type cachedIdempotentResult struct {
	resp       *Response
	err        error
	insertedAt time.Time
	ttl        time.Duration
}

func (c *cachedIdempotentResult) expired(at time.Time) bool {
	return c.ttl > 0 && at.Sub(c.insertedAt) >= c.ttl
}

// IdempotencyFeature ensures at most one in-flight operation exists per
// key at a time, and that a duplicate arriving shortly after the
// original completed still observes the original's result instead of
// triggering a fresh call — grounded on the durable-streams
// IdempotentProducer's pending-entry-with-result-channel pattern, plus a
// short-lived completed-result cache alongside it.
type IdempotencyFeature struct {
	mu      sync.Mutex
	pending map[string]*pendingCall
	results map[string]*cachedIdempotentResult
	storage *RedisIdempotencyStorage

	totalRequests         int64
	duplicatesBlocked     int64
	cacheHits             int64
	pendingRequestsReused int64
	actualNetworkRequests int64

	statsMu           sync.Mutex
	totalResponseTime time.Duration
	responseSamples   int64
	totalKeyGenTime   time.Duration
	keyGenSamples     int64
}

// NewIdempotencyFeature builds an IdempotencyFeature. storage may be nil
// to keep coalescing purely in-memory and process-local.
func NewIdempotencyFeature(storage *RedisIdempotencyStorage) *IdempotencyFeature {
	return &IdempotencyFeature{
		pending: make(map[string]*pendingCall),
		results: make(map[string]*cachedIdempotentResult),
		storage: storage,
	}
}

func idempotencyKey(cfg *RequestConfig, opts *IdempotencyOptions) string {
	if opts.KeyFunc != nil {
		return opts.KeyFunc(cfg)
	}
	algo := opts.HashAlgorithm
	if algo == "" {
		algo = HashFNV1a
	}
	parts := canonicalKeyParts(cfg)
	if headerPart := idempotencyHeaderParts(cfg, opts); headerPart != "" {
		parts += "|" + headerPart
	}
	return hashString(algo, parts)
}

// idempotencyHeaderParts renders the header subset opts asks to fold
// into the key, sorted by canonical header name so ordering never
// affects the digest.
func idempotencyHeaderParts(cfg *RequestConfig, opts *IdempotencyOptions) string {
	if opts.IncludeAllHeaders {
		return canonicalJSON(headersToAny(cfg.Headers))
	}
	if len(opts.IncludeHeaders) == 0 {
		return ""
	}
	subset := make(map[string]any, len(opts.IncludeHeaders))
	for _, name := range opts.IncludeHeaders {
		canon := canonicalHeaderName(name)
		for k, v := range cfg.Headers {
			if canonicalHeaderName(k) == canon {
				subset[canon] = v
			}
		}
	}
	return canonicalJSON(subset)
}

func headersToAny(h map[string]string) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[canonicalHeaderName(k)] = v
	}
	return out
}

// Do runs operation at most once for cfg's idempotency key at any given
// time: a second caller arriving while the first is still in flight
// waits for and receives the same (*Response, error) rather than
// triggering its own call, and a caller arriving after the first
// completed (within TTL) gets the cached result instead. Requests whose
// method isn't in opts.Methods bypass coalescing entirely.
func (f *IdempotencyFeature) Do(ctx context.Context, cfg *RequestConfig, opts *IdempotencyOptions, operation func(ctx context.Context) (*Response, error)) (*Response, error) {
	if opts == nil {
		opts = DefaultIdempotencyOptions()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultIdempotencyOptions().TTL
	}
	atomic.AddInt64(&f.totalRequests, 1)

	if !isIdempotentMethod(cfg.Method, opts.Methods) {
		atomic.AddInt64(&f.actualNetworkRequests, 1)
		start := now()
		resp, err := operation(ctx)
		f.recordResponseTime(now().Sub(start))
		return resp, err
	}

	keyStart := now()
	key := idempotencyKey(cfg, opts)
	f.recordKeyGenTime(now().Sub(keyStart))

	f.mu.Lock()
	if cached, ok := f.results[key]; ok && !cached.expired(now()) {
		f.mu.Unlock()
		atomic.AddInt64(&f.cacheHits, 1)
		atomic.AddInt64(&f.duplicatesBlocked, 1)
		return cached.resp, cached.err
	}
	f.mu.Unlock()

	// The persistent adapter may hold a result from another process (or a
	// prior lifetime of this one). Only successful results are reusable:
	// the string form of an error is too lossy to hand back as the real
	// thing. The lookup happens outside the mutex; the pending-map
	// re-check below keeps the at-most-one-in-flight invariant intact.
	if f.storage != nil {
		if stored, ok, err := f.storage.Load(ctx, key); err == nil && ok && stored.ErrorMessage == "" {
			atomic.AddInt64(&f.cacheHits, 1)
			atomic.AddInt64(&f.duplicatesBlocked, 1)
			f.mu.Lock()
			f.results[key] = &cachedIdempotentResult{resp: stored.Response, insertedAt: now(), ttl: ttl}
			f.mu.Unlock()
			return stored.Response, nil
		}
	}

	f.mu.Lock()
	if cached, ok := f.results[key]; ok && !cached.expired(now()) {
		f.mu.Unlock()
		atomic.AddInt64(&f.cacheHits, 1)
		atomic.AddInt64(&f.duplicatesBlocked, 1)
		return cached.resp, cached.err
	}

	if call, ok := f.pending[key]; ok {
		waiters := atomic.AddInt32(&call.waiters, 1)
		f.mu.Unlock()
		atomic.AddInt64(&f.duplicatesBlocked, 1)
		atomic.AddInt64(&f.pendingRequestsReused, 1)
		if opts.OnDuplicate != nil {
			opts.OnDuplicate(key, int(waiters))
		}
		select {
		case <-call.done:
			return call.resp, call.err
		case <-ctx.Done():
			return nil, fmtErrf(ErrConcurrent, "idempotent wait cancelled: %v", ctx.Err())
		}
	}

	call := &pendingCall{done: make(chan struct{}), waiters: 1}
	f.pending[key] = call
	f.mu.Unlock()
	atomic.AddInt64(&f.actualNetworkRequests, 1)

	start := now()
	resp, err := operation(ctx)
	f.recordResponseTime(now().Sub(start))
	call.resp, call.err = resp, err
	close(call.done)

	f.mu.Lock()
	delete(f.pending, key)
	if err == nil {
		f.results[key] = &cachedIdempotentResult{resp: resp, insertedAt: now(), ttl: ttl}
	}
	f.mu.Unlock()

	if f.storage != nil {
		result := &IdempotencyResult{Response: resp}
		if err != nil {
			result.ErrorMessage = err.Error()
		}
		_ = f.storage.Store(ctx, key, result)
	}

	return resp, err
}

func (f *IdempotencyFeature) recordResponseTime(d time.Duration) {
	f.statsMu.Lock()
	f.totalResponseTime += d
	f.responseSamples++
	f.statsMu.Unlock()
}

func (f *IdempotencyFeature) recordKeyGenTime(d time.Duration) {
	f.statsMu.Lock()
	f.totalKeyGenTime += d
	f.keyGenSamples++
	f.statsMu.Unlock()
}

// Stats returns a snapshot of lifetime coalescing activity.
func (f *IdempotencyFeature) Stats() IdempotencyStats {
	total := atomic.LoadInt64(&f.totalRequests)
	duplicates := atomic.LoadInt64(&f.duplicatesBlocked)

	f.statsMu.Lock()
	avgResponse := avgDuration(f.totalResponseTime, f.responseSamples)
	avgKeyGen := avgDuration(f.totalKeyGenTime, f.keyGenSamples)
	f.statsMu.Unlock()

	var rate float64
	if total > 0 {
		rate = float64(duplicates) / float64(total) * 100
	}

	return IdempotencyStats{
		TotalRequests:         total,
		DuplicatesBlocked:     duplicates,
		CacheHits:             atomic.LoadInt64(&f.cacheHits),
		PendingRequestsReused: atomic.LoadInt64(&f.pendingRequestsReused),
		ActualNetworkRequests: atomic.LoadInt64(&f.actualNetworkRequests),
		DuplicateRate:         rate,
		AvgResponseTime:       avgResponse,
		AvgKeyGenerationTime:  avgKeyGen,
	}
}

func avgDuration(total time.Duration, samples int64) time.Duration {
	if samples == 0 {
		return 0
	}
	return total / time.Duration(samples)
}

// InFlight reports how many distinct keys currently have a call in
// progress.
func (f *IdempotencyFeature) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// ClearIdempotentCache removes the cached completed result for key,
// reporting whether one existed. An empty key clears every cached
// result instead.
func (f *IdempotencyFeature) ClearIdempotentCache(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if key == "" {
		existed := len(f.results) > 0
		f.results = make(map[string]*cachedIdempotentResult)
		return existed
	}
	_, existed := f.results[key]
	delete(f.results, key)
	return existed
}

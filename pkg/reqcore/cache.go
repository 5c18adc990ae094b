package reqcore

import (
	"context"
	"net/url"
	"sync"
	"time"
)

// CacheKeyStrategy selects what part of a request CacheFeature derives
// its key from, when KeyFunc isn't set.
type CacheKeyStrategy string

const (
	// CacheKeyParameterized hashes method, URL, query params, and body —
	// the most precise strategy and the default. Two requests only share
	// a cache entry if every one of those matches.
	CacheKeyParameterized CacheKeyStrategy = "parameterized"

	// CacheKeyURLPath hashes only the URL's path, ignoring query string,
	// method, and body — useful when a resource's representation doesn't
	// vary with query parameters.
	CacheKeyURLPath CacheKeyStrategy = "url_path"

	// CacheKeyFullURL hashes the full URL including its query string, but
	// ignores method and body.
	CacheKeyFullURL CacheKeyStrategy = "full_url"

	// CacheKeyCustom defers entirely to CacheOptions.KeyFunc; set this
	// explicitly to document intent even though a non-nil KeyFunc already
	// takes priority regardless of KeyStrategy.
	CacheKeyCustom CacheKeyStrategy = "custom"
)

// CacheCloneMode controls what a cache hit hands back: the stored
// *Response itself, a shallow copy, or a copy whose Data tree is also
// duplicated so callers can mutate it freely.
type CacheCloneMode string

const (
	CloneNone    CacheCloneMode = "none"
	CloneShallow CacheCloneMode = "shallow"
	CloneDeep    CacheCloneMode = "deep"
)

// CacheOptions configures CacheFeature for one request or, set on
// GlobalConfig, for every request that doesn't override it.
type CacheOptions struct {
	TTL           time.Duration
	KeyFunc       func(cfg *RequestConfig) string
	KeyStrategy   CacheKeyStrategy
	HashAlgorithm HashAlgorithm
	MaxEntries    int
	Eviction      EvictionKind
	Clone         CacheCloneMode
}

// DefaultCacheOptions caches for 60s keyed by FNV-1a over method+url+params+body,
// evicting least-recently-used entries once MaxEntries is exceeded.
func DefaultCacheOptions() *CacheOptions {
	return &CacheOptions{
		TTL:           60 * time.Second,
		HashAlgorithm: HashFNV1a,
		MaxEntries:    1000,
		Eviction:      EvictionLRU,
		KeyStrategy:   CacheKeyParameterized,
	}
}

// SweepStats reports the background sweeper's activity.
type SweepStats struct {
	LastSweepAt    time.Time
	EntriesRemoved int
	SweepCount     int
}

// CacheFeature memoizes Transport responses keyed by request identity. It
// owns a CacheStorage (pluggable, in-memory by default), an EvictionPolicy
// (also pluggable), and an optional background sweeper that clears
// expired entries between accesses.
type CacheFeature struct {
	storage CacheStorage
	policy  EvictionPolicy
	opts    *CacheOptions
	metrics CacheMetricsRecorder

	mu    sync.Mutex
	stats SweepStats

	stopOnce sync.Once
	stopCh   chan struct{}
}

// CacheMetricsRecorder receives cache hit/miss counts; implemented by
// internal/telemetry.
type CacheMetricsRecorder interface {
	RecordCacheHit(tag string)
	RecordCacheMiss(tag string)
}

type noopCacheMetrics struct{}

func (noopCacheMetrics) RecordCacheHit(string)  {}
func (noopCacheMetrics) RecordCacheMiss(string) {}

// NewCacheFeature builds a CacheFeature over storage (MemoryCacheStorage
// if nil) using opts (DefaultCacheOptions if nil).
func NewCacheFeature(storage CacheStorage, opts *CacheOptions, metrics CacheMetricsRecorder) *CacheFeature {
	if storage == nil {
		storage = NewMemoryCacheStorage()
	}
	if opts == nil {
		opts = DefaultCacheOptions()
	}
	if metrics == nil {
		metrics = noopCacheMetrics{}
	}
	return &CacheFeature{
		storage: storage,
		policy:  NewEvictionPolicy(opts.Eviction),
		opts:    opts,
		metrics: metrics,
		stopCh:  make(chan struct{}),
	}
}

func (cf *CacheFeature) keyFor(cfg *RequestConfig, opts *CacheOptions) string {
	if opts.KeyFunc != nil {
		return opts.KeyFunc(cfg)
	}
	switch opts.KeyStrategy {
	case CacheKeyURLPath:
		return hashString(opts.HashAlgorithm, urlPath(cfg.URL))
	case CacheKeyFullURL:
		return hashString(opts.HashAlgorithm, cfg.URL)
	default:
		return HashKey(cfg, opts.HashAlgorithm)
	}
}

// urlPath extracts raw's path component, falling back to raw itself if it
// doesn't parse as a URL.
func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}

func effectiveCacheOpts(base, override *CacheOptions) *CacheOptions {
	if override == nil {
		return base
	}
	out := *base
	if override.TTL != 0 {
		out.TTL = override.TTL
	}
	if override.KeyFunc != nil {
		out.KeyFunc = override.KeyFunc
	}
	if override.KeyStrategy != "" {
		out.KeyStrategy = override.KeyStrategy
	}
	if override.HashAlgorithm != "" {
		out.HashAlgorithm = override.HashAlgorithm
	}
	if override.MaxEntries != 0 {
		out.MaxEntries = override.MaxEntries
	}
	if override.Eviction != "" {
		out.Eviction = override.Eviction
	}
	if override.Clone != "" {
		out.Clone = override.Clone
	}
	return &out
}

// cloneResponse applies a CacheCloneMode to a stored response. CloneNone
// returns the stored pointer itself; CloneShallow copies the Response
// struct and its Headers map but shares Data; CloneDeep also duplicates
// the Data tree.
func cloneResponse(resp *Response, mode CacheCloneMode) *Response {
	if resp == nil || mode == "" || mode == CloneNone {
		return resp
	}
	out := *resp
	if resp.Headers != nil {
		out.Headers = make(map[string]string, len(resp.Headers))
		for k, v := range resp.Headers {
			out.Headers[k] = v
		}
	}
	if mode == CloneDeep {
		out.Data = deepCopyValue(resp.Data)
	}
	return &out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	case []byte:
		out := make([]byte, len(t))
		copy(out, t)
		return out
	default:
		return t
	}
}

// Get returns a cached Response for cfg if one exists and has not
// expired, evicting it lazily (and reporting it as a miss) otherwise.
func (cf *CacheFeature) Get(ctx context.Context, cfg *RequestConfig) (*Response, bool) {
	opts := effectiveCacheOpts(cf.opts, cfg.Cache)
	key := cf.keyFor(cfg, opts)

	entry, ok, err := cf.storage.Get(ctx, key)
	if err != nil || !ok {
		cf.metrics.RecordCacheMiss(cfg.Tag)
		return nil, false
	}
	if entry.expired(now()) {
		_ = cf.storage.Delete(ctx, key)
		cf.policy.Remove(key)
		cf.metrics.RecordCacheMiss(cfg.Tag)
		return nil, false
	}
	cf.policy.OnAccess(key)
	cf.metrics.RecordCacheHit(cfg.Tag)
	return cloneResponse(entry.Value, opts.Clone), true
}

// Set stores resp for cfg, evicting a victim first if the cache is over
// capacity.
func (cf *CacheFeature) Set(ctx context.Context, cfg *RequestConfig, resp *Response) error {
	opts := effectiveCacheOpts(cf.opts, cfg.Cache)
	key := cf.keyFor(cfg, opts)

	if opts.MaxEntries > 0 {
		if n, err := cf.storage.Len(ctx); err == nil && n >= opts.MaxEntries {
			if victim, ok := cf.policy.SelectVictim(); ok {
				_ = cf.storage.Delete(ctx, victim)
				cf.policy.Remove(victim)
			}
		}
	}

	entry := &CacheEntry{Key: key, Value: resp}
	if opts.TTL > 0 {
		entry.ExpiresAt = now().Add(opts.TTL)
	}
	if err := cf.storage.Set(ctx, key, entry); err != nil {
		return NewError(ErrCache, "cache set failed", err)
	}
	cf.policy.OnInsert(key)
	return nil
}

// Invalidate removes cfg's cached entry, if any.
func (cf *CacheFeature) Invalidate(ctx context.Context, cfg *RequestConfig) error {
	opts := effectiveCacheOpts(cf.opts, cfg.Cache)
	key := cf.keyFor(cfg, opts)
	cf.policy.Remove(key)
	return cf.storage.Delete(ctx, key)
}

// ClearAll removes every cached entry, regardless of key or expiry,
// complementing Invalidate's single-entry removal.
func (cf *CacheFeature) ClearAll(ctx context.Context) error {
	keys, err := cf.storage.Keys(ctx)
	if err != nil {
		return NewError(ErrCache, "cache keys read failed", err)
	}
	for _, key := range keys {
		_ = cf.storage.Delete(ctx, key)
		cf.policy.Remove(key)
	}
	return nil
}

// StartSweeper launches a goroutine that removes expired entries every
// interval until Stop is called.
func (cf *CacheFeature) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cf.sweep(ctx)
			case <-cf.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (cf *CacheFeature) sweep(ctx context.Context) {
	keys, err := cf.storage.Keys(ctx)
	if err != nil {
		return
	}
	removed := 0
	at := now()
	for _, key := range keys {
		entry, ok, err := cf.storage.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		if entry.expired(at) {
			_ = cf.storage.Delete(ctx, key)
			cf.policy.Remove(key)
			removed++
		}
	}

	cf.mu.Lock()
	cf.stats.LastSweepAt = at
	cf.stats.EntriesRemoved += removed
	cf.stats.SweepCount++
	cf.mu.Unlock()
}

// Len reports how many entries the backing storage currently holds,
// expired or not.
func (cf *CacheFeature) Len(ctx context.Context) int {
	n, err := cf.storage.Len(ctx)
	if err != nil {
		return 0
	}
	return n
}

// Stats returns a snapshot of the sweeper's lifetime activity.
func (cf *CacheFeature) Stats() SweepStats {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return cf.stats
}

// Stop halts the sweeper goroutine, if running. Safe to call more than
// once.
func (cf *CacheFeature) Stop() {
	cf.stopOnce.Do(func() { close(cf.stopCh) })
}

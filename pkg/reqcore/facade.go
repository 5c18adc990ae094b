package reqcore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// RequestOption mutates a RequestConfig, used by the Get/Post/... helpers
// for ad-hoc per-call tweaks without reaching for the full Builder.
type RequestOption func(cfg *RequestConfig)

func WithHeader(key, value string) RequestOption {
	return func(cfg *RequestConfig) {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		cfg.Headers[key] = value
	}
}

func WithQuery(key string, value any) RequestOption {
	return func(cfg *RequestConfig) {
		if cfg.Params == nil {
			cfg.Params = map[string]any{}
		}
		cfg.Params[key] = value
	}
}

func WithTag(tag string) RequestOption {
	return func(cfg *RequestConfig) { cfg.Tag = tag }
}

func WithSerialKey(key string) RequestOption {
	return func(cfg *RequestConfig) { cfg.SerialKey = key }
}

func WithSerialQueueOptions(opts *SerialQueueOptions) RequestOption {
	return func(cfg *RequestConfig) { cfg.Serial = opts }
}

func WithRequestRetry(opts *RetryOptions) RequestOption {
	return func(cfg *RequestConfig) { cfg.Retry = opts }
}

func WithRequestCache(opts *CacheOptions) RequestOption {
	return func(cfg *RequestConfig) { cfg.Cache = opts }
}

func WithRequestIdempotency(opts *IdempotencyOptions) RequestOption {
	return func(cfg *RequestConfig) { cfg.Idempotency = opts }
}

// RequestCore is the public facade: one shared runtime (config,
// interceptors, executor, and the five feature subsystems) bound to a
// single Transport. Every API-client class in pkg/apiclient is built on
// top of a shared *RequestCore rather than owning its own Transport.
type RequestCore struct {
	config      *ConfigManager
	chain       *InterceptorChain
	executor    *RequestExecutor
	retry       *retryFeature
	cache       *CacheFeature
	idempotency *IdempotencyFeature
	concurrency *ConcurrencyFeature
	serial      *SerialQueue
	breakers    *CircuitBreakerRegistry
}

// CoreOption configures a RequestCore at construction.
type CoreOption func(*coreConfig)

type coreConfig struct {
	global        *GlobalConfig
	interceptors  []Interceptor
	logger        *slog.Logger
	execMetrics   MetricsRecorder
	retryMetrics  RetryMetricsRecorder
	cacheMetrics  CacheMetricsRecorder
	cacheStorage  CacheStorage
	cacheOpts     *CacheOptions
	idemStorage   *RedisIdempotencyStorage
	idGen         func() string
}

func WithGlobalConfig(g *GlobalConfig) CoreOption {
	return func(c *coreConfig) { c.global = g }
}

func WithInterceptors(interceptors ...Interceptor) CoreOption {
	return func(c *coreConfig) { c.interceptors = append(c.interceptors, interceptors...) }
}

func WithCoreLogger(logger *slog.Logger) CoreOption {
	return func(c *coreConfig) { c.logger = logger }
}

func WithExecutorMetrics(m MetricsRecorder) CoreOption {
	return func(c *coreConfig) { c.execMetrics = m }
}

func WithRetryMetrics(m RetryMetricsRecorder) CoreOption {
	return func(c *coreConfig) { c.retryMetrics = m }
}

func WithCacheMetrics(m CacheMetricsRecorder) CoreOption {
	return func(c *coreConfig) { c.cacheMetrics = m }
}

func WithCacheStorage(s CacheStorage, opts *CacheOptions) CoreOption {
	return func(c *coreConfig) { c.cacheStorage = s; c.cacheOpts = opts }
}

func WithIdempotencyStorage(s *RedisIdempotencyStorage) CoreOption {
	return func(c *coreConfig) { c.idemStorage = s }
}

func WithRequestIDGenerator(gen func() string) CoreOption {
	return func(c *coreConfig) { c.idGen = gen }
}

// NewRequestCore builds a RequestCore over transport.
func NewRequestCore(transport Transport, opts ...CoreOption) *RequestCore {
	cc := &coreConfig{}
	for _, opt := range opts {
		opt(cc)
	}

	chain := NewInterceptorChain(cc.interceptors...)
	execOpts := []ExecutorOption{WithMetrics(orNoopMetrics(cc.execMetrics))}
	if cc.logger != nil {
		execOpts = append(execOpts, WithLogger(cc.logger))
	}
	if cc.idGen != nil {
		execOpts = append(execOpts, WithIDGenerator(cc.idGen))
	}

	breakers := NewCircuitBreakerRegistry()
	cache := NewCacheFeature(cc.cacheStorage, cc.cacheOpts, cc.cacheMetrics)
	cache.StartSweeper(context.Background(), 5*time.Minute)

	return &RequestCore{
		config:      NewConfigManager(cc.global),
		chain:       chain,
		executor:    NewRequestExecutor(transport, chain, execOpts...),
		retry:       newRetryFeature(cc.retryMetrics, breakers),
		cache:       cache,
		idempotency: NewIdempotencyFeature(cc.idemStorage),
		concurrency: NewConcurrencyFeature(),
		serial:      NewSerialQueue(),
		breakers:    breakers,
	}
}

func orNoopMetrics(m MetricsRecorder) MetricsRecorder {
	if m == nil {
		return noopMetrics{}
	}
	return m
}

// Config returns the RequestCore's ConfigManager, for callers that want
// to adjust GlobalConfig after construction.
func (c *RequestCore) Config() *ConfigManager { return c.config }

// Cache returns the RequestCore's CacheFeature, for manual
// invalidation or sweeper control.
func (c *RequestCore) Cache() *CacheFeature { return c.cache }

// Idempotency returns the RequestCore's IdempotencyFeature, mostly for
// reading Stats().
func (c *RequestCore) Idempotency() *IdempotencyFeature { return c.idempotency }

// SerialQueue returns the RequestCore's SerialQueue, mostly for reading
// Stats()/Depth().
func (c *RequestCore) SerialQueue() *SerialQueue { return c.serial }

// Use registers additional interceptors on the shared chain.
func (c *RequestCore) Use(interceptors ...Interceptor) {
	c.chain.Use(interceptors...)
}

// SwitchTransport hot-swaps the Transport underneath this RequestCore.
// Interceptors, GlobalConfig, caches, the pending-idempotency map, and
// serial queue state are all preserved untouched; only the wire layer
// changes for subsequent calls.
func (c *RequestCore) SwitchTransport(transport Transport) {
	c.executor.SetTransport(transport)
}

// Do is the single entrypoint every convenience method funnels through:
// merge config, optionally route through the SerialQueue, optionally
// check/populate the cache, optionally coalesce via IdempotencyFeature,
// optionally retry, and finally execute.
func (c *RequestCore) Do(ctx context.Context, cfg *RequestConfig) (*Response, error) {
	resp, _, err := c.do(ctx, cfg)
	return resp, err
}

// do is Do plus the number of retries the call performed, threaded up
// from RetryFeature so Batch can report a real per-task retry count.
func (c *RequestCore) do(ctx context.Context, cfg *RequestConfig) (*Response, int, error) {
	merged, err := c.config.Merge(cfg)
	if err != nil {
		return nil, 0, err
	}

	if merged.SerialKey != "" {
		var retries int
		resp, err := c.serial.Submit(ctx, merged.SerialKey, merged.Serial, func(ctx context.Context) (*Response, error) {
			r, n, e := c.doUnserialized(ctx, merged)
			retries = n
			return r, e
		})
		return resp, retries, err
	}
	return c.doUnserialized(ctx, merged)
}

func (c *RequestCore) doUnserialized(ctx context.Context, cfg *RequestConfig) (*Response, int, error) {
	if cfg.Cache != nil {
		if resp, ok := c.cache.Get(ctx, cfg); ok {
			return resp, 0, nil
		}
	}

	// A waiter coalesced onto another caller's in-flight operation never
	// runs this closure, so its retry count stays 0.
	var retries int
	operation := func(ctx context.Context) (*Response, error) {
		r, n, e := c.doRetried(ctx, cfg)
		retries = n
		return r, e
	}

	var resp *Response
	var err error
	if cfg.Idempotency != nil {
		resp, err = c.idempotency.Do(ctx, cfg, cfg.Idempotency, operation)
	} else {
		resp, err = operation(ctx)
	}
	if err != nil {
		return nil, retries, err
	}

	if cfg.Cache != nil {
		_ = c.cache.Set(ctx, cfg, resp)
	}
	return resp, retries, nil
}

func (c *RequestCore) doRetried(ctx context.Context, cfg *RequestConfig) (*Response, int, error) {
	if cfg.Retry == nil {
		resp, err := c.executor.Execute(ctx, cfg)
		return resp, 0, err
	}
	resp, stats, err := c.retry.Do(ctx, cfg.Tag, cfg.Retry, func(ctx context.Context) (*Response, error) {
		return c.executor.Execute(ctx, cfg)
	})
	retries := 0
	if stats != nil && stats.Attempts > 0 {
		retries = stats.Attempts - 1
	}
	return resp, retries, err
}

func (c *RequestCore) request(ctx context.Context, method Method, url string, body any, opts ...RequestOption) (*Response, error) {
	cfg := &RequestConfig{Method: method, URL: url, Data: body}
	for _, opt := range opts {
		opt(cfg)
	}
	return c.Do(ctx, cfg)
}

func (c *RequestCore) Get(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.request(ctx, MethodGet, url, nil, opts...)
}

func (c *RequestCore) Post(ctx context.Context, url string, body any, opts ...RequestOption) (*Response, error) {
	return c.request(ctx, MethodPost, url, body, opts...)
}

func (c *RequestCore) Put(ctx context.Context, url string, body any, opts ...RequestOption) (*Response, error) {
	return c.request(ctx, MethodPut, url, body, opts...)
}

func (c *RequestCore) Patch(ctx context.Context, url string, body any, opts ...RequestOption) (*Response, error) {
	return c.request(ctx, MethodPatch, url, body, opts...)
}

func (c *RequestCore) Delete(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.request(ctx, MethodDelete, url, nil, opts...)
}

// Batch runs cfgs with bounded parallelism via ConcurrencyFeature,
// returning one ConcurrencyResult per config, index-aligned with cfgs:
// result[i].Config is exactly cfgs[i], and RetryCount reflects the
// retries that task performed when its config carries a retry policy.
func (c *RequestCore) Batch(ctx context.Context, cfgs []*RequestConfig, opts *ConcurrencyOptions) ([]ConcurrencyResult, error) {
	tasks := make([]func(ctx context.Context) (*Response, error), len(cfgs))
	retryCounts := make([]int, len(cfgs))
	for i, cfg := range cfgs {
		i, cfg := i, cfg
		tasks[i] = func(ctx context.Context) (*Response, error) {
			resp, retries, err := c.do(ctx, cfg)
			retryCounts[i] = retries
			return resp, err
		}
	}
	results, err := c.concurrency.RunAll(ctx, opts, tasks)
	for i := range results {
		results[i].Config = cfgs[i]
		results[i].RetryCount = retryCounts[i]
	}
	return results, err
}

// Decode unmarshals resp.Data into a *T. If resp.Data is already a *T or
// T, it is returned directly; otherwise it is round-tripped through JSON,
// covering transports that hand back map[string]any or raw bytes.
func Decode[T any](resp *Response) (*T, error) {
	if resp == nil {
		return nil, fmtErrf(ErrValidation, "cannot decode nil response")
	}
	switch v := resp.Data.(type) {
	case T:
		return &v, nil
	case *T:
		return v, nil
	case []byte:
		var out T
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, NewError(ErrValidation, "response decode failed", err)
		}
		return &out, nil
	default:
		b, err := json.Marshal(resp.Data)
		if err != nil {
			return nil, NewError(ErrValidation, "response re-marshal failed", err)
		}
		var out T
		if err := json.Unmarshal(b, &out); err != nil {
			return nil, NewError(ErrValidation, "response decode failed", err)
		}
		return &out, nil
	}
}

package reqcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyFeature_CoalescesConcurrentCalls(t *testing.T) {
	f := NewIdempotencyFeature(nil)
	cfg := &RequestConfig{Method: MethodPut, URL: "https://example.com/pay"}

	var calls int32CounterStub
	release := make(chan struct{})

	operation := func(ctx context.Context) (*Response, error) {
		calls.inc()
		<-release
		return &Response{StatusCode: 200}, nil
	}

	const n = 5
	var wg sync.WaitGroup
	results := make([]*Response, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.Do(context.Background(), cfg, nil, operation)
		}()
	}

	time.Sleep(20 * time.Millisecond) // let every caller attach before releasing
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.value())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 200, results[i].StatusCode)
	}

	stats := f.Stats()
	assert.Equal(t, int64(n), stats.TotalRequests)
	assert.Equal(t, int64(n-1), stats.DuplicatesBlocked)
	assert.Equal(t, int64(n-1), stats.PendingRequestsReused)
	assert.Equal(t, int64(1), stats.ActualNetworkRequests)
}

func TestIdempotencyFeature_DistinctKeysRunIndependently(t *testing.T) {
	f := NewIdempotencyFeature(nil)
	cfgA := &RequestConfig{Method: MethodPost, URL: "https://example.com/a"}
	cfgB := &RequestConfig{Method: MethodPost, URL: "https://example.com/b"}

	var calls int32CounterStub
	op := func(ctx context.Context) (*Response, error) {
		calls.inc()
		return &Response{StatusCode: 200}, nil
	}

	_, err := f.Do(context.Background(), cfgA, nil, op)
	require.NoError(t, err)
	_, err = f.Do(context.Background(), cfgB, nil, op)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.value())
}

func TestIdempotencyFeature_OnDuplicateReportsWaiterCount(t *testing.T) {
	f := NewIdempotencyFeature(nil)
	release := make(chan struct{})
	cfg := &RequestConfig{Method: MethodPut, URL: "https://example.com/x"}

	var mu sync.Mutex
	var maxWaiters int
	opts := &IdempotencyOptions{
		OnDuplicate: func(key string, waitersAtCall int) {
			mu.Lock()
			if waitersAtCall > maxWaiters {
				maxWaiters = waitersAtCall
			}
			mu.Unlock()
		},
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.Do(context.Background(), cfg, opts, func(ctx context.Context) (*Response, error) {
				<-release
				return &Response{StatusCode: 200}, nil
			})
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.GreaterOrEqual(t, maxWaiters, 2)
}

func TestIdempotencyFeature_CompletedResultServedFromCache(t *testing.T) {
	f := NewIdempotencyFeature(nil)
	cfg := &RequestConfig{Method: MethodGet, URL: "https://example.com/status"}

	var calls int32CounterStub
	op := func(ctx context.Context) (*Response, error) {
		calls.inc()
		return &Response{StatusCode: 200}, nil
	}

	_, err := f.Do(context.Background(), cfg, nil, op)
	require.NoError(t, err)
	_, err = f.Do(context.Background(), cfg, nil, op)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.value(), "second call after the first completed must be served from the result cache")
	stats := f.Stats()
	assert.Equal(t, int64(1), stats.CacheHits)
}

func TestIdempotencyFeature_ExpiredResultTriggersFreshCall(t *testing.T) {
	f := NewIdempotencyFeature(nil)
	cfg := &RequestConfig{Method: MethodGet, URL: "https://example.com/status"}
	opts := &IdempotencyOptions{HashAlgorithm: HashFNV1a, Methods: []Method{MethodGet}, TTL: 10 * time.Millisecond}

	var calls int32CounterStub
	op := func(ctx context.Context) (*Response, error) {
		calls.inc()
		return &Response{StatusCode: 200}, nil
	}

	_, err := f.Do(context.Background(), cfg, opts, op)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = f.Do(context.Background(), cfg, opts, op)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.value())
}

func TestIdempotencyFeature_NonIdempotentMethodBypassesCoalescing(t *testing.T) {
	f := NewIdempotencyFeature(nil)
	cfg := &RequestConfig{Method: MethodPost, URL: "https://example.com/pay"}

	var calls int32CounterStub
	op := func(ctx context.Context) (*Response, error) {
		calls.inc()
		return &Response{StatusCode: 200}, nil
	}

	_, err := f.Do(context.Background(), cfg, nil, op)
	require.NoError(t, err)
	_, err = f.Do(context.Background(), cfg, nil, op)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.value(), "POST is not in the default idempotent method set and must bypass coalescing")
}

func TestIdempotencyFeature_IncludeHeadersAffectsKey(t *testing.T) {
	f := NewIdempotencyFeature(nil)
	opts := &IdempotencyOptions{HashAlgorithm: HashFNV1a, Methods: []Method{MethodGet}, IncludeHeaders: []string{"X-Tenant"}}

	var calls int32CounterStub
	op := func(ctx context.Context) (*Response, error) {
		calls.inc()
		return &Response{StatusCode: 200}, nil
	}

	cfgTenantA := &RequestConfig{Method: MethodGet, URL: "https://example.com/data", Headers: map[string]string{"X-Tenant": "a"}}
	cfgTenantB := &RequestConfig{Method: MethodGet, URL: "https://example.com/data", Headers: map[string]string{"X-Tenant": "b"}}

	_, err := f.Do(context.Background(), cfgTenantA, opts, op)
	require.NoError(t, err)
	_, err = f.Do(context.Background(), cfgTenantB, opts, op)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.value(), "distinct X-Tenant values must hash to distinct idempotency keys")
}

func TestIdempotencyFeature_ClearIdempotentCache(t *testing.T) {
	f := NewIdempotencyFeature(nil)
	cfg := &RequestConfig{Method: MethodGet, URL: "https://example.com/status"}

	var calls int32CounterStub
	op := func(ctx context.Context) (*Response, error) {
		calls.inc()
		return &Response{StatusCode: 200}, nil
	}

	_, err := f.Do(context.Background(), cfg, nil, op)
	require.NoError(t, err)

	key := idempotencyKey(cfg, DefaultIdempotencyOptions())
	assert.True(t, f.ClearIdempotentCache(key))
	assert.False(t, f.ClearIdempotentCache(key), "clearing an already-absent key reports false")

	_, err = f.Do(context.Background(), cfg, nil, op)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.value(), "clearing the cached result must force a fresh call")
}

func TestIdempotencyFeature_ClearIdempotentCacheAll(t *testing.T) {
	f := NewIdempotencyFeature(nil)
	cfgA := &RequestConfig{Method: MethodGet, URL: "https://example.com/a"}
	cfgB := &RequestConfig{Method: MethodGet, URL: "https://example.com/b"}
	op := func(ctx context.Context) (*Response, error) { return &Response{StatusCode: 200}, nil }

	_, err := f.Do(context.Background(), cfgA, nil, op)
	require.NoError(t, err)
	_, err = f.Do(context.Background(), cfgB, nil, op)
	require.NoError(t, err)

	assert.True(t, f.ClearIdempotentCache(""))
	assert.False(t, f.ClearIdempotentCache(""))
}

// int32CounterStub is a tiny atomic counter, kept local to this test file
// to avoid pulling sync/atomic into every test for one counter.
type int32CounterStub struct {
	mu sync.Mutex
	n  int32
}

func (c *int32CounterStub) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *int32CounterStub) value() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

package reqcore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestCore_GetAndPost(t *testing.T) {
	var lastMethod Method
	transport := TransportFunc(func(ctx context.Context, cfg *RequestConfig) (*Response, error) {
		lastMethod = cfg.Method
		return &Response{StatusCode: 200, Data: cfg.Data}, nil
	})
	core := NewRequestCore(transport, WithGlobalConfig(&GlobalConfig{BaseURL: "https://api.example.com/"}))

	resp, err := core.Get(context.Background(), "users/1")
	require.NoError(t, err)
	assert.Equal(t, MethodGet, lastMethod)
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = core.Post(context.Background(), "users", map[string]string{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, MethodPost, lastMethod)
}

func TestRequestCore_CachesGetResponses(t *testing.T) {
	var calls int32
	transport := TransportFunc(func(ctx context.Context, cfg *RequestConfig) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		return &Response{StatusCode: 200, Data: "cached-value"}, nil
	})
	core := NewRequestCore(transport)

	opt := WithRequestCache(DefaultCacheOptions())
	resp1, err := core.Get(context.Background(), "https://example.com/x", opt)
	require.NoError(t, err)
	resp2, err := core.Get(context.Background(), "https://example.com/x", opt)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, resp1.Data, resp2.Data)
}

func TestRequestCore_RetriesOnTransientFailure(t *testing.T) {
	var calls int32
	transport := TransportFunc(func(ctx context.Context, cfg *RequestConfig) (*Response, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			return nil, NewError(ErrNetwork, "down", nil)
		}
		return &Response{StatusCode: 200}, nil
	})
	core := NewRequestCore(transport)

	retryOpts := DefaultRetryOptions()
	retryOpts.BaseDelay = time.Millisecond
	resp, err := core.Get(context.Background(), "https://example.com", WithRequestRetry(retryOpts))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRequestCore_Batch(t *testing.T) {
	transport := TransportFunc(func(ctx context.Context, cfg *RequestConfig) (*Response, error) {
		return &Response{StatusCode: 200, Data: cfg.URL}, nil
	})
	core := NewRequestCore(transport, WithGlobalConfig(&GlobalConfig{BaseURL: "https://example.com/"}))

	cfgs := []*RequestConfig{
		{Method: MethodGet, URL: "a"},
		{Method: MethodGet, URL: "b"},
		{Method: MethodGet, URL: "c"},
	}
	results, err := core.Batch(context.Background(), cfgs, &ConcurrencyOptions{MaxConcurrency: IntPtr(2)})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, i, r.Index)
		assert.Same(t, cfgs[i], r.Config, "result[i].Config must be exactly the input config at i")
		assert.True(t, r.Success)
		assert.Zero(t, r.RetryCount)
	}
}

func TestRequestCore_BatchReportsRetryCountAndFailure(t *testing.T) {
	var calls int32
	transport := TransportFunc(func(ctx context.Context, cfg *RequestConfig) (*Response, error) {
		if cfg.URL == "https://example.com/flaky" {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, NewError(ErrNetwork, "down", nil)
			}
			return &Response{StatusCode: 200}, nil
		}
		return nil, NewError(ErrHTTP, "bad request", nil)
	})
	core := NewRequestCore(transport)

	retryOpts := &RetryOptions{MaxRetries: 3, BaseDelay: time.Millisecond}
	cfgs := []*RequestConfig{
		{Method: MethodGet, URL: "https://example.com/flaky", Retry: retryOpts},
		{Method: MethodGet, URL: "https://example.com/broken"},
	}

	results, err := core.Batch(context.Background(), cfgs, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Success)
	assert.Equal(t, 2, results[0].RetryCount, "two failed attempts before success means two retries")
	assert.Same(t, cfgs[0], results[0].Config)
	assert.Greater(t, results[0].Duration, time.Duration(0))

	assert.False(t, results[1].Success)
	require.Error(t, results[1].Err)
	assert.Zero(t, results[1].RetryCount)
	assert.Same(t, cfgs[1], results[1].Config)
}

func TestRequestCore_SerialKeyOrdersRequests(t *testing.T) {
	var order []int
	var idx int32
	transport := TransportFunc(func(ctx context.Context, cfg *RequestConfig) (*Response, error) {
		n := int(atomic.AddInt32(&idx, 1))
		order = append(order, n)
		return &Response{StatusCode: 200}, nil
	})
	core := NewRequestCore(transport)

	for i := 0; i < 3; i++ {
		_, err := core.Put(context.Background(), "https://example.com/item", nil, WithSerialKey("item"))
		require.NoError(t, err)
	}
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestRequestCore_SwitchTransportPreservesState(t *testing.T) {
	first := TransportFunc(func(ctx context.Context, cfg *RequestConfig) (*Response, error) {
		return &Response{StatusCode: 200, Data: "first"}, nil
	})
	core := NewRequestCore(first)
	core.Use(FuncInterceptor{
		PreSendFunc: func(ctx context.Context, cfg *RequestConfig) (*RequestConfig, error) {
			cfg.Tag = "tagged"
			return cfg, nil
		},
	})

	resp, err := core.Get(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Data)

	var seenTag string
	second := TransportFunc(func(ctx context.Context, cfg *RequestConfig) (*Response, error) {
		seenTag = cfg.Tag
		return &Response{StatusCode: 200, Data: "second"}, nil
	})
	core.SwitchTransport(second)

	resp, err = core.Get(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Data)
	assert.Equal(t, "tagged", seenTag, "interceptor chain must survive a transport switch")
}

type decodeTarget struct {
	Name string `json:"name"`
}

func TestDecode_FromMapData(t *testing.T) {
	resp := &Response{Data: map[string]any{"name": "ada"}}
	out, err := Decode[decodeTarget](resp)
	require.NoError(t, err)
	assert.Equal(t, "ada", out.Name)
}

func TestDecode_FromRawBytes(t *testing.T) {
	resp := &Response{Data: []byte(`{"name":"grace"}`)}
	out, err := Decode[decodeTarget](resp)
	require.NoError(t, err)
	assert.Equal(t, "grace", out.Name)
}

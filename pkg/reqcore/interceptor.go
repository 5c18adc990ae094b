package reqcore

import (
	"context"
	"sync"
)

// Interceptor observes or transforms a request at up to three phases:
// before it is sent, after a response comes back, and when an error
// occurs. OnError may recover by returning a non-nil *Response with a nil
// error (the pipeline treats it as the successful outcome), replace the
// error by returning a different one, or pass the error through
// unchanged. Embed BaseInterceptor to pick up no-op defaults for phases
// you don't care about.
type Interceptor interface {
	PreSend(ctx context.Context, cfg *RequestConfig) (*RequestConfig, error)
	PostReceive(ctx context.Context, cfg *RequestConfig, resp *Response) (*Response, error)
	OnError(ctx context.Context, cfg *RequestConfig, err error) (*Response, error)
}

// BaseInterceptor implements Interceptor as no-ops; embed it and override
// only the phases a concrete interceptor needs.
type BaseInterceptor struct{}

func (BaseInterceptor) PreSend(_ context.Context, cfg *RequestConfig) (*RequestConfig, error) {
	return cfg, nil
}

func (BaseInterceptor) PostReceive(_ context.Context, _ *RequestConfig, resp *Response) (*Response, error) {
	return resp, nil
}

func (BaseInterceptor) OnError(_ context.Context, _ *RequestConfig, err error) (*Response, error) {
	return nil, err
}

// FuncInterceptor builds an Interceptor out of plain functions, for
// one-off interceptors that don't warrant a named type. A nil field keeps
// that phase a no-op.
type FuncInterceptor struct {
	PreSendFunc     func(ctx context.Context, cfg *RequestConfig) (*RequestConfig, error)
	PostReceiveFunc func(ctx context.Context, cfg *RequestConfig, resp *Response) (*Response, error)
	OnErrorFunc     func(ctx context.Context, cfg *RequestConfig, err error) (*Response, error)
}

func (f FuncInterceptor) PreSend(ctx context.Context, cfg *RequestConfig) (*RequestConfig, error) {
	if f.PreSendFunc == nil {
		return cfg, nil
	}
	return f.PreSendFunc(ctx, cfg)
}

func (f FuncInterceptor) PostReceive(ctx context.Context, cfg *RequestConfig, resp *Response) (*Response, error) {
	if f.PostReceiveFunc == nil {
		return resp, nil
	}
	return f.PostReceiveFunc(ctx, cfg, resp)
}

func (f FuncInterceptor) OnError(ctx context.Context, cfg *RequestConfig, err error) (*Response, error) {
	if f.OnErrorFunc == nil {
		return nil, err
	}
	return f.OnErrorFunc(ctx, cfg, err)
}

// InterceptorChain runs a sequence of Interceptors around one request.
// All three phases — PreSend, PostReceive, and OnError — run in
// registration order. The chain may be grown (Use) or swapped wholesale
// (Replace) while requests are in flight; each phase iterates a snapshot.
type InterceptorChain struct {
	mu           sync.RWMutex
	interceptors []Interceptor
}

// NewInterceptorChain builds a chain from interceptors, applied in the
// order given.
func NewInterceptorChain(interceptors ...Interceptor) *InterceptorChain {
	return &InterceptorChain{interceptors: interceptors}
}

// Use appends interceptors to the end of the chain.
func (c *InterceptorChain) Use(interceptors ...Interceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interceptors = append(c.interceptors, interceptors...)
}

// Replace discards the current chain and installs interceptors as the
// exact new list.
func (c *InterceptorChain) Replace(interceptors ...Interceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interceptors = append([]Interceptor(nil), interceptors...)
}

func (c *InterceptorChain) snapshot() []Interceptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.interceptors
}

// RunPreSend applies every interceptor's PreSend phase in order, stopping
// at the first error.
func (c *InterceptorChain) RunPreSend(ctx context.Context, cfg *RequestConfig) (*RequestConfig, error) {
	var err error
	for _, i := range c.snapshot() {
		cfg, err = i.PreSend(ctx, cfg)
		if err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// RunPostReceive applies every interceptor's PostReceive phase in
// registration order, stopping at the first error.
func (c *InterceptorChain) RunPostReceive(ctx context.Context, cfg *RequestConfig, resp *Response) (*Response, error) {
	var err error
	for _, i := range c.snapshot() {
		resp, err = i.PostReceive(ctx, cfg, resp)
		if err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// RunOnError gives every interceptor, in registration order, a chance to
// recover from or transform an error. The first interceptor that returns
// a nil error recovers: its *Response (which may itself be nil) becomes
// the pipeline's successful outcome and the rest of the chain is skipped.
// Otherwise each interceptor's returned error replaces the previous one.
func (c *InterceptorChain) RunOnError(ctx context.Context, cfg *RequestConfig, err error) (*Response, error) {
	for _, i := range c.snapshot() {
		resp, nerr := i.OnError(ctx, cfg, err)
		if nerr == nil {
			return resp, nil
		}
		err = nerr
	}
	return nil, err
}

// Len reports how many interceptors are registered.
func (c *InterceptorChain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.interceptors)
}

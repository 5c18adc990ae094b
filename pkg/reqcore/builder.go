package reqcore

import (
	"context"
	"net/textproto"
	"time"
)

// Builder constructs a RequestConfig through a staged fluent API instead
// of a large struct literal, validating only at Build.
type Builder struct {
	cfg *RequestConfig
}

// NewBuilder starts a Builder defaulted to GET with an empty header set.
func NewBuilder() *Builder {
	return &Builder{cfg: &RequestConfig{Method: MethodGet, Headers: map[string]string{}}}
}

// URL sets the request URL (absolute, or relative to the ConfigManager's
// BaseURL).
func (b *Builder) URL(url string) *Builder {
	b.cfg.URL = url
	return b
}

// Method sets the HTTP verb.
func (b *Builder) Method(m Method) *Builder {
	b.cfg.Method = m
	return b
}

// Header sets one request header; later calls with the same key
// (case-insensitively) overwrite earlier ones.
func (b *Builder) Header(key, value string) *Builder {
	if b.cfg.Headers == nil {
		b.cfg.Headers = map[string]string{}
	}
	b.cfg.Headers[textproto.CanonicalMIMEHeaderKey(key)] = value
	return b
}

// Query sets one query parameter.
func (b *Builder) Query(key string, value any) *Builder {
	if b.cfg.Params == nil {
		b.cfg.Params = map[string]any{}
	}
	b.cfg.Params[key] = value
	return b
}

// Body sets the request payload.
func (b *Builder) Body(data any) *Builder {
	b.cfg.Data = data
	return b
}

// Timeout sets a per-request timeout, overriding the GlobalConfig default.
func (b *Builder) Timeout(d time.Duration) *Builder {
	b.cfg.Timeout = d
	return b
}

// ResponseType hints how the Transport should decode the response body.
func (b *Builder) ResponseType(rt ResponseType) *Builder {
	b.cfg.ResponseType = rt
	return b
}

// Tag sets the request's tag, used for metrics labeling, circuit breaker
// scoping, and lifecycle hook correlation.
func (b *Builder) Tag(tag string) *Builder {
	b.cfg.Tag = tag
	return b
}

// SerialKey routes the request through the RequestCore's SerialQueue under
// the given key instead of executing immediately.
func (b *Builder) SerialKey(key string) *Builder {
	b.cfg.SerialKey = key
	return b
}

// Metadata attaches one arbitrary metadata key/value, carried through
// error context and lifecycle hooks.
func (b *Builder) Metadata(key string, value any) *Builder {
	if b.cfg.Metadata == nil {
		b.cfg.Metadata = map[string]any{}
	}
	b.cfg.Metadata[key] = value
	return b
}

// Retry attaches per-request retry options, overriding GlobalConfig's.
func (b *Builder) Retry(opts *RetryOptions) *Builder {
	b.cfg.Retry = opts
	return b
}

// Cache attaches per-request cache options, overriding GlobalConfig's.
func (b *Builder) Cache(opts *CacheOptions) *Builder {
	b.cfg.Cache = opts
	return b
}

// Idempotency attaches per-request idempotency options, overriding
// GlobalConfig's.
func (b *Builder) Idempotency(opts *IdempotencyOptions) *Builder {
	b.cfg.Idempotency = opts
	return b
}

// Debug toggles verbose per-request logging.
func (b *Builder) Debug(v bool) *Builder {
	b.cfg.Debug = v
	return b
}

// OnStart, OnEnd, and OnError attach the corresponding lifecycle hooks.
func (b *Builder) OnStart(fn func(cfg *RequestConfig)) *Builder {
	b.cfg.OnStart = fn
	return b
}

func (b *Builder) OnEnd(fn func(cfg *RequestConfig, resp *Response, duration time.Duration)) *Builder {
	b.cfg.OnEnd = fn
	return b
}

func (b *Builder) OnError(fn func(cfg *RequestConfig, err error, duration time.Duration)) *Builder {
	b.cfg.OnError = fn
	return b
}

// Build validates and returns the assembled RequestConfig. A missing URL
// is the one structural error Builder itself checks; everything else is
// left to ConfigManager.Validate during Merge.
func (b *Builder) Build() (*RequestConfig, error) {
	if b.cfg.URL == "" {
		return nil, NewValidationError("BUILDER_NO_URL", "URL is required")
	}
	return b.cfg, nil
}

// Send builds the config and dispatches it against core, picking exactly
// one feature path by priority when more than one is set on the built
// config: retry beats cache beats idempotency beats a plain call. This
// mirrors Do's composition but as a single deterministic dispatch for
// callers that attached more than one feature to the same Builder and
// want one, not all, applied.
func (b *Builder) Send(ctx context.Context, core *RequestCore) (*Response, error) {
	cfg, err := b.Build()
	if err != nil {
		return nil, err
	}

	dispatch := cfg.clone()
	switch {
	case dispatch.Retry != nil:
		dispatch.Cache, dispatch.Idempotency = nil, nil
	case dispatch.Cache != nil:
		dispatch.Idempotency = nil
	case dispatch.Idempotency != nil:
	}

	return core.Do(ctx, dispatch)
}

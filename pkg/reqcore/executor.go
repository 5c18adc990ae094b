package reqcore

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"
)

// MetricsRecorder receives per-request outcomes. internal/telemetry
// implements this over Prometheus; it is an interface here so reqcore
// itself never imports a metrics backend directly.
type MetricsRecorder interface {
	RecordRequest(tag string, method Method, outcome string, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordRequest(string, Method, string, time.Duration) {}

// RequestExecutor drives one request through the interceptor chain and a
// Transport, stamping a request id, timing the call, invoking the
// RequestConfig's lifecycle hooks, and normalizing any error into *Error
// with context attached. This is the engine underneath RequestCore's
// get/post/etc. operations.
type RequestExecutor struct {
	mu        sync.RWMutex
	transport Transport
	chain     *InterceptorChain
	logger    *slog.Logger
	metrics   MetricsRecorder
	idGen     func() string
}

// ExecutorOption configures a RequestExecutor at construction.
type ExecutorOption func(*RequestExecutor)

// WithLogger attaches a structured logger; nil disables logging.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *RequestExecutor) { e.logger = logger }
}

// WithMetrics attaches a MetricsRecorder.
func WithMetrics(m MetricsRecorder) ExecutorOption {
	return func(e *RequestExecutor) { e.metrics = m }
}

// WithIDGenerator overrides the request id generator (tests use this to
// get deterministic ids).
func WithIDGenerator(gen func() string) ExecutorOption {
	return func(e *RequestExecutor) { e.idGen = gen }
}

// NewRequestExecutor builds a RequestExecutor over transport, running cfg
// through chain (which may be empty) on every call.
func NewRequestExecutor(transport Transport, chain *InterceptorChain, opts ...ExecutorOption) *RequestExecutor {
	if chain == nil {
		chain = NewInterceptorChain()
	}
	e := &RequestExecutor{
		transport: transport,
		chain:     chain,
		metrics:   noopMetrics{},
		idGen:     GenerateRequestID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one request end to end: PreSend interceptors, Transport,
// PostReceive interceptors, with OnStart/OnEnd/OnError hooks fired around
// the call and every error normalized to *Error with context attached.
func (e *RequestExecutor) Execute(ctx context.Context, cfg *RequestConfig) (*Response, error) {
	start := now()
	requestID := e.idGen()
	ctx = WithRequestID(ctx, requestID)

	if cfg.OnStart != nil {
		e.safeHook(ctx, "OnStart", func() { cfg.OnStart(cfg) })
	}
	if e.logger != nil {
		if cfg.Debug {
			e.logger.InfoContext(ctx, "request start",
				"request_id", requestID, "method", cfg.Method, "url", cfg.URL, "tag", cfg.Tag,
				"headers", redactHeaders(cfg.Headers), "body", truncateBody(cfg.Data))
		} else {
			e.logger.DebugContext(ctx, "request start", "request_id", requestID, "method", cfg.Method, "url", cfg.URL, "tag", cfg.Tag)
		}
	}

	preCfg, err := e.chain.RunPreSend(ctx, cfg)
	if err != nil {
		return e.fail(ctx, cfg, preCfg, start, requestID, err)
	}

	e.mu.RLock()
	transport := e.transport
	e.mu.RUnlock()

	resp, err := transport.Send(ctx, preCfg)
	if err != nil {
		return e.fail(ctx, cfg, preCfg, start, requestID, err)
	}

	resp, err = e.chain.RunPostReceive(ctx, preCfg, resp)
	if err != nil {
		return e.fail(ctx, cfg, preCfg, start, requestID, err)
	}

	duration := now().Sub(start)
	if cfg.OnEnd != nil {
		e.safeHook(ctx, "OnEnd", func() { cfg.OnEnd(preCfg, resp, duration) })
	}
	if e.logger != nil {
		e.logger.DebugContext(ctx, "request end", "request_id", requestID, "duration_ms", duration.Milliseconds(), "status", resp.StatusCode)
	}
	e.metrics.RecordRequest(cfg.Tag, preCfg.Method, "success", duration)
	return resp, nil
}

// sensitiveHeaderPattern matches header names whose values must never
// reach a log line.
var sensitiveHeaderPattern = regexp.MustCompile(`(?i)authorization|token|key`)

// redactHeaders copies h with credential-bearing values masked.
func redactHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if sensitiveHeaderPattern.MatchString(k) {
			out[k] = "[REDACTED]"
		} else {
			out[k] = v
		}
	}
	return out
}

// truncateBody renders a request body for logging, bounding its length so
// a large payload never floods the log.
func truncateBody(v any) string {
	if v == nil {
		return ""
	}
	const maxLen = 512
	s := fmt.Sprintf("%v", v)
	if len(s) > maxLen {
		return s[:maxLen] + "...(truncated)"
	}
	return s
}

// safeHook runs a lifecycle hook with panic recovery: a hook that panics
// is caught and logged, never propagated to the caller driving Execute.
func (e *RequestExecutor) safeHook(ctx context.Context, name string, hook func()) {
	defer func() {
		if r := recover(); r != nil {
			if e.logger != nil {
				e.logger.ErrorContext(ctx, "lifecycle hook panicked", "hook", name, "panic", r)
			}
		}
	}()
	hook()
}

// SetTransport swaps the Transport an in-flight executor sends through,
// for callers that hot-swap implementations without tearing down the
// rest of a RequestCore.
func (e *RequestExecutor) SetTransport(transport Transport) {
	e.mu.Lock()
	e.transport = transport
	e.mu.Unlock()
}

func (e *RequestExecutor) fail(ctx context.Context, orig, cur *RequestConfig, start time.Time, requestID string, err error) (*Response, error) {
	duration := now().Sub(start)
	reqErr := AsError(err).EnrichContext(cur, duration, requestID)

	recovered, handled := e.chain.RunOnError(ctx, cur, reqErr)
	if handled == nil {
		if e.logger != nil {
			e.logger.DebugContext(ctx, "request error recovered by interceptor", "request_id", requestID)
		}
		if orig.OnEnd != nil {
			e.safeHook(ctx, "OnEnd", func() { orig.OnEnd(cur, recovered, duration) })
		}
		e.metrics.RecordRequest(orig.Tag, cur.Method, "recovered", duration)
		return recovered, nil
	}

	// An interceptor may have replaced the error; the replacement (wrapped
	// and enriched if it is not already an *Error) is what surfaces.
	finalErr := AsError(handled).EnrichContext(cur, duration, requestID)

	if orig.OnError != nil {
		e.safeHook(ctx, "OnError", func() { orig.OnError(cur, finalErr, duration) })
	}
	if e.logger != nil {
		e.logger.ErrorContext(ctx, "request failed", "request_id", requestID, "error", finalErr.Error(), "type", finalErr.Type, "duration_ms", duration.Milliseconds())
	}
	e.metrics.RecordRequest(orig.Tag, cur.Method, "failure", duration)
	return nil, finalErr
}

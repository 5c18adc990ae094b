package reqcore

import (
	"context"
	"time"
)

// Response is the Transport-agnostic result of one request.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Data       any
	Duration   time.Duration
}

// Transport sends one request and returns its Response or an error.
// Concrete transports (httptransport.Transport, test doubles) implement
// this; reqcore never assumes anything about the wire protocol beyond it.
type Transport interface {
	Send(ctx context.Context, cfg *RequestConfig) (*Response, error)
}

// TransportFunc adapts a plain function to a Transport, the same
// convenience pattern as http.HandlerFunc.
type TransportFunc func(ctx context.Context, cfg *RequestConfig) (*Response, error)

func (f TransportFunc) Send(ctx context.Context, cfg *RequestConfig) (*Response, error) {
	return f(ctx, cfg)
}

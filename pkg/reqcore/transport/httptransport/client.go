// Package httptransport is a net/http-based reqcore.Transport: the
// reference adapter that turns a reqcore.RequestConfig into a real wire
// request.
package httptransport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/msavchenko/reqcore/pkg/reqcore"
)

// Config tunes the underlying *http.Transport explicitly rather than
// trusting http.DefaultTransport's zero-tuning defaults.
type Config struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	ExpectContinueTimeout time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	ForceAttemptHTTP2     bool
	TLSMinVersion         uint16
}

// DefaultConfig sets TLS 1.2 minimum, a modest idle-connection pool, and
// generous-but-bounded per-phase timeouts.
func DefaultConfig() Config {
	return Config{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DialTimeout:           10 * time.Second,
		KeepAlive:             30 * time.Second,
		ForceAttemptHTTP2:     true,
		TLSMinVersion:         tls.VersionTLS12,
	}
}

// Client is a reqcore.Transport backed by *http.Client.
type Client struct {
	httpClient *http.Client
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: cfg.TLSMinVersion},
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		ForceAttemptHTTP2:     cfg.ForceAttemptHTTP2,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: cfg.ExpectContinueTimeout,
	}
	return &Client{httpClient: &http.Client{Transport: transport}}
}

// NewWithHTTPClient wraps an already-constructed *http.Client, for
// callers (and tests) that want full control or need to point at an
// httptest.Server's client.
func NewWithHTTPClient(hc *http.Client) *Client {
	return &Client{httpClient: hc}
}

// Send implements reqcore.Transport.
func (c *Client) Send(ctx context.Context, cfg *reqcore.RequestConfig) (*reqcore.Response, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	reqURL, err := applyParams(cfg.URL, cfg.Params)
	if err != nil {
		return nil, reqcore.NewValidationError("TRANSPORT_BAD_URL", err.Error())
	}

	var body io.Reader
	contentType := ""
	if cfg.Data != nil && cfg.Method != reqcore.MethodGet && cfg.Method != reqcore.MethodHead {
		switch data := cfg.Data.(type) {
		case []byte:
			body = bytes.NewReader(data)
		case string:
			body = bytes.NewReader([]byte(data))
		case io.Reader:
			body = data
		default:
			b, err := json.Marshal(data)
			if err != nil {
				return nil, reqcore.NewValidationError("TRANSPORT_BAD_BODY", fmt.Sprintf("marshal request body: %v", err))
			}
			body = bytes.NewReader(b)
			contentType = "application/json"
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(cfg.Method), reqURL, body)
	if err != nil {
		return nil, reqcore.NewValidationError("TRANSPORT_BAD_REQUEST", err.Error())
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		return nil, reqcore.NewError(reqcore.ErrNetwork, fmt.Sprintf("http request failed: %v", err), err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, reqcore.NewError(reqcore.ErrNetwork, fmt.Sprintf("reading response body failed: %v", err), err)
	}

	data, decodeErr := decodeBody(raw, httpResp.Header.Get("Content-Type"), cfg.ResponseType)
	if decodeErr != nil {
		return nil, reqcore.NewError(reqcore.ErrValidation, fmt.Sprintf("decoding response body failed: %v", decodeErr), decodeErr)
	}

	resp := &reqcore.Response{
		StatusCode: httpResp.StatusCode,
		Headers:    flattenHeaders(httpResp.Header),
		Data:       data,
		Duration:   duration,
	}

	if httpResp.StatusCode >= 400 {
		httpErr := reqcore.NewError(reqcore.ErrHTTP, fmt.Sprintf("http %d from %s", httpResp.StatusCode, cfg.URL), nil)
		httpErr = reqcore.ClassifyHTTPStatus(httpErr, httpResp.StatusCode, true)
		return nil, httpErr
	}

	return resp, nil
}

func applyParams(rawURL string, params map[string]any) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid request URL: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		if v == nil {
			continue
		}
		q.Set(k, toQueryValue(v))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func toQueryValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func decodeBody(raw []byte, contentType string, rt reqcore.ResponseType) (any, error) {
	switch rt {
	case reqcore.ResponseArrayBuffer, reqcore.ResponseBlob:
		return raw, nil
	case reqcore.ResponseText:
		return string(raw), nil
	case reqcore.ResponseJSON:
		return unmarshalJSON(raw)
	default:
		if len(raw) == 0 {
			return nil, nil
		}
		if isJSONContentType(contentType) {
			return unmarshalJSON(raw)
		}
		return string(raw), nil
	}
}

func unmarshalJSON(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func isJSONContentType(contentType string) bool {
	return len(contentType) >= len("application/json") && contentType[:len("application/json")] == "application/json"
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

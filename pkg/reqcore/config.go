package reqcore

import (
	"fmt"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Method is an HTTP verb. Validate accepts only the constants below, Merge
// defaults an empty Method to GET, and IdempotencyFeature coalesces by
// method.
type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
)

// ResponseType hints to a Transport how to decode the response body.
type ResponseType string

const (
	ResponseJSON        ResponseType = "json"
	ResponseText        ResponseType = "text"
	ResponseBlob        ResponseType = "blob"
	ResponseArrayBuffer ResponseType = "arraybuffer"
)

// RequestConfig describes one outbound request. It is built by Builder or
// constructed directly and passed to RequestCore's operations.
type RequestConfig struct {
	URL          string `validate:"required"`
	Method       Method `validate:"oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	Data         any
	Params       map[string]any
	Headers      map[string]string
	Timeout      time.Duration `validate:"gte=0"`
	ResponseType ResponseType
	Debug        bool
	Tag          string
	Metadata     map[string]any

	// SerialKey, when non-empty, routes this request through the
	// RequestCore's SerialQueue under that key instead of executing
	// immediately.
	SerialKey string
	Serial    *SerialQueueOptions

	Retry       *RetryOptions
	Cache       *CacheOptions
	Idempotency *IdempotencyOptions

	OnStart func(cfg *RequestConfig)
	OnEnd   func(cfg *RequestConfig, resp *Response, duration time.Duration)
	OnError func(cfg *RequestConfig, err error, duration time.Duration)
}

// clone returns a shallow copy of cfg, deep-copying the Headers and Params
// maps so merge operations never mutate a caller's original config.
func (cfg *RequestConfig) clone() *RequestConfig {
	if cfg == nil {
		return &RequestConfig{}
	}
	out := *cfg
	if cfg.Headers != nil {
		out.Headers = make(map[string]string, len(cfg.Headers))
		for k, v := range cfg.Headers {
			out.Headers[k] = v
		}
	}
	if cfg.Params != nil {
		out.Params = make(map[string]any, len(cfg.Params))
		for k, v := range cfg.Params {
			out.Params[k] = v
		}
	}
	if cfg.Metadata != nil {
		out.Metadata = make(map[string]any, len(cfg.Metadata))
		for k, v := range cfg.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// GlobalConfig holds the defaults a ConfigManager merges into every
// RequestConfig.
type GlobalConfig struct {
	BaseURL      string
	Timeout      time.Duration `validate:"gte=0"`
	Headers      map[string]string
	Debug        bool
	Interceptors []Interceptor

	Retry       *RetryOptions
	Cache       *CacheOptions
	Idempotency *IdempotencyOptions
	Concurrency *ConcurrencyOptions
}

// DefaultGlobalConfig follows the "sane zero value" convention: a 30s
// timeout and nothing else set.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Timeout: 30 * time.Second,
		Headers: map[string]string{},
	}
}

// ConfigManager validates and merges RequestConfig values against a
// GlobalConfig. It is safe for concurrent use.
type ConfigManager struct {
	mu       sync.RWMutex
	global   *GlobalConfig
	validate *validator.Validate
}

// NewConfigManager builds a ConfigManager seeded with global (or
// DefaultGlobalConfig if nil).
func NewConfigManager(global *GlobalConfig) *ConfigManager {
	if global == nil {
		global = DefaultGlobalConfig()
	}
	return &ConfigManager{
		global:   global,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Global returns a snapshot of the current GlobalConfig.
func (cm *ConfigManager) Global() *GlobalConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	g := *cm.global
	return &g
}

// SetGlobal replaces the GlobalConfig wholesale.
func (cm *ConfigManager) SetGlobal(global *GlobalConfig) {
	if global == nil {
		global = DefaultGlobalConfig()
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.global = global
}

// Validate checks structural constraints on a RequestConfig. It does not
// check merge-time concerns (those surface when Merge fails to resolve a
// URL, for example).
func (cm *ConfigManager) Validate(cfg *RequestConfig) error {
	if cfg == nil {
		return NewValidationError("BUILDER_NO_CONFIG", "request config is nil")
	}
	if err := cm.validate.Struct(cfg); err != nil {
		return NewValidationError("CONFIG_INVALID", err.Error())
	}
	if r := cfg.Retry; r != nil {
		if r.MaxRetries < 0 {
			return NewValidationError("CONFIG_INVALID", "retries must be non-negative")
		}
		if r.BaseDelay < 0 {
			return NewValidationError("CONFIG_INVALID", "retry delay must be non-negative")
		}
		if r.Multiplier < 0 {
			return NewValidationError("CONFIG_INVALID", "backoff factor must be greater than zero when set")
		}
		if r.Jitter < 0 || r.Jitter > 1 {
			return NewValidationError("CONFIG_INVALID", "jitter must be within [0, 1]")
		}
	}
	return nil
}

// Merge produces the effective RequestConfig used for one request: it
// resolves cfg.URL against the GlobalConfig's BaseURL, layers headers
// (global first, request overrides, case-insensitively) and falls back to
// global Timeout/Retry/Cache/Idempotency when the request leaves them
// unset.
func (cm *ConfigManager) Merge(cfg *RequestConfig) (*RequestConfig, error) {
	if cfg == nil {
		return nil, NewValidationError("BUILDER_NO_CONFIG", "request config is nil")
	}
	global := cm.Global()

	out := cfg.clone()
	if out.Method == "" {
		out.Method = MethodGet
	}

	resolved, err := resolveURL(global.BaseURL, out.URL)
	if err != nil {
		return nil, NewValidationError("BUILDER_INVALID_URL", err.Error())
	}
	out.URL = resolved

	out.Headers = mergeHeaders(global.Headers, out.Headers)

	if out.Timeout == 0 {
		out.Timeout = global.Timeout
	}
	if !out.Debug {
		out.Debug = global.Debug
	}
	if out.Retry == nil {
		out.Retry = global.Retry
	}
	if out.Cache == nil {
		out.Cache = global.Cache
	}
	if out.Idempotency == nil {
		out.Idempotency = global.Idempotency
	}

	if err := cm.Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// mergeHeaders canonicalizes keys from both maps so later merges and
// lookups never fork on header casing, then layers override on top of
// base.
func mergeHeaders(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[textproto.CanonicalMIMEHeaderKey(k)] = v
	}
	for k, v := range override {
		out[textproto.CanonicalMIMEHeaderKey(k)] = v
	}
	return out
}

// resolveURL joins requestURL against baseURL when requestURL is relative.
// An absolute requestURL (with a scheme) is returned unchanged; otherwise
// the two are concatenated with exactly one "/" between them, so a base of
// "https://api.example.com/v1" keeps its path prefix.
func resolveURL(baseURL, requestURL string) (string, error) {
	if requestURL == "" {
		return "", fmt.Errorf("request URL is empty")
	}
	u, err := url.Parse(requestURL)
	if err != nil {
		return "", fmt.Errorf("invalid request URL: %w", err)
	}
	if u.IsAbs() || baseURL == "" {
		return requestURL, nil
	}
	if _, err := url.Parse(baseURL); err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(requestURL, "/"), nil
}

package reqcore

import (
	"fmt"
	"strings"
	"time"
)

// ErrorType classifies an Error for callers and for metrics labeling.
type ErrorType string

const (
	ErrNetwork    ErrorType = "NETWORK"
	ErrHTTP       ErrorType = "HTTP"
	ErrTimeout    ErrorType = "TIMEOUT"
	ErrValidation ErrorType = "VALIDATION"
	ErrCache      ErrorType = "CACHE"
	ErrConcurrent ErrorType = "CONCURRENT"
	ErrRetry      ErrorType = "RETRY"
	ErrUnknown    ErrorType = "UNKNOWN"
)

// ErrorContext carries the contextual attributes attached to every Error.
type ErrorContext struct {
	URL       string
	Method    Method
	Duration  time.Duration
	Timestamp time.Time
	Tag       string
	Metadata  map[string]any
	RequestID string
}

// Error is the single error type surfaced by every reqcore component.
//
// It is never re-wrapped once created: features that receive an *Error
// from a lower layer only enrich its Context in place (see EnrichContext).
type Error struct {
	Type         ErrorType
	Message      string
	Status       int
	IsHTTPError  bool
	OriginalErr  error
	Context      ErrorContext
	Code         string
	suggestion   string
	hasSuggested bool
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Type)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.OriginalErr
}

// Suggestion returns a human-facing suggestion, deriving one from Type and
// Status if none was explicitly set.
func (e *Error) Suggestion() string {
	if e.hasSuggested {
		return e.suggestion
	}
	return suggestionFor(e.Type, e.Status)
}

// WithSuggestion overrides the derived suggestion.
func (e *Error) WithSuggestion(s string) *Error {
	e.suggestion = s
	e.hasSuggested = true
	return e
}

func suggestionFor(t ErrorType, status int) string {
	switch t {
	case ErrNetwork:
		return "check network connectivity and the target host"
	case ErrTimeout:
		return "increase the request timeout or retry the operation"
	case ErrValidation:
		return "fix the request configuration and retry"
	case ErrCache:
		return "the cache layer failed; the request can be retried without caching"
	case ErrConcurrent:
		return "a concurrency limit or serial queue rejected this request"
	case ErrRetry:
		return "all retry attempts were exhausted"
	case ErrHTTP:
		switch {
		case status == 401 || status == 403:
			return "check authentication credentials"
		case status == 404:
			return "verify the request URL"
		case status == 429:
			return "the server is rate limiting; back off and retry later"
		case status >= 500:
			return "the server reported an error; retrying may help"
		default:
			return "the server rejected the request"
		}
	default:
		return "an unexpected error occurred"
	}
}

// NewError builds a new *Error, stamping Context.Timestamp at construction.
func NewError(t ErrorType, message string, original error) *Error {
	return &Error{
		Type:        t,
		Message:     message,
		OriginalErr: original,
		Context: ErrorContext{
			Timestamp: now(),
		},
	}
}

// NewValidationError is a convenience constructor carrying a Code, matching
// the builder's BUILDER_NO_URL contract.
func NewValidationError(code, message string) *Error {
	e := NewError(ErrValidation, message, nil)
	e.Code = code
	return e
}

// AsError returns err as *Error if it already is one, preserving its
// identity, constructing a fresh one classified from err otherwise.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return classify(err)
}

// classify wraps a raw error into a fresh *Error, inferring Type from the
// error message.
//
// Network tokens take precedence over timeout tokens when both appear
// ("connection timeout" classifies NETWORK, not TIMEOUT). This is
// deliberate and matches the source system; do not "fix" it.
func classify(err error) *Error {
	msg := strings.ToLower(err.Error())

	t := ErrUnknown
	switch {
	case containsAny(msg, "network", "fetch", "connection", "cors"):
		t = ErrNetwork
	case containsAny(msg, "timeout", "timed out", "abort"):
		t = ErrTimeout
	}

	e := NewError(t, err.Error(), err)
	return e
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ClassifyHTTPStatus folds an HTTP status into e. A status >= 400 always
// classifies HTTP. A normal status below 400 never does, even with
// isHTTPError set: the explicit flag wins only when no meaningful status
// accompanies it (zero or negative).
func ClassifyHTTPStatus(e *Error, status int, isHTTPError bool) *Error {
	if e == nil {
		e = NewError(ErrUnknown, "", nil)
	}
	if status >= 400 {
		e.Type = ErrHTTP
		e.Status = status
		e.IsHTTPError = true
		return e
	}
	if isHTTPError && status <= 0 {
		e.Type = ErrHTTP
		e.Status = status
		e.IsHTTPError = true
	}
	return e
}

// EnrichContext fills in contextual fields without changing Type, Message,
// or OriginalErr: enrich in place, never re-wrap.
func (e *Error) EnrichContext(cfg *RequestConfig, duration time.Duration, requestID string) *Error {
	if e == nil {
		return nil
	}
	if e.Context.URL == "" && cfg != nil {
		e.Context.URL = cfg.URL
	}
	if e.Context.Method == "" && cfg != nil {
		e.Context.Method = cfg.Method
	}
	if e.Context.Duration == 0 {
		e.Context.Duration = duration
	}
	if e.Context.Timestamp.IsZero() {
		e.Context.Timestamp = now()
	}
	if e.Context.Tag == "" && cfg != nil {
		e.Context.Tag = cfg.Tag
	}
	if e.Context.Metadata == nil && cfg != nil {
		e.Context.Metadata = cfg.Metadata
	}
	if e.Context.RequestID == "" {
		e.Context.RequestID = requestID
	}
	return e
}

// fmtErrf builds an *Error with a formatted message, used by features that
// raise their own errors (VALIDATION, CONCURRENT, RETRY) rather than
// wrapping a transport failure.
func fmtErrf(t ErrorType, format string, args ...any) *Error {
	return NewError(t, fmt.Sprintf(format, args...), nil)
}

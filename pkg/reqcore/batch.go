package reqcore

import "context"

// BatchOptions configures RequestCore.BatchRequests, a thin convenience
// layer over ConcurrencyFeature.
type BatchOptions struct {
	// Concurrency bounds in-flight requests; nil means unbounded, mirroring
	// ConcurrencyOptions.MaxConcurrency.
	Concurrency *int

	// IgnoreErrors, when true, lets every request run to completion and
	// reports each outcome in the returned slice instead of aborting the
	// batch on the first failure.
	IgnoreErrors bool
}

// BatchRequests runs cfgs through ConcurrencyFeature, translating opts
// into the equivalent ConcurrencyOptions (FailFast is the inverse of
// IgnoreErrors).
func (c *RequestCore) BatchRequests(ctx context.Context, cfgs []*RequestConfig, opts *BatchOptions) ([]ConcurrencyResult, error) {
	copts := &ConcurrencyOptions{FailFast: true}
	if opts != nil {
		copts.MaxConcurrency = opts.Concurrency
		copts.FailFast = !opts.IgnoreErrors
	}
	return c.Batch(ctx, cfgs, copts)
}

// RequestMultiple duplicates cfg n times, tagging each copy's Metadata
// with its "__requestIndex", and runs the copies through Batch. A
// non-positive n returns an empty result without touching the transport.
func (c *RequestCore) RequestMultiple(ctx context.Context, cfg *RequestConfig, n int, opts *ConcurrencyOptions) ([]ConcurrencyResult, error) {
	if n <= 0 {
		return nil, nil
	}
	cfgs := make([]*RequestConfig, n)
	for i := range cfgs {
		dup := cfg.clone()
		if dup.Metadata == nil {
			dup.Metadata = map[string]any{}
		}
		dup.Metadata["__requestIndex"] = i
		cfgs[i] = dup
	}
	return c.Batch(ctx, cfgs, opts)
}

// GetConcurrent runs a GET against each of urls concurrently.
func (c *RequestCore) GetConcurrent(ctx context.Context, urls []string, opts *ConcurrencyOptions) ([]ConcurrencyResult, error) {
	cfgs := make([]*RequestConfig, len(urls))
	for i, u := range urls {
		cfgs[i] = &RequestConfig{Method: MethodGet, URL: u}
	}
	return c.Batch(ctx, cfgs, opts)
}

// PostConcurrentItem is one entry in a PostConcurrent call.
type PostConcurrentItem struct {
	URL    string
	Data   any
	Config *RequestConfig // optional per-item overrides; URL/Data/Method are always taken from this item
}

// PostConcurrent runs a POST for each of items concurrently.
func (c *RequestCore) PostConcurrent(ctx context.Context, items []PostConcurrentItem, opts *ConcurrencyOptions) ([]ConcurrencyResult, error) {
	cfgs := make([]*RequestConfig, len(items))
	for i, item := range items {
		cfg := item.Config
		if cfg == nil {
			cfg = &RequestConfig{}
		} else {
			cfg = cfg.clone()
		}
		cfg.Method = MethodPost
		cfg.URL = item.URL
		cfg.Data = item.Data
		cfgs[i] = cfg
	}
	return c.Batch(ctx, cfgs, opts)
}

// GetSuccessfulResults filters results down to the Responses of entries
// that did not error, in their original index order.
func GetSuccessfulResults(results []ConcurrencyResult) []*Response {
	out := make([]*Response, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			out = append(out, r.Response)
		}
	}
	return out
}

// GetFailedResults filters results down to the entries that errored.
func GetFailedResults(results []ConcurrencyResult) []ConcurrencyResult {
	out := make([]ConcurrencyResult, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// HasConcurrentFailures reports whether any result in results errored.
func HasConcurrentFailures(results []ConcurrencyResult) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

package reqcore

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/url"
	"sort"
)

// Execute is an alias for Do, for callers porting code that used the
// request/execute naming pair.
func (c *RequestCore) Execute(ctx context.Context, cfg *RequestConfig) (*Response, error) {
	return c.Do(ctx, cfg)
}

func (c *RequestCore) Head(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.request(ctx, MethodHead, url, nil, opts...)
}

func (c *RequestCore) Options(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.request(ctx, MethodOptions, url, nil, opts...)
}

// PostJSON posts body with an explicit application/json content type.
func (c *RequestCore) PostJSON(ctx context.Context, url string, body any, opts ...RequestOption) (*Response, error) {
	opts = append([]RequestOption{WithHeader("Content-Type", "application/json")}, opts...)
	return c.Post(ctx, url, body, opts...)
}

// PutJSON puts body with an explicit application/json content type.
func (c *RequestCore) PutJSON(ctx context.Context, url string, body any, opts ...RequestOption) (*Response, error) {
	opts = append([]RequestOption{WithHeader("Content-Type", "application/json")}, opts...)
	return c.Put(ctx, url, body, opts...)
}

// PostForm URL-encodes fields and posts them as
// application/x-www-form-urlencoded.
func (c *RequestCore) PostForm(ctx context.Context, target string, fields map[string]string, opts ...RequestOption) (*Response, error) {
	values := url.Values{}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values.Set(k, fields[k])
	}
	opts = append([]RequestOption{WithHeader("Content-Type", "application/x-www-form-urlencoded")}, opts...)
	return c.Post(ctx, target, values.Encode(), opts...)
}

// FileUpload describes one file for UploadFile. Field defaults to "file"
// and Filename to "upload" when left empty.
type FileUpload struct {
	Content     io.Reader
	Field       string
	Filename    string
	ContentType string

	// AdditionalData is sent alongside the file as ordinary form fields.
	AdditionalData map[string]string
}

// UploadFile builds a multipart/form-data body from upload and posts it to
// target.
func (c *RequestCore) UploadFile(ctx context.Context, target string, upload FileUpload, opts ...RequestOption) (*Response, error) {
	if upload.Content == nil {
		return nil, NewValidationError("UPLOAD_NO_FILE", "upload content is required")
	}
	field := upload.Field
	if field == "" {
		field = "file"
	}
	filename := upload.Filename
	if filename == "" {
		filename = "upload"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(upload.AdditionalData))
	for k := range upload.AdditionalData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, upload.AdditionalData[k]); err != nil {
			return nil, NewValidationError("UPLOAD_BAD_FIELD", err.Error())
		}
	}

	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return nil, NewValidationError("UPLOAD_BAD_FORM", err.Error())
	}
	if _, err := io.Copy(part, upload.Content); err != nil {
		return nil, NewValidationError("UPLOAD_READ_FAILED", err.Error())
	}
	if err := w.Close(); err != nil {
		return nil, NewValidationError("UPLOAD_BAD_FORM", err.Error())
	}

	opts = append([]RequestOption{WithHeader("Content-Type", w.FormDataContentType())}, opts...)
	return c.Post(ctx, target, buf.Bytes(), opts...)
}

// DownloadFile fetches target with ResponseType forced to blob, so the
// Response's Data is the raw byte content regardless of what the server
// claims in Content-Type. filename is advisory and recorded in the
// request's metadata for hooks and interceptors to pick up.
func (c *RequestCore) DownloadFile(ctx context.Context, target, filename string, opts ...RequestOption) (*Response, error) {
	forced := func(cfg *RequestConfig) {
		cfg.ResponseType = ResponseBlob
		if filename != "" {
			if cfg.Metadata == nil {
				cfg.Metadata = map[string]any{}
			}
			cfg.Metadata["downloadFilename"] = filename
		}
	}
	opts = append(opts, forced)
	return c.Get(ctx, target, opts...)
}

// PaginationParams shapes a GetPaginated query. Zero values fall back to
// page 1 with a limit of 10; Offset and Size are alternative dialects some
// servers speak and are passed through only when set.
type PaginationParams struct {
	Page   int
	Limit  int
	Offset int
	Size   int
	Sort   string
	Order  string
}

// PaginatedResult is one decoded page plus the derived paging cursors.
type PaginatedResult[T any] struct {
	Data    []T
	Total   int
	Page    int
	Limit   int
	HasNext bool
	HasPrev bool
}

// paginatedEnvelope matches the common {data, total, page, limit} wire
// shape; servers returning a bare array are handled separately.
type paginatedEnvelope[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// GetPaginated fetches one page of target and decodes it as a
// PaginatedResult of T. It is a function rather than a method because Go
// methods cannot introduce type parameters.
func GetPaginated[T any](ctx context.Context, c *RequestCore, target string, p PaginationParams, opts ...RequestOption) (*PaginatedResult[T], error) {
	page := p.Page
	if page <= 0 {
		page = 1
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}

	pageOpts := []RequestOption{WithQuery("page", page), WithQuery("limit", limit)}
	if p.Offset > 0 {
		pageOpts = append(pageOpts, WithQuery("offset", p.Offset))
	}
	if p.Size > 0 {
		pageOpts = append(pageOpts, WithQuery("size", p.Size))
	}
	if p.Sort != "" {
		pageOpts = append(pageOpts, WithQuery("sort", p.Sort))
	}
	if p.Order != "" {
		pageOpts = append(pageOpts, WithQuery("order", p.Order))
	}
	resp, err := c.Get(ctx, target, append(pageOpts, opts...)...)
	if err != nil {
		return nil, err
	}

	if env, err := Decode[paginatedEnvelope[T]](resp); err == nil && env.Data != nil {
		total := env.Total
		if total == 0 {
			total = len(env.Data)
		}
		respPage := env.Page
		if respPage == 0 {
			respPage = page
		}
		respLimit := env.Limit
		if respLimit == 0 {
			respLimit = limit
		}
		return &PaginatedResult[T]{
			Data:    env.Data,
			Total:   total,
			Page:    respPage,
			Limit:   respLimit,
			HasNext: respPage*respLimit < total,
			HasPrev: respPage > 1,
		}, nil
	}

	items, err := Decode[[]T](resp)
	if err != nil {
		return nil, err
	}
	return &PaginatedResult[T]{
		Data:    *items,
		Total:   len(*items),
		Page:    page,
		Limit:   limit,
		HasPrev: page > 1,
	}, nil
}

// CacheStats is the cache's externally visible state: how many entries it
// holds plus the sweeper's lifetime activity.
type CacheStats struct {
	Entries int
	Sweeps  SweepStats
}

// AllStats composes every feature's stats snapshot.
type AllStats struct {
	Cache      CacheStats
	Concurrent ConcurrencyStats
	Idempotent IdempotencyStats
	Serial     SerialAggregateStats
}

func (c *RequestCore) GetCacheStats(ctx context.Context) CacheStats {
	return CacheStats{Entries: c.cache.Len(ctx), Sweeps: c.cache.Stats()}
}

func (c *RequestCore) GetConcurrentStats() ConcurrencyStats {
	return c.concurrency.Stats()
}

func (c *RequestCore) GetIdempotentStats() IdempotencyStats {
	return c.idempotency.Stats()
}

func (c *RequestCore) GetSerialStats() SerialAggregateStats {
	return c.serial.AggregateStats()
}

func (c *RequestCore) GetAllStats(ctx context.Context) AllStats {
	return AllStats{
		Cache:      c.GetCacheStats(ctx),
		Concurrent: c.GetConcurrentStats(),
		Idempotent: c.GetIdempotentStats(),
		Serial:     c.GetSerialStats(),
	}
}

// ClearCache removes one cached entry (by the same key derivation the
// cache itself uses for cfg) or, with a nil cfg, every entry.
func (c *RequestCore) ClearCache(ctx context.Context, cfg *RequestConfig) error {
	if cfg == nil {
		return c.cache.ClearAll(ctx)
	}
	return c.cache.Invalidate(ctx, cfg)
}

// ClearIdempotentCache removes one completed idempotency result by key, or
// every result when key is empty.
func (c *RequestCore) ClearIdempotentCache(key string) bool {
	return c.idempotency.ClearIdempotentCache(key)
}

// ClearSerialQueue drops the pending tasks queued under key, reporting
// whether the key existed.
func (c *RequestCore) ClearSerialQueue(key string) bool {
	return c.serial.ClearSerialQueue(key)
}

// SetGlobalConfig replaces the GlobalConfig and installs g.Interceptors as
// the exact new interceptor chain, dropping any previously registered
// list.
func (c *RequestCore) SetGlobalConfig(g *GlobalConfig) {
	c.config.SetGlobal(g)
	if g == nil {
		c.chain.Replace()
		return
	}
	c.chain.Replace(g.Interceptors...)
}

// Destroy tears the runtime down: the cache sweeper stops, caches and
// idempotency results are cleared, every serial queue's pending tasks are
// rejected and forgotten, the interceptor chain empties, and the
// GlobalConfig reverts to defaults. Calling Destroy again is a no-op.
func (c *RequestCore) Destroy() {
	c.cache.Stop()
	_ = c.cache.ClearAll(context.Background())
	c.idempotency.ClearIdempotentCache("")
	c.serial.RemoveAllSerialQueues()
	c.chain.Replace()
	c.config.SetGlobal(nil)
}

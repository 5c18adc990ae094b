package apiclient

import (
	"context"
	"fmt"

	"github.com/msavchenko/reqcore/pkg/reqcore"
)

// Resource is a minimal named API class for a REST-ish collection
// endpoint, demonstrating the facade's "bind user API classes to a
// shared runtime" contract: every method below is just a pre-shaped call
// through the Registry's shared RequestCore, so it inherits whatever
// retry/cache/idempotency/concurrency behavior that core's GlobalConfig
// sets up.
type Resource[T any] struct {
	core *reqcore.RequestCore
	path string
	tag  string
}

// NewResource builds a Resource bound to core, rooted at path (e.g.
// "/users"), tagging every request with tag for metrics and circuit
// breaker scoping.
func NewResource[T any](core *reqcore.RequestCore, path, tag string) *Resource[T] {
	return &Resource[T]{core: core, path: path, tag: tag}
}

// List fetches the collection and decodes it as []T.
func (r *Resource[T]) List(ctx context.Context, opts ...reqcore.RequestOption) ([]T, error) {
	opts = append([]reqcore.RequestOption{reqcore.WithTag(r.tag)}, opts...)
	resp, err := r.core.Get(ctx, r.path, opts...)
	if err != nil {
		return nil, err
	}
	out, err := reqcore.Decode[[]T](resp)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

// Get fetches one item by id and decodes it as T.
func (r *Resource[T]) Get(ctx context.Context, id string, opts ...reqcore.RequestOption) (*T, error) {
	opts = append([]reqcore.RequestOption{reqcore.WithTag(r.tag)}, opts...)
	resp, err := r.core.Get(ctx, fmt.Sprintf("%s/%s", r.path, id), opts...)
	if err != nil {
		return nil, err
	}
	return reqcore.Decode[T](resp)
}

// Create posts body and decodes the created item as T.
func (r *Resource[T]) Create(ctx context.Context, body any, opts ...reqcore.RequestOption) (*T, error) {
	opts = append([]reqcore.RequestOption{reqcore.WithTag(r.tag)}, opts...)
	resp, err := r.core.Post(ctx, r.path, body, opts...)
	if err != nil {
		return nil, err
	}
	return reqcore.Decode[T](resp)
}

// Update puts body to id and decodes the updated item as T.
func (r *Resource[T]) Update(ctx context.Context, id string, body any, opts ...reqcore.RequestOption) (*T, error) {
	opts = append([]reqcore.RequestOption{reqcore.WithTag(r.tag)}, opts...)
	resp, err := r.core.Put(ctx, fmt.Sprintf("%s/%s", r.path, id), body, opts...)
	if err != nil {
		return nil, err
	}
	return reqcore.Decode[T](resp)
}

// Delete removes id.
func (r *Resource[T]) Delete(ctx context.Context, id string, opts ...reqcore.RequestOption) error {
	opts = append([]reqcore.RequestOption{reqcore.WithTag(r.tag)}, opts...)
	_, err := r.core.Delete(ctx, fmt.Sprintf("%s/%s", r.path, id), opts...)
	return err
}

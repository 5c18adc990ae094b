// Package apiclient is the thin outer layer that binds named API classes
// to one shared reqcore.RequestCore: every API class gets the same
// retry/cache/idempotency/concurrency behavior for free by going through
// the same core instead of rolling its own Transport plumbing.
package apiclient

import (
	"fmt"
	"sync"

	"github.com/msavchenko/reqcore/pkg/reqcore"
)

// Registry holds named API classes, all bound to the same RequestCore.
type Registry struct {
	core    *reqcore.RequestCore
	mu      sync.RWMutex
	classes map[string]any
}

// NewRegistry builds a Registry over core.
func NewRegistry(core *reqcore.RequestCore) *Registry {
	return &Registry{core: core, classes: make(map[string]any)}
}

// RegistryOptions configures New. Exactly one of Transport or Core must be
// set: Transport builds a fresh RequestCore (optionally customized with
// GlobalConfig/Interceptors), Core wraps an already-built one.
type RegistryOptions struct {
	Transport    reqcore.Transport
	GlobalConfig *reqcore.GlobalConfig
	Interceptors []reqcore.Interceptor

	Core *reqcore.RequestCore
}

// New builds a Registry from opts, rejecting a call that supplies both or
// neither of Transport/Core.
func New(opts RegistryOptions) (*Registry, error) {
	if (opts.Transport == nil) == (opts.Core == nil) {
		return nil, reqcore.NewValidationError("REGISTRY_INVALID_OPTIONS", "Must provide either requestor or requestCore option")
	}
	if opts.Core != nil {
		return NewRegistry(opts.Core), nil
	}

	coreOpts := []reqcore.CoreOption{}
	if opts.GlobalConfig != nil {
		coreOpts = append(coreOpts, reqcore.WithGlobalConfig(opts.GlobalConfig))
	}
	if len(opts.Interceptors) > 0 {
		coreOpts = append(coreOpts, reqcore.WithInterceptors(opts.Interceptors...))
	}
	return NewRegistry(reqcore.NewRequestCore(opts.Transport, coreOpts...)), nil
}

// Core returns the shared RequestCore every registered class is built on.
func (r *Registry) Core() *reqcore.RequestCore { return r.core }

// Register builds an API class of type T via build, binds it to the
// registry's shared core, and stores it under name for later lookup with
// Get.
func Register[T any](r *Registry, name string, build func(core *reqcore.RequestCore) T) T {
	v := build(r.core)
	r.mu.Lock()
	r.classes[name] = v
	r.mu.Unlock()
	return v
}

// Get looks up a previously Register-ed API class by name, type-asserting
// it to T.
func Get[T any](r *Registry, name string) (T, bool) {
	r.mu.RLock()
	v, ok := r.classes[name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// MustGet is Get but panics on a missing or mistyped entry, for call
// sites that consider a missing registration a programmer error.
func MustGet[T any](r *Registry, name string) T {
	v, ok := Get[T](r, name)
	if !ok {
		panic(fmt.Sprintf("apiclient: no registered class %q of the requested type", name))
	}
	return v
}

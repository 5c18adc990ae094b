package apiclient

import (
	"context"
	"testing"

	"github.com/msavchenko/reqcore/pkg/reqcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUserResource struct {
	*Resource[user]
}

func newTestCore(transport reqcore.Transport) *reqcore.RequestCore {
	return reqcore.NewRequestCore(transport, reqcore.WithGlobalConfig(&reqcore.GlobalConfig{
		BaseURL: "https://api.example.com/",
	}))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	core := newTestCore(reqcore.TransportFunc(func(ctx context.Context, cfg *reqcore.RequestConfig) (*reqcore.Response, error) {
		return &reqcore.Response{StatusCode: 200}, nil
	}))
	reg := NewRegistry(core)

	built := Register(reg, "users", func(c *reqcore.RequestCore) *Resource[user] {
		return NewResource[user](c, "users", "users-api")
	})
	require.NotNil(t, built)

	got, ok := Get[*Resource[user]](reg, "users")
	require.True(t, ok)
	assert.Same(t, built, got)
}

func TestRegistry_GetMissingReturnsFalse(t *testing.T) {
	reg := NewRegistry(newTestCore(reqcore.TransportFunc(func(ctx context.Context, cfg *reqcore.RequestConfig) (*reqcore.Response, error) {
		return &reqcore.Response{StatusCode: 200}, nil
	})))

	_, ok := Get[*Resource[user]](reg, "missing")
	assert.False(t, ok)
}

func TestRegistry_MustGetPanicsWhenMissing(t *testing.T) {
	reg := NewRegistry(newTestCore(reqcore.TransportFunc(func(ctx context.Context, cfg *reqcore.RequestConfig) (*reqcore.Response, error) {
		return &reqcore.Response{StatusCode: 200}, nil
	})))

	assert.Panics(t, func() {
		MustGet[*Resource[user]](reg, "missing")
	})
}

func TestRegistry_CoreReturnsSharedCore(t *testing.T) {
	core := newTestCore(reqcore.TransportFunc(func(ctx context.Context, cfg *reqcore.RequestConfig) (*reqcore.Response, error) {
		return &reqcore.Response{StatusCode: 200}, nil
	}))
	reg := NewRegistry(core)
	assert.Same(t, core, reg.Core())
}

func TestNew_WithCoreWrapsItDirectly(t *testing.T) {
	core := newTestCore(reqcore.TransportFunc(func(ctx context.Context, cfg *reqcore.RequestConfig) (*reqcore.Response, error) {
		return &reqcore.Response{StatusCode: 200}, nil
	}))

	reg, err := New(RegistryOptions{Core: core})
	require.NoError(t, err)
	assert.Same(t, core, reg.Core())
}

func TestNew_WithTransportBuildsFreshCore(t *testing.T) {
	transport := reqcore.TransportFunc(func(ctx context.Context, cfg *reqcore.RequestConfig) (*reqcore.Response, error) {
		return &reqcore.Response{StatusCode: 200}, nil
	})

	reg, err := New(RegistryOptions{
		Transport:    transport,
		GlobalConfig: &reqcore.GlobalConfig{BaseURL: "https://api.example.com/"},
	})
	require.NoError(t, err)
	require.NotNil(t, reg.Core())
}

func TestNew_RejectsNeitherTransportNorCore(t *testing.T) {
	_, err := New(RegistryOptions{})
	require.Error(t, err)
	var reqErr *reqcore.Error
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "Must provide either requestor or requestCore option", reqErr.Message)
}

func TestNew_RejectsBothTransportAndCore(t *testing.T) {
	core := newTestCore(reqcore.TransportFunc(func(ctx context.Context, cfg *reqcore.RequestConfig) (*reqcore.Response, error) {
		return &reqcore.Response{StatusCode: 200}, nil
	}))
	transport := reqcore.TransportFunc(func(ctx context.Context, cfg *reqcore.RequestConfig) (*reqcore.Response, error) {
		return &reqcore.Response{StatusCode: 200}, nil
	})

	_, err := New(RegistryOptions{Transport: transport, Core: core})
	require.Error(t, err)
	var reqErr *reqcore.Error
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "Must provide either requestor or requestCore option", reqErr.Message)
}

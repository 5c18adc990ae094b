package apiclient

import (
	"context"
	"fmt"
	"testing"

	"github.com/msavchenko/reqcore/pkg/reqcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestResource_ListDecodesCollection(t *testing.T) {
	transport := reqcore.TransportFunc(func(ctx context.Context, cfg *reqcore.RequestConfig) (*reqcore.Response, error) {
		assert.Equal(t, reqcore.MethodGet, cfg.Method)
		return &reqcore.Response{StatusCode: 200, Data: []any{
			map[string]any{"id": "1", "name": "ada"},
			map[string]any{"id": "2", "name": "grace"},
		}}, nil
	})
	res := NewResource[user](newTestCore(transport), "users", "users-api")

	users, err := res.List(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "ada", users[0].Name)
	assert.Equal(t, "grace", users[1].Name)
}

func TestResource_GetDecodesOne(t *testing.T) {
	transport := reqcore.TransportFunc(func(ctx context.Context, cfg *reqcore.RequestConfig) (*reqcore.Response, error) {
		assert.Equal(t, "https://api.example.com/users/42", cfg.URL)
		return &reqcore.Response{StatusCode: 200, Data: map[string]any{"id": "42", "name": "ada"}}, nil
	})
	res := NewResource[user](newTestCore(transport), "users", "users-api")

	u, err := res.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "ada", u.Name)
}

func TestResource_CreatePostsBody(t *testing.T) {
	transport := reqcore.TransportFunc(func(ctx context.Context, cfg *reqcore.RequestConfig) (*reqcore.Response, error) {
		assert.Equal(t, reqcore.MethodPost, cfg.Method)
		body, ok := cfg.Data.(map[string]string)
		require.True(t, ok)
		return &reqcore.Response{StatusCode: 201, Data: map[string]any{"id": "9", "name": body["name"]}}, nil
	})
	res := NewResource[user](newTestCore(transport), "users", "users-api")

	u, err := res.Create(context.Background(), map[string]string{"name": "lovelace"})
	require.NoError(t, err)
	assert.Equal(t, "lovelace", u.Name)
}

func TestResource_UpdatePutsToID(t *testing.T) {
	var seenURL string
	transport := reqcore.TransportFunc(func(ctx context.Context, cfg *reqcore.RequestConfig) (*reqcore.Response, error) {
		seenURL = cfg.URL
		return &reqcore.Response{StatusCode: 200, Data: map[string]any{"id": "7", "name": "updated"}}, nil
	})
	res := NewResource[user](newTestCore(transport), "users", "users-api")

	u, err := res.Update(context.Background(), "7", map[string]string{"name": "updated"})
	require.NoError(t, err)
	assert.Equal(t, "updated", u.Name)
	assert.Equal(t, fmt.Sprintf("https://api.example.com/users/%s", "7"), seenURL)
}

func TestResource_DeleteCallsDeleteMethod(t *testing.T) {
	var calledMethod reqcore.Method
	transport := reqcore.TransportFunc(func(ctx context.Context, cfg *reqcore.RequestConfig) (*reqcore.Response, error) {
		calledMethod = cfg.Method
		return &reqcore.Response{StatusCode: 204}, nil
	})
	res := NewResource[user](newTestCore(transport), "users", "users-api")

	err := res.Delete(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, reqcore.MethodDelete, calledMethod)
}

func TestResource_GetPropagatesError(t *testing.T) {
	transport := reqcore.TransportFunc(func(ctx context.Context, cfg *reqcore.RequestConfig) (*reqcore.Response, error) {
		return nil, reqcore.NewError(reqcore.ErrHTTP, "not found", nil)
	})
	res := NewResource[user](newTestCore(transport), "users", "users-api")

	_, err := res.Get(context.Background(), "missing")
	require.Error(t, err)
}

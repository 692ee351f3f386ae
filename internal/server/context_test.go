package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/teamsmcp/internal/auth"
)

func TestNewServerContext_MultiUser(t *testing.T) {
	sc := newTestServerContext(t)

	assert.NotNil(t, sc.Gate())
	assert.NotNil(t, sc.Flow())
	assert.NotNil(t, sc.Store())
	assert.NotNil(t, sc.Bindings())
	assert.NotNil(t, sc.Resolver())
	assert.False(t, sc.IsShutdown())
}

func TestNewServerContext_SingleUser(t *testing.T) {
	cfg := &auth.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TenantID:     "common",
		RedirectURL:  "http://localhost:8080/oauth/callback",
		SingleUser:   true,
	}

	sc, err := NewServerContext(context.Background(), cfg, discardLogger(),
		WithCredentialsDir(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })

	assert.NotNil(t, sc.Gate())
	assert.Nil(t, sc.Bindings(), "single-user mode must not construct a binding table")
}

func TestNewServerContext_ScopesFollowToolGroups(t *testing.T) {
	cfg := &auth.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TenantID:     "common",
		RedirectURL:  "http://localhost:8080/oauth/callback",
	}

	sc, err := NewServerContext(context.Background(), cfg, discardLogger(),
		WithCredentialsDir(t.TempDir()),
		WithToolGroups([]string{"teams"}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })

	expected := sc.Resolver().RequiredScopes([]string{"teams"})
	assert.Equal(t, expected, cfg.Scopes)
}

func TestServerContext_ShutdownIsIdempotent(t *testing.T) {
	sc := newTestServerContext(t)

	require.NoError(t, sc.Shutdown())
	assert.True(t, sc.IsShutdown())
	require.NoError(t, sc.Shutdown())

	select {
	case <-sc.Context().Done():
	default:
		t.Fatal("expected server context to be cancelled after shutdown")
	}
}

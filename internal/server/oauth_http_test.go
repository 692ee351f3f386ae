package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/teamsmcp/internal/auth"
)

func TestValidateHTTPSRequirement(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{
			name:    "valid HTTPS URL",
			baseURL: "https://mcp.example.com",
			wantErr: false,
		},
		{
			name:    "valid HTTP localhost",
			baseURL: "http://localhost:8080",
			wantErr: false,
		},
		{
			name:    "valid HTTP 127.0.0.1",
			baseURL: "http://127.0.0.1:8080",
			wantErr: false,
		},
		{
			name:    "valid HTTP ::1 (IPv6 loopback)",
			baseURL: "http://[::1]:8080",
			wantErr: false,
		},
		{
			name:    "invalid HTTP non-localhost",
			baseURL: "http://mcp.example.com",
			wantErr: true,
		},
		{
			name:    "invalid HTTP with localhost substring",
			baseURL: "http://localhost.example.com",
			wantErr: true,
		},
		{
			name:    "invalid HTTP with 127.0.0.1 in domain",
			baseURL: "http://127.0.0.1.example.com",
			wantErr: true,
		},
		{
			name:    "empty URL",
			baseURL: "",
			wantErr: true,
		},
		{
			name:    "invalid URL format",
			baseURL: "not a url",
			wantErr: true,
		},
		{
			name:    "invalid scheme",
			baseURL: "ftp://example.com",
			wantErr: true,
		},
		{
			name:    "HTTPS with path",
			baseURL: "https://mcp.example.com/api",
			wantErr: false,
		},
		{
			name:    "HTTPS with port",
			baseURL: "https://mcp.example.com:8443",
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateHTTPSRequirement(tt.baseURL)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateHTTPSRequirement() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServerContext(t *testing.T) *ServerContext {
	t.Helper()

	cfg := &auth.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TenantID:     "common",
		RedirectURL:  "http://localhost:8080/oauth/callback",
	}

	sc, err := NewServerContext(context.Background(), cfg, discardLogger(),
		WithCredentialsDir(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })

	return sc
}

func newTestHTTPServer(t *testing.T) *OAuthHTTPServer {
	t.Helper()

	sc := newTestServerContext(t)
	mcpServer := mcpserver.NewMCPServer("teamsmcp-test", "0.0.1")

	srv, err := NewOAuthHTTPServer(mcpServer, sc, "streamable-http", "http://localhost:8080")
	require.NoError(t, err)
	t.Cleanup(srv.sessions.Stop)

	return srv
}

func TestNewOAuthHTTPServer_RejectsInsecureBaseURL(t *testing.T) {
	sc := newTestServerContext(t)
	mcpServer := mcpserver.NewMCPServer("teamsmcp-test", "0.0.1")

	_, err := NewOAuthHTTPServer(mcpServer, sc, "streamable-http", "http://mcp.example.com")
	require.Error(t, err)
}

func TestHandleLogin_RedirectsToAuthorizationURL(t *testing.T) {
	srv := newTestHTTPServer(t)

	req := httptest.NewRequest("GET", "/oauth/login?user=alice@example.com", nil)
	rec := httptest.NewRecorder()

	srv.handleLogin(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", location.Query().Get("login_hint"))
	assert.NotEmpty(t, location.Query().Get("state"))
	assert.Equal(t, "S256", location.Query().Get("code_challenge_method"))
	assert.Equal(t, 1, srv.sc.Flow().PendingCount())
}

func TestHandleCallback_MissingParameters(t *testing.T) {
	srv := newTestHTTPServer(t)

	req := httptest.NewRequest("GET", "/oauth/callback", nil)
	rec := httptest.NewRecorder()

	srv.handleCallback(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCallback_ProviderError(t *testing.T) {
	srv := newTestHTTPServer(t)

	req := httptest.NewRequest("GET", "/oauth/callback?error=access_denied", nil)
	rec := httptest.NewRecorder()

	srv.handleCallback(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCallback_UnknownState(t *testing.T) {
	srv := newTestHTTPServer(t)

	req := httptest.NewRequest("GET", "/oauth/callback?code=some-code&state=never-issued", nil)
	rec := httptest.NewRecorder()

	srv.handleCallback(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestContext_AttachesSessionAndIdentity(t *testing.T) {
	srv := newTestHTTPServer(t)
	srv.bearer.resolve = func(_ context.Context, token string) (string, error) {
		require.Equal(t, "graph-token", token)
		return "alice@example.com", nil
	}

	req := httptest.NewRequest("POST", "/mcp", nil)
	req.Header.Set("Authorization", "Bearer graph-token")

	ctx := srv.requestContext(context.Background(), req)

	sessionID := SessionIDFromContext(ctx)
	assert.NotEmpty(t, sessionID)
	assert.Equal(t, "alice@example.com", BearerIdentityFromContext(ctx))
	assert.Equal(t, "alice@example.com", srv.sessions.IdentityForSession(sessionID))
}

func TestRequestContext_NoAuthorizationHeader(t *testing.T) {
	srv := newTestHTTPServer(t)

	req := httptest.NewRequest("POST", "/mcp", nil)
	ctx := srv.requestContext(context.Background(), req)

	assert.Empty(t, SessionIDFromContext(ctx))
	assert.Empty(t, BearerIdentityFromContext(ctx))
}

func TestBearerVerifier_CachesResolution(t *testing.T) {
	calls := 0
	v := newBearerVerifier(discardLogger())
	v.resolve = func(_ context.Context, _ string) (string, error) {
		calls++
		return "alice@example.com", nil
	}

	ctx := context.Background()
	assert.Equal(t, "alice@example.com", v.Verify(ctx, "Bearer tok"))
	assert.Equal(t, "alice@example.com", v.Verify(ctx, "Bearer tok"))
	assert.Equal(t, 1, calls)
}

func TestBearerVerifier_EvictsExpiredEntries(t *testing.T) {
	v := newBearerVerifier(discardLogger())
	v.ttl = -time.Second // every entry is expired as soon as it is inserted
	v.resolve = func(_ context.Context, token string) (string, error) {
		return token + "@example.com", nil
	}

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		v.Verify(ctx, fmt.Sprintf("Bearer tok-%d", i))
	}

	// Each insert sweeps the expired entries left by earlier tokens, so the
	// cache holds at most the entry just written.
	v.mu.Lock()
	defer v.mu.Unlock()
	assert.LessOrEqual(t, len(v.entries), 1)
}

func TestBearerVerifier_UnresolvableTokenTreatedAsAbsent(t *testing.T) {
	v := newBearerVerifier(discardLogger())
	v.resolve = func(_ context.Context, _ string) (string, error) {
		return "", errors.New("invalid token")
	}

	assert.Empty(t, v.Verify(context.Background(), "Bearer bad"))
}

func TestBearerVerifier_NoBearerPrefix(t *testing.T) {
	v := newBearerVerifier(discardLogger())
	v.resolve = func(_ context.Context, _ string) (string, error) {
		t.Fatal("resolve should not be called without a bearer token")
		return "", nil
	}

	assert.Empty(t, v.Verify(context.Background(), "Basic dXNlcjpwYXNz"))
	assert.Empty(t, v.Verify(context.Background(), ""))
}

func TestResponseWriter(t *testing.T) {
	t.Run("captures status code", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		rw := newResponseWriter(recorder)

		rw.WriteHeader(http.StatusNotFound)

		if rw.statusCode != http.StatusNotFound {
			t.Errorf("statusCode = %d, want %d", rw.statusCode, http.StatusNotFound)
		}
	})

	t.Run("defaults to 200", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		rw := newResponseWriter(recorder)

		// Don't call WriteHeader, check default
		if rw.statusCode != http.StatusOK {
			t.Errorf("statusCode = %d, want %d", rw.statusCode, http.StatusOK)
		}
	})

	t.Run("passes write header to underlying writer", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		rw := newResponseWriter(recorder)

		rw.WriteHeader(http.StatusCreated)

		if recorder.Code != http.StatusCreated {
			t.Errorf("recorder.Code = %d, want %d", recorder.Code, http.StatusCreated)
		}
	})
}

func TestInstrumentationMiddleware(t *testing.T) {
	t.Run("calls next handler when no metrics", func(t *testing.T) {
		server := &OAuthHTTPServer{} // No metrics set
		called := false
		next := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
			called = true
		})

		handler := server.instrumentationMiddleware(next)
		req := httptest.NewRequest("GET", "/test", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if !called {
			t.Error("expected next handler to be called")
		}
	})
}

func TestOAuthInstrumentationWrapper(t *testing.T) {
	t.Run("calls next handler when no metrics", func(t *testing.T) {
		server := &OAuthHTTPServer{} // No metrics set
		called := false
		next := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
			called = true
		})

		handler := server.oauthInstrumentationWrapper(next)
		req := httptest.NewRequest("GET", "/mcp", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if !called {
			t.Error("expected next handler to be called")
		}
	})
}

package auth_tools

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/teamsmcp/internal/auth"
	"github.com/teemow/teamsmcp/internal/server"
)

const testUser = "alice@example.com"

func newTestContext(t *testing.T) *server.ServerContext {
	t.Helper()

	cfg := &auth.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TenantID:     "common",
		RedirectURL:  "http://localhost:8080/oauth/callback",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sc, err := server.NewServerContext(context.Background(), cfg, logger,
		server.WithCredentialsDir(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })

	return sc
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestHandleLogin(t *testing.T) {
	sc := newTestContext(t)

	result, err := handleLogin(context.Background(),
		callRequest(map[string]interface{}{"user": testUser}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "https://login.microsoftonline.com/")
	assert.Contains(t, text, "login_hint=alice%40example.com")
	assert.Contains(t, text, "auth_complete")
	assert.Equal(t, 1, sc.Flow().PendingCount())
}

func TestHandleComplete_MissingRedirectURL(t *testing.T) {
	sc := newTestContext(t)

	result, err := handleComplete(context.Background(),
		callRequest(map[string]interface{}{}), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleComplete_MissingCodeOrState(t *testing.T) {
	sc := newTestContext(t)

	result, err := handleComplete(context.Background(), callRequest(map[string]interface{}{
		"redirectUrl": "http://localhost:8080/oauth/callback?code=abc",
	}), sc)
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "code or state")
}

func TestHandleComplete_UnknownState(t *testing.T) {
	sc := newTestContext(t)

	result, err := handleComplete(context.Background(), callRequest(map[string]interface{}{
		"redirectUrl": "http://localhost:8080/oauth/callback?code=abc&state=bogus",
	}), sc)
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "unknown or expired authorization state")
}

func TestHandleStatus(t *testing.T) {
	sc := newTestContext(t)

	result, err := handleStatus(context.Background(), callRequest(nil), sc)
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No stored credentials")

	require.NoError(t, sc.Store().Put(&auth.Credential{
		UserIdentity:  testUser,
		AccessToken:   "test-access",
		RefreshToken:  "test-refresh",
		Expiry:        time.Now().Add(time.Hour),
		GrantedScopes: []string{auth.ScopeUserRead},
	}))
	require.NoError(t, sc.Store().Put(&auth.Credential{
		UserIdentity:  "bob@example.com",
		AccessToken:   "old-access",
		RefreshToken:  "old-refresh",
		Expiry:        time.Now().Add(-time.Hour),
		GrantedScopes: []string{auth.ScopeUserRead},
	}))

	result, err = handleStatus(context.Background(), callRequest(nil), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "2 stored credential(s)")
	assert.Contains(t, text, testUser)
	assert.Contains(t, text, "expired (will refresh on next use)")
}

func TestHandleStatus_SessionSeesOnlyOwnCredential(t *testing.T) {
	sc := newTestContext(t)

	require.NoError(t, sc.Store().Put(&auth.Credential{
		UserIdentity: testUser,
		AccessToken:  "test-access",
		RefreshToken: "test-refresh",
		Expiry:       time.Now().Add(time.Hour),
	}))
	require.NoError(t, sc.Store().Put(&auth.Credential{
		UserIdentity: "bob@example.com",
		AccessToken:  "bob-access",
		RefreshToken: "bob-refresh",
		Expiry:       time.Now().Add(time.Hour),
	}))

	// A session bound to alice must not see bob's credential.
	require.Equal(t, auth.BindingAccepted, sc.Bindings().Bind("sess-1", testUser))
	ctx := server.WithSessionID(context.Background(), "sess-1")

	result, err := handleStatus(ctx, callRequest(nil), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "1 stored credential(s)")
	assert.Contains(t, text, testUser)
	assert.NotContains(t, text, "bob@example.com")
}

func TestHandleStatus_UnboundSessionSeesNothing(t *testing.T) {
	sc := newTestContext(t)

	require.NoError(t, sc.Store().Put(&auth.Credential{
		UserIdentity: testUser,
		AccessToken:  "test-access",
		RefreshToken: "test-refresh",
		Expiry:       time.Now().Add(time.Hour),
	}))

	ctx := server.WithSessionID(context.Background(), "sess-unbound")
	result, err := handleStatus(ctx, callRequest(nil), sc)
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "No stored credentials")
	assert.NotContains(t, text, testUser)
}

func TestHandleLogout(t *testing.T) {
	sc := newTestContext(t)

	require.NoError(t, sc.Store().Put(&auth.Credential{
		UserIdentity: testUser,
		AccessToken:  "test-access",
		RefreshToken: "test-refresh",
		Expiry:       time.Now().Add(time.Hour),
	}))

	result, err := handleLogout(context.Background(),
		callRequest(map[string]interface{}{"user": testUser}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Logged out")

	_, err = sc.Store().Get(testUser)
	assert.ErrorIs(t, err, auth.ErrCredentialNotFound)
}

func TestHandleLogout_UnknownUser(t *testing.T) {
	sc := newTestContext(t)

	result, err := handleLogout(context.Background(),
		callRequest(map[string]interface{}{"user": "nobody@example.com"}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No stored credential")
}

func TestHandleLogout_MultipleUsers(t *testing.T) {
	sc := newTestContext(t)

	require.NoError(t, sc.Store().Put(&auth.Credential{
		UserIdentity: testUser,
		AccessToken:  "test-access",
		RefreshToken: "test-refresh",
		Expiry:       time.Now().Add(time.Hour),
	}))

	result, err := handleLogout(context.Background(), callRequest(map[string]interface{}{
		"user": []interface{}{testUser, "nobody@example.com"},
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "2 of 2 succeeded")
	assert.Contains(t, text, testUser+": logged out")
	assert.Contains(t, text, "nobody@example.com: no stored credential")

	_, err = sc.Store().Get(testUser)
	assert.ErrorIs(t, err, auth.ErrCredentialNotFound)
}

func TestHandleLogout_DeniesCrossIdentity(t *testing.T) {
	sc := newTestContext(t)

	require.NoError(t, sc.Store().Put(&auth.Credential{
		UserIdentity: "bob@example.com",
		AccessToken:  "bob-access",
		RefreshToken: "bob-refresh",
		Expiry:       time.Now().Add(time.Hour),
	}))

	// A bearer verified as alice cannot delete bob's credential.
	ctx := server.WithBearerIdentity(
		server.WithSessionID(context.Background(), "sess-1"), testUser)

	result, err := handleLogout(ctx,
		callRequest(map[string]interface{}{"user": "bob@example.com"}), sc)
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), string(auth.DenyIdentityMismatch))

	_, err = sc.Store().Get("bob@example.com")
	assert.NoError(t, err, "bob's credential must survive")
}

func TestHandleLogout_OwnIdentityOverHTTP(t *testing.T) {
	sc := newTestContext(t)

	require.NoError(t, sc.Store().Put(&auth.Credential{
		UserIdentity: testUser,
		AccessToken:  "test-access",
		RefreshToken: "test-refresh",
		Expiry:       time.Now().Add(time.Hour),
	}))

	ctx := server.WithBearerIdentity(
		server.WithSessionID(context.Background(), "sess-1"), testUser)

	result, err := handleLogout(ctx,
		callRequest(map[string]interface{}{"user": testUser}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Logged out")
}

func TestHandleLogout_MissingUser(t *testing.T) {
	sc := newTestContext(t)

	result, err := handleLogout(context.Background(), callRequest(nil), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRegisterAuthTools(t *testing.T) {
	sc := newTestContext(t)
	s := mcpserver.NewMCPServer("teamsmcp-test", "0.0.1")
	require.NoError(t, RegisterAuthTools(s, sc))
}

package auth_tools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/teamsmcp/internal/auth"
	"github.com/teemow/teamsmcp/internal/server"
	"github.com/teemow/teamsmcp/internal/tools/batch"
	"github.com/teemow/teamsmcp/internal/tools/common"
)

// RegisterAuthTools registers the login, logout, and status tools with the
// MCP server. These never touch Graph data; they only drive the OAuth flow
// and inspect stored credentials.
func RegisterAuthTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	// Login tool
	loginTool := mcp.NewTool("auth_login",
		mcp.WithDescription("Start a Microsoft sign-in and return the authorization URL to visit"),
		mcp.WithString("user",
			mcp.Description("Email address to pre-fill in the Microsoft account chooser"),
		),
	)

	s.AddTool(loginTool, common.InstrumentedToolHandler("auth_login", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleLogin(ctx, request, sc)
		}))

	// Complete login tool
	completeTool := mcp.NewTool("auth_complete",
		mcp.WithDescription("Complete a sign-in using the redirect URL from the browser"),
		mcp.WithString("redirectUrl",
			mcp.Required(),
			mcp.Description("The full URL the browser was redirected to after consenting"),
		),
	)

	s.AddTool(completeTool, common.InstrumentedToolHandler("auth_complete", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleComplete(ctx, request, sc)
		}))

	// Status tool
	statusTool := mcp.NewTool("auth_status",
		mcp.WithDescription("Show which users have stored credentials and whether they are valid"),
	)

	s.AddTool(statusTool, common.InstrumentedToolHandler("auth_status", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleStatus(ctx, request, sc)
		}))

	// Logout tool
	logoutTool := mcp.NewTool("auth_logout",
		mcp.WithDescription("Delete stored credentials for one or more users"),
		mcp.WithString("user",
			mcp.Required(),
			mcp.Description("Email address of the user to log out, or an array of addresses"),
		),
	)

	s.AddTool(logoutTool, common.InstrumentedToolHandler("auth_logout", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleLogout(ctx, request, sc)
		}))

	return nil
}

func handleLogin(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	userIdentity, _ := args["user"].(string)

	authURL, _, err := sc.Flow().StartAuthorization(userIdentity)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start authorization: %v", err)), nil
	}

	result := fmt.Sprintf(`To sign in:

1. Visit this URL in your browser:
   %s

2. Sign in with your Microsoft account and grant access.
3. If the browser cannot reach this server, copy the URL you were
   redirected to and pass it to the auth_complete tool.
`, authURL)

	return mcp.NewToolResultText(result), nil
}

func handleComplete(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	redirectURL, ok := args["redirectUrl"].(string)
	if !ok || redirectURL == "" {
		return mcp.NewToolResultError("redirectUrl is required"), nil
	}

	parsed, err := url.Parse(strings.TrimSpace(redirectURL))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid redirect URL: %v", err)), nil
	}

	code := parsed.Query().Get("code")
	state := parsed.Query().Get("state")
	if code == "" || state == "" {
		return mcp.NewToolResultError("redirect URL is missing the code or state parameter"), nil
	}

	cred, err := sc.Flow().HandleCallback(ctx, code, state)
	if err != nil {
		return common.ToolResultFromError(err), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Signed in as %s. Credentials stored.", cred.UserIdentity)), nil
}

// transportIdentity returns the identity the transport vouches for and
// whether per-user isolation applies to this call. Isolation applies on the
// HTTP transports, where every request carries a session derived from its
// Authorization header; stdio calls carry neither and stay unrestricted.
func transportIdentity(ctx context.Context, sc *server.ServerContext) (string, bool) {
	sessionID := server.SessionIDFromContext(ctx)
	bearer := server.BearerIdentityFromContext(ctx)
	if sessionID == "" && bearer == "" {
		return "", false
	}
	if bearer != "" {
		return bearer, true
	}
	if bindings := sc.Bindings(); bindings != nil {
		if bound, ok := bindings.Lookup(sessionID); ok {
			return bound, true
		}
	}
	return "", true
}

func handleStatus(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	creds, err := sc.Store().ListAll()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read credential store: %v", err)), nil
	}

	// Over HTTP a caller only ever sees its own credential; listing every
	// signed-in user would let any client enumerate them.
	if identity, restricted := transportIdentity(ctx, sc); restricted {
		own := creds[:0]
		for _, cred := range creds {
			if identity != "" && cred.UserIdentity == identity {
				own = append(own, cred)
			}
		}
		creds = own
	}

	if len(creds) == 0 {
		return mcp.NewToolResultText("No stored credentials. Use auth_login to sign in."), nil
	}

	now := time.Now()
	result := fmt.Sprintf("%d stored credential(s):\n", len(creds))
	for i, cred := range creds {
		state := "valid"
		if cred.Expired(now) {
			state = "expired (will refresh on next use)"
		}
		result += fmt.Sprintf("%d. %s: access token %s, %d granted scope(s)\n",
			i+1, cred.UserIdentity, state, len(cred.GrantedScopes))
	}

	return mcp.NewToolResultText(result), nil
}

func handleLogout(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	users, err := batch.ParseStringOrArray(args["user"], "user")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if identity, restricted := transportIdentity(ctx, sc); restricted {
		for _, userIdentity := range users {
			if userIdentity != identity {
				denial := auth.NewDenial(auth.DenyIdentityMismatch,
					"cannot log out %s: this session is not authenticated as that user", userIdentity)
				return common.ToolResultFromError(denial), nil
			}
		}
	}

	if len(users) == 1 {
		userIdentity := users[0]
		if err := sc.Flow().Logout(userIdentity); err != nil {
			if errors.Is(err, auth.ErrCredentialNotFound) {
				return mcp.NewToolResultText(fmt.Sprintf("No stored credential for %s.", userIdentity)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("failed to log out: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Logged out %s.", userIdentity)), nil
	}

	results := batch.Process(users, func(userIdentity string) (string, error) {
		if err := sc.Flow().Logout(userIdentity); err != nil {
			if errors.Is(err, auth.ErrCredentialNotFound) {
				return "no stored credential", nil
			}
			return "", err
		}
		return "logged out", nil
	})

	text := batch.FormatResults(results)
	if batch.AllFailed(results) {
		return mcp.NewToolResultError(text), nil
	}
	return mcp.NewToolResultText(text), nil
}

package user_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/teamsmcp/internal/auth"
	"github.com/teemow/teamsmcp/internal/graph"
	"github.com/teemow/teamsmcp/internal/server"
	"github.com/teemow/teamsmcp/internal/tools/common"
)

// RegisterUserTools registers directory lookup tools with the MCP server.
func RegisterUserTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	// Current user profile tool
	meTool := mcp.NewTool("user_me",
		mcp.WithDescription("Show the authenticated user's own profile"),
		mcp.WithString("user",
			mcp.Description("User email whose profile to show. Defaults to the authenticated user."),
		),
	)

	s.AddTool(meTool, common.InstrumentedToolHandlerWithService(
		"user_me", "user", "get", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleMe(ctx, request, sc)
		}))

	// Search users tool
	searchTool := mcp.NewTool("user_search",
		mcp.WithDescription("Search the directory for users by display name"),
		mcp.WithString("user",
			mcp.Description("User email on whose behalf to search. Defaults to the authenticated user."),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Display name prefix to search for"),
		),
		mcp.WithNumber("maxResults",
			mcp.Description("Maximum number of results to return (default: 5)"),
		),
	)

	s.AddTool(searchTool, common.InstrumentedToolHandlerWithService(
		"user_search", "user", "search", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSearchUsers(ctx, request, sc)
		}))

	// Get user tool
	getUserTool := mcp.NewTool("user_get",
		mcp.WithDescription("Get a directory user by ID or email"),
		mcp.WithString("user",
			mcp.Description("User email on whose behalf to read. Defaults to the authenticated user."),
		),
		mcp.WithString("userId",
			mcp.Required(),
			mcp.Description("The user's ID or email address"),
		),
	)

	s.AddTool(getUserTool, common.InstrumentedToolHandlerWithService(
		"user_get", "user", "get", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetUser(ctx, request, sc)
		}))

	return nil
}

func handleMe(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	req := common.AuthRequestFromArgs(ctx, request.GetArguments())

	var me *graph.User
	op := auth.Operation{Name: "user.me", RequiredScopes: []string{auth.ScopeUserRead}}
	err := sc.Gate().Do(ctx, op, req, func(ctx context.Context, client *graph.Client) error {
		var err error
		me, err = client.Me(ctx)
		return err
	})
	if err != nil {
		return common.ToolResultFromError(err), nil
	}

	return mcp.NewToolResultText(formatUser(me)), nil
}

func handleSearchUsers(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	maxResults := 5
	if maxResultsVal, ok := args["maxResults"].(float64); ok && maxResultsVal > 0 {
		maxResults = int(maxResultsVal)
	}

	req := common.AuthRequestFromArgs(ctx, args)

	var users []graph.User
	op := auth.Operation{Name: "user.search", RequiredScopes: []string{auth.ScopeUserReadAll}}
	err := sc.Gate().Do(ctx, op, req, func(ctx context.Context, client *graph.Client) error {
		var err error
		users, err = client.SearchUsers(ctx, query, maxResults)
		return err
	})
	if err != nil {
		return common.ToolResultFromError(err), nil
	}

	result := fmt.Sprintf("Found %d users:\n", len(users))
	for i, user := range users {
		result += fmt.Sprintf("%d. %s (%s)\n", i+1, user.DisplayName, user.Identity())
	}

	return mcp.NewToolResultText(result), nil
}

func handleGetUser(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	userID, ok := args["userId"].(string)
	if !ok || userID == "" {
		return mcp.NewToolResultError("userId is required"), nil
	}

	req := common.AuthRequestFromArgs(ctx, args)

	var user *graph.User
	op := auth.Operation{Name: "user.get", RequiredScopes: []string{auth.ScopeUserReadAll}}
	err := sc.Gate().Do(ctx, op, req, func(ctx context.Context, client *graph.Client) error {
		var err error
		user, err = client.GetUser(ctx, userID)
		return err
	})
	if err != nil {
		return common.ToolResultFromError(err), nil
	}

	return mcp.NewToolResultText(formatUser(user)), nil
}

func formatUser(u *graph.User) string {
	result := fmt.Sprintf("Name: %s\nEmail: %s\nID: %s\n", u.DisplayName, u.Identity(), u.ID)
	if u.JobTitle != "" {
		result += fmt.Sprintf("Title: %s\n", u.JobTitle)
	}
	if u.OfficeLocation != "" {
		result += fmt.Sprintf("Office: %s\n", u.OfficeLocation)
	}
	return result
}

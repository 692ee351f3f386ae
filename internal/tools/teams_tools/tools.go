package teams_tools

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

// RegisterTeamsTools registers all team and channel tools with the MCP server.
func RegisterTeamsTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	// List joined teams tool
	listTeamsTool := mcp.NewTool("teams_list_teams",
		mcp.WithDescription("List the Microsoft Teams the user has joined"),
		mcp.WithString("user",
			mcp.Description("User email whose teams to list. Defaults to the authenticated user."),
		),
	)

	s.AddTool(listTeamsTool, common.InstrumentedToolHandlerWithService(
		"teams_list_teams", "teams", "list", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListTeams(ctx, request, sc)
		}))

	// Get team tool
	getTeamTool := mcp.NewTool("teams_get_team",
		mcp.WithDescription("Get details of a single team"),
		mcp.WithString("user",
			mcp.Description("User email on whose behalf to read. Defaults to the authenticated user."),
		),
		mcp.WithString("teamId",
			mcp.Required(),
			mcp.Description("The ID of the team"),
		),
	)

	s.AddTool(getTeamTool, common.InstrumentedToolHandlerWithService(
		"teams_get_team", "teams", "get", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetTeam(ctx, request, sc)
		}))

	// List channels tool
	listChannelsTool := mcp.NewTool("teams_list_channels",
		mcp.WithDescription("List the channels of a team"),
		mcp.WithString("user",
			mcp.Description("User email on whose behalf to read. Defaults to the authenticated user."),
		),
		mcp.WithString("teamId",
			mcp.Required(),
			mcp.Description("The ID of the team"),
		),
	)

	s.AddTool(listChannelsTool, common.InstrumentedToolHandlerWithService(
		"teams_list_channels", "teams", "list", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListChannels(ctx, request, sc)
		}))

	// List channel messages tool
	listChannelMessagesTool := mcp.NewTool("teams_list_channel_messages",
		mcp.WithDescription("List recent messages in a team channel"),
		mcp.WithString("user",
			mcp.Description("User email on whose behalf to read. Defaults to the authenticated user."),
		),
		mcp.WithString("teamId",
			mcp.Required(),
			mcp.Description("The ID of the team"),
		),
		mcp.WithString("channelId",
			mcp.Required(),
			mcp.Description("The ID of the channel"),
		),
		mcp.WithNumber("maxResults",
			mcp.Description("Maximum number of messages to return (default: 25)"),
		),
	)

	s.AddTool(listChannelMessagesTool, common.InstrumentedToolHandlerWithService(
		"teams_list_channel_messages", "teams", "list", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListChannelMessages(ctx, request, sc)
		}))

	// List team members tool
	listMembersTool := mcp.NewTool("teams_list_members",
		mcp.WithDescription("List the members of a team"),
		mcp.WithString("user",
			mcp.Description("User email on whose behalf to read. Defaults to the authenticated user."),
		),
		mcp.WithString("teamId",
			mcp.Required(),
			mcp.Description("The ID of the team"),
		),
	)

	s.AddTool(listMembersTool, common.InstrumentedToolHandlerWithService(
		"teams_list_members", "teams", "list", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListMembers(ctx, request, sc)
		}))

	return nil
}

func handleListTeams(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	req := common.AuthRequestFromArgs(ctx, args)

	var teams []graph.Team
	op := auth.Operation{Name: "teams.list", RequiredScopes: []string{auth.ScopeTeamRead}}
	err := sc.Gate().Do(ctx, op, req, func(ctx context.Context, client *graph.Client) error {
		var err error
		teams, err = client.ListJoinedTeams(ctx)
		return err
	})
	if err != nil {
		return common.ToolResultFromError(err), nil
	}

	result := fmt.Sprintf("Found %d teams:\n", len(teams))
	for i, team := range teams {
		result += fmt.Sprintf("%d. %s (ID: %s)", i+1, team.DisplayName, team.ID)
		if team.IsArchived {
			result += " [archived]"
		}
		result += "\n"
	}

	return mcp.NewToolResultText(result), nil
}

func handleGetTeam(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	teamID, ok := args["teamId"].(string)
	if !ok || teamID == "" {
		return mcp.NewToolResultError("teamId is required"), nil
	}

	req := common.AuthRequestFromArgs(ctx, args)

	var team *graph.Team
	op := auth.Operation{Name: "teams.get", RequiredScopes: []string{auth.ScopeTeamRead}}
	err := sc.Gate().Do(ctx, op, req, func(ctx context.Context, client *graph.Client) error {
		var err error
		team, err = client.GetTeam(ctx, teamID)
		return err
	})
	if err != nil {
		return common.ToolResultFromError(err), nil
	}

	result := fmt.Sprintf("Team: %s\nID: %s\n", team.DisplayName, team.ID)
	if team.Description != "" {
		result += fmt.Sprintf("Description: %s\n", team.Description)
	}
	if team.IsArchived {
		result += "Status: archived\n"
	}

	return mcp.NewToolResultText(result), nil
}

func handleListChannels(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	teamID, ok := args["teamId"].(string)
	if !ok || teamID == "" {
		return mcp.NewToolResultError("teamId is required"), nil
	}

	req := common.AuthRequestFromArgs(ctx, args)

	var channels []graph.Channel
	op := auth.Operation{Name: "teams.channels.list", RequiredScopes: []string{auth.ScopeChannelRead}}
	err := sc.Gate().Do(ctx, op, req, func(ctx context.Context, client *graph.Client) error {
		var err error
		channels, err = client.ListChannels(ctx, teamID)
		return err
	})
	if err != nil {
		return common.ToolResultFromError(err), nil
	}

	result := fmt.Sprintf("Found %d channels:\n", len(channels))
	for i, channel := range channels {
		result += fmt.Sprintf("%d. %s (ID: %s, type: %s)\n", i+1, channel.DisplayName, channel.ID, channel.MembershipType)
	}

	return mcp.NewToolResultText(result), nil
}

func handleListChannelMessages(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	teamID, ok := args["teamId"].(string)
	if !ok || teamID == "" {
		return mcp.NewToolResultError("teamId is required"), nil
	}
	channelID, ok := args["channelId"].(string)
	if !ok || channelID == "" {
		return mcp.NewToolResultError("channelId is required"), nil
	}

	maxResults := 25
	if maxResultsVal, ok := args["maxResults"].(float64); ok && maxResultsVal > 0 {
		maxResults = int(maxResultsVal)
	}

	req := common.AuthRequestFromArgs(ctx, args)

	var messages []graph.ChatMessage
	op := auth.Operation{Name: "teams.messages.list", RequiredScopes: []string{auth.ScopeChannelMsgRead}}
	err := sc.Gate().Do(ctx, op, req, func(ctx context.Context, client *graph.Client) error {
		var err error
		messages, err = client.ListChannelMessages(ctx, teamID, channelID, maxResults)
		return err
	})
	if err != nil {
		return common.ToolResultFromError(err), nil
	}

	return mcp.NewToolResultText(formatMessages(messages)), nil
}

func handleListMembers(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	teamID, ok := args["teamId"].(string)
	if !ok || teamID == "" {
		return mcp.NewToolResultError("teamId is required"), nil
	}

	req := common.AuthRequestFromArgs(ctx, args)

	var members []graph.User
	op := auth.Operation{Name: "teams.members.list", RequiredScopes: []string{auth.ScopeTeamMemberRead}}
	err := sc.Gate().Do(ctx, op, req, func(ctx context.Context, client *graph.Client) error {
		var err error
		members, err = client.ListTeamMembers(ctx, teamID)
		return err
	})
	if err != nil {
		return common.ToolResultFromError(err), nil
	}

	result := fmt.Sprintf("Found %d members:\n", len(members))
	for i, member := range members {
		result += fmt.Sprintf("%d. %s (%s)\n", i+1, member.DisplayName, member.Identity())
	}

	return mcp.NewToolResultText(result), nil
}

func formatMessages(messages []graph.ChatMessage) string {
	result := fmt.Sprintf("Found %d messages:\n", len(messages))
	for i, msg := range messages {
		sender := "unknown"
		if msg.From != nil && msg.From.User != nil {
			sender = msg.From.User.DisplayName
		}
		result += fmt.Sprintf("%d. [%s] %s: %s\n", i+1,
			msg.CreatedDateTime.Format("2006-01-02 15:04"), sender, msg.Body.Content)
	}
	return result
}

package chat_tools

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

// RegisterChatTools registers one-on-one and group chat tools with the MCP
// server. Sending messages is a write operation and is skipped in
// read-only mode.
func RegisterChatTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	// List chats tool
	listChatsTool := mcp.NewTool("chat_list_chats",
		mcp.WithDescription("List the user's recent chats"),
		mcp.WithString("user",
			mcp.Description("User email whose chats to list. Defaults to the authenticated user."),
		),
		mcp.WithNumber("maxResults",
			mcp.Description("Maximum number of chats to return (default: 10)"),
		),
	)

	s.AddTool(listChatsTool, common.InstrumentedToolHandlerWithService(
		"chat_list_chats", "chat", "list", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListChats(ctx, request, sc)
		}))

	// List chat messages tool
	listMessagesTool := mcp.NewTool("chat_list_messages",
		mcp.WithDescription("List recent messages in a chat"),
		mcp.WithString("user",
			mcp.Description("User email on whose behalf to read. Defaults to the authenticated user."),
		),
		mcp.WithString("chatId",
			mcp.Required(),
			mcp.Description("The ID of the chat"),
		),
		mcp.WithNumber("maxResults",
			mcp.Description("Maximum number of messages to return (default: 25)"),
		),
	)

	s.AddTool(listMessagesTool, common.InstrumentedToolHandlerWithService(
		"chat_list_messages", "chat", "list", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListChatMessages(ctx, request, sc)
		}))

	if readOnly {
		return nil
	}

	// Send chat message tool
	sendMessageTool := mcp.NewTool("chat_send_message",
		mcp.WithDescription("Send a text message to a chat"),
		mcp.WithString("user",
			mcp.Description("User email to send as. Defaults to the authenticated user."),
		),
		mcp.WithString("chatId",
			mcp.Required(),
			mcp.Description("The ID of the chat"),
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The message text to send"),
		),
	)

	s.AddTool(sendMessageTool, common.InstrumentedToolHandlerWithService(
		"chat_send_message", "chat", "send", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSendChatMessage(ctx, request, sc)
		}))

	return nil
}

func handleListChats(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	maxResults := 10
	if maxResultsVal, ok := args["maxResults"].(float64); ok && maxResultsVal > 0 {
		maxResults = int(maxResultsVal)
	}

	req := common.AuthRequestFromArgs(ctx, args)

	var chats []graph.Chat
	op := auth.Operation{Name: "chat.list", RequiredScopes: []string{auth.ScopeChatRead}}
	err := sc.Gate().Do(ctx, op, req, func(ctx context.Context, client *graph.Client) error {
		var err error
		chats, err = client.ListChats(ctx, maxResults)
		return err
	})
	if err != nil {
		return common.ToolResultFromError(err), nil
	}

	result := fmt.Sprintf("Found %d chats:\n", len(chats))
	for i, chat := range chats {
		topic := chat.Topic
		if topic == "" {
			topic = "(no topic)"
		}
		result += fmt.Sprintf("%d. %s (ID: %s, type: %s)\n", i+1, topic, chat.ID, chat.ChatType)
	}

	return mcp.NewToolResultText(result), nil
}

func handleListChatMessages(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	chatID, ok := args["chatId"].(string)
	if !ok || chatID == "" {
		return mcp.NewToolResultError("chatId is required"), nil
	}

	maxResults := 25
	if maxResultsVal, ok := args["maxResults"].(float64); ok && maxResultsVal > 0 {
		maxResults = int(maxResultsVal)
	}

	req := common.AuthRequestFromArgs(ctx, args)

	var messages []graph.ChatMessage
	op := auth.Operation{Name: "chat.messages.list", RequiredScopes: []string{auth.ScopeChatRead}}
	err := sc.Gate().Do(ctx, op, req, func(ctx context.Context, client *graph.Client) error {
		var err error
		messages, err = client.ListChatMessages(ctx, chatID, maxResults)
		return err
	})
	if err != nil {
		return common.ToolResultFromError(err), nil
	}

	result := fmt.Sprintf("Found %d messages:\n", len(messages))
	for i, msg := range messages {
		sender := "unknown"
		if msg.From != nil && msg.From.User != nil {
			sender = msg.From.User.DisplayName
		}
		result += fmt.Sprintf("%d. [%s] %s: %s\n", i+1,
			msg.CreatedDateTime.Format("2006-01-02 15:04"), sender, msg.Body.Content)
	}

	return mcp.NewToolResultText(result), nil
}

func handleSendChatMessage(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	chatID, ok := args["chatId"].(string)
	if !ok || chatID == "" {
		return mcp.NewToolResultError("chatId is required"), nil
	}
	message, ok := args["message"].(string)
	if !ok || message == "" {
		return mcp.NewToolResultError("message is required"), nil
	}

	req := common.AuthRequestFromArgs(ctx, args)

	var sent *graph.ChatMessage
	op := auth.Operation{Name: "chat.send", RequiredScopes: []string{auth.ScopeChatReadWrite}}
	err := sc.Gate().Do(ctx, op, req, func(ctx context.Context, client *graph.Client) error {
		var err error
		sent, err = client.SendChatMessage(ctx, chatID, message)
		return err
	})
	if err != nil {
		return common.ToolResultFromError(err), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Message sent (ID: %s)", sent.ID)), nil
}

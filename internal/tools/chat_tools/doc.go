// Package chat_tools provides MCP tools for listing chats, reading chat
// messages, and sending messages through Microsoft Graph.
package chat_tools

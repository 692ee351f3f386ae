// Package teams_tools provides MCP tools for reading Microsoft Teams
// teams, channels, channel messages, and team membership. All handlers go
// through the authorization gate, so every call is checked against the
// caller's identity, session binding, and granted scopes.
package teams_tools

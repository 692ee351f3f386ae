// Package auth_tools provides MCP tools for driving the Microsoft OAuth
// flow from the tool surface: starting a sign-in, completing it with the
// browser redirect, inspecting stored credentials, and logging out.
package auth_tools

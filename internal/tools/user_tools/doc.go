// Package user_tools provides MCP tools for profile and directory
// lookups: the authenticated user's own profile, user search, and single
// user retrieval.
package user_tools

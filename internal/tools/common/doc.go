// Package common provides shared utilities for MCP tool implementations:
// building authorization requests from tool arguments and transport
// context, and wrapping handlers with metrics and audit logging.
package common

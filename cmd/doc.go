// Package cmd implements the command-line interface for teamsmcp.
//
// This package provides the following commands:
//   - serve: Start the MCP server to provide Teams, chat, and directory tools
//   - cleanup: Remove dead credentials from the local store
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for all MCP tools
//
// The serve command is the default command when no subcommand is specified.
package cmd

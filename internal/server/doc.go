// Package server provides the MCP server context, transport session
// management, and the OAuth-enabled HTTP server for teamsmcp.
//
// # Key Components
//
// ServerContext wires the credential core together: the file-backed
// credential store, token lifecycle, scope resolver, session binding
// table, per-operation validator, OAuth flow controller, and the gate
// the tool handlers call through. In single-user mode the validator and
// binding table are omitted and the gate falls back to the sole stored
// credential.
//
// OAuthHTTPServer hosts the MCP transport endpoints (SSE or streamable
// HTTP) next to the OAuth login and callback endpoints. Bearer tokens
// presented on MCP requests are verified against the Graph /me endpoint
// before their identity is trusted, so a client cannot impersonate
// another user by claiming an identity it does not hold a token for.
//
// SessionIDManager tracks transport sessions derived from Authorization
// headers. When a session expires or is removed its identity binding is
// released, allowing a reconnecting client to bind fresh.
//
// # Security Features
//
//   - HTTPS required for production (localhost exempt for development)
//   - PKCE with S256 on every authorization attempt
//   - Single-use state parameters with a bounded lifetime
//   - Sessions bind to the first identity they use and reject others
//   - Audit logging for authentication and denial events
package server

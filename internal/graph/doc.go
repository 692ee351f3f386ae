// Package graph provides a minimal Microsoft Graph API client for the
// Teams, chat, and user operations exposed by the MCP tools.
//
// The client carries a single bearer token and never refreshes it itself;
// token lifecycle is owned by the auth package, which constructs a fresh
// client per authorized operation. A 401 or 403 response surfaces as an
// *APIError whose IsAuthError method reports true, which is the signal the
// service gate uses to force a credential re-validation.
package graph

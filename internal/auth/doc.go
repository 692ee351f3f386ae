// Package auth implements the multi-user OAuth credential and session-binding
// core for the teamsmcp server.
//
// It sits between the MCP tool surface and the Microsoft Graph API and is
// responsible for everything security-critical about per-user access:
//
//   - Credential: the stored access/refresh token pair for one user identity
//   - Store / FileStore: durable per-user credential persistence with atomic
//     per-key replace semantics
//   - Lifecycle: expiry checks and coalesced token refresh against the
//     Microsoft identity platform
//   - ScopeResolver: minimal Graph permission sets per enabled tool group
//   - BindingTable: immutable transport-session-to-identity bindings
//   - Validator: the three-tier authorization decision (bearer identity,
//     session binding, stored credential)
//   - FlowController: the PKCE authorization-code flow that produces
//     credentials in the first place
//   - Gate: the enforcement point every privileged operation passes through
//
// # Security Model
//
// A transport session binds to the first user identity it successfully
// authenticates as and may never be reattributed. A bearer token presented
// for one identity can never be used to request data as another. All denials
// carry a structured reason so callers can distinguish "log in again" from
// "retry later", and security-relevant denials (identity mismatch, binding
// violations) are audit-logged separately from ordinary unauthenticated
// requests to support intrusion detection.
package auth

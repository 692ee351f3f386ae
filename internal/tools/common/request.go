package common

import (
	"context"

	"github.com/teemow/teamsmcp/internal/auth"
	"github.com/teemow/teamsmcp/internal/server"
)

// AuthRequestFromArgs builds the authorization request for a tool call.
// The claimed identity comes from the explicit "user" argument when
// present, otherwise from the verified bearer identity on the context.
// Session and bearer identity always come from the transport context; a
// tool argument can never override them.
func AuthRequestFromArgs(ctx context.Context, args map[string]interface{}) auth.AuthRequest {
	req := auth.AuthRequest{
		SessionID:      server.SessionIDFromContext(ctx),
		BearerIdentity: server.BearerIdentityFromContext(ctx),
	}

	if user, ok := args["user"].(string); ok && user != "" {
		req.UserIdentity = user
	} else {
		req.UserIdentity = req.BearerIdentity
	}

	return req
}

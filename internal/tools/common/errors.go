package common

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/teamsmcp/internal/auth"
)

// ToolResultFromError converts a gate or Graph error into a tool error
// result. Denials that require a fresh login point the caller at the
// auth_login tool; retryable denials say so.
func ToolResultFromError(err error) *mcp.CallToolResult {
	denial, ok := auth.AsDenial(err)
	if !ok {
		return mcp.NewToolResultError(err.Error())
	}

	switch denial.Reason {
	case auth.DenyNotAuthenticated, auth.DenyReauthenticationRequired:
		return mcp.NewToolResultError(fmt.Sprintf(
			"%s. Use the auth_login tool to sign in, then retry.", denial.Error()))
	case auth.DenyTemporarilyUnavailable:
		return mcp.NewToolResultError(fmt.Sprintf(
			"%s. This is transient; retry after a short wait.", denial.Error()))
	default:
		return mcp.NewToolResultError(denial.Error())
	}
}

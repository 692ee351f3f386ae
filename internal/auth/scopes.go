package auth

import (
	"sort"
)

// Microsoft Graph permission scopes used by the Teams tools.
// Graph uses resource-qualified scope names; these are requested during
// authorization and checked against a credential's granted set before any
// Graph call is made.
const (
	ScopeUserRead       = "https://graph.microsoft.com/User.Read"
	ScopeUserReadAll    = "https://graph.microsoft.com/User.Read.All"
	ScopeDirectoryRead  = "https://graph.microsoft.com/Directory.Read.All"
	ScopeTeamRead       = "https://graph.microsoft.com/Team.ReadBasic.All"
	ScopeChannelRead    = "https://graph.microsoft.com/Channel.ReadBasic.All"
	ScopeChannelMsgRead = "https://graph.microsoft.com/ChannelMessage.Read.All"
	ScopeChatRead       = "https://graph.microsoft.com/Chat.Read"
	ScopeChatReadWrite  = "https://graph.microsoft.com/Chat.ReadWrite"
	ScopeTeamMemberRead = "https://graph.microsoft.com/TeamMember.Read.All"
	ScopeOfflineAccess  = "offline_access"
	ScopeOpenID         = "openid"
)

// BaseScopes are always requested regardless of which tool groups are
// enabled. User.Read provides the profile lookup used to resolve the user
// identity; offline_access is what makes the identity platform issue a
// refresh token at all.
var BaseScopes = []string{
	ScopeOpenID,
	ScopeOfflineAccess,
	ScopeUserRead,
}

// toolGroupScopes maps a tool group name to the Graph scopes its operations
// need. The mapping is static; enabling a group at startup widens the
// consent surface by exactly these scopes.
var toolGroupScopes = map[string][]string{
	"teams": {
		ScopeTeamRead,
		ScopeChannelRead,
		ScopeChannelMsgRead,
		ScopeTeamMemberRead,
	},
	"chat": {
		ScopeChatRead,
		ScopeChatReadWrite,
	},
	"user": {
		ScopeUserRead,
		ScopeUserReadAll,
		ScopeDirectoryRead,
	},
}

// ScopeResolver computes the minimal scope set for a selection of tool
// groups and validates granted scopes against operation requirements.
type ScopeResolver struct {
	groups map[string][]string
	base   []string
}

// NewScopeResolver creates a resolver over the static tool-group mapping.
func NewScopeResolver() *ScopeResolver {
	return &ScopeResolver{
		groups: toolGroupScopes,
		base:   BaseScopes,
	}
}

// KnownGroups returns the tool group names the resolver understands, sorted.
func (r *ScopeResolver) KnownGroups() []string {
	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiredScopes returns the deduplicated union of the base scopes and the
// scopes of every enabled tool group. Unknown group names are ignored.
// The result is sorted for stable authorization URLs; scope comparison
// elsewhere is by membership only.
func (r *ScopeResolver) RequiredScopes(enabledGroups []string) []string {
	set := make(map[string]struct{}, len(r.base))
	for _, scope := range r.base {
		set[scope] = struct{}{}
	}
	for _, group := range enabledGroups {
		for _, scope := range r.groups[group] {
			set[scope] = struct{}{}
		}
	}

	scopes := make([]string, 0, len(set))
	for scope := range set {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

// Missing returns the required scopes absent from granted, sorted. An empty
// result means granted covers required.
func (r *ScopeResolver) Missing(granted, required []string) []string {
	have := make(map[string]struct{}, len(granted))
	for _, scope := range granted {
		have[scope] = struct{}{}
	}

	var missing []string
	for _, scope := range required {
		if _, ok := have[scope]; !ok {
			missing = append(missing, scope)
		}
	}
	sort.Strings(missing)
	return missing
}

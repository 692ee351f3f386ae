package auth

import (
	"time"
)

// Credential holds the OAuth tokens and metadata for one user identity.
// The user's stable email address is the primary key; at most one live
// Credential exists per identity and it is always replaced whole, never
// partially updated.
type Credential struct {
	// UserIdentity is the user's stable email address (immutable key).
	UserIdentity string `json:"user_identity"`

	// AccessToken is the current Graph API bearer token.
	AccessToken string `json:"access_token"`

	// RefreshToken is used to obtain a new access token after expiry.
	RefreshToken string `json:"refresh_token"`

	// Expiry is the absolute expiry time of AccessToken.
	// A zero value means the token is treated as already expired.
	Expiry time.Time `json:"expiry"`

	// GrantedScopes are the Graph scopes the authorization server actually
	// granted. Compared by membership only; order carries no meaning.
	GrantedScopes []string `json:"granted_scopes"`

	// OAuthSessionID correlates this credential with the specific
	// authorization-code exchange that produced it.
	OAuthSessionID string `json:"oauth_session_id"`
}

// Expired reports whether the access token is expired at the given time.
// An unset expiry counts as expired.
func (c *Credential) Expired(now time.Time) bool {
	if c.Expiry.IsZero() {
		return true
	}
	return !now.Before(c.Expiry)
}

// HasScope reports whether the credential's granted scopes include scope.
func (c *Credential) HasScope(scope string) bool {
	for _, granted := range c.GrantedScopes {
		if granted == scope {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the credential. Store implementations hand
// out clones so callers can never mutate a stored record in place.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	dup := *c
	dup.GrantedScopes = append([]string(nil), c.GrantedScopes...)
	return &dup
}

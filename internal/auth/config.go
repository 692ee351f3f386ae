package auth

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// Config holds the OAuth client registration for the Microsoft identity
// platform plus the knobs of the auth core.
type Config struct {
	// ClientID is the Azure AD application (client) ID.
	ClientID string

	// ClientSecret is the confidential client secret.
	ClientSecret string

	// TenantID selects the Azure AD tenant. "common" allows any tenant.
	TenantID string

	// RedirectURL is where the identity platform sends the user after
	// consent. Must match a redirect URI registered for the application.
	RedirectURL string

	// Scopes are the Graph scopes to request during authorization,
	// usually the output of ScopeResolver.RequiredScopes.
	Scopes []string

	// SingleUser enables the degraded single-user fallback that bypasses
	// identity binding entirely. Must never be combined with multi-user
	// session binding; cmd/serve gates this at startup.
	SingleUser bool
}

// LoadConfigFromEnv reads the OAuth client registration from the
// environment. Returns an error naming the variables when the registration
// is incomplete.
func LoadConfigFromEnv() (*Config, error) {
	cfg := &Config{
		ClientID:     os.Getenv("MICROSOFT_OAUTH_CLIENT_ID"),
		ClientSecret: os.Getenv("MICROSOFT_OAUTH_CLIENT_SECRET"),
		TenantID:     os.Getenv("MICROSOFT_TENANT_ID"),
		SingleUser:   envBool("TEAMSMCP_SINGLE_USER"),
	}
	if cfg.TenantID == "" {
		cfg.TenantID = "common"
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("Microsoft OAuth credentials not configured: set MICROSOFT_OAUTH_CLIENT_ID and MICROSOFT_OAUTH_CLIENT_SECRET")
	}
	return cfg, nil
}

// envBool parses a boolean environment variable, accepting the usual
// spellings ("1", "true", "TRUE", ...). Unset or unparseable means false.
func envBool(name string) bool {
	v, err := strconv.ParseBool(os.Getenv(name))
	return err == nil && v
}

// OAuth2 returns the oauth2 client configuration for the configured tenant.
func (c *Config) OAuth2() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     microsoft.AzureADEndpoint(c.TenantID),
		RedirectURL:  c.RedirectURL,
		Scopes:       c.Scopes,
	}
}

package cmd

import (
	"testing"
)

func TestParseCommaSeparatedList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single value",
			input:    "teams",
			expected: []string{"teams"},
		},
		{
			name:     "multiple values",
			input:    "teams,chat,user",
			expected: []string{"teams", "chat", "user"},
		},
		{
			name:     "values with spaces around comma",
			input:    "teams, chat",
			expected: []string{"teams", "chat"},
		},
		{
			name:     "values with leading/trailing spaces",
			input:    "  teams  ,  chat  ",
			expected: []string{"teams", "chat"},
		},
		{
			name:     "trailing comma",
			input:    "teams,chat,",
			expected: []string{"teams", "chat"},
		},
		{
			name:     "leading comma",
			input:    ",teams,chat",
			expected: []string{"teams", "chat"},
		},
		{
			name:     "multiple consecutive commas",
			input:    "teams,,chat",
			expected: []string{"teams", "chat"},
		},
		{
			name:     "only commas and spaces",
			input:    ",  , , ",
			expected: nil,
		},
		{
			name:     "single value with surrounding whitespace",
			input:    "  teams  ",
			expected: []string{"teams"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseCommaSeparatedList(tt.input)

			// Handle nil vs empty slice comparison
			if tt.expected == nil {
				if result != nil {
					t.Errorf("parseCommaSeparatedList(%q) = %v, want nil", tt.input, result)
				}
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("parseCommaSeparatedList(%q) = %v (len %d), want %v (len %d)",
					tt.input, result, len(result), tt.expected, len(tt.expected))
				return
			}

			for i, v := range result {
				if v != tt.expected[i] {
					t.Errorf("parseCommaSeparatedList(%q)[%d] = %q, want %q",
						tt.input, i, v, tt.expected[i])
				}
			}
		})
	}
}

func TestLoadAuthConfig(t *testing.T) {
	t.Setenv("MICROSOFT_OAUTH_CLIENT_ID", "")
	t.Setenv("MICROSOFT_OAUTH_CLIENT_SECRET", "")
	t.Setenv("MICROSOFT_TENANT_ID", "")

	t.Run("flags complete a missing environment", func(t *testing.T) {
		cfg, err := loadAuthConfig("flag-client", "flag-secret", "", "", false)
		if err != nil {
			t.Fatalf("loadAuthConfig returned error: %v", err)
		}
		if cfg.ClientID != "flag-client" || cfg.ClientSecret != "flag-secret" {
			t.Errorf("loadAuthConfig = %q/%q, want flag values", cfg.ClientID, cfg.ClientSecret)
		}
		if cfg.TenantID != "common" {
			t.Errorf("TenantID = %q, want default common", cfg.TenantID)
		}
	})

	t.Run("incomplete registration is rejected", func(t *testing.T) {
		if _, err := loadAuthConfig("", "", "", "", false); err == nil {
			t.Error("expected error for missing client registration")
		}
	})

	t.Run("flags override environment", func(t *testing.T) {
		t.Setenv("MICROSOFT_OAUTH_CLIENT_ID", "env-client")
		t.Setenv("MICROSOFT_OAUTH_CLIENT_SECRET", "env-secret")
		t.Setenv("MICROSOFT_TENANT_ID", "env-tenant")

		cfg, err := loadAuthConfig("", "", "flag-tenant", "https://mcp.example.com/oauth/callback", true)
		if err != nil {
			t.Fatalf("loadAuthConfig returned error: %v", err)
		}
		if cfg.ClientID != "env-client" {
			t.Errorf("ClientID = %q, want env-client", cfg.ClientID)
		}
		if cfg.TenantID != "flag-tenant" {
			t.Errorf("TenantID = %q, want flag-tenant", cfg.TenantID)
		}
		if !cfg.SingleUser {
			t.Error("SingleUser flag was not applied")
		}
	})
}

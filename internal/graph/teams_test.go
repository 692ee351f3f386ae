package graph

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// graphStub serves canned Graph responses keyed by request path.
func graphStub(t *testing.T, routes map[string]string) (*Client, *[]string) {
	t.Helper()
	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.RequestURI())
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":"NotFound","message":"no such resource"}}`)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return NewClient("token", WithBaseURL(srv.URL)), &requested
}

func TestMe(t *testing.T) {
	client, _ := graphStub(t, map[string]string{
		"/me": `{"id":"u1","displayName":"Alice","mail":"alice@example.com"}`,
	})

	user, err := client.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.DisplayName)
	assert.Equal(t, "alice@example.com", user.Identity())
}

func TestUserIdentityFallsBackToPrincipalName(t *testing.T) {
	user := &User{UserPrincipalName: "alice@contoso.onmicrosoft.com"}
	assert.Equal(t, "alice@contoso.onmicrosoft.com", user.Identity())

	user.Mail = "alice@example.com"
	assert.Equal(t, "alice@example.com", user.Identity())
}

func TestListJoinedTeams(t *testing.T) {
	client, _ := graphStub(t, map[string]string{
		"/me/joinedTeams": `{"value":[{"id":"t1","displayName":"Engineering"},{"id":"t2","displayName":"Support"}]}`,
	})

	teams, err := client.ListJoinedTeams(context.Background())
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, "Engineering", teams[0].DisplayName)
}

func TestGetTeam(t *testing.T) {
	client, _ := graphStub(t, map[string]string{
		"/teams/t1": `{"id":"t1","displayName":"Engineering","isArchived":true}`,
	})

	team, err := client.GetTeam(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, team.IsArchived)
}

func TestListChannels(t *testing.T) {
	client, _ := graphStub(t, map[string]string{
		"/teams/t1/channels": `{"value":[{"id":"c1","displayName":"General","membershipType":"standard"}]}`,
	})

	channels, err := client.ListChannels(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "General", channels[0].DisplayName)
}

func TestListChannelMessagesAppliesLimit(t *testing.T) {
	client, requested := graphStub(t, map[string]string{
		"/teams/t1/channels/c1/messages": `{"value":[{"id":"m1","body":{"contentType":"text","content":"hi"}}]}`,
	})

	messages, err := client.ListChannelMessages(context.Background(), "t1", "c1", 25)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "hi", messages[0].Body.Content)

	require.Len(t, *requested, 1)
	assert.Contains(t, (*requested)[0], "$top=25")
}

func TestListTeamMembers(t *testing.T) {
	client, _ := graphStub(t, map[string]string{
		"/teams/t1/members": `{"value":[{"id":"u1","displayName":"Alice"},{"id":"u2","displayName":"Bob"}]}`,
	})

	members, err := client.ListTeamMembers(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

package graph

import (
	"context"
	"fmt"
	"net/url"
)

// Me returns the profile of the user the bearer token belongs to.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.Get(ctx, "/me", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListJoinedTeams returns the teams the user is a member of.
func (c *Client) ListJoinedTeams(ctx context.Context) ([]Team, error) {
	var result collection[Team]
	if err := c.Get(ctx, "/me/joinedTeams", &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// GetTeam returns one team by ID.
func (c *Client) GetTeam(ctx context.Context, teamID string) (*Team, error) {
	var team Team
	if err := c.Get(ctx, "/teams/"+url.PathEscape(teamID), &team); err != nil {
		return nil, err
	}
	return &team, nil
}

// ListChannels returns the channels of a team.
func (c *Client) ListChannels(ctx context.Context, teamID string) ([]Channel, error) {
	var result collection[Channel]
	if err := c.Get(ctx, fmt.Sprintf("/teams/%s/channels", url.PathEscape(teamID)), &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// ListChannelMessages returns the most recent messages of a channel.
func (c *Client) ListChannelMessages(ctx context.Context, teamID, channelID string, limit int) ([]ChatMessage, error) {
	path := fmt.Sprintf("/teams/%s/channels/%s/messages", url.PathEscape(teamID), url.PathEscape(channelID))
	if limit > 0 {
		path += fmt.Sprintf("?$top=%d", limit)
	}
	var result collection[ChatMessage]
	if err := c.Get(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// ListTeamMembers returns the members of a team.
func (c *Client) ListTeamMembers(ctx context.Context, teamID string) ([]User, error) {
	var result collection[User]
	if err := c.Get(ctx, fmt.Sprintf("/teams/%s/members", url.PathEscape(teamID)), &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

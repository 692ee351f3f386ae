package graph

import (
	"context"
	"fmt"
	"net/url"
)

// ListChats returns the user's chats.
func (c *Client) ListChats(ctx context.Context, limit int) ([]Chat, error) {
	path := "/me/chats"
	if limit > 0 {
		path += fmt.Sprintf("?$top=%d", limit)
	}
	var result collection[Chat]
	if err := c.Get(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// ListChatMessages returns the most recent messages of a chat.
func (c *Client) ListChatMessages(ctx context.Context, chatID string, limit int) ([]ChatMessage, error) {
	path := fmt.Sprintf("/chats/%s/messages", url.PathEscape(chatID))
	if limit > 0 {
		path += fmt.Sprintf("?$top=%d", limit)
	}
	var result collection[ChatMessage]
	if err := c.Get(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// SendChatMessage posts a text message to a chat.
func (c *Client) SendChatMessage(ctx context.Context, chatID, content string) (*ChatMessage, error) {
	body := map[string]interface{}{
		"body": ItemBody{ContentType: "text", Content: content},
	}
	var msg ChatMessage
	if err := c.Post(ctx, fmt.Sprintf("/chats/%s/messages", url.PathEscape(chatID)), body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SearchUsers looks up users whose display name or email starts with query.
func (c *Client) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
	filter := fmt.Sprintf("startswith(displayName,'%s') or startswith(mail,'%s')", query, query)
	path := "/users?$filter=" + url.QueryEscape(filter)
	if limit > 0 {
		path += fmt.Sprintf("&$top=%d", limit)
	}
	var result collection[User]
	if err := c.Get(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// GetUser returns one user by ID or user principal name.
func (c *Client) GetUser(ctx context.Context, idOrPrincipal string) (*User, error) {
	var user User
	if err := c.Get(ctx, "/users/"+url.PathEscape(idOrPrincipal), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

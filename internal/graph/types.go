package graph

import "time"

// User is a Microsoft Graph user resource (trimmed to the fields the tools
// surface).
type User struct {
	ID                string `json:"id,omitempty"`
	DisplayName       string `json:"displayName,omitempty"`
	Mail              string `json:"mail,omitempty"`
	UserPrincipalName string `json:"userPrincipalName,omitempty"`
	JobTitle          string `json:"jobTitle,omitempty"`
	OfficeLocation    string `json:"officeLocation,omitempty"`
}

// Identity returns the user's stable email identifier: the mail attribute
// when present, else the user principal name.
func (u *User) Identity() string {
	if u.Mail != "" {
		return u.Mail
	}
	return u.UserPrincipalName
}

// Team is a Microsoft Teams team.
type Team struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
	IsArchived  bool   `json:"isArchived,omitempty"`
}

// Channel is a channel within a team.
type Channel struct {
	ID             string `json:"id,omitempty"`
	DisplayName    string `json:"displayName,omitempty"`
	Description    string `json:"description,omitempty"`
	MembershipType string `json:"membershipType,omitempty"`
}

// Chat is a one-on-one or group chat.
type Chat struct {
	ID       string `json:"id,omitempty"`
	Topic    string `json:"topic,omitempty"`
	ChatType string `json:"chatType,omitempty"`
}

// ItemBody is the body of a chat or channel message.
type ItemBody struct {
	ContentType string `json:"contentType,omitempty"`
	Content     string `json:"content,omitempty"`
}

// ChatMessage is a message in a chat or channel.
type ChatMessage struct {
	ID              string    `json:"id,omitempty"`
	CreatedDateTime time.Time `json:"createdDateTime,omitempty"`
	Body            ItemBody  `json:"body,omitempty"`
	From            *struct {
		User *User `json:"user,omitempty"`
	} `json:"from,omitempty"`
}

// collection is the Graph OData collection envelope.
type collection[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink,omitempty"`
}

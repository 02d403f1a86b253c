package domain

import "time"

// Room is a voting session addressed by a short unique code.
type Room struct {
	RoomID    string       `json:"id" dynamodbav:"room_id"`
	Code      string       `json:"code" dynamodbav:"code"`
	Name      string       `json:"name" dynamodbav:"name"`
	CardSet   string       `json:"card_set" dynamodbav:"card_set"`
	Jira      JiraSettings `json:"jira" dynamodbav:"jira"`
	CreatedAt time.Time    `json:"created" dynamodbav:"created_at"`
	UpdatedAt time.Time    `json:"updated" dynamodbav:"updated_at"`
}

// JiraSettings links a room to an external issue tracker project.
type JiraSettings struct {
	BaseURL    string `json:"base_url" dynamodbav:"base_url"`
	Email      string `json:"email" dynamodbav:"email"`
	Token      string `json:"-" dynamodbav:"token"`
	ProjectKey string `json:"project_key" dynamodbav:"project_key"`
	BoardID    int64  `json:"board_id,omitempty" dynamodbav:"board_id,omitempty"`
}

// HasCredentials reports whether API calls can be authenticated.
func (j JiraSettings) HasCredentials() bool {
	return j.BaseURL != "" && j.Email != "" && j.Token != ""
}

// Complete reports whether an import can be attempted.
func (j JiraSettings) Complete() bool {
	return j.HasCredentials() && j.ProjectKey != ""
}

type CreateRoomRequest struct {
	Name    string `validate:"required,max=120"`
	CardSet string `validate:"required,oneof=fibonacci tshirt"`
}

type RenameRoomRequest struct {
	Name string `validate:"required,max=120"`
}

type JiraSettingsRequest struct {
	BaseURL    string `validate:"omitempty,url"`
	Email      string `validate:"omitempty,max=200"`
	Token      string `validate:"omitempty,max=255"`
	ProjectKey string `validate:"omitempty,max=32,projectkey"`
	BoardID    int64  `validate:"gte=0"`
}

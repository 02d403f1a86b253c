package domain

import (
	"strings"
	"time"
)

// IssueNotesPrefix marks notes of stories imported from the issue tracker:
// "Issue: <KEY>\n<browse url>".
const IssueNotesPrefix = "Issue: "

type Story struct {
	StoryID        string    `json:"id" dynamodbav:"story_id"`
	RoomID         string    `json:"room_id" dynamodbav:"room_id"`
	Title          string    `json:"title" dynamodbav:"title"`
	Notes          string    `json:"notes" dynamodbav:"notes"`
	IssueType      string    `json:"issue_type,omitempty" dynamodbav:"issue_type"`
	Revealed       bool      `json:"revealed" dynamodbav:"revealed"`
	ConsensusValue string    `json:"consensus_value" dynamodbav:"consensus_value"`
	CreatedAt      time.Time `json:"created" dynamodbav:"created_at"`
}

// IsEpic reports whether the story was imported as an Epic (case-insensitive).
func (s Story) IsEpic() bool {
	return IsEpicType(s.IssueType)
}

func IsEpicType(issueType string) bool {
	return strings.EqualFold(strings.TrimSpace(issueType), "epic")
}

// IssueNotes builds the back-reference stored on imported stories.
func IssueNotes(key, browseURL string) string {
	return IssueNotesPrefix + key + "\n" + browseURL
}

type Vote struct {
	StoryID       string    `json:"story_id" dynamodbav:"story_id"`
	ParticipantID string    `json:"participant_id" dynamodbav:"participant_id"`
	RoomID        string    `json:"room_id" dynamodbav:"room_id"`
	Value         string    `json:"value" dynamodbav:"value"`
	UpdatedAt     time.Time `json:"updated" dynamodbav:"updated_at"`
}

type CreateStoryRequest struct {
	Title string `validate:"required,max=200"`
	Notes string
}

// Vote and consensus values are card faces, at most 10 characters.
type VoteRequest struct {
	Value string `validate:"required,max=10"`
}

type ConsensusRequest struct {
	Value string `validate:"max=10"`
}

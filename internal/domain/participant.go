package domain

import "time"

// Participant is a member of one room. Facilitators may reveal, revote,
// set consensus, delete stories and rename the room.
type Participant struct {
	ParticipantID string    `json:"id" dynamodbav:"participant_id"`
	RoomID        string    `json:"room_id" dynamodbav:"room_id"`
	DisplayName   string    `json:"display_name" dynamodbav:"display_name"`
	IsFacilitator bool      `json:"is_facilitator" dynamodbav:"is_facilitator"`
	JoinedAt      time.Time `json:"joined" dynamodbav:"joined_at"`
}

type JoinRoomRequest struct {
	DisplayName   string `validate:"required,max=60"`
	IsFacilitator bool
}

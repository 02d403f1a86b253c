package domain

import "time"

// Session is the server-side state of one browser session.
// ExpiresAt is a Unix timestamp used as DynamoDB TTL.
type Session struct {
	SessionID string `json:"id" dynamodbav:"session_id"`
	OrgEmail  string `json:"org_email,omitempty" dynamodbav:"org_email"`
	// Pending is the access code awaiting verification, if any.
	Pending *PendingToken `json:"pending,omitempty" dynamodbav:"pending,omitempty"`
	// Participants maps a room code to the participant this session joined as.
	Participants map[string]string `json:"participants,omitempty" dynamodbav:"participants,omitempty"`
	Flashes      []Flash           `json:"flashes,omitempty" dynamodbav:"flashes,omitempty"`
	CreatedAt    time.Time         `json:"created" dynamodbav:"created_at"`
	ExpiresAt    int64             `json:"expires_at" dynamodbav:"expires_at"`
}

// PendingToken is an issued, not yet verified access code.
// TokenHash is a bcrypt hash; ExpiresAt is an absolute Unix timestamp.
type PendingToken struct {
	Email     string `json:"email" dynamodbav:"email"`
	TokenHash string `json:"-" dynamodbav:"token_hash"`
	ExpiresAt int64  `json:"expires_at" dynamodbav:"expires_at"`
}

// Expired reports whether the code can no longer be used at now.
func (p *PendingToken) Expired(now time.Time) bool {
	return now.Unix() > p.ExpiresAt
}

const (
	FlashInfo    = "info"
	FlashSuccess = "success"
	FlashError   = "error"
)

type Flash struct {
	Level   string `json:"level" dynamodbav:"level"`
	Message string `json:"message" dynamodbav:"message"`
}

// ParticipantFor returns the participant id this session holds in room code.
func (s *Session) ParticipantFor(code string) string {
	if s == nil || s.Participants == nil {
		return ""
	}
	return s.Participants[code]
}

func (s *Session) AddFlash(level, msg string) {
	s.Flashes = append(s.Flashes, Flash{Level: level, Message: msg})
}

// PopFlashes returns queued flashes and clears them.
func (s *Session) PopFlashes() []Flash {
	f := s.Flashes
	s.Flashes = nil
	return f
}

type OrgAccessRequest struct {
	Email string `validate:"required,email,max=254"`
	Token string `validate:"omitempty,len=6,numeric"`
}

package http

import (
	"context"
	"time"

	"github.com/go-planning-poker/internal/domain"
	"github.com/go-planning-poker/internal/infrastructure/google"
)

// RoomRepository is the minimal interface the router requires from a room store.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	Get(ctx context.Context, roomID string) (*domain.Room, error)
	GetByCode(ctx context.Context, code string) (*domain.Room, error)
	// ListRecent returns at most limit rooms, newest first.
	ListRecent(ctx context.Context, limit int) ([]domain.Room, error)
	Rename(ctx context.Context, roomID, name string) error
	SetJira(ctx context.Context, roomID string, j domain.JiraSettings) error
	Delete(ctx context.Context, roomID, code string) error
}

// ParticipantRepository is the minimal interface the router requires from a participant store.
type ParticipantRepository interface {
	Put(ctx context.Context, p *domain.Participant) error
	Get(ctx context.Context, roomID, participantID string) (*domain.Participant, error)
	ListByRoom(ctx context.Context, roomID string) ([]domain.Participant, error)
	Delete(ctx context.Context, roomID, participantID string) error
}

// StoryRepository is the minimal interface the router requires from a story store.
type StoryRepository interface {
	Put(ctx context.Context, s *domain.Story) error
	Get(ctx context.Context, roomID, storyID string) (*domain.Story, error)
	ListByRoom(ctx context.Context, roomID string) ([]domain.Story, error)
	SetRevealed(ctx context.Context, roomID, storyID string, revealed bool) error
	SetConsensus(ctx context.Context, roomID, storyID, value string) error
	ResetRound(ctx context.Context, roomID, storyID string) error
	Delete(ctx context.Context, roomID, storyID string) error
}

// VoteRepository is the minimal interface the router requires from a vote store.
type VoteRepository interface {
	Put(ctx context.Context, v *domain.Vote) error
	ListByRoom(ctx context.Context, roomID string) ([]domain.Vote, error)
	DeleteByStory(ctx context.Context, roomID, storyID string) error
	DeleteByParticipant(ctx context.Context, roomID, participantID string) error
}

// SessionRepository is the minimal interface the router requires from a session store.
type SessionRepository interface {
	Put(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
}

// ObjectStore is the minimal interface the router requires from an object storage backend.
type ObjectStore interface {
	PutJSON(ctx context.Context, key string, data []byte) (string, error)
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Mailer delivers access codes.
type Mailer interface {
	SendAccessCode(ctx context.Context, email, token string) bool
}

// GoogleVerifier checks "Sign in with Google" ID tokens.
type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (*google.Payload, error)
}

// Challenge is the bot check on login posts.
type Challenge interface {
	SiteKey() string
	Verify(ctx context.Context, responseToken, remoteIP string) bool
}

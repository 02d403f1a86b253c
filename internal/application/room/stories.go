package room

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-planning-poker/internal/domain"
	"github.com/go-planning-poker/internal/pkg/id"
	"github.com/go-planning-poker/internal/pkg/validate"
)

func (s *service) CreateStory(ctx context.Context, sess *domain.Session, room *domain.Room, req domain.CreateStoryRequest) (*domain.Story, error) {
	actor, err := s.Actor(ctx, sess, room)
	if err != nil {
		return nil, err
	}
	if actor.Participant == nil {
		return nil, domain.ErrNotJoined
	}
	req.Title = strings.TrimSpace(req.Title)
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	st := &domain.Story{
		StoryID:   id.New(),
		RoomID:    room.RoomID,
		Title:     req.Title,
		Notes:     strings.TrimSpace(req.Notes),
		CreatedAt: s.now().UTC(),
	}
	if err := s.stories.Put(ctx, st); err != nil {
		return nil, fmt.Errorf("create story: %w", err)
	}
	s.bump(ctx, room.RoomID)
	return st, nil
}

// CastVote records the participant's vote, replacing an earlier one.
func (s *service) CastVote(ctx context.Context, sess *domain.Session, room *domain.Room, storyID, value string) error {
	st, err := s.stories.Get(ctx, room.RoomID, storyID)
	if err != nil {
		return err
	}
	actor, err := s.Actor(ctx, sess, room)
	if err != nil {
		return err
	}
	if actor.Participant == nil {
		return domain.ErrNotJoined
	}
	req := domain.VoteRequest{Value: strings.TrimSpace(value)}
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("invalid vote: %w: %w", domain.ErrBadRequest, err)
	}
	err = s.votes.Put(ctx, &domain.Vote{
		StoryID:       st.StoryID,
		ParticipantID: actor.Participant.ParticipantID,
		RoomID:        room.RoomID,
		Value:         req.Value,
		UpdatedAt:     s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("cast vote: %w", err)
	}
	s.bump(ctx, room.RoomID)
	return nil
}

// facilitatorStory loads a story for an action only facilitators may take.
func (s *service) facilitatorStory(ctx context.Context, sess *domain.Session, room *domain.Room, storyID string) (*domain.Story, error) {
	st, err := s.stories.Get(ctx, room.RoomID, storyID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireFacilitator(ctx, sess, room); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *service) Reveal(ctx context.Context, sess *domain.Session, room *domain.Room, storyID string) error {
	st, err := s.facilitatorStory(ctx, sess, room, storyID)
	if err != nil {
		return err
	}
	if err := s.stories.SetRevealed(ctx, room.RoomID, st.StoryID, true); err != nil {
		return fmt.Errorf("reveal story: %w", err)
	}
	s.bump(ctx, room.RoomID)
	return nil
}

// Revote starts the round over: votes are deleted and the story is hidden
// again with no consensus.
func (s *service) Revote(ctx context.Context, sess *domain.Session, room *domain.Room, storyID string) error {
	st, err := s.facilitatorStory(ctx, sess, room, storyID)
	if err != nil {
		return err
	}
	if err := s.stories.ResetRound(ctx, room.RoomID, st.StoryID); err != nil {
		return fmt.Errorf("reset story: %w", err)
	}
	if err := s.votes.DeleteByStory(ctx, room.RoomID, st.StoryID); err != nil {
		return fmt.Errorf("delete votes: %w", err)
	}
	s.bump(ctx, room.RoomID)
	return nil
}

func (s *service) SetConsensus(ctx context.Context, sess *domain.Session, room *domain.Room, storyID, value string) error {
	st, err := s.facilitatorStory(ctx, sess, room, storyID)
	if err != nil {
		return err
	}
	req := domain.ConsensusRequest{Value: strings.TrimSpace(value)}
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if err := s.stories.SetConsensus(ctx, room.RoomID, st.StoryID, req.Value); err != nil {
		return fmt.Errorf("set consensus: %w", err)
	}
	s.bump(ctx, room.RoomID)
	return nil
}

func (s *service) DeleteStory(ctx context.Context, sess *domain.Session, room *domain.Room, storyID string) error {
	st, err := s.facilitatorStory(ctx, sess, room, storyID)
	if err != nil {
		return err
	}
	if err := s.deleteStory(ctx, room.RoomID, st.StoryID); err != nil {
		return err
	}
	s.bump(ctx, room.RoomID)
	return nil
}

func (s *service) deleteStory(ctx context.Context, roomID, storyID string) error {
	if err := s.votes.DeleteByStory(ctx, roomID, storyID); err != nil {
		return fmt.Errorf("delete votes: %w", err)
	}
	if err := s.stories.Delete(ctx, roomID, storyID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete story: %w", err)
	}
	return nil
}

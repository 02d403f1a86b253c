// Package room implements rooms, their participants, stories and votes.
//
// Every mutation of a room bumps its version through roomstate so cached
// snapshots and fragments of the previous version are no longer read.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-planning-poker/internal/application/roomstate"
	"github.com/go-planning-poker/internal/cache"
	"github.com/go-planning-poker/internal/domain"
	"github.com/go-planning-poker/internal/pkg/id"
	"github.com/go-planning-poker/internal/pkg/validate"
)

const (
	ListKey   = "room:list:latest"
	ListTTL   = 30 * time.Second
	ListLimit = 50

	// codeAttempts bounds retries when a generated room code is taken.
	codeAttempts = 5
)

// Actor is the caller as seen from one room.
type Actor struct {
	// Participant is nil when the session has not joined the room.
	Participant *domain.Participant
	IsStaff     bool
}

func (a Actor) IsFacilitator() bool {
	return a.Participant != nil && a.Participant.IsFacilitator
}

// CanManage reports whether the actor may rename or delete the room.
func (a Actor) CanManage() bool {
	return a.IsFacilitator() || a.IsStaff
}

// ParticipantID returns the joined participant's id, or "".
func (a Actor) ParticipantID() string {
	if a.Participant == nil {
		return ""
	}
	return a.Participant.ParticipantID
}

// View is everything needed to render a room for one viewer.
type View struct {
	Room     *domain.Room
	Actor    Actor
	Snapshot *roomstate.Snapshot
	Version  int64
	Rows     []roomstate.StoryRow
}

type Service interface {
	// List returns the most recent rooms, served from cache for ListTTL.
	List(ctx context.Context) ([]domain.Room, error)
	Create(ctx context.Context, req domain.CreateRoomRequest) (*domain.Room, error)
	GetByCode(ctx context.Context, code string) (*domain.Room, error)
	// Actor resolves the session's participant in room. A stale mapping is
	// treated as not joined.
	Actor(ctx context.Context, sess *domain.Session, room *domain.Room) (Actor, error)
	View(ctx context.Context, room *domain.Room, actor Actor) (*View, error)
	Join(ctx context.Context, sess *domain.Session, room *domain.Room, req domain.JoinRoomRequest) (*domain.Participant, error)
	// Leave drops the session's mapping and deletes its participant and
	// votes. It reports whether a participant was removed.
	Leave(ctx context.Context, sess *domain.Session, room *domain.Room) (bool, error)
	Rename(ctx context.Context, sess *domain.Session, room *domain.Room, req domain.RenameRoomRequest) error
	Delete(ctx context.Context, sess *domain.Session, room *domain.Room) error
	SaveJira(ctx context.Context, sess *domain.Session, room *domain.Room, req domain.JiraSettingsRequest) error
	// Export uploads the room's estimates and returns a download URL.
	Export(ctx context.Context, sess *domain.Session, room *domain.Room) (string, error)

	// Story operations address a story within room; a story of another
	// room is not found.
	CreateStory(ctx context.Context, sess *domain.Session, room *domain.Room, req domain.CreateStoryRequest) (*domain.Story, error)
	CastVote(ctx context.Context, sess *domain.Session, room *domain.Room, storyID, value string) error
	Reveal(ctx context.Context, sess *domain.Session, room *domain.Room, storyID string) error
	Revote(ctx context.Context, sess *domain.Session, room *domain.Room, storyID string) error
	SetConsensus(ctx context.Context, sess *domain.Session, room *domain.Room, storyID, value string) error
	DeleteStory(ctx context.Context, sess *domain.Session, room *domain.Room, storyID string) error
}

type roomStore interface {
	Create(ctx context.Context, room *domain.Room) error
	Get(ctx context.Context, roomID string) (*domain.Room, error)
	GetByCode(ctx context.Context, code string) (*domain.Room, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Room, error)
	Rename(ctx context.Context, roomID, name string) error
	SetJira(ctx context.Context, roomID string, j domain.JiraSettings) error
	Delete(ctx context.Context, roomID, code string) error
}

type participantStore interface {
	Put(ctx context.Context, p *domain.Participant) error
	Get(ctx context.Context, roomID, participantID string) (*domain.Participant, error)
	ListByRoom(ctx context.Context, roomID string) ([]domain.Participant, error)
	Delete(ctx context.Context, roomID, participantID string) error
}

type storyStore interface {
	Put(ctx context.Context, s *domain.Story) error
	Get(ctx context.Context, roomID, storyID string) (*domain.Story, error)
	ListByRoom(ctx context.Context, roomID string) ([]domain.Story, error)
	SetRevealed(ctx context.Context, roomID, storyID string, revealed bool) error
	SetConsensus(ctx context.Context, roomID, storyID, value string) error
	ResetRound(ctx context.Context, roomID, storyID string) error
	Delete(ctx context.Context, roomID, storyID string) error
}

type voteStore interface {
	Put(ctx context.Context, v *domain.Vote) error
	DeleteByStory(ctx context.Context, roomID, storyID string) error
	DeleteByParticipant(ctx context.Context, roomID, participantID string) error
}

type stateService interface {
	BumpVersion(ctx context.Context, roomID string) (int64, error)
	GetSnapshot(ctx context.Context, room *domain.Room) (*roomstate.Snapshot, int64, error)
}

type exporter interface {
	PutJSON(ctx context.Context, key string, data []byte) (string, error)
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type service struct {
	cache        cache.Store
	rooms        roomStore
	participants participantStore
	stories      storyStore
	votes        voteStore
	state        stateService
	exports      exporter
	isStaff      func(email string) bool
	now          func() time.Time
	newCode      func() string
}

type ServiceDeps struct {
	Cache        cache.Store
	Rooms        roomStore
	Participants participantStore
	Stories      storyStore
	Votes        voteStore
	State        stateService
	// Exports is optional; Export fails with ErrNotFound when nil.
	Exports exporter
	IsStaff func(email string) bool
	Now     func() time.Time
	NewCode func() string
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		cache:        deps.Cache,
		rooms:        deps.Rooms,
		participants: deps.Participants,
		stories:      deps.Stories,
		votes:        deps.Votes,
		state:        deps.State,
		exports:      deps.Exports,
		isStaff:      deps.IsStaff,
		now:          deps.Now,
		newCode:      deps.NewCode,
	}
	if s.isStaff == nil {
		s.isStaff = func(string) bool { return false }
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newCode == nil {
		s.newCode = id.RoomCode
	}
	return s
}

func (s *service) List(ctx context.Context) ([]domain.Room, error) {
	if raw, ok, err := s.cache.Get(ctx, ListKey); err != nil {
		slog.Warn("room list cache read failed", "err", err)
	} else if ok {
		var rooms []domain.Room
		if err := json.Unmarshal(raw, &rooms); err == nil {
			return rooms, nil
		}
	}

	rooms, err := s.rooms.ListRecent(ctx, ListLimit)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	if raw, err := json.Marshal(rooms); err == nil {
		if err := s.cache.Set(ctx, ListKey, raw, ListTTL); err != nil {
			slog.Warn("room list cache write failed", "err", err)
		}
	}
	return rooms, nil
}

func (s *service) invalidateList(ctx context.Context) {
	if err := s.cache.Delete(ctx, ListKey); err != nil {
		slog.Warn("room list invalidation failed", "err", err)
	}
}

// bump advances the room version. The mutation already happened, so a
// failure here is logged rather than returned; readers catch up once the
// snapshot TTL runs out.
func (s *service) bump(ctx context.Context, roomID string) {
	if _, err := s.state.BumpVersion(ctx, roomID); err != nil {
		slog.Error("room version bump failed", "room_id", roomID, "err", err)
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateRoomRequest) (*domain.Room, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.CardSet == "" {
		req.CardSet = domain.DefaultCardSet
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	now := s.now().UTC()
	room := &domain.Room{
		Name:      req.Name,
		CardSet:   req.CardSet,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// The store rejects a taken code; try a few fresh ones.
	var err error
	for i := 0; i < codeAttempts; i++ {
		room.RoomID, room.Code = id.New(), s.newCode()
		err = s.rooms.Create(ctx, room)
		if !errors.Is(err, domain.ErrConflict) {
			break
		}
	}
	if errors.Is(err, domain.ErrConflict) {
		return nil, fmt.Errorf("no free room code after %d attempts: %w", codeAttempts, domain.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	s.invalidateList(ctx)
	slog.Info("room created", "room_id", room.RoomID, "code", room.Code)
	return room, nil
}

func (s *service) GetByCode(ctx context.Context, code string) (*domain.Room, error) {
	return s.rooms.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

func (s *service) Actor(ctx context.Context, sess *domain.Session, room *domain.Room) (Actor, error) {
	a := Actor{IsStaff: sess != nil && sess.OrgEmail != "" && s.isStaff(sess.OrgEmail)}
	pid := sess.ParticipantFor(room.Code)
	if pid == "" {
		return a, nil
	}
	p, err := s.participants.Get(ctx, room.RoomID, pid)
	if errors.Is(err, domain.ErrNotFound) {
		return a, nil
	}
	if err != nil {
		return a, err
	}
	if p.RoomID == room.RoomID {
		a.Participant = p
	}
	return a, nil
}

func (s *service) View(ctx context.Context, room *domain.Room, actor Actor) (*View, error) {
	snap, version, err := s.state.GetSnapshot(ctx, room)
	if err != nil {
		return nil, err
	}
	return &View{
		Room:     room,
		Actor:    actor,
		Snapshot: snap,
		Version:  version,
		Rows:     roomstate.Project(snap, actor.ParticipantID()),
	}, nil
}

func (s *service) Join(ctx context.Context, sess *domain.Session, room *domain.Room, req domain.JoinRoomRequest) (*domain.Participant, error) {
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	p := &domain.Participant{
		ParticipantID: id.New(),
		RoomID:        room.RoomID,
		DisplayName:   req.DisplayName,
		IsFacilitator: req.IsFacilitator,
		JoinedAt:      s.now().UTC(),
	}
	if err := s.participants.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("create participant: %w", err)
	}
	if sess.Participants == nil {
		sess.Participants = make(map[string]string)
	}
	sess.Participants[room.Code] = p.ParticipantID
	s.bump(ctx, room.RoomID)
	return p, nil
}

func (s *service) Leave(ctx context.Context, sess *domain.Session, room *domain.Room) (bool, error) {
	actor, err := s.Actor(ctx, sess, room)
	if err != nil {
		return false, err
	}
	delete(sess.Participants, room.Code)
	if actor.Participant == nil {
		return false, nil
	}
	pid := actor.Participant.ParticipantID
	if err := s.votes.DeleteByParticipant(ctx, room.RoomID, pid); err != nil {
		return false, fmt.Errorf("delete votes: %w", err)
	}
	if err := s.participants.Delete(ctx, room.RoomID, pid); err != nil {
		return false, fmt.Errorf("delete participant: %w", err)
	}
	s.bump(ctx, room.RoomID)
	return true, nil
}

func (s *service) requireManager(ctx context.Context, sess *domain.Session, room *domain.Room) error {
	actor, err := s.Actor(ctx, sess, room)
	if err != nil {
		return err
	}
	if !actor.CanManage() {
		return fmt.Errorf("facilitator or staff only: %w", domain.ErrForbidden)
	}
	return nil
}

func (s *service) requireFacilitator(ctx context.Context, sess *domain.Session, room *domain.Room) (Actor, error) {
	actor, err := s.Actor(ctx, sess, room)
	if err != nil {
		return actor, err
	}
	if !actor.IsFacilitator() {
		return actor, fmt.Errorf("facilitator only: %w", domain.ErrForbidden)
	}
	return actor, nil
}

func (s *service) Rename(ctx context.Context, sess *domain.Session, room *domain.Room, req domain.RenameRoomRequest) error {
	if err := s.requireManager(ctx, sess, room); err != nil {
		return err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if err := s.rooms.Rename(ctx, room.RoomID, req.Name); err != nil {
		return fmt.Errorf("rename room: %w", err)
	}
	room.Name = req.Name
	s.bump(ctx, room.RoomID)
	s.invalidateList(ctx)
	return nil
}

// Delete removes the room with its stories, votes and participants.
func (s *service) Delete(ctx context.Context, sess *domain.Session, room *domain.Room) error {
	if err := s.requireManager(ctx, sess, room); err != nil {
		return err
	}
	stories, err := s.stories.ListByRoom(ctx, room.RoomID)
	if err != nil {
		return fmt.Errorf("list stories: %w", err)
	}
	for _, st := range stories {
		if err := s.deleteStory(ctx, room.RoomID, st.StoryID); err != nil {
			return err
		}
	}
	participants, err := s.participants.ListByRoom(ctx, room.RoomID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	for _, p := range participants {
		if err := s.participants.Delete(ctx, room.RoomID, p.ParticipantID); err != nil {
			return fmt.Errorf("delete participant: %w", err)
		}
	}
	if err := s.rooms.Delete(ctx, room.RoomID, room.Code); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	delete(sess.Participants, room.Code)
	s.bump(ctx, room.RoomID)
	s.invalidateList(ctx)
	slog.Info("room deleted", "room_id", room.RoomID, "code", room.Code)
	return nil
}

// SaveJira stores the room's Jira settings. A blank token keeps the
// stored one so the form never has to echo it back.
func (s *service) SaveJira(ctx context.Context, sess *domain.Session, room *domain.Room, req domain.JiraSettingsRequest) error {
	if _, err := s.requireFacilitator(ctx, sess, room); err != nil {
		return err
	}
	req.BaseURL = strings.TrimRight(strings.TrimSpace(req.BaseURL), "/")
	req.Email = strings.TrimSpace(req.Email)
	req.ProjectKey = strings.ToUpper(strings.TrimSpace(req.ProjectKey))
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	j := domain.JiraSettings{
		BaseURL:    req.BaseURL,
		Email:      req.Email,
		Token:      req.Token,
		ProjectKey: req.ProjectKey,
		BoardID:    req.BoardID,
	}
	if j.Token == "" {
		j.Token = room.Jira.Token
	}
	if err := s.rooms.SetJira(ctx, room.RoomID, j); err != nil {
		return fmt.Errorf("save jira settings: %w", err)
	}
	room.Jira = j
	// The project key changes which stories the snapshot shows.
	s.bump(ctx, room.RoomID)
	return nil
}

// Package roomstate maintains per-room version counters and the cached,
// derived view of a room (its snapshot) keyed by that version.
//
// Every mutation of a room's stories, votes, participants or metadata calls
// BumpVersion. Snapshot and fragment keys embed the version, so a bump
// orphans all cached entries of the previous version without deleting them;
// orphans expire on their own TTL.
package roomstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-planning-poker/internal/cache"
	"github.com/go-planning-poker/internal/domain"
)

// SnapshotTTL bounds how long a snapshot is served at a still-current version.
const SnapshotTTL = 30 * time.Second

func VersionKey(roomID string) string {
	return "room:version:" + roomID
}

func SnapshotKey(roomID string, version int64) string {
	return fmt.Sprintf("room:snapshot:%s:%d", roomID, version)
}

// Snapshot is the cached view of a room at one version. Values handed out
// by GetSnapshot must be treated as read-only.
type Snapshot struct {
	Stories      []StoryView          `json:"stories"`
	Participants []domain.Participant `json:"participants"`
	Cards        []string             `json:"cards"`
}

type StoryView struct {
	Story domain.Story `json:"story"`
	Votes []VoteView   `json:"votes"`
}

type VoteView struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Value         string `json:"value"`
}

type Service interface {
	// EnsureVersion returns the room's version, seeding 1 when absent.
	// Concurrent first readers may both seed 1, which is harmless.
	EnsureVersion(ctx context.Context, roomID string) (int64, error)
	// BumpVersion advances the room's version and returns the new value.
	BumpVersion(ctx context.Context, roomID string) (int64, error)
	// GetSnapshot returns the room's snapshot and the version it belongs to.
	GetSnapshot(ctx context.Context, room *domain.Room) (*Snapshot, int64, error)
}

type storyLister interface {
	ListByRoom(ctx context.Context, roomID string) ([]domain.Story, error)
}

type participantLister interface {
	ListByRoom(ctx context.Context, roomID string) ([]domain.Participant, error)
}

type voteLister interface {
	ListByRoom(ctx context.Context, roomID string) ([]domain.Vote, error)
}

type service struct {
	cache        cache.Store
	stories      storyLister
	participants participantLister
	votes        voteLister
	ttl          time.Duration
}

type ServiceDeps struct {
	Cache        cache.Store
	Stories      storyLister
	Participants participantLister
	Votes        voteLister
	// SnapshotTTL overrides SnapshotTTL when non-zero.
	SnapshotTTL time.Duration
}

func NewService(deps ServiceDeps) Service {
	ttl := deps.SnapshotTTL
	if ttl == 0 {
		ttl = SnapshotTTL
	}
	return &service{
		cache:        deps.Cache,
		stories:      deps.Stories,
		participants: deps.Participants,
		votes:        deps.Votes,
		ttl:          ttl,
	}
}

func (s *service) EnsureVersion(ctx context.Context, roomID string) (int64, error) {
	key := VersionKey(roomID)
	v, ok, err := cache.GetInt(ctx, s.cache, key)
	if err != nil && !errors.Is(err, cache.ErrNotNumeric) {
		return 0, fmt.Errorf("read room version: %w", err)
	}
	if ok && err == nil {
		return v, nil
	}
	if err := cache.SetInt(ctx, s.cache, key, 1, 0); err != nil {
		return 0, fmt.Errorf("seed room version: %w", err)
	}
	return 1, nil
}

func (s *service) BumpVersion(ctx context.Context, roomID string) (int64, error) {
	v, err := s.cache.Incr(ctx, VersionKey(roomID), 0)
	if err != nil {
		return 0, fmt.Errorf("bump room version: %w", err)
	}
	return v, nil
}

func (s *service) GetSnapshot(ctx context.Context, room *domain.Room) (*Snapshot, int64, error) {
	version, err := s.EnsureVersion(ctx, room.RoomID)
	if err != nil {
		return nil, 0, err
	}
	key := SnapshotKey(room.RoomID, version)

	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		slog.Warn("snapshot cache read failed", "room_id", room.RoomID, "err", err)
	} else if ok {
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err == nil {
			return &snap, version, nil
		}
		slog.Warn("discarding undecodable snapshot", "key", key)
	}

	snap, err := s.compute(ctx, room)
	if err != nil {
		return nil, 0, err
	}
	if raw, err := json.Marshal(snap); err != nil {
		slog.Warn("snapshot encode failed", "room_id", room.RoomID, "err", err)
	} else if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		slog.Warn("snapshot cache write failed", "room_id", room.RoomID, "err", err)
	}
	return snap, version, nil
}

func (s *service) compute(ctx context.Context, room *domain.Room) (*Snapshot, error) {
	stories, err := s.stories.ListByRoom(ctx, room.RoomID)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	participants, err := s.participants.ListByRoom(ctx, room.RoomID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	votes, err := s.votes.ListByRoom(ctx, room.RoomID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}

	names := make(map[string]string, len(participants))
	for _, p := range participants {
		names[p.ParticipantID] = p.DisplayName
	}
	byStory := make(map[string][]VoteView)
	for _, v := range votes {
		byStory[v.StoryID] = append(byStory[v.StoryID], VoteView{
			ParticipantID: v.ParticipantID,
			DisplayName:   names[v.ParticipantID],
			Value:         v.Value,
		})
	}

	filtered := FilterStories(stories, room.Jira.ProjectKey)
	views := make([]StoryView, 0, len(filtered))
	for _, st := range filtered {
		views = append(views, StoryView{Story: st, Votes: byStory[st.StoryID]})
	}
	if participants == nil {
		participants = []domain.Participant{}
	}
	return &Snapshot{
		Stories:      views,
		Participants: participants,
		Cards:        domain.CardsFor(room.CardSet),
	}, nil
}

// FilterStories drops Epic stories and, when projectKey is set, stories
// imported from another project ("Issue: " notes without "Issue: KEY-").
// Stories without an issue back-reference are always kept.
func FilterStories(stories []domain.Story, projectKey string) []domain.Story {
	out := make([]domain.Story, 0, len(stories))
	for _, st := range stories {
		if st.IsEpic() {
			continue
		}
		if projectKey != "" &&
			strings.HasPrefix(st.Notes, domain.IssueNotesPrefix) &&
			!strings.HasPrefix(st.Notes, domain.IssueNotesPrefix+projectKey+"-") {
			continue
		}
		out = append(out, st)
	}
	return out
}

// StoryRow pairs a story with the viewer's own vote for rendering.
type StoryRow struct {
	StoryView
	CurrentVote string
}

// Project builds per-viewer rows from snap without modifying it.
// An empty participantID yields rows with no current vote.
func Project(snap *Snapshot, participantID string) []StoryRow {
	rows := make([]StoryRow, 0, len(snap.Stories))
	for _, sv := range snap.Stories {
		row := StoryRow{StoryView: sv}
		if participantID != "" {
			for _, v := range sv.Votes {
				if v.ParticipantID == participantID {
					row.CurrentVote = v.Value
					break
				}
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Find returns the row for storyID, if it is part of the snapshot.
func Find(rows []StoryRow, storyID string) (StoryRow, bool) {
	for _, r := range rows {
		if r.Story.StoryID == storyID {
			return r, true
		}
	}
	return StoryRow{}, false
}

// Package jiraimport creates stories from the next upcoming Jira sprint.
package jiraimport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/go-planning-poker/internal/application/room"
	"github.com/go-planning-poker/internal/domain"
	"github.com/go-planning-poker/internal/infrastructure/jira"
	"github.com/go-planning-poker/internal/pkg/id"
)

const maxTitleRunes = 200

var (
	ErrIncompleteSettings = errors.New("fill Jira settings first (base URL, email, API token, project key)")
	ErrNoBoard            = errors.New("could not determine a board; set Board ID in Jira settings")
)

// Result describes one import run. SprintFound is false when the board
// has no future sprint, in which case nothing was imported.
type Result struct {
	SprintFound bool
	Sprint      jira.Sprint
	Created     int
	Skipped     int
}

type Service interface {
	// ImportNextSprint imports the issues of the room's next sprint.
	// Stories created before a failure are kept.
	ImportNextSprint(ctx context.Context, r *domain.Room, actor room.Actor) (*Result, error)
}

type tracker interface {
	ListBoards(ctx context.Context, projectKey string) ([]jira.Board, error)
	ListFutureSprints(ctx context.Context, boardID int64) ([]jira.Sprint, error)
	ListSprintIssues(ctx context.Context, sprintID int64, projectKey string) ([]jira.Issue, error)
}

type roomStore interface {
	SetJira(ctx context.Context, roomID string, j domain.JiraSettings) error
}

type storyStore interface {
	Put(ctx context.Context, s *domain.Story) error
	ListByRoom(ctx context.Context, roomID string) ([]domain.Story, error)
}

type versionBumper interface {
	BumpVersion(ctx context.Context, roomID string) (int64, error)
}

type service struct {
	rooms      roomStore
	stories    storyStore
	versions   versionBumper
	newTracker func(domain.JiraSettings) tracker
	now        func() time.Time
}

type ServiceDeps struct {
	Rooms    roomStore
	Stories  storyStore
	Versions versionBumper
	// Timeout applies to board and sprint calls of the default client.
	Timeout time.Duration
	// NewTracker overrides the Jira client construction.
	NewTracker func(domain.JiraSettings) tracker
	Now        func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		rooms:      deps.Rooms,
		stories:    deps.Stories,
		versions:   deps.Versions,
		newTracker: deps.NewTracker,
		now:        deps.Now,
	}
	if s.newTracker == nil {
		timeout := deps.Timeout
		s.newTracker = func(j domain.JiraSettings) tracker { return jira.NewClient(j, timeout) }
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *service) ImportNextSprint(ctx context.Context, r *domain.Room, actor room.Actor) (*Result, error) {
	if !actor.IsFacilitator() {
		return nil, fmt.Errorf("facilitator only: %w", domain.ErrForbidden)
	}
	if !r.Jira.Complete() {
		return nil, ErrIncompleteSettings
	}
	client := s.newTracker(r.Jira)

	boardID, err := s.resolveBoard(ctx, client, r)
	if err != nil {
		return nil, err
	}
	sprints, err := client.ListFutureSprints(ctx, boardID)
	if err != nil {
		return nil, err
	}
	sprint, ok := jira.SelectNextSprint(sprints, boardID)
	if !ok {
		return &Result{}, nil
	}
	issues, err := client.ListSprintIssues(ctx, sprint.ID, r.Jira.ProjectKey)
	if err != nil {
		return nil, err
	}

	res := &Result{SprintFound: true, Sprint: sprint}
	err = s.createStories(ctx, r, issues, res)
	if res.Created > 0 {
		if _, berr := s.versions.BumpVersion(ctx, r.RoomID); berr != nil {
			slog.Error("room version bump failed", "room_id", r.RoomID, "err", berr)
		}
	}
	if err != nil {
		return res, err
	}
	slog.Info("jira sprint imported", "room_id", r.RoomID, "sprint", sprint.Name, "created", res.Created, "skipped", res.Skipped)
	return res, nil
}

// resolveBoard returns the configured board, or looks one up and stores it
// on the room so later imports skip the lookup.
func (s *service) resolveBoard(ctx context.Context, client tracker, r *domain.Room) (int64, error) {
	if r.Jira.BoardID != 0 {
		return r.Jira.BoardID, nil
	}
	boards, err := client.ListBoards(ctx, r.Jira.ProjectKey)
	if err != nil {
		return 0, err
	}
	board, ok := jira.PickBoard(boards, r.Jira.ProjectKey)
	if !ok {
		return 0, ErrNoBoard
	}
	r.Jira.BoardID = board.ID
	if err := s.rooms.SetJira(ctx, r.RoomID, r.Jira); err != nil {
		slog.Warn("could not remember jira board", "room_id", r.RoomID, "err", err)
	}
	return board.ID, nil
}

func (s *service) createStories(ctx context.Context, r *domain.Room, issues []jira.Issue, res *Result) error {
	existing, err := s.stories.ListByRoom(ctx, r.RoomID)
	if err != nil {
		return fmt.Errorf("list stories: %w", err)
	}
	titles := make(map[string]bool, len(existing))
	for _, st := range existing {
		titles[st.Title] = true
	}

	for _, is := range issues {
		if domain.IsEpicType(is.IssueType) {
			continue
		}
		title := StoryTitle(is.Key, is.Summary)
		if titles[title] {
			res.Skipped++
			continue
		}
		st := &domain.Story{
			StoryID:   id.New(),
			RoomID:    r.RoomID,
			Title:     title,
			Notes:     domain.IssueNotes(is.Key, is.BrowseURL),
			IssueType: is.IssueType,
			CreatedAt: s.now().UTC(),
		}
		if err := s.stories.Put(ctx, st); err != nil {
			return fmt.Errorf("create story %s: %w", is.Key, err)
		}
		titles[title] = true
		res.Created++
	}
	return nil
}

// StoryTitle is "KEY — summary" cut to 200 runes.
func StoryTitle(key, summary string) string {
	title := key + " — " + summary
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	return string([]rune(title)[:maxTitleRunes])
}

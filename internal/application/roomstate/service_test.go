package roomstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-planning-poker/internal/cache"
	"github.com/go-planning-poker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockStoryStore struct{ mock.Mock }

func (m *mockStoryStore) ListByRoom(ctx context.Context, roomID string) ([]domain.Story, error) {
	args := m.Called(ctx, roomID)
	s, _ := args.Get(0).([]domain.Story)
	return s, args.Error(1)
}

type mockParticipantStore struct{ mock.Mock }

func (m *mockParticipantStore) ListByRoom(ctx context.Context, roomID string) ([]domain.Participant, error) {
	args := m.Called(ctx, roomID)
	p, _ := args.Get(0).([]domain.Participant)
	return p, args.Error(1)
}

type mockVoteStore struct{ mock.Mock }

func (m *mockVoteStore) ListByRoom(ctx context.Context, roomID string) ([]domain.Vote, error) {
	args := m.Called(ctx, roomID)
	v, _ := args.Get(0).([]domain.Vote)
	return v, args.Error(1)
}

// --- helpers ---

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func testRoom() *domain.Room {
	return &domain.Room{RoomID: "r1", Code: "ABC123", Name: "Sprint", CardSet: "fibonacci"}
}

type fixture struct {
	cache        *cache.Memory
	stories      *mockStoryStore
	participants *mockParticipantStore
	votes        *mockVoteStore
	svc          Service
}

func newFixture() *fixture {
	f := &fixture{
		cache:        cache.NewMemory(),
		stories:      &mockStoryStore{},
		participants: &mockParticipantStore{},
		votes:        &mockVoteStore{},
	}
	f.svc = NewService(ServiceDeps{
		Cache:        f.cache,
		Stories:      f.stories,
		Participants: f.participants,
		Votes:        f.votes,
	})
	return f
}

func (f *fixture) expectLoad(stories []domain.Story, ps []domain.Participant, votes []domain.Vote) {
	f.stories.On("ListByRoom", mock.Anything, "r1").Return(stories, nil)
	f.participants.On("ListByRoom", mock.Anything, "r1").Return(ps, nil)
	f.votes.On("ListByRoom", mock.Anything, "r1").Return(votes, nil)
}

// --- version tests ---

func TestEnsureVersion_SeedsOne(t *testing.T) {
	f := newFixture()
	v, err := f.svc.EnsureVersion(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	n, ok, err := cache.GetInt(context.Background(), f.cache, VersionKey("r1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)
}

func TestEnsureVersion_NonNumericReseeds(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.cache.Set(ctx, VersionKey("r1"), []byte("garbage"), 0))

	v, err := f.svc.EnsureVersion(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestBumpVersion_StrictlyIncreases(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	prev, err := f.svc.EnsureVersion(ctx, "r1")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		v, err := f.svc.BumpVersion(ctx, "r1")
		require.NoError(t, err)
		assert.Greater(t, v, prev)
		prev = v
	}
	cur, err := f.svc.EnsureVersion(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, prev, cur)
}

func TestBumpVersion_WithoutSeedFallsBackToTwo(t *testing.T) {
	f := newFixture()
	v, err := f.svc.BumpVersion(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

// --- snapshot tests ---

func TestGetSnapshot_CachedWithinTTL(t *testing.T) {
	f := newFixture()
	f.expectLoad(
		[]domain.Story{{StoryID: "s1", RoomID: "r1", Title: "Login", CreatedAt: t0}},
		[]domain.Participant{{ParticipantID: "p1", RoomID: "r1", DisplayName: "Ana", JoinedAt: t0}},
		nil,
	)
	ctx := context.Background()

	first, v1, err := f.svc.GetSnapshot(ctx, testRoom())
	require.NoError(t, err)
	second, v2, err := f.svc.GetSnapshot(ctx, testRoom())
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, first, second)
	f.stories.AssertNumberOfCalls(t, "ListByRoom", 1)
	f.participants.AssertNumberOfCalls(t, "ListByRoom", 1)
}

func TestGetSnapshot_RecomputesAfterBump(t *testing.T) {
	f := newFixture()
	f.expectLoad([]domain.Story{{StoryID: "s1", RoomID: "r1", CreatedAt: t0}}, nil, nil)
	ctx := context.Background()

	_, v1, err := f.svc.GetSnapshot(ctx, testRoom())
	require.NoError(t, err)
	_, err = f.svc.BumpVersion(ctx, "r1")
	require.NoError(t, err)
	_, v2, err := f.svc.GetSnapshot(ctx, testRoom())
	require.NoError(t, err)

	assert.Greater(t, v2, v1)
	f.stories.AssertNumberOfCalls(t, "ListByRoom", 2)
}

func TestGetSnapshot_ExpiresAfterTTL(t *testing.T) {
	now := t0
	mem := cache.NewMemoryWithClock(func() time.Time { return now })
	stories, ps, votes := &mockStoryStore{}, &mockParticipantStore{}, &mockVoteStore{}
	stories.On("ListByRoom", mock.Anything, "r1").Return([]domain.Story{}, nil)
	ps.On("ListByRoom", mock.Anything, "r1").Return([]domain.Participant{}, nil)
	votes.On("ListByRoom", mock.Anything, "r1").Return([]domain.Vote{}, nil)
	svc := NewService(ServiceDeps{Cache: mem, Stories: stories, Participants: ps, Votes: votes})
	ctx := context.Background()

	_, _, err := svc.GetSnapshot(ctx, testRoom())
	require.NoError(t, err)
	now = now.Add(SnapshotTTL)
	_, v, err := svc.GetSnapshot(ctx, testRoom())
	require.NoError(t, err)

	assert.Equal(t, int64(1), v, "the version key does not expire")
	stories.AssertNumberOfCalls(t, "ListByRoom", 2)
}

func TestGetSnapshot_AttachesVotesAndCards(t *testing.T) {
	f := newFixture()
	f.expectLoad(
		[]domain.Story{{StoryID: "s1", RoomID: "r1"}, {StoryID: "s2", RoomID: "r1"}},
		[]domain.Participant{{ParticipantID: "p1", DisplayName: "Ana"}},
		[]domain.Vote{{StoryID: "s1", ParticipantID: "p1", Value: "5"}},
	)
	room := testRoom()
	room.CardSet = "unknown"

	snap, _, err := f.svc.GetSnapshot(context.Background(), room)
	require.NoError(t, err)

	require.Len(t, snap.Stories, 2)
	assert.Equal(t, []VoteView{{ParticipantID: "p1", DisplayName: "Ana", Value: "5"}}, snap.Stories[0].Votes)
	assert.Empty(t, snap.Stories[1].Votes)
	assert.Equal(t, domain.CardSets["fibonacci"], snap.Cards)
}

func TestGetSnapshot_StoreError(t *testing.T) {
	f := newFixture()
	f.stories.On("ListByRoom", mock.Anything, "r1").Return(nil, errors.New("dynamo down"))

	_, _, err := f.svc.GetSnapshot(context.Background(), testRoom())
	assert.ErrorContains(t, err, "list stories")
}

// --- filtering and projection ---

func TestFilterStories(t *testing.T) {
	stories := []domain.Story{
		{StoryID: "plain", Notes: "just notes"},
		{StoryID: "epic", IssueType: "ePiC"},
		{StoryID: "own", Notes: domain.IssueNotes("PKR-1", "https://x/browse/PKR-1")},
		{StoryID: "foreign", Notes: domain.IssueNotes("OPS-2", "https://x/browse/OPS-2")},
	}

	ids := func(ss []domain.Story) []string {
		var out []string
		for _, s := range ss {
			out = append(out, s.StoryID)
		}
		return out
	}

	assert.Equal(t, []string{"plain", "own"}, ids(FilterStories(stories, "PKR")))
	assert.Equal(t, []string{"plain", "own", "foreign"}, ids(FilterStories(stories, "")))
}

func TestProject_DoesNotMutateSnapshot(t *testing.T) {
	snap := &Snapshot{Stories: []StoryView{
		{Story: domain.Story{StoryID: "s1"}, Votes: []VoteView{{ParticipantID: "p1", Value: "8"}, {ParticipantID: "p2", Value: "3"}}},
		{Story: domain.Story{StoryID: "s2"}},
	}}

	rows := Project(snap, "p2")
	require.Len(t, rows, 2)
	assert.Equal(t, "3", rows[0].CurrentVote)
	assert.Equal(t, "", rows[1].CurrentVote)

	anon := Project(snap, "")
	assert.Equal(t, "", anon[0].CurrentVote)

	row, ok := Find(rows, "s2")
	assert.True(t, ok)
	assert.Equal(t, "s2", row.Story.StoryID)
	_, ok = Find(rows, "missing")
	assert.False(t, ok)
}

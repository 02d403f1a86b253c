package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-planning-poker/internal/application/jiraimport"
	"github.com/go-planning-poker/internal/application/orgaccess"
	"github.com/go-planning-poker/internal/application/room"
	"github.com/go-planning-poker/internal/application/roomstate"
	"github.com/go-planning-poker/internal/domain"
	"github.com/go-planning-poker/internal/transport/http/middleware"
	"github.com/stretchr/testify/mock"
)

// --- room service ---

type mockRoomSvc struct{ mock.Mock }

func roomResult(args mock.Arguments) (*domain.Room, error) {
	r, _ := args.Get(0).(*domain.Room)
	return r, args.Error(1)
}

func (m *mockRoomSvc) List(ctx context.Context) ([]domain.Room, error) {
	args := m.Called(ctx)
	rooms, _ := args.Get(0).([]domain.Room)
	return rooms, args.Error(1)
}

func (m *mockRoomSvc) Create(ctx context.Context, req domain.CreateRoomRequest) (*domain.Room, error) {
	return roomResult(m.Called(ctx, req))
}

func (m *mockRoomSvc) GetByCode(ctx context.Context, code string) (*domain.Room, error) {
	return roomResult(m.Called(ctx, code))
}

func (m *mockRoomSvc) Actor(ctx context.Context, sess *domain.Session, r *domain.Room) (room.Actor, error) {
	args := m.Called(ctx, sess, r)
	a, _ := args.Get(0).(room.Actor)
	return a, args.Error(1)
}

func (m *mockRoomSvc) View(ctx context.Context, r *domain.Room, actor room.Actor) (*room.View, error) {
	args := m.Called(ctx, r, actor)
	v, _ := args.Get(0).(*room.View)
	return v, args.Error(1)
}

func (m *mockRoomSvc) Join(ctx context.Context, sess *domain.Session, r *domain.Room, req domain.JoinRoomRequest) (*domain.Participant, error) {
	args := m.Called(ctx, sess, r, req)
	p, _ := args.Get(0).(*domain.Participant)
	return p, args.Error(1)
}

func (m *mockRoomSvc) Leave(ctx context.Context, sess *domain.Session, r *domain.Room) (bool, error) {
	args := m.Called(ctx, sess, r)
	return args.Bool(0), args.Error(1)
}

func (m *mockRoomSvc) Rename(ctx context.Context, sess *domain.Session, r *domain.Room, req domain.RenameRoomRequest) error {
	return m.Called(ctx, sess, r, req).Error(0)
}

func (m *mockRoomSvc) Delete(ctx context.Context, sess *domain.Session, r *domain.Room) error {
	return m.Called(ctx, sess, r).Error(0)
}

func (m *mockRoomSvc) SaveJira(ctx context.Context, sess *domain.Session, r *domain.Room, req domain.JiraSettingsRequest) error {
	return m.Called(ctx, sess, r, req).Error(0)
}

func (m *mockRoomSvc) Export(ctx context.Context, sess *domain.Session, r *domain.Room) (string, error) {
	args := m.Called(ctx, sess, r)
	return args.String(0), args.Error(1)
}

func (m *mockRoomSvc) CreateStory(ctx context.Context, sess *domain.Session, r *domain.Room, req domain.CreateStoryRequest) (*domain.Story, error) {
	args := m.Called(ctx, sess, r, req)
	st, _ := args.Get(0).(*domain.Story)
	return st, args.Error(1)
}

func (m *mockRoomSvc) CastVote(ctx context.Context, sess *domain.Session, r *domain.Room, storyID, value string) error {
	return m.Called(ctx, sess, r, storyID, value).Error(0)
}

func (m *mockRoomSvc) Reveal(ctx context.Context, sess *domain.Session, r *domain.Room, storyID string) error {
	return m.Called(ctx, sess, r, storyID).Error(0)
}

func (m *mockRoomSvc) Revote(ctx context.Context, sess *domain.Session, r *domain.Room, storyID string) error {
	return m.Called(ctx, sess, r, storyID).Error(0)
}

func (m *mockRoomSvc) SetConsensus(ctx context.Context, sess *domain.Session, r *domain.Room, storyID, value string) error {
	return m.Called(ctx, sess, r, storyID, value).Error(0)
}

func (m *mockRoomSvc) DeleteStory(ctx context.Context, sess *domain.Session, r *domain.Room, storyID string) error {
	return m.Called(ctx, sess, r, storyID).Error(0)
}

// --- org access ---

type mockAccess struct{ mock.Mock }

func (m *mockAccess) RequestCode(ctx context.Context, sess *domain.Session, email string) (*orgaccess.Issued, error) {
	args := m.Called(ctx, sess, email)
	i, _ := args.Get(0).(*orgaccess.Issued)
	return i, args.Error(1)
}

func (m *mockAccess) Resend(ctx context.Context, sess *domain.Session) (*orgaccess.Issued, error) {
	args := m.Called(ctx, sess)
	i, _ := args.Get(0).(*orgaccess.Issued)
	return i, args.Error(1)
}

func (m *mockAccess) Verify(ctx context.Context, sess *domain.Session, email, code string) (string, error) {
	args := m.Called(ctx, sess, email, code)
	return args.String(0), args.Error(1)
}

func (m *mockAccess) Pending(sess *domain.Session) *domain.PendingToken {
	return sess.Pending
}

func (m *mockAccess) Reset(sess *domain.Session) {
	sess.Pending = nil
}

func (m *mockAccess) SignInWithGoogle(ctx context.Context, sess *domain.Session, idToken string) (string, error) {
	args := m.Called(ctx, sess, idToken)
	return args.String(0), args.Error(1)
}

func (m *mockAccess) AllowedDomain() string   { return "example.com" }
func (m *mockAccess) TokenTTL() time.Duration { return 10 * time.Minute }

// stubSessions covers the only session.Service method handlers call.
type stubSessions struct{}

func (stubSessions) Load(context.Context, string) (*domain.Session, bool, error) {
	return &domain.Session{}, true, nil
}
func (stubSessions) Save(context.Context, *domain.Session) error   { return nil }
func (stubSessions) Token(*domain.Session) (string, error)         { return "", nil }
func (stubSessions) Expiry() time.Duration                         { return time.Hour }
func (stubSessions) Logout(sess *domain.Session) {
	sess.OrgEmail = ""
	sess.Pending = nil
	sess.Participants = nil
}

type stubChallenge struct{ ok bool }

func (s stubChallenge) SiteKey() string { return "" }
func (s stubChallenge) Verify(context.Context, string, string) bool {
	return s.ok
}

// --- jira import ---

type mockImporter struct{ mock.Mock }

func (m *mockImporter) ImportNextSprint(ctx context.Context, r *domain.Room, actor room.Actor) (*jiraimport.Result, error) {
	args := m.Called(ctx, r, actor)
	res, _ := args.Get(0).(*jiraimport.Result)
	return res, args.Error(1)
}

// --- helpers ---

func testRoom() *domain.Room {
	return &domain.Room{RoomID: "r1", Code: "ABC123", Name: "Sprint 42", CardSet: domain.DefaultCardSet}
}

func facilitator() room.Actor {
	return room.Actor{Participant: &domain.Participant{
		ParticipantID: "p1", RoomID: "r1", DisplayName: "Ana", IsFacilitator: true,
	}}
}

// testView builds a room view with one unrevealed story the actor voted on.
func testView(actor room.Actor) *room.View {
	snap := &roomstate.Snapshot{
		Stories: []roomstate.StoryView{{
			Story: domain.Story{StoryID: "s1", RoomID: "r1", Title: "Login page"},
			Votes: []roomstate.VoteView{{ParticipantID: "p1", DisplayName: "Ana", Value: "5"}},
		}},
		Participants: []domain.Participant{*facilitator().Participant},
		Cards:        domain.CardsFor(domain.DefaultCardSet),
	}
	return &room.View{
		Room:     testRoom(),
		Actor:    actor,
		Snapshot: snap,
		Version:  3,
		Rows:     roomstate.Project(snap, actor.ParticipantID()),
	}
}

// request builds a request carrying sess, URL params and an optional form.
func request(method, target string, sess *domain.Session, params map[string]string, form url.Values) *http.Request {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = context.WithValue(ctx, middleware.SessionKey, sess)
	return req.WithContext(ctx)
}

func htmx(req *http.Request) *http.Request {
	req.Header.Set("HX-Request", "true")
	return req
}

func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

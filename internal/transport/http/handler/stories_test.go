package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/go-planning-poker/internal/application/room"
	"github.com/go-planning-poker/internal/domain"
	"github.com/go-planning-poker/internal/pkg/validate"
	"github.com/go-planning-poker/internal/transport/http/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newStoryHandler(svc *mockRoomSvc) *StoryHandler {
	return NewStoryHandler(svc, view.MustNew())
}

func expectView(svc *mockRoomSvc, rm *domain.Room, actor room.Actor) {
	svc.On("Actor", mock.Anything, mock.Anything, rm).Return(actor, nil)
	svc.On("View", mock.Anything, rm, actor).Return(testView(actor), nil)
}

// storyRoom registers the room lookup every story route starts with.
func storyRoom(svc *mockRoomSvc) *domain.Room {
	rm := testRoom()
	svc.On("GetByCode", mock.Anything, "ABC123").Return(rm, nil)
	return rm
}

func storyRequest(action, storyID string, sess *domain.Session, form url.Values) *http.Request {
	target := "/room/ABC123/story/" + storyID + "/" + action
	return request(http.MethodPost, target, sess, map[string]string{"code": "ABC123", "id": storyID}, form)
}

func TestVote_PlainPostRedirects(t *testing.T) {
	svc := new(mockRoomSvc)
	rm := storyRoom(svc)
	svc.On("CastVote", mock.Anything, mock.Anything, rm, "s1", "8").Return(nil)

	rr := serve(newStoryHandler(svc).Vote, storyRequest("vote", "s1", &domain.Session{}, url.Values{"value": {"8"}}))

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/room/ABC123", rr.Header().Get("Location"))
}

func TestVote_HTMXReturnsStoryFragment(t *testing.T) {
	svc := new(mockRoomSvc)
	rm := storyRoom(svc)
	svc.On("CastVote", mock.Anything, mock.Anything, rm, "s1", "5").Return(nil)
	expectView(svc, rm, facilitator())

	rr := serve(newStoryHandler(svc).Vote, htmx(storyRequest("vote", "s1", &domain.Session{}, url.Values{"value": {"5"}})))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `id="story-s1"`)
	assert.Contains(t, body, `class="selected"`)
	assert.NotContains(t, body, `id="stories"`)
}

func TestVote_UnknownRoom(t *testing.T) {
	svc := new(mockRoomSvc)
	svc.On("GetByCode", mock.Anything, "ABC123").Return(nil, domain.ErrNotFound)

	rr := serve(newStoryHandler(svc).Vote, htmx(storyRequest("vote", "s1", &domain.Session{}, url.Values{"value": {"5"}})))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	svc.AssertNotCalled(t, "CastVote", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestVote_NotJoinedGoesToJoin(t *testing.T) {
	svc := new(mockRoomSvc)
	rm := storyRoom(svc)
	svc.On("CastVote", mock.Anything, mock.Anything, rm, "s1", "5").Return(domain.ErrNotJoined)

	rr := serve(newStoryHandler(svc).Vote, storyRequest("vote", "s1", &domain.Session{}, url.Values{"value": {"5"}}))
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/room/ABC123/join", rr.Header().Get("Location"))

	rr = serve(newStoryHandler(svc).Vote, htmx(storyRequest("vote", "s1", &domain.Session{}, url.Values{"value": {"5"}})))
	assert.Equal(t, "/room/ABC123/join", rr.Header().Get("HX-Redirect"))
}

func TestVote_MissingValue(t *testing.T) {
	svc := new(mockRoomSvc)
	rm := storyRoom(svc)
	svc.On("CastVote", mock.Anything, mock.Anything, rm, "s1", "").Return(fmt.Errorf("invalid vote: %w", domain.ErrBadRequest))
	sess := &domain.Session{}

	rr := serve(newStoryHandler(svc).Vote, storyRequest("vote", "s1", sess, url.Values{}))
	assert.Equal(t, http.StatusFound, rr.Code)
	require.Len(t, sess.Flashes, 1)
	assert.Equal(t, domain.FlashError, sess.Flashes[0].Level)

	rr = serve(newStoryHandler(svc).Vote, htmx(storyRequest("vote", "s1", sess, url.Values{})))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReveal_NonFacilitatorForbidden(t *testing.T) {
	svc := new(mockRoomSvc)
	rm := storyRoom(svc)
	svc.On("Reveal", mock.Anything, mock.Anything, rm, "s1").Return(fmt.Errorf("facilitator only: %w", domain.ErrForbidden))

	rr := serve(newStoryHandler(svc).Reveal, htmx(storyRequest("reveal", "s1", &domain.Session{}, url.Values{})))

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "Facilitator only")
}

func TestConsensus_PassesValue(t *testing.T) {
	svc := new(mockRoomSvc)
	rm := storyRoom(svc)
	svc.On("SetConsensus", mock.Anything, mock.Anything, rm, "s1", "8").Return(nil)
	expectView(svc, rm, facilitator())

	rr := serve(newStoryHandler(svc).Consensus, htmx(storyRequest("consensus", "s1", &domain.Session{}, url.Values{"consensus": {"8"}})))

	assert.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}

func TestStoryAction_FilteredStoryRemoved(t *testing.T) {
	svc := new(mockRoomSvc)
	rm := storyRoom(svc)
	svc.On("Revote", mock.Anything, mock.Anything, rm, "gone").Return(nil)
	expectView(svc, rm, facilitator())

	rr := serve(newStoryHandler(svc).Revote, htmx(storyRequest("revote", "gone", &domain.Session{}, url.Values{})))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Body.String())
}

func TestDeleteStory_HTMXReturnsList(t *testing.T) {
	svc := new(mockRoomSvc)
	rm := storyRoom(svc)
	svc.On("DeleteStory", mock.Anything, mock.Anything, rm, "s1").Return(nil)
	expectView(svc, rm, facilitator())

	rr := serve(newStoryHandler(svc).Delete, htmx(storyRequest("delete", "s1", &domain.Session{}, url.Values{})))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `id="stories"`)
}

func TestCreateStory(t *testing.T) {
	svc := new(mockRoomSvc)
	rm := testRoom()
	sess := &domain.Session{}
	svc.On("GetByCode", mock.Anything, "ABC123").Return(rm, nil)
	svc.On("CreateStory", mock.Anything, sess, rm, domain.CreateStoryRequest{Title: "Login page", Notes: "SSO"}).
		Return(&domain.Story{StoryID: "s1"}, nil)
	form := url.Values{"title": {"Login page"}, "notes": {"SSO"}}

	rr := serve(newStoryHandler(svc).Create, request(http.MethodPost, "/room/ABC123/story/new", sess, map[string]string{"code": "ABC123"}, form))

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/room/ABC123", rr.Header().Get("Location"))
}

func TestCreateStory_Invalid(t *testing.T) {
	svc := new(mockRoomSvc)
	rm := testRoom()
	sess := &domain.Session{}
	svc.On("GetByCode", mock.Anything, "ABC123").Return(rm, nil)
	svc.On("CreateStory", mock.Anything, sess, rm, mock.Anything).
		Return(nil, fmt.Errorf("%w: %w", domain.ErrValidation, validate.FieldErrors{"Title": "This field is required."}))

	rr := serve(newStoryHandler(svc).Create, request(http.MethodPost, "/room/ABC123/story/new", sess, map[string]string{"code": "ABC123"}, url.Values{}))

	assert.Equal(t, http.StatusFound, rr.Code)
	require.Len(t, sess.Flashes, 1)
	assert.Equal(t, "This field is required.", sess.Flashes[0].Message)
}

func TestCreateStory_NotJoined(t *testing.T) {
	svc := new(mockRoomSvc)
	rm := testRoom()
	svc.On("GetByCode", mock.Anything, "ABC123").Return(rm, nil)
	svc.On("CreateStory", mock.Anything, mock.Anything, rm, mock.Anything).Return(nil, domain.ErrNotJoined)

	rr := serve(newStoryHandler(svc).Create, request(http.MethodPost, "/room/ABC123/story/new", &domain.Session{}, map[string]string{"code": "ABC123"}, url.Values{"title": {"x"}}))

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/room/ABC123/join", rr.Header().Get("Location"))
}

package handler

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/go-planning-poker/internal/application/jiraimport"
	"github.com/go-planning-poker/internal/application/room"
	"github.com/go-planning-poker/internal/domain"
	"github.com/go-planning-poker/internal/infrastructure/jira"
	"github.com/go-planning-poker/internal/transport/http/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func jiraRoom() *domain.Room {
	rm := testRoom()
	rm.Jira = domain.JiraSettings{
		BaseURL: "https://acme.atlassian.net", Email: "bot@acme.io", Token: "secret", ProjectKey: "POK", BoardID: 7,
	}
	return rm
}

func newJiraFixture(actor room.Actor) (*JiraHandler, *mockRoomSvc, *mockImporter, *domain.Room) {
	svc := new(mockRoomSvc)
	imp := new(mockImporter)
	rm := jiraRoom()
	svc.On("GetByCode", mock.Anything, "ABC123").Return(rm, nil)
	svc.On("Actor", mock.Anything, mock.Anything, rm).Return(actor, nil)
	return NewJiraHandler(svc, imp, view.MustNew()), svc, imp, rm
}

var codeParam = map[string]string{"code": "ABC123"}

func TestJiraSettingsForm_FacilitatorOnly(t *testing.T) {
	h, _, _, _ := newJiraFixture(room.Actor{})

	rr := serve(h.SettingsForm, request(http.MethodGet, "/room/ABC123/jira/settings", &domain.Session{}, codeParam, nil))

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestJiraSettingsForm_NeverEchoesToken(t *testing.T) {
	h, _, _, _ := newJiraFixture(facilitator())

	rr := serve(h.SettingsForm, request(http.MethodGet, "/room/ABC123/jira/settings", &domain.Session{}, codeParam, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "https://acme.atlassian.net")
	assert.Contains(t, body, `value="7"`)
	assert.NotContains(t, body, "secret")
}

func TestJiraSaveSettings(t *testing.T) {
	h, svc, _, rm := newJiraFixture(facilitator())
	sess := &domain.Session{}
	svc.On("SaveJira", mock.Anything, sess, rm, domain.JiraSettingsRequest{
		BaseURL: "https://acme.atlassian.net/", Email: "bot@acme.io", ProjectKey: "pok", BoardID: 12,
	}).Return(nil)
	form := url.Values{
		"base_url": {"https://acme.atlassian.net/"}, "email": {"bot@acme.io"},
		"token": {""}, "project_key": {"pok"}, "board_id": {"12"},
	}

	rr := serve(h.SaveSettings, request(http.MethodPost, "/room/ABC123/jira/settings", sess, codeParam, form))

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/room/ABC123", rr.Header().Get("Location"))
	assert.Equal(t, []string{"Jira settings saved."}, messages(sess))
	svc.AssertExpectations(t)
}

func TestJiraSaveSettings_BadBoardID(t *testing.T) {
	h, svc, _, _ := newJiraFixture(facilitator())

	rr := serve(h.SaveSettings, request(http.MethodPost, "/room/ABC123/jira/settings", &domain.Session{}, codeParam, url.Values{"board_id": {"abc"}}))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Enter a whole number.")
	svc.AssertNotCalled(t, "SaveJira", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestJiraImport_Outcomes(t *testing.T) {
	cases := []struct {
		name  string
		res   *jiraimport.Result
		err   error
		level string
		msg   string
	}{
		{"created", &jiraimport.Result{SprintFound: true, Sprint: jira.Sprint{Name: "S1"}, Created: 3}, nil,
			domain.FlashSuccess, "Imported 3 issue(s) for POK."},
		{"nothing new", &jiraimport.Result{SprintFound: true, Skipped: 2}, nil,
			domain.FlashInfo, "No new POK issues to import."},
		{"no sprint", &jiraimport.Result{}, nil,
			domain.FlashInfo, "No upcoming sprint found."},
		{"incomplete", nil, jiraimport.ErrIncompleteSettings,
			domain.FlashError, "Fill Jira settings first (base URL, email, API token, project key)."},
		{"upstream", nil, domain.NewExternalServiceError("Jira", 401, []byte("Unauthorized")),
			domain.FlashError, "Jira API error: 401 Unauthorized"},
		{"other", nil, errors.New("dial tcp: timeout"),
			domain.FlashError, "Import failed: dial tcp: timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _, imp, rm := newJiraFixture(facilitator())
			imp.On("ImportNextSprint", mock.Anything, rm, facilitator()).Return(tc.res, tc.err)
			sess := &domain.Session{}

			rr := serve(h.Import, request(http.MethodPost, "/room/ABC123/jira/import-next-sprint", sess, codeParam, url.Values{}))

			assert.Equal(t, http.StatusFound, rr.Code)
			assert.Equal(t, "/room/ABC123", rr.Header().Get("Location"))
			require.Len(t, sess.Flashes, 1)
			assert.Equal(t, tc.level, sess.Flashes[0].Level)
			assert.Equal(t, tc.msg, sess.Flashes[0].Message)
		})
	}
}

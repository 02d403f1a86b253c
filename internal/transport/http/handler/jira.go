package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-planning-poker/internal/application/jiraimport"
	"github.com/go-planning-poker/internal/application/room"
	"github.com/go-planning-poker/internal/domain"
	"github.com/go-planning-poker/internal/transport/http/middleware"
	"github.com/go-planning-poker/internal/transport/http/view"
)

type JiraHandler struct {
	rooms    room.Service
	importer jiraimport.Service
	view     *view.Renderer
}

func NewJiraHandler(rooms room.Service, importer jiraimport.Service, v *view.Renderer) *JiraHandler {
	return &JiraHandler{rooms: rooms, importer: importer, view: v}
}

type jiraSettingsBody struct {
	Room     *domain.Room
	Form     *view.Form
	HasToken bool
}

// facilitatorRoom loads the {code} room and checks the caller runs it.
func (h *JiraHandler) facilitatorRoom(w http.ResponseWriter, r *http.Request) (*domain.Room, room.Actor, bool) {
	rm, err := h.rooms.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpError(w, r, err)
		return nil, room.Actor{}, false
	}
	actor, err := h.rooms.Actor(r.Context(), middleware.SessionFromContext(r.Context()), rm)
	if err != nil {
		httpError(w, r, err)
		return nil, room.Actor{}, false
	}
	if !actor.IsFacilitator() {
		httpError(w, r, fmt.Errorf("facilitator only: %w", domain.ErrForbidden))
		return nil, room.Actor{}, false
	}
	return rm, actor, true
}

func (h *JiraHandler) renderSettings(w http.ResponseWriter, r *http.Request, status int, rm *domain.Room, form *view.Form) {
	page(h.view, w, r, status, "jira_settings", "Jira settings", jiraSettingsBody{
		Room:     rm,
		Form:     form,
		HasToken: rm.Jira.Token != "",
	})
}

func (h *JiraHandler) SettingsForm(w http.ResponseWriter, r *http.Request) {
	rm, _, ok := h.facilitatorRoom(w, r)
	if !ok {
		return
	}
	form := view.NewForm()
	form.Values["base_url"] = rm.Jira.BaseURL
	form.Values["email"] = rm.Jira.Email
	form.Values["project_key"] = rm.Jira.ProjectKey
	if rm.Jira.BoardID > 0 {
		form.Values["board_id"] = strconv.FormatInt(rm.Jira.BoardID, 10)
	}
	h.renderSettings(w, r, http.StatusOK, rm, form)
}

func (h *JiraHandler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	rm, _, ok := h.facilitatorRoom(w, r)
	if !ok {
		return
	}
	form := formFrom(r, "base_url", "email", "project_key", "board_id")
	var boardID int64
	if raw := strings.TrimSpace(form.Get("board_id")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			form.Errors["BoardID"] = "Enter a whole number."
			h.renderSettings(w, r, http.StatusBadRequest, rm, form)
			return
		}
		boardID = n
	}
	err := h.rooms.SaveJira(r.Context(), middleware.SessionFromContext(r.Context()), rm, domain.JiraSettingsRequest{
		BaseURL:    form.Get("base_url"),
		Email:      form.Get("email"),
		Token:      r.PostFormValue("token"),
		ProjectKey: form.Get("project_key"),
		BoardID:    boardID,
	})
	if err != nil {
		if applyError(form, err) {
			h.renderSettings(w, r, http.StatusBadRequest, rm, form)
			return
		}
		httpError(w, r, err)
		return
	}
	flash(r, domain.FlashSuccess, "Jira settings saved.")
	redirect(w, r, roomURL(rm.Code))
}

// Import pulls the next sprint's issues into the room. Every outcome is
// reported as a flash on the room page.
func (h *JiraHandler) Import(w http.ResponseWriter, r *http.Request) {
	rm, actor, ok := h.facilitatorRoom(w, r)
	if !ok {
		return
	}
	res, err := h.importer.ImportNextSprint(r.Context(), rm, actor)
	var upstream *domain.ExternalServiceError
	switch {
	case errors.Is(err, jiraimport.ErrIncompleteSettings), errors.Is(err, jiraimport.ErrNoBoard):
		flash(r, domain.FlashError, sentence(err.Error()))
	case errors.As(err, &upstream):
		flash(r, domain.FlashError, upstream.Error())
	case err != nil:
		flash(r, domain.FlashError, "Import failed: "+err.Error())
	case !res.SprintFound:
		flash(r, domain.FlashInfo, "No upcoming sprint found.")
	case res.Created > 0:
		flash(r, domain.FlashSuccess, fmt.Sprintf("Imported %d issue(s) for %s.", res.Created, rm.Jira.ProjectKey))
	default:
		flash(r, domain.FlashInfo, fmt.Sprintf("No new %s issues to import.", rm.Jira.ProjectKey))
	}
	redirect(w, r, roomURL(rm.Code))
}

func sentence(msg string) string {
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}

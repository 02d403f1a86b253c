package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-planning-poker/internal/application/room"
	"github.com/go-planning-poker/internal/application/roomstate"
	"github.com/go-planning-poker/internal/domain"
	"github.com/go-planning-poker/internal/transport/http/middleware"
	"github.com/go-planning-poker/internal/transport/http/view"
)

// StoryHandler serves story creation and the per-story voting actions.
// HTMX requests get the changed fragment back; plain form posts are
// redirected to the room.
type StoryHandler struct {
	svc  room.Service
	view *view.Renderer
}

func NewStoryHandler(svc room.Service, v *view.Renderer) *StoryHandler {
	return &StoryHandler{svc: svc, view: v}
}

type storyAction func(ctx context.Context, sess *domain.Session, rm *domain.Room, storyID string) error

func (h *StoryHandler) loadRoom(w http.ResponseWriter, r *http.Request) *domain.Room {
	rm, err := h.svc.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpError(w, r, err)
		return nil
	}
	return rm
}

func (h *StoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	rm := h.loadRoom(w, r)
	if rm == nil {
		return
	}
	_, err := h.svc.CreateStory(r.Context(), middleware.SessionFromContext(r.Context()), rm, domain.CreateStoryRequest{
		Title: r.PostFormValue("title"),
		Notes: r.PostFormValue("notes"),
	})
	switch {
	case errors.Is(err, domain.ErrNotJoined):
		h.toJoin(w, r, rm.Code)
		return
	case errors.Is(err, domain.ErrValidation):
		if isHTMX(r) {
			http.Error(w, "Story title is required (max 200 characters).", http.StatusBadRequest)
			return
		}
		flashFieldErrors(r, err)
	case err != nil:
		httpError(w, r, err)
		return
	}
	h.respond(w, r, rm, view.FragmentStories, "")
}

func (h *StoryHandler) Vote(w http.ResponseWriter, r *http.Request) {
	rm := h.loadRoom(w, r)
	if rm == nil {
		return
	}
	storyID := chi.URLParam(r, "id")
	err := h.svc.CastVote(r.Context(), middleware.SessionFromContext(r.Context()), rm, storyID, r.PostFormValue("value"))
	switch {
	case errors.Is(err, domain.ErrNotJoined):
		h.toJoin(w, r, rm.Code)
		return
	case errors.Is(err, domain.ErrBadRequest) && !isHTMX(r):
		flash(r, domain.FlashError, "Pick a card to vote.")
		redirect(w, r, roomURL(rm.Code))
		return
	case err != nil:
		httpError(w, r, err)
		return
	}
	h.respond(w, r, rm, view.FragmentStory, storyID)
}

func (h *StoryHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	h.storyAction(w, r, h.svc.Reveal)
}

func (h *StoryHandler) Revote(w http.ResponseWriter, r *http.Request) {
	h.storyAction(w, r, h.svc.Revote)
}

func (h *StoryHandler) Consensus(w http.ResponseWriter, r *http.Request) {
	value := r.PostFormValue("consensus")
	h.storyAction(w, r, func(ctx context.Context, sess *domain.Session, rm *domain.Room, storyID string) error {
		return h.svc.SetConsensus(ctx, sess, rm, storyID, value)
	})
}

func (h *StoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rm := h.loadRoom(w, r)
	if rm == nil {
		return
	}
	if err := h.svc.DeleteStory(r.Context(), middleware.SessionFromContext(r.Context()), rm, chi.URLParam(r, "id")); err != nil {
		httpError(w, r, err)
		return
	}
	h.respond(w, r, rm, view.FragmentStories, "")
}

func (h *StoryHandler) storyAction(w http.ResponseWriter, r *http.Request, action storyAction) {
	rm := h.loadRoom(w, r)
	if rm == nil {
		return
	}
	storyID := chi.URLParam(r, "id")
	if err := action(r.Context(), middleware.SessionFromContext(r.Context()), rm, storyID); err != nil {
		httpError(w, r, err)
		return
	}
	h.respond(w, r, rm, view.FragmentStory, storyID)
}

func (h *StoryHandler) toJoin(w http.ResponseWriter, r *http.Request, code string) {
	target := roomURL(code) + "/join"
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusOK)
		return
	}
	flash(r, domain.FlashInfo, "Join the room first.")
	redirect(w, r, target)
}

// respond renders the updated fragment for HTMX callers.
func (h *StoryHandler) respond(w http.ResponseWriter, r *http.Request, rm *domain.Room, name, storyID string) {
	if !isHTMX(r) {
		redirect(w, r, roomURL(rm.Code))
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	actor, err := h.svc.Actor(r.Context(), sess, rm)
	if err != nil {
		httpError(w, r, err)
		return
	}
	v, err := h.svc.View(r.Context(), rm, actor)
	if err != nil {
		httpError(w, r, err)
		return
	}
	data := view.NewRoomData(v)
	if name != view.FragmentStory {
		renderFragment(h.view, w, r, name, data)
		return
	}
	row, ok := roomstate.Find(v.Rows, storyID)
	if !ok {
		// Filtered out of the room view; swapping in nothing removes it.
		writeHTML(w, nil)
		return
	}
	renderFragment(h.view, w, r, view.FragmentStory, data.Story(row))
}

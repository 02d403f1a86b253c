package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-planning-poker/internal/application/fragment"
	"github.com/go-planning-poker/internal/application/room"
	"github.com/go-planning-poker/internal/domain"
	"github.com/go-planning-poker/internal/transport/http/middleware"
	"github.com/go-planning-poker/internal/transport/http/view"
)

type RoomHandler struct {
	svc           room.Service
	fragments     *fragment.Cache
	view          *view.Renderer
	exportEnabled bool
}

func NewRoomHandler(svc room.Service, fragments *fragment.Cache, v *view.Renderer, exportEnabled bool) *RoomHandler {
	return &RoomHandler{svc: svc, fragments: fragments, view: v, exportEnabled: exportEnabled}
}

type roomListBody struct {
	Rooms []domain.Room
	Form  *view.Form
}

type joinBody struct {
	Room *domain.Room
	Form *view.Form
}

type roomDetailBody struct {
	Data          view.RoomData
	ExportEnabled bool
}

// loadRoom resolves the {code} URL parameter. It writes the error response
// and returns nil when the room cannot be loaded.
func (h *RoomHandler) loadRoom(w http.ResponseWriter, r *http.Request) *domain.Room {
	rm, err := h.svc.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpError(w, r, err)
		return nil
	}
	return rm
}

// loadView resolves the room and the caller's view of it.
func (h *RoomHandler) loadView(w http.ResponseWriter, r *http.Request) *room.View {
	rm := h.loadRoom(w, r)
	if rm == nil {
		return nil
	}
	sess := middleware.SessionFromContext(r.Context())
	actor, err := h.svc.Actor(r.Context(), sess, rm)
	if err != nil {
		httpError(w, r, err)
		return nil
	}
	v, err := h.svc.View(r.Context(), rm, actor)
	if err != nil {
		httpError(w, r, err)
		return nil
	}
	return v
}

func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	form := view.NewForm()
	form.Values["card_set"] = domain.DefaultCardSet
	h.renderList(w, r, http.StatusOK, form)
}

func (h *RoomHandler) renderList(w http.ResponseWriter, r *http.Request, status int, form *view.Form) {
	rooms, err := h.svc.List(r.Context())
	if err != nil {
		httpError(w, r, err)
		return
	}
	page(h.view, w, r, status, "room_list", "Rooms", roomListBody{Rooms: rooms, Form: form})
}

// NewForm has no page of its own; the form lives on the room list.
func (h *RoomHandler) NewForm(w http.ResponseWriter, r *http.Request) {
	flash(r, domain.FlashInfo, "Use the form below to create a room.")
	redirect(w, r, "/")
}

func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	form := formFrom(r, "name", "card_set")
	rm, err := h.svc.Create(r.Context(), domain.CreateRoomRequest{
		Name:    form.Get("name"),
		CardSet: form.Get("card_set"),
	})
	if err != nil {
		if applyError(form, err) {
			h.renderList(w, r, http.StatusBadRequest, form)
			return
		}
		httpError(w, r, err)
		return
	}
	flash(r, domain.FlashSuccess, "Room created.")
	redirect(w, r, roomURL(rm.Code))
}

func (h *RoomHandler) Detail(w http.ResponseWriter, r *http.Request) {
	v := h.loadView(w, r)
	if v == nil {
		return
	}
	page(h.view, w, r, http.StatusOK, "room_detail", v.Room.Name, roomDetailBody{
		Data:          view.NewRoomData(v),
		ExportEnabled: h.exportEnabled,
	})
}

func (h *RoomHandler) JoinForm(w http.ResponseWriter, r *http.Request) {
	rm := h.loadRoom(w, r)
	if rm == nil {
		return
	}
	actor, err := h.svc.Actor(r.Context(), middleware.SessionFromContext(r.Context()), rm)
	if err != nil {
		httpError(w, r, err)
		return
	}
	if actor.Participant != nil {
		redirect(w, r, roomURL(rm.Code))
		return
	}
	page(h.view, w, r, http.StatusOK, "join_room", "Join "+rm.Name, joinBody{Room: rm, Form: view.NewForm()})
}

func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	rm := h.loadRoom(w, r)
	if rm == nil {
		return
	}
	form := formFrom(r, "display_name", "is_facilitator")
	_, err := h.svc.Join(r.Context(), middleware.SessionFromContext(r.Context()), rm, domain.JoinRoomRequest{
		DisplayName:   form.Get("display_name"),
		IsFacilitator: checked(form.Get("is_facilitator")),
	})
	if err != nil {
		if applyError(form, err) {
			page(h.view, w, r, http.StatusBadRequest, "join_room", "Join "+rm.Name, joinBody{Room: rm, Form: form})
			return
		}
		httpError(w, r, err)
		return
	}
	redirect(w, r, roomURL(rm.Code))
}

func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	rm := h.loadRoom(w, r)
	if rm == nil {
		return
	}
	left, err := h.svc.Leave(r.Context(), middleware.SessionFromContext(r.Context()), rm)
	if err != nil {
		httpError(w, r, err)
		return
	}
	if left {
		flash(r, domain.FlashInfo, "You have left the room.")
	}
	redirect(w, r, roomURL(rm.Code))
}

func (h *RoomHandler) Rename(w http.ResponseWriter, r *http.Request) {
	rm := h.loadRoom(w, r)
	if rm == nil {
		return
	}
	err := h.svc.Rename(r.Context(), middleware.SessionFromContext(r.Context()), rm, domain.RenameRoomRequest{
		Name: r.PostFormValue("name"),
	})
	switch {
	case err == nil:
		flash(r, domain.FlashSuccess, "Room renamed.")
	case errors.Is(err, domain.ErrValidation):
		flashFieldErrors(r, err)
	default:
		httpError(w, r, err)
		return
	}
	redirect(w, r, roomURL(rm.Code))
}

func (h *RoomHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rm := h.loadRoom(w, r)
	if rm == nil {
		return
	}
	if err := h.svc.Delete(r.Context(), middleware.SessionFromContext(r.Context()), rm); err != nil {
		httpError(w, r, err)
		return
	}
	flash(r, domain.FlashSuccess, "Room deleted.")
	redirect(w, r, "/")
}

// Export uploads the estimates and sends the browser to the download link.
func (h *RoomHandler) Export(w http.ResponseWriter, r *http.Request) {
	rm := h.loadRoom(w, r)
	if rm == nil {
		return
	}
	url, err := h.svc.Export(r.Context(), middleware.SessionFromContext(r.Context()), rm)
	if err != nil {
		httpError(w, r, err)
		return
	}
	redirect(w, r, url)
}

func (h *RoomHandler) PollStories(w http.ResponseWriter, r *http.Request) {
	h.poll(w, r, fragment.KindStories, view.FragmentStories)
}

func (h *RoomHandler) PollSidebar(w http.ResponseWriter, r *http.Request) {
	h.poll(w, r, fragment.KindSidebar, view.FragmentSidebar)
}

// poll serves a fragment from the per-version cache so repeated polls of
// an unchanged room skip rendering.
func (h *RoomHandler) poll(w http.ResponseWriter, r *http.Request, kind, name string) {
	v := h.loadView(w, r)
	if v == nil {
		return
	}
	key := fragment.Key(v.Room.RoomID, kind, v.Version, v.Actor.ParticipantID())
	html, err := h.fragments.GetOrRender(r.Context(), key, fragment.TTL, func() ([]byte, error) {
		return h.view.Fragment(name, view.NewRoomData(v))
	})
	if err != nil {
		slog.Error("render fragment", "key", key, "err", err)
		httpError(w, r, err)
		return
	}
	writeHTML(w, html)
}

func checked(v string) bool {
	switch v {
	case "on", "1", "true", "yes":
		return true
	}
	return false
}

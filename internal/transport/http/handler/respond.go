package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-planning-poker/internal/domain"
	"github.com/go-planning-poker/internal/pkg/validate"
	"github.com/go-planning-poker/internal/transport/http/middleware"
	"github.com/go-planning-poker/internal/transport/http/view"
)

// httpStatus maps domain errors to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// httpError writes err as a plain-text response. Server errors are logged
// and never shown to the client.
func httpError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = http.StatusText(status)
	case http.StatusForbidden:
		msg = publicMessage(err, domain.ErrForbidden)
	case http.StatusNotFound:
		msg = "Not found"
	}
	http.Error(w, msg, status)
}

// publicMessage strips the sentinel suffix of a wrapped error, turning
// "facilitator only: forbidden" into "Facilitator only".
func publicMessage(err, sentinel error) string {
	msg := strings.TrimSuffix(err.Error(), ": "+sentinel.Error())
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") != ""
}

func redirect(w http.ResponseWriter, r *http.Request, location string) {
	http.Redirect(w, r, location, http.StatusFound)
}

func roomURL(code string) string { return "/room/" + code }

func flash(r *http.Request, level, msg string) {
	middleware.SessionFromContext(r.Context()).AddFlash(level, msg)
}

// page renders a full page. Queued flashes are consumed here.
func page(v *view.Renderer, w http.ResponseWriter, r *http.Request, status int, name, title string, body any) {
	sess := middleware.SessionFromContext(r.Context())
	v.Page(w, status, name, view.Page{
		Title:    title,
		Flashes:  sess.PopFlashes(),
		OrgEmail: sess.OrgEmail,
		Body:     body,
	})
}

func renderFragment(v *view.Renderer, w http.ResponseWriter, r *http.Request, name string, data any) {
	html, err := v.Fragment(name, data)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeHTML(w, html)
}

func writeHTML(w http.ResponseWriter, html []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(html)
}

// formFrom copies the named form values into a view.Form.
func formFrom(r *http.Request, names ...string) *view.Form {
	f := view.NewForm()
	for _, n := range names {
		f.Values[n] = r.PostFormValue(n)
	}
	return f
}

// applyError records a service error on f. It returns false for errors
// that are not validation failures.
func applyError(f *view.Form, err error) bool {
	if fe := validate.Fields(err); fe != nil {
		for k, v := range fe {
			f.Errors[k] = v
		}
		return true
	}
	return errors.Is(err, domain.ErrValidation)
}

// flashFieldErrors queues each validation message as an error flash.
func flashFieldErrors(r *http.Request, err error) {
	for _, msg := range validate.Fields(err) {
		flash(r, domain.FlashError, msg)
	}
}

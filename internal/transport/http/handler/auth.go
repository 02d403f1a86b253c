package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-planning-poker/internal/application/orgaccess"
	"github.com/go-planning-poker/internal/application/session"
	"github.com/go-planning-poker/internal/domain"
	"github.com/go-planning-poker/internal/pkg/validate"
	"github.com/go-planning-poker/internal/transport/http/middleware"
	"github.com/go-planning-poker/internal/transport/http/view"
)

type challenge interface {
	SiteKey() string
	Verify(ctx context.Context, responseToken, remoteIP string) bool
}

// AuthHandler serves the organisation login gate.
type AuthHandler struct {
	access         orgaccess.Service
	sessions       session.Service
	challenge      challenge
	view           *view.Renderer
	googleClientID string
}

func NewAuthHandler(access orgaccess.Service, sessions session.Service, ch challenge, v *view.Renderer, googleClientID string) *AuthHandler {
	return &AuthHandler{
		access:         access,
		sessions:       sessions,
		challenge:      ch,
		view:           v,
		googleClientID: googleClientID,
	}
}

type loginBody struct {
	Form             *view.Form
	AllowedDomain    string
	PendingEmail     string
	ExpiresMinutes   int
	TurnstileSiteKey string
	GoogleClientID   string
	Next             string
}

func nextParam(r *http.Request) string {
	next := r.URL.Query().Get("next")
	if !middleware.SafeNext(next) {
		return ""
	}
	return next
}

func afterLogin(next string) string {
	if next == "" {
		return "/"
	}
	return next
}

func (h *AuthHandler) renderLogin(w http.ResponseWriter, r *http.Request, status int, form *view.Form) {
	sess := middleware.SessionFromContext(r.Context())
	body := loginBody{
		Form:             form,
		AllowedDomain:    h.access.AllowedDomain(),
		ExpiresMinutes:   max(int(h.access.TokenTTL().Minutes()), 1),
		TurnstileSiteKey: h.challenge.SiteKey(),
		GoogleClientID:   h.googleClientID,
		Next:             nextParam(r),
	}
	if p := h.access.Pending(sess); p != nil {
		body.PendingEmail = p.Email
		if form.Get("email") == "" {
			form.Values["email"] = p.Email
		}
	}
	page(h.view, w, r, status, "org_login", "Sign in", body)
}

func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	if sess.OrgEmail != "" {
		redirect(w, r, afterLogin(nextParam(r)))
		return
	}
	if r.URL.Query().Get("reset_token") == "1" {
		h.access.Reset(sess)
	}
	h.renderLogin(w, r, http.StatusOK, view.NewForm())
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	next := nextParam(r)
	if sess.OrgEmail != "" {
		redirect(w, r, afterLogin(next))
		return
	}
	form := formFrom(r, "email", "token", "action")

	if !h.challenge.Verify(r.Context(), r.PostFormValue("cf-turnstile-response"), middleware.ClientIP(r)) {
		form.Error = "Please complete the verification challenge."
		h.renderLogin(w, r, http.StatusBadRequest, form)
		return
	}

	switch form.Get("action") {
	case "resend":
		h.resend(w, r, next)
	case "verify":
		h.verify(w, r, form, next)
	default:
		if h.access.Pending(sess) != nil && form.Get("token") != "" {
			h.verify(w, r, form, next)
			return
		}
		h.request(w, r, form, next)
	}
}

func (h *AuthHandler) request(w http.ResponseWriter, r *http.Request, form *view.Form, next string) {
	sess := middleware.SessionFromContext(r.Context())
	email := strings.TrimSpace(form.Get("email"))
	if err := validate.Struct(domain.OrgAccessRequest{Email: email}); err != nil {
		applyError(form, err)
		h.renderLogin(w, r, http.StatusBadRequest, form)
		return
	}
	issued, err := h.access.RequestCode(r.Context(), sess, email)
	switch {
	case errors.Is(err, domain.ErrDomainNotAllowed):
		form.Errors["Email"] = fmt.Sprintf("Use your @%s email address.", h.access.AllowedDomain())
		h.renderLogin(w, r, http.StatusBadRequest, form)
		return
	case errors.Is(err, domain.ErrRateLimited):
		form.Error = "Too many verification attempts. Please wait a minute."
		h.renderLogin(w, r, http.StatusTooManyRequests, form)
		return
	case errors.Is(err, domain.ErrDeliveryFailed):
		form.Error = "We could not send the verification code. Contact an administrator."
		h.renderLogin(w, r, http.StatusBadGateway, form)
		return
	case err != nil:
		httpError(w, r, err)
		return
	}
	h.flashIssued(r, issued, "We sent a 6-digit code to %s.")
	redirect(w, r, middleware.LoginURL(next))
}

func (h *AuthHandler) resend(w http.ResponseWriter, r *http.Request, next string) {
	sess := middleware.SessionFromContext(r.Context())
	issued, err := h.access.Resend(r.Context(), sess)
	switch {
	case errors.Is(err, domain.ErrNoPendingToken):
		flash(r, domain.FlashError, "Request a new code first.")
	case errors.Is(err, domain.ErrRateLimited):
		flash(r, domain.FlashError, "Too many verification attempts. Please wait a minute.")
	case errors.Is(err, domain.ErrDeliveryFailed):
		flash(r, domain.FlashError, "We could not send the verification code. Contact an administrator.")
	case err != nil:
		httpError(w, r, err)
		return
	default:
		h.flashIssued(r, issued, "We sent a new code to %s.")
	}
	redirect(w, r, middleware.LoginURL(next))
}

func (h *AuthHandler) verify(w http.ResponseWriter, r *http.Request, form *view.Form, next string) {
	sess := middleware.SessionFromContext(r.Context())
	email, err := h.access.Verify(r.Context(), sess, form.Get("email"), strings.TrimSpace(form.Get("token")))
	switch {
	case errors.Is(err, domain.ErrNoPendingToken):
		form.Error = "Your code has expired. Request a new one."
		h.renderLogin(w, r, http.StatusBadRequest, form)
		return
	case errors.Is(err, domain.ErrEmailMismatch):
		form.Errors["Email"] = "Use the same email address that requested the code."
		h.renderLogin(w, r, http.StatusBadRequest, form)
		return
	case errors.Is(err, domain.ErrInvalidToken):
		form.Errors["Token"] = "That code is incorrect or has expired."
		h.renderLogin(w, r, http.StatusBadRequest, form)
		return
	case err != nil:
		httpError(w, r, err)
		return
	}
	h.grant(r, email)
	redirect(w, r, afterLogin(next))
}

func (h *AuthHandler) flashIssued(r *http.Request, issued *orgaccess.Issued, format string) {
	if issued.DevCode != "" {
		flash(r, domain.FlashInfo, "[dev] Verification code: "+issued.DevCode)
	}
	flash(r, domain.FlashSuccess, fmt.Sprintf(format, issued.Email))
}

func (h *AuthHandler) grant(r *http.Request, email string) {
	sess := middleware.SessionFromContext(r.Context())
	sess.OrgEmail = email
	flash(r, domain.FlashSuccess, "Access granted. Welcome to planning mode!")
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(middleware.SessionFromContext(r.Context()))
	flash(r, domain.FlashInfo, "Signed out. See you soon!")
	redirect(w, r, middleware.LoginPath)
}

// googleCSRFValid checks Google's double-submit token: the g_csrf_token
// cookie and form field must both be present and equal.
func googleCSRFValid(r *http.Request) bool {
	c, err := r.Cookie("g_csrf_token")
	if err != nil || c.Value == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(r.PostFormValue("g_csrf_token"))) == 1
}

// Google completes "Sign in with Google". The ID token arrives as the
// credential form field, with Google's double-submit CSRF cookie.
func (h *AuthHandler) Google(w http.ResponseWriter, r *http.Request) {
	next := nextParam(r)
	if !googleCSRFValid(r) {
		http.Error(w, "Invalid CSRF token", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	email, err := h.access.SignInWithGoogle(r.Context(), sess, r.PostFormValue("credential"))
	switch {
	case errors.Is(err, domain.ErrDomainNotAllowed):
		flash(r, domain.FlashError, fmt.Sprintf("Use your @%s Google account.", h.access.AllowedDomain()))
	case errors.Is(err, domain.ErrNotFound):
		flash(r, domain.FlashError, "Google sign-in is not enabled.")
	case err != nil:
		slog.Warn("google sign-in rejected", "err", err)
		flash(r, domain.FlashError, "Google sign-in failed. Try again or use an email code.")
	default:
		h.grant(r, email)
		redirect(w, r, afterLogin(next))
		return
	}
	redirect(w, r, middleware.LoginURL(next))
}

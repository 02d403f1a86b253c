package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"

	"github.com/go-planning-poker/internal/application/session"
	"github.com/go-planning-poker/internal/domain"
)

type contextKey string

const SessionKey contextKey = "session"

// CookieName is the browser cookie holding the signed session id.
const CookieName = "poker_session"

// Session loads the browser session into the request context and saves it
// after the handler when the handler changed it. New sessions get their
// cookie before the handler runs, so handlers may write the response freely.
func Session(svc session.Service, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var raw string
			if c, err := r.Cookie(CookieName); err == nil {
				raw = c.Value
			}
			sess, isNew, err := svc.Load(r.Context(), raw)
			if err != nil {
				slog.Error("load session", "err", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if isNew {
				token, err := svc.Token(sess)
				if err != nil {
					slog.Error("sign session", "err", err)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     CookieName,
					Value:    token,
					Path:     "/",
					MaxAge:   int(svc.Expiry().Seconds()),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			before := session.Clone(sess)
			ctx := context.WithValue(r.Context(), SessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))

			if reflect.DeepEqual(before, sess) {
				return
			}
			// The request may be done; the save must not be cancelled with it.
			if err := svc.Save(context.WithoutCancel(r.Context()), sess); err != nil {
				slog.Error("save session", "session_id", sess.SessionID, "err", err)
			}
		})
	}
}

// SessionFromContext returns the request's session. Outside the Session
// middleware it returns an empty throwaway session.
func SessionFromContext(ctx context.Context) *domain.Session {
	if s, ok := ctx.Value(SessionKey).(*domain.Session); ok {
		return s
	}
	return &domain.Session{}
}

package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// LoginPath is where unauthenticated visitors are sent.
const LoginPath = "/auth/login"

// RequireOrgAccess lets through only sessions that completed the
// organisation login; everyone else is redirected to the login page with
// the requested path as next.
func RequireOrgAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SessionFromContext(r.Context()).OrgEmail != "" {
			next.ServeHTTP(w, r)
			return
		}
		target := r.URL.Path
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		// Polls and POSTs make a poor landing page.
		if r.Method != http.MethodGet || strings.Contains(r.URL.Path, "/poll/") {
			target = ""
		}
		http.Redirect(w, r, LoginURL(target), http.StatusFound)
	})
}

// LoginURL builds the login location carrying next when it is a local path.
func LoginURL(next string) string {
	if !SafeNext(next) {
		return LoginPath
	}
	return LoginPath + "?next=" + url.QueryEscape(next)
}

// SafeNext reports whether next is a local absolute path, so redirecting
// to it cannot leave the site.
func SafeNext(next string) bool {
	if next == "" || !strings.HasPrefix(next, "/") {
		return false
	}
	if strings.HasPrefix(next, "//") || strings.HasPrefix(next, `/\`) {
		return false
	}
	u, err := url.Parse(next)
	return err == nil && u.Scheme == "" && u.Host == ""
}

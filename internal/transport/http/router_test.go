package http

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-planning-poker/internal/cache"
	"github.com/go-planning-poker/internal/config"
	jwtinfra "github.com/go-planning-poker/internal/infrastructure/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cfg := &config.Config{AppEnv: "development", AllowedOrigins: []string{"*"}, OrgAccessTokenTTL: 10 * time.Minute}
	return NewRouter(cfg, &Deps{
		Cache:       cache.NewMemory(),
		JWTProvider: jwtinfra.NewProviderFromKey(key, time.Hour),
	})
}

func TestRouter_Health(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(t).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"ok"}`, rr.Body.String())
	assert.Empty(t, rr.Result().Cookies(), "health checks get no session")
}

func TestRouter_RoomsRequireOrgAccess(t *testing.T) {
	router := newTestRouter(t)
	for _, path := range []string{"/", "/room/ABC123", "/room/ABC123/poll/stories"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(t, http.StatusFound, rr.Code, path)
		assert.True(t, strings.HasPrefix(rr.Header().Get("Location"), "/auth/login"), path)
	}
}

func TestRouter_LoginPageIsPublic(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(t).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Send code")
}

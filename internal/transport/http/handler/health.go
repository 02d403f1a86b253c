package handler

import (
	"context"
	"net/http"
	"time"
)

type pinger interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// HealthHandler reports liveness and whether the cache store answers.
type HealthHandler struct {
	cache pinger
}

func NewHealthHandler(cache pinger) *HealthHandler { return &HealthHandler{cache: cache} }

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, _, err := h.cache.Get(ctx, "health:ping"); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, MessageEnvelope{Error: "cache unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "ok"})
}

// Package fragment caches rendered HTML fragments per room version and viewer.
package fragment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-planning-poker/internal/cache"
)

// TTL is the lifetime of a cached fragment used by polling endpoints.
const TTL = 5 * time.Second

// Anonymous is the viewer id used for visitors who have not joined the room.
const Anonymous = "anon"

// Fragment kinds.
const (
	KindStories = "stories"
	KindSidebar = "sidebar"
)

// Key is unique per (room, kind, version, viewer) so HTML with per-viewer
// state is never shared, and a version bump moves readers to fresh keys.
func Key(roomID, kind string, version int64, viewerID string) string {
	if viewerID == "" {
		viewerID = Anonymous
	}
	return fmt.Sprintf("room:%s:%s:%d:%s", roomID, kind, version, viewerID)
}

type Cache struct {
	store cache.Store
}

func New(store cache.Store) *Cache {
	return &Cache{store: store}
}

// GetOrRender returns the cached fragment under key, or calls render and
// caches its output for ttl. Cache failures degrade to rendering.
func (c *Cache) GetOrRender(ctx context.Context, key string, ttl time.Duration, render func() ([]byte, error)) ([]byte, error) {
	if html, ok, err := c.store.Get(ctx, key); err != nil {
		slog.Warn("fragment cache read failed", "key", key, "err", err)
	} else if ok {
		return html, nil
	}
	html, err := render()
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, key, html, ttl); err != nil {
		slog.Warn("fragment cache write failed", "key", key, "err", err)
	}
	return html, nil
}

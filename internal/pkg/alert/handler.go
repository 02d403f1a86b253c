// Package alert forwards error-level log records to an operator channel.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-planning-poker/internal/cache"
)

const notifyTimeout = 5 * time.Second

// Notifier delivers an alert, e.g. to an SNS topic.
type Notifier interface {
	Notify(ctx context.Context, subject, message string) error
}

// Handler wraps another slog.Handler. Records at slog.LevelError or above are
// also sent to the Notifier, at most limit per window per level. Throttling
// state lives in the shared cache store so the budget holds across instances.
// A limit <= 0 disables throttling.
type Handler struct {
	next     slog.Handler
	notifier Notifier
	store    cache.Store
	limit    int64
	window   time.Duration
	service  string
}

func NewHandler(next slog.Handler, notifier Notifier, store cache.Store, limit int, window time.Duration, service string) *Handler {
	return &Handler{
		next:     next,
		notifier: notifier,
		store:    store,
		limit:    int64(limit),
		window:   window,
		service:  service,
	}
}

func (h *Handler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.next.Enabled(ctx, l)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	err := h.next.Handle(ctx, r)
	if r.Level >= slog.LevelError && h.notifier != nil {
		h.alert(ctx, r)
	}
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	return &c
}

func (h *Handler) WithGroup(name string) slog.Handler {
	c := *h
	c.next = h.next.WithGroup(name)
	return &c
}

func rateKey(l slog.Level) string {
	return "error-alert-rate:" + l.String()
}

func (h *Handler) alert(ctx context.Context, r slog.Record) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if h.limit > 0 && h.store != nil {
		limited, err := cache.Counter(ctx, h.store, rateKey(r.Level), h.limit, h.window)
		if err != nil {
			h.warn(ctx, "alert throttle unavailable", err)
			return
		}
		if limited {
			return
		}
	}
	subject := fmt.Sprintf("[%s] %s: %s", h.service, r.Level, r.Message)
	if err := h.notifier.Notify(ctx, subject, format(r)); err != nil {
		h.warn(ctx, "alert delivery failed", err)
	}
}

// warn logs through the wrapped handler only, never back into alert.
func (h *Handler) warn(ctx context.Context, msg string, err error) {
	rec := slog.NewRecord(time.Now(), slog.LevelWarn, msg, 0)
	rec.AddAttrs(slog.Any("err", err))
	_ = h.next.Handle(ctx, rec)
}

func format(r slog.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", r.Time.UTC().Format(time.RFC3339), r.Level, r.Message)
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, "%s=%v\n", a.Key, a.Value.Any())
		return true
	})
	return b.String()
}

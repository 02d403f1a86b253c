// Package session manages server-side browser sessions addressed by a
// signed cookie that carries only the session id.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-planning-poker/internal/domain"
	jwtinfra "github.com/go-planning-poker/internal/infrastructure/jwt"
	"github.com/go-planning-poker/internal/pkg/id"
)

type Service interface {
	// Load resolves the session named by a signed cookie value. A missing,
	// invalid or expired cookie yields a fresh session; isNew reports that
	// the caller must issue a cookie for it.
	Load(ctx context.Context, cookie string) (sess *domain.Session, isNew bool, err error)
	// Save persists sess and extends its expiry.
	Save(ctx context.Context, sess *domain.Session) error
	// Token signs the cookie value for sess.
	Token(sess *domain.Session) (string, error)
	// Logout clears authentication and every room membership of sess.
	Logout(sess *domain.Session)
	Expiry() time.Duration
}

type sessionStore interface {
	Put(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
}

type tokenProvider interface {
	Sign(sessionID string) (string, error)
	Verify(tokenStr string) (*jwtinfra.Claims, error)
	Expiry() time.Duration
}

type service struct {
	repo   sessionStore
	tokens tokenProvider
	now    func() time.Time
}

type ServiceDeps struct {
	SessionRepo sessionStore
	JWTProvider tokenProvider
	Now         func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{repo: deps.SessionRepo, tokens: deps.JWTProvider, now: deps.Now}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *service) Expiry() time.Duration { return s.tokens.Expiry() }

func (s *service) Load(ctx context.Context, cookie string) (*domain.Session, bool, error) {
	if cookie == "" {
		return s.fresh(id.New()), true, nil
	}
	claims, err := s.tokens.Verify(cookie)
	if err != nil {
		slog.Debug("discarding invalid session cookie", "err", err)
		return s.fresh(id.New()), true, nil
	}
	sess, err := s.repo.Get(ctx, claims.SessionID)
	if errors.Is(err, domain.ErrNotFound) {
		// The cookie is ours but the record is gone; keep the id so the
		// browser's cookie stays valid once the new record is saved.
		return s.fresh(claims.SessionID), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return sess, false, nil
}

func (s *service) fresh(sessionID string) *domain.Session {
	now := s.now().UTC()
	return &domain.Session{
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.tokens.Expiry()).Unix(),
	}
}

func (s *service) Save(ctx context.Context, sess *domain.Session) error {
	sess.ExpiresAt = s.now().Add(s.tokens.Expiry()).Unix()
	return s.repo.Put(ctx, sess)
}

func (s *service) Token(sess *domain.Session) (string, error) {
	return s.tokens.Sign(sess.SessionID)
}

func (s *service) Logout(sess *domain.Session) {
	sess.OrgEmail = ""
	sess.Pending = nil
	sess.Participants = nil
}

// Clone deep-copies sess so a handler's changes can be detected afterwards.
func Clone(sess *domain.Session) *domain.Session {
	if sess == nil {
		return nil
	}
	c := *sess
	if sess.Pending != nil {
		p := *sess.Pending
		c.Pending = &p
	}
	if sess.Participants != nil {
		c.Participants = make(map[string]string, len(sess.Participants))
		for k, v := range sess.Participants {
			c.Participants[k] = v
		}
	}
	if sess.Flashes != nil {
		c.Flashes = append([]domain.Flash(nil), sess.Flashes...)
	}
	return &c
}

// Package orgaccess gates the application behind an emailed one-time code.
//
// Per login session the flow is NoPending -> PendingVerification ->
// Authenticated. The pending code lives on the session, is single-use, and
// is treated as absent once its absolute expiry has passed.
package orgaccess

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-planning-poker/internal/cache"
	"github.com/go-planning-poker/internal/domain"
	"github.com/go-planning-poker/internal/infrastructure/google"
	pkgtoken "github.com/go-planning-poker/internal/pkg/token"
	"golang.org/x/crypto/bcrypt"
)

const (
	RateLimit  = 3
	RateWindow = 60 * time.Second
)

func rateKey(email string) string {
	return "otp:rate:" + strings.ToLower(email)
}

// Issued describes a code that was sent. DevCode is set only in development
// mode so the caller can surface it.
type Issued struct {
	Email     string
	ExpiresAt time.Time
	DevCode   string
}

type Service interface {
	// RequestCode sends a new code to email and records it as pending.
	RequestCode(ctx context.Context, sess *domain.Session, email string) (*Issued, error)
	// Resend replaces the pending code with a new one for the same email.
	Resend(ctx context.Context, sess *domain.Session) (*Issued, error)
	// Verify consumes the pending code and returns the authenticated email.
	// The caller records it on the session.
	Verify(ctx context.Context, sess *domain.Session, email, code string) (string, error)
	// Pending returns the live pending code, dropping it when expired.
	Pending(sess *domain.Session) *domain.PendingToken
	Reset(sess *domain.Session)
	// SignInWithGoogle authenticates with a Google ID token instead of a code.
	SignInWithGoogle(ctx context.Context, sess *domain.Session, idToken string) (string, error)
	AllowedDomain() string
	TokenTTL() time.Duration
}

type mailer interface {
	SendAccessCode(ctx context.Context, email, token string) bool
}

type googleVerifier interface {
	Verify(ctx context.Context, token string) (*google.Payload, error)
}

type service struct {
	cache         cache.Store
	mailer        mailer
	google        googleVerifier
	allowedDomain string
	tokenTTL      time.Duration
	devMode       bool
	hashCost      int
	now           func() time.Time
	newCode       func() (string, error)
}

type ServiceDeps struct {
	Cache  cache.Store
	Mailer mailer
	// Google is optional; SignInWithGoogle fails when nil.
	Google        googleVerifier
	AllowedDomain string
	TokenTTL      time.Duration
	// DevMode stores the code even when delivery fails and exposes it.
	DevMode  bool
	HashCost int
	Now      func() time.Time
	NewCode  func() (string, error)
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		cache:         deps.Cache,
		mailer:        deps.Mailer,
		google:        deps.Google,
		allowedDomain: strings.ToLower(strings.TrimPrefix(deps.AllowedDomain, "@")),
		tokenTTL:      deps.TokenTTL,
		devMode:       deps.DevMode,
		hashCost:      deps.HashCost,
		now:           deps.Now,
		newCode:       deps.NewCode,
	}
	if s.hashCost == 0 {
		s.hashCost = bcrypt.DefaultCost
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newCode == nil {
		s.newCode = pkgtoken.NewAccessCode
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = 10 * time.Minute
	}
	return s
}

func (s *service) AllowedDomain() string   { return s.allowedDomain }
func (s *service) TokenTTL() time.Duration { return s.tokenTTL }

func (s *service) domainAllowed(email string) bool {
	if s.allowedDomain == "" {
		return true
	}
	return strings.HasSuffix(strings.ToLower(email), "@"+s.allowedDomain)
}

func (s *service) RequestCode(ctx context.Context, sess *domain.Session, email string) (*Issued, error) {
	email = strings.TrimSpace(email)
	if !s.domainAllowed(email) {
		return nil, fmt.Errorf("%s: %w", email, domain.ErrDomainNotAllowed)
	}
	return s.issue(ctx, sess, email)
}

func (s *service) Resend(ctx context.Context, sess *domain.Session) (*Issued, error) {
	p := s.Pending(sess)
	if p == nil {
		return nil, domain.ErrNoPendingToken
	}
	return s.issue(ctx, sess, p.Email)
}

// issue applies the rate limit, delivers a fresh code and stores it.
func (s *service) issue(ctx context.Context, sess *domain.Session, email string) (*Issued, error) {
	limited, err := cache.Counter(ctx, s.cache, rateKey(email), RateLimit, RateWindow)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if limited {
		return nil, domain.ErrRateLimited
	}

	code, err := s.newCode()
	if err != nil {
		return nil, err
	}
	sent := s.mailer.SendAccessCode(ctx, email, code)
	if !sent && !s.devMode {
		return nil, domain.ErrDeliveryFailed
	}
	if !sent {
		slog.Warn("access code delivery failed, keeping code in development mode", "email", email)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.hashCost)
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().Add(s.tokenTTL)
	sess.Pending = &domain.PendingToken{
		Email:     email,
		TokenHash: string(hash),
		ExpiresAt: expiresAt.Unix(),
	}

	out := &Issued{Email: email, ExpiresAt: expiresAt}
	if s.devMode {
		out.DevCode = code
	}
	return out, nil
}

func (s *service) Pending(sess *domain.Session) *domain.PendingToken {
	if sess.Pending == nil {
		return nil
	}
	if sess.Pending.Expired(s.now()) {
		sess.Pending = nil
		return nil
	}
	return sess.Pending
}

func (s *service) Verify(ctx context.Context, sess *domain.Session, email, code string) (string, error) {
	p := s.Pending(sess)
	if p == nil {
		return "", domain.ErrNoPendingToken
	}
	if !strings.EqualFold(strings.TrimSpace(email), p.Email) {
		return "", domain.ErrEmailMismatch
	}
	if !isSixDigits(code) {
		return "", domain.ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword([]byte(p.TokenHash), []byte(code)); err != nil {
		return "", domain.ErrInvalidToken
	}
	sess.Pending = nil
	slog.Info("org access granted", "email", p.Email)
	return p.Email, nil
}

func (s *service) Reset(sess *domain.Session) {
	sess.Pending = nil
}

func (s *service) SignInWithGoogle(ctx context.Context, sess *domain.Session, idToken string) (string, error) {
	if s.google == nil {
		return "", fmt.Errorf("google sign-in not configured: %w", domain.ErrNotFound)
	}
	p, err := s.google.Verify(ctx, idToken)
	if err != nil {
		return "", err
	}
	if !p.EmailVerified || p.Email == "" {
		return "", fmt.Errorf("google email not verified: %w", domain.ErrUnauthorized)
	}
	if !s.domainAllowed(p.Email) {
		return "", fmt.Errorf("%s: %w", p.Email, domain.ErrDomainNotAllowed)
	}
	sess.Pending = nil
	return p.Email, nil
}

func isSixDigits(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

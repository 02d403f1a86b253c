package orgaccess

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-planning-poker/internal/cache"
	"github.com/go-planning-poker/internal/domain"
	"github.com/go-planning-poker/internal/infrastructure/google"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- mocks ---

type mockMailer struct{ mock.Mock }

func (m *mockMailer) SendAccessCode(ctx context.Context, email, token string) bool {
	return m.Called(email, token).Bool(0)
}

type mockGoogle struct{ mock.Mock }

func (m *mockGoogle) Verify(ctx context.Context, token string) (*google.Payload, error) {
	args := m.Called(token)
	if p, _ := args.Get(0).(*google.Payload); p != nil {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

// --- helpers ---

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type fixture struct {
	clk    *clock
	mailer *mockMailer
	google *mockGoogle
	svc    Service
	codes  []string
}

func newFixture(devMode bool, allowedDomain string) *fixture {
	f := &fixture{
		clk:    &clock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)},
		mailer: &mockMailer{},
		google: &mockGoogle{},
	}
	mem := cache.NewMemoryWithClock(func() time.Time { return f.clk.t })
	next := 0
	f.svc = NewService(ServiceDeps{
		Cache:         mem,
		Mailer:        f.mailer,
		Google:        f.google,
		AllowedDomain: allowedDomain,
		TokenTTL:      10 * time.Minute,
		DevMode:       devMode,
		HashCost:      bcrypt.MinCost,
		Now:           f.clk.now,
		NewCode: func() (string, error) {
			next++
			code := []string{"012345", "654321", "111111", "222222", "333333"}[(next-1)%5]
			f.codes = append(f.codes, code)
			return code, nil
		},
	})
	return f
}

// --- RequestCode ---

func TestRequestCode_StoresPendingHash(t *testing.T) {
	f := newFixture(false, "")
	f.mailer.On("SendAccessCode", "ana@example.com", "012345").Return(true)
	sess := &domain.Session{}

	issued, err := f.svc.RequestCode(context.Background(), sess, " ana@example.com ")

	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", issued.Email)
	assert.Empty(t, issued.DevCode)
	require.NotNil(t, sess.Pending)
	assert.NotEqual(t, "012345", sess.Pending.TokenHash)
	assert.Equal(t, f.clk.t.Add(10*time.Minute).Unix(), sess.Pending.ExpiresAt)
	f.mailer.AssertExpectations(t)
}

func TestRequestCode_FourthWithinWindowIsRateLimited(t *testing.T) {
	f := newFixture(false, "")
	f.mailer.On("SendAccessCode", mock.Anything, mock.Anything).Return(true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.RequestCode(ctx, &domain.Session{}, "ana@example.com")
		require.NoError(t, err)
	}
	_, err := f.svc.RequestCode(ctx, &domain.Session{}, "ANA@example.com")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	f.mailer.AssertNumberOfCalls(t, "SendAccessCode", 3)

	f.clk.t = f.clk.t.Add(RateWindow)
	_, err = f.svc.RequestCode(ctx, &domain.Session{}, "ana@example.com")
	assert.NoError(t, err, "window elapsed")
}

func TestRequestCode_DomainRestriction(t *testing.T) {
	f := newFixture(false, "@Example.com")
	_, err := f.svc.RequestCode(context.Background(), &domain.Session{}, "eve@evil.com")
	assert.ErrorIs(t, err, domain.ErrDomainNotAllowed)
	f.mailer.AssertNotCalled(t, "SendAccessCode", mock.Anything, mock.Anything)
	assert.Equal(t, "example.com", f.svc.AllowedDomain())
}

func TestRequestCode_DeliveryFailed(t *testing.T) {
	f := newFixture(false, "")
	f.mailer.On("SendAccessCode", mock.Anything, mock.Anything).Return(false)
	sess := &domain.Session{}

	_, err := f.svc.RequestCode(context.Background(), sess, "ana@example.com")

	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
	assert.Nil(t, sess.Pending, "no transition on failure")
}

func TestRequestCode_DevModeBypassesDelivery(t *testing.T) {
	f := newFixture(true, "")
	f.mailer.On("SendAccessCode", mock.Anything, mock.Anything).Return(false)
	sess := &domain.Session{}

	issued, err := f.svc.RequestCode(context.Background(), sess, "ana@example.com")

	require.NoError(t, err)
	assert.Equal(t, "012345", issued.DevCode)
	assert.NotNil(t, sess.Pending)
}

// --- Verify ---

func requestFor(t *testing.T, f *fixture, sess *domain.Session, email string) {
	t.Helper()
	f.mailer.On("SendAccessCode", mock.Anything, mock.Anything).Return(true)
	_, err := f.svc.RequestCode(context.Background(), sess, email)
	require.NoError(t, err)
}

func TestVerify_SuccessIsSingleUse(t *testing.T) {
	f := newFixture(false, "")
	sess := &domain.Session{}
	requestFor(t, f, sess, "ana@example.com")
	ctx := context.Background()

	email, err := f.svc.Verify(ctx, sess, "ana@example.com", "012345")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", email)
	assert.Nil(t, sess.Pending)

	_, err = f.svc.Verify(ctx, sess, "ana@example.com", "012345")
	assert.ErrorIs(t, err, domain.ErrNoPendingToken)
}

func TestVerify_NoPending(t *testing.T) {
	f := newFixture(false, "")
	_, err := f.svc.Verify(context.Background(), &domain.Session{}, "ana@example.com", "012345")
	assert.ErrorIs(t, err, domain.ErrNoPendingToken)
}

func TestVerify_Expired(t *testing.T) {
	f := newFixture(false, "")
	sess := &domain.Session{}
	requestFor(t, f, sess, "ana@example.com")

	f.clk.t = f.clk.t.Add(10*time.Minute + time.Second)
	_, err := f.svc.Verify(context.Background(), sess, "ana@example.com", "012345")

	assert.ErrorIs(t, err, domain.ErrNoPendingToken)
	assert.Nil(t, sess.Pending, "expired code is dropped lazily")
}

func TestVerify_EmailMismatch(t *testing.T) {
	f := newFixture(false, "")
	sess := &domain.Session{}
	requestFor(t, f, sess, "ana@example.com")

	_, err := f.svc.Verify(context.Background(), sess, "bob@example.com", "012345")
	assert.ErrorIs(t, err, domain.ErrEmailMismatch)
	assert.NotNil(t, sess.Pending)
}

func TestVerify_WrongOrMalformedCode(t *testing.T) {
	f := newFixture(false, "")
	sess := &domain.Session{}
	requestFor(t, f, sess, "ana@example.com")
	ctx := context.Background()

	for _, code := range []string{"999999", "12345", "01234a", ""} {
		_, err := f.svc.Verify(ctx, sess, "ana@example.com", code)
		assert.ErrorIs(t, err, domain.ErrInvalidToken, code)
	}
	assert.NotNil(t, sess.Pending)
}

// --- Resend / Reset ---

func TestResend_ReplacesPending(t *testing.T) {
	f := newFixture(false, "")
	sess := &domain.Session{}
	requestFor(t, f, sess, "ana@example.com")
	oldHash := sess.Pending.TokenHash
	ctx := context.Background()

	f.clk.t = f.clk.t.Add(time.Minute)
	issued, err := f.svc.Resend(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", issued.Email)
	assert.NotEqual(t, oldHash, sess.Pending.TokenHash)

	_, err = f.svc.Verify(ctx, sess, "ana@example.com", "012345")
	assert.ErrorIs(t, err, domain.ErrInvalidToken, "old code replaced")
	_, err = f.svc.Verify(ctx, sess, "ana@example.com", "654321")
	assert.NoError(t, err)
}

func TestResend_WithoutPending(t *testing.T) {
	f := newFixture(false, "")
	_, err := f.svc.Resend(context.Background(), &domain.Session{})
	assert.ErrorIs(t, err, domain.ErrNoPendingToken)
}

func TestResend_SharesRateLimit(t *testing.T) {
	f := newFixture(false, "")
	sess := &domain.Session{}
	requestFor(t, f, sess, "ana@example.com")
	ctx := context.Background()

	_, err := f.svc.Resend(ctx, sess)
	require.NoError(t, err)
	_, err = f.svc.Resend(ctx, sess)
	require.NoError(t, err)
	_, err = f.svc.Resend(ctx, sess)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestReset_ClearsPending(t *testing.T) {
	f := newFixture(false, "")
	sess := &domain.Session{}
	requestFor(t, f, sess, "ana@example.com")

	f.svc.Reset(sess)
	assert.Nil(t, f.svc.Pending(sess))
}

// --- Google ---

func TestSignInWithGoogle(t *testing.T) {
	f := newFixture(false, "example.com")
	f.google.On("Verify", "good").Return(&google.Payload{Email: "ana@example.com", EmailVerified: true}, nil)
	f.google.On("Verify", "other").Return(&google.Payload{Email: "eve@evil.com", EmailVerified: true}, nil)
	f.google.On("Verify", "unverified").Return(&google.Payload{Email: "ana@example.com"}, nil)
	f.google.On("Verify", "bad").Return(nil, domain.ErrUnauthorized)
	ctx := context.Background()

	email, err := f.svc.SignInWithGoogle(ctx, &domain.Session{}, "good")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", email)

	_, err = f.svc.SignInWithGoogle(ctx, &domain.Session{}, "other")
	assert.ErrorIs(t, err, domain.ErrDomainNotAllowed)
	_, err = f.svc.SignInWithGoogle(ctx, &domain.Session{}, "unverified")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.svc.SignInWithGoogle(ctx, &domain.Session{}, "bad")
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

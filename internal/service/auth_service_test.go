package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/mobile-auth-api/internal/models"
	"github.com/noah-isme/mobile-auth-api/internal/repository"
	appErrors "github.com/noah-isme/mobile-auth-api/pkg/errors"
)

type authFixture struct {
	svc        *AuthService
	clock      *fakeClock
	identities *repository.MemoryIdentityRepository
	sessions   *repository.MemorySessionCache
	logs       *observer.ObservedLogs
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	clock := newFakeClock()
	tokens, err := NewTokenManager(testTokenConfig(), clock.Now)
	require.NoError(t, err)

	core, logs := observer.New(zap.DebugLevel)
	identities := repository.NewMemoryIdentityRepository()
	sessions := repository.NewMemorySessionCache(clock.Now)
	svc := NewAuthService(identities, sessions, tokens, testHasher(t, "argon2id"), nil, NewMetricsService(), zap.New(core))
	svc.now = clock.Now

	return &authFixture{svc: svc, clock: clock, identities: identities, sessions: sessions, logs: logs}
}

func (f *authFixture) registerAndLogin(t *testing.T, email, password string) *models.TokenPair {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Register(ctx, models.RegisterRequest{Email: email, Password: password})
	require.NoError(t, err)
	pair, err := f.svc.Authenticate(ctx, models.LoginRequest{Email: email, Password: password})
	require.NoError(t, err)
	return pair
}

func TestRegister(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Register(ctx, models.RegisterRequest{Email: " User@Example.com ", Password: "pw1"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.IdentityID)
	assert.Equal(t, registeredMessage, resp.Message)

	record, err := f.identities.FindByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "pw1", record.PasswordHash)
	assert.NotEmpty(t, record.PasswordSalt)

	for _, entry := range f.logs.All() {
		for _, field := range entry.Context {
			assert.NotEqual(t, "user@example.com", field.String, "email must be redacted in logs")
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, models.RegisterRequest{Email: "a@x.io", Password: "pw1"})
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, models.RegisterRequest{Email: "A@x.io", Password: "other"})
	assert.ErrorIs(t, err, appErrors.ErrEmailTaken)
}

func TestRegisterValidation(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Register(context.Background(), models.RegisterRequest{Email: "not-an-email", Password: "pw1"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Register(context.Background(), models.RegisterRequest{Email: "a@x.io"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAuthenticate(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.registerAndLogin(t, "a@x.io", "pw1")

	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	claims, err := f.svc.ValidateAccess(pair.AccessToken)
	require.NoError(t, err)

	entry, err := f.sessions.Get(context.Background(), claims.Subject)
	require.NoError(t, err)
	refreshClaims, err := f.svc.tokens.ParseRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, refreshClaims.ID, entry.TokenID)
}

func TestAuthenticateInvalidCredentials(t *testing.T) {
	f := newAuthFixture(t)
	f.registerAndLogin(t, "a@x.io", "pw1")
	ctx := context.Background()

	_, err := f.svc.Authenticate(ctx, models.LoginRequest{Email: "a@x.io", Password: "wrong"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	_, err = f.svc.Authenticate(ctx, models.LoginRequest{Email: "ghost@x.io", Password: "pw1"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestRefreshRotatesAndRejectsReuse(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	first := f.registerAndLogin(t, "a@x.io", "pw1")

	second, err := f.svc.Refresh(ctx, models.RefreshRequest{RefreshToken: first.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = f.svc.Refresh(ctx, models.RefreshRequest{RefreshToken: first.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrTokenRevoked)

	// Reuse is treated as theft: the rotated session is gone too.
	_, err = f.svc.Refresh(ctx, models.RefreshRequest{RefreshToken: second.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrTokenRevoked)

	assert.Equal(t, 1, f.logs.FilterMessage("refresh token reuse detected, revoking session").Len())
}

func TestSecondLoginInvalidatesFirstSession(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	first := f.registerAndLogin(t, "a@x.io", "pw1")

	second, err := f.svc.Authenticate(ctx, models.LoginRequest{Email: "a@x.io", Password: "pw1"})
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, models.RefreshRequest{RefreshToken: first.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrTokenRevoked)

	_, err = f.svc.Refresh(ctx, models.RefreshRequest{RefreshToken: second.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrTokenRevoked)
}

func TestRefreshExpired(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.registerAndLogin(t, "a@x.io", "pw1")

	f.clock.Advance(7*24*time.Hour + time.Minute)
	_, err := f.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: pair.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrTokenExpired)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.registerAndLogin(t, "a@x.io", "pw1")

	_, err := f.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: pair.AccessToken})
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestValidateAccessExpiry(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.registerAndLogin(t, "a@x.io", "pw1")

	f.clock.Advance(15*time.Minute + 10*time.Second)
	_, err := f.svc.ValidateAccess(pair.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrTokenExpired)
}

func TestValidateAccessIsStateless(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.registerAndLogin(t, "a@x.io", "pw1")

	require.NoError(t, f.svc.Logout(context.Background(), models.LogoutRequest{RefreshToken: pair.RefreshToken}))

	_, err := f.svc.ValidateAccess(pair.AccessToken)
	assert.NoError(t, err, "access tokens stay valid until expiry")
}

func TestLogout(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	pair := f.registerAndLogin(t, "a@x.io", "pw1")

	require.NoError(t, f.svc.Logout(ctx, models.LogoutRequest{RefreshToken: pair.RefreshToken}))
	require.NoError(t, f.svc.Logout(ctx, models.LogoutRequest{RefreshToken: pair.RefreshToken}))

	_, err := f.svc.Refresh(ctx, models.RefreshRequest{RefreshToken: pair.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrTokenRevoked)
}

func TestLogoutWithStaleTokenKeepsNewerSession(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	first := f.registerAndLogin(t, "a@x.io", "pw1")
	second, err := f.svc.Refresh(ctx, models.RefreshRequest{RefreshToken: first.RefreshToken})
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, models.LogoutRequest{RefreshToken: first.RefreshToken}))

	_, err = f.svc.Refresh(ctx, models.RefreshRequest{RefreshToken: second.RefreshToken})
	assert.NoError(t, err)
}

func TestLogoutExpiredTokenIsNoop(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.registerAndLogin(t, "a@x.io", "pw1")

	f.clock.Advance(8 * 24 * time.Hour)
	assert.NoError(t, f.svc.Logout(context.Background(), models.LogoutRequest{RefreshToken: pair.RefreshToken}))
}

func TestLogoutRejectsForgedToken(t *testing.T) {
	f := newAuthFixture(t)
	err := f.svc.Logout(context.Background(), models.LogoutRequest{RefreshToken: "not.a.jwt"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestMe(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.registerAndLogin(t, "a@x.io", "pw1")
	claims, err := f.svc.ValidateAccess(pair.AccessToken)
	require.NoError(t, err)

	identity, err := f.svc.Me(context.Background(), claims.Subject)
	require.NoError(t, err)
	assert.Equal(t, "a@x.io", identity.Email)
	assert.False(t, identity.EmailVerified)

	_, err = f.svc.Me(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

type failingSessions struct{ err error }

func (f failingSessions) Set(context.Context, models.SessionEntry) error { return f.err }
func (f failingSessions) Delete(context.Context, string) error { return f.err }
func (f failingSessions) Rotate(context.Context, string, string, models.SessionEntry) error {
	return f.err
}
func (f failingSessions) CompareAndDelete(context.Context, string, string) error { return f.err }

func TestAuthenticateSessionStoreFailure(t *testing.T) {
	tokens, err := NewTokenManager(testTokenConfig(), nil)
	require.NoError(t, err)
	identities := repository.NewMemoryIdentityRepository()
	svc := NewAuthService(identities, failingSessions{err: errors.New("redis down")}, tokens, testHasher(t, "bcrypt"), nil, nil, nil)

	_, err = svc.Register(context.Background(), models.RegisterRequest{Email: "a@x.io", Password: "pw1"})
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), models.LoginRequest{Email: "a@x.io", Password: "pw1"})
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}

func TestRegisterBcryptOverlongPassword(t *testing.T) {
	tokens, err := NewTokenManager(testTokenConfig(), nil)
	require.NoError(t, err)
	identities := repository.NewMemoryIdentityRepository()
	svc := NewAuthService(identities, repository.NewMemorySessionCache(nil), tokens, testHasher(t, "bcrypt"), nil, nil, nil)

	_, err = svc.Register(context.Background(), models.RegisterRequest{Email: "a@x.io", Password: strings.Repeat("p", 100)})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, 400, appErrors.FromError(err).Status)

	_, err = identities.FindByEmail(context.Background(), "a@x.io")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

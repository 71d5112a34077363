package service

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mobile-auth-api/internal/models"
	appErrors "github.com/noah-isme/mobile-auth-api/pkg/errors"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func testTokenConfig() TokenConfig {
	return TokenConfig{
		AccessTokenSecret:  "access-secret",
		RefreshTokenSecret: "refresh-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
		Issuer:             "test",
		Leeway:             5 * time.Second,
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	clock := newFakeClock()
	m, err := NewTokenManager(testTokenConfig(), clock.Now)
	require.NoError(t, err)

	token, err := m.MintAccess("id-1")
	require.NoError(t, err)

	claims, err := m.ParseAccess(token)
	require.NoError(t, err)
	assert.Equal(t, "id-1", claims.Subject)
	assert.Equal(t, models.TokenTypeAccess, claims.Type)
	assert.Equal(t, clock.t.Add(15*time.Minute), claims.ExpiresAt.Time.UTC())
}

func TestAccessTokenExpiryWithLeeway(t *testing.T) {
	clock := newFakeClock()
	m, err := NewTokenManager(testTokenConfig(), clock.Now)
	require.NoError(t, err)
	token, err := m.MintAccess("id-1")
	require.NoError(t, err)

	clock.Advance(15*time.Minute + 3*time.Second)
	_, err = m.ParseAccess(token)
	require.NoError(t, err, "inside the skew tolerance")

	clock.Advance(5 * time.Second)
	_, err = m.ParseAccess(token)
	assert.ErrorIs(t, err, appErrors.ErrTokenExpired)
}

func TestRejectsForeignSignature(t *testing.T) {
	clock := newFakeClock()
	m, err := NewTokenManager(testTokenConfig(), clock.Now)
	require.NoError(t, err)

	otherCfg := testTokenConfig()
	otherCfg.AccessTokenSecret = "someone-else"
	other, err := NewTokenManager(otherCfg, clock.Now)
	require.NoError(t, err)

	forged, err := other.MintAccess("id-1")
	require.NoError(t, err)

	_, err = m.ParseAccess(forged)
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestRejectsTamperedPayload(t *testing.T) {
	m, err := NewTokenManager(testTokenConfig(), nil)
	require.NoError(t, err)
	token, err := m.MintAccess("id-1")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	other, err := m.MintAccess("id-2")
	require.NoError(t, err)
	parts[1] = strings.Split(other, ".")[1]

	_, err = m.ParseAccess(strings.Join(parts, "."))
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestRejectsNoneAlgorithm(t *testing.T) {
	m, err := NewTokenManager(testTokenConfig(), nil)
	require.NoError(t, err)

	claims := &models.AccessClaims{Type: models.TokenTypeAccess, RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "id-1",
		Issuer:    "test",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.ParseAccess(unsigned)
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestTokenKindsAreNotInterchangeable(t *testing.T) {
	m, err := NewTokenManager(testTokenConfig(), nil)
	require.NoError(t, err)

	refresh, err := m.MintRefresh("id-1")
	require.NoError(t, err)
	_, err = m.ParseAccess(refresh.Token)
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)

	access, err := m.MintAccess("id-1")
	require.NoError(t, err)
	_, err = m.ParseRefresh(access)
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestRefreshTokensHaveUniqueIDs(t *testing.T) {
	m, err := NewTokenManager(testTokenConfig(), newFakeClock().Now)
	require.NoError(t, err)

	a, err := m.MintRefresh("id-1")
	require.NoError(t, err)
	b, err := m.MintRefresh("id-1")
	require.NoError(t, err)

	assert.NotEqual(t, a.TokenID, b.TokenID)
	assert.NotEqual(t, a.Token, b.Token)

	claims, err := m.ParseRefresh(a.Token)
	require.NoError(t, err)
	assert.Equal(t, a.TokenID, claims.ID)
	assert.True(t, a.ExpiresAt.Equal(claims.ExpiresAt.Time))
}

func TestNewTokenManagerValidates(t *testing.T) {
	cfg := testTokenConfig()
	cfg.RefreshTokenSecret = ""
	_, err := NewTokenManager(cfg, nil)
	assert.Error(t, err)
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/mobile-auth-api/internal/models"
	"github.com/noah-isme/mobile-auth-api/internal/repository"
	"github.com/noah-isme/mobile-auth-api/internal/service"
)

func newTestRouter(t *testing.T, checks ...ReadinessCheck) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens, err := service.NewTokenManager(service.TokenConfig{
		AccessTokenSecret:  "access",
		RefreshTokenSecret: "refresh",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: time.Hour,
		Issuer:             "test",
		Leeway:             5 * time.Second,
	}, nil)
	require.NoError(t, err)
	hasher, err := service.NewPasswordHasher(service.PasswordHasherConfig{Algorithm: "bcrypt", BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)

	metrics := service.NewMetricsService()
	svc := service.NewAuthService(
		repository.NewMemoryIdentityRepository(),
		repository.NewMemorySessionCache(nil),
		tokens, hasher, nil, metrics, nil,
	)
	return NewRouter(RouterConfig{APIPrefix: "/api", Auth: svc, Metrics: metrics, Checks: checks})
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func loginPair(t *testing.T, r http.Handler) models.TokenPair {
	t.Helper()
	creds := map[string]string{"email": "a@x.io", "password": "pw1"}
	w := doJSON(t, r, http.MethodPost, "/api/auth/register", creds, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = doJSON(t, r, http.MethodPost, "/api/auth/login", creds, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var pair models.TokenPair
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pair))
	return pair
}

func TestRegisterEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/auth/register", map[string]string{"email": "a@x.io", "password": "pw1"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "User registered successfully. Please verify your email.", body["message"])
	assert.NotEmpty(t, body["identityId"])
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	w = doJSON(t, r, http.MethodPost, "/api/auth/register", map[string]string{"email": "a@x.io", "password": "pw2"}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "EMAIL_TAKEN", decodeBody(t, w)["error"])

	w = doJSON(t, r, http.MethodPost, "/api/auth/register", map[string]string{"email": "nope"}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody(t, w)["error"])
}

func TestLoginEndpoint(t *testing.T) {
	r := newTestRouter(t)
	pair := loginPair(t, r)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	w := doJSON(t, r, http.MethodPost, "/api/auth/login", map[string]string{"email": "a@x.io", "password": "bad"}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "INVALID_CREDENTIALS", body["error"])
	assert.NotEmpty(t, body["message"])
}

func TestRefreshEndpoint(t *testing.T) {
	r := newTestRouter(t)
	pair := loginPair(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": pair.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var next models.TokenPair
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &next))
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	w = doJSON(t, r, http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": pair.RefreshToken}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "TOKEN_REVOKED", decodeBody(t, w)["error"])

	w = doJSON(t, r, http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": "garbage"}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", decodeBody(t, w)["error"])
}

func TestLogoutEndpoint(t *testing.T) {
	r := newTestRouter(t)
	pair := loginPair(t, r)

	for i := 0; i < 2; i++ {
		w := doJSON(t, r, http.MethodPost, "/api/auth/logout", map[string]string{"refreshToken": pair.RefreshToken}, nil)
		require.Equal(t, http.StatusNoContent, w.Code)
	}

	w := doJSON(t, r, http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": pair.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMeEndpoint(t *testing.T) {
	r := newTestRouter(t)
	pair := loginPair(t, r)

	w := doJSON(t, r, http.MethodGet, "/api/auth/me", nil, http.Header{"Authorization": {"Bearer " + pair.AccessToken}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "a@x.io", body["email"])
	assert.Equal(t, false, body["emailVerified"])

	w = doJSON(t, r, http.MethodGet, "/api/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/auth/me", nil, http.Header{"Authorization": {"Bearer " + pair.RefreshToken}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOperationalEndpoints(t *testing.T) {
	r := newTestRouter(t)
	loginPair(t, r)

	w := doJSON(t, r, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `auth_events_total{event="login",outcome="success"} 1`)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestReadyReportsFailingDependency(t *testing.T) {
	r := newTestRouter(t, ReadinessCheck{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }})

	w := doJSON(t, r, http.MethodGet, "/ready", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestDeviceLabel(t *testing.T) {
	assert.Equal(t, "unknown", deviceLabel(""))
	label := deviceLabel("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")
	assert.Contains(t, label, "Safari")
	assert.Contains(t, label, "mobile")
}

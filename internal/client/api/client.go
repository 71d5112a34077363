// Package api is the client side of the /auth endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/mobile-auth-api/internal/client/credstore"
	"github.com/noah-isme/mobile-auth-api/internal/models"
	appErrors "github.com/noah-isme/mobile-auth-api/pkg/errors"
)

// ErrRefreshRejected means the server refused the refresh token (401/403):
// the session is over and the user has to log in again.
var ErrRefreshRejected = errors.New("refresh token rejected")

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the auth endpoints below baseURL (for example http://host/api).
type Client struct {
	baseURL string
	http    Doer
	logger  *zap.Logger
}

// NewClient constructs a Client. A nil doer gets an *http.Client with timeout.
func NewClient(baseURL string, doer Doer, timeout time.Duration, logger *zap.Logger) *Client {
	if doer == nil {
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		doer = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: doer, logger: logger}
}

// URL resolves path against the base URL.
func (c *Client) URL(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// NewRequest builds a JSON request for path. body may be nil.
func (c *Client) NewRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Register creates an identity.
func (c *Client) Register(ctx context.Context, email, password string) (*models.RegisterResponse, error) {
	var out models.RegisterResponse
	if err := c.post(ctx, "/auth/register", models.RegisterRequest{Email: email, Password: password}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, email, password string) (credstore.Session, error) {
	var pair models.TokenPair
	if err := c.post(ctx, "/auth/login", models.LoginRequest{Email: email, Password: password}, &pair); err != nil {
		return credstore.Session{}, err
	}
	return sessionFrom(pair)
}

// Refresh exchanges refreshToken for a new pair. A 401 or 403 yields
// ErrRefreshRejected; anything that is not an answer from the auth server
// yields an ErrTransport error and leaves the session usable.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (credstore.Session, error) {
	var pair models.TokenPair
	err := c.post(ctx, "/auth/refresh", models.RefreshRequest{RefreshToken: refreshToken}, &pair)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && (appErr.Status == http.StatusUnauthorized || appErr.Status == http.StatusForbidden) {
			c.logger.Debug("refresh rejected by server", zap.String("code", appErr.Code))
			return credstore.Session{}, fmt.Errorf("%w: %s", ErrRefreshRejected, appErr.Code)
		}
		return credstore.Session{}, err
	}
	return sessionFrom(pair)
}

// Logout asks the server to revoke the session owning refreshToken.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	return c.post(ctx, "/auth/logout", models.LogoutRequest{RefreshToken: refreshToken}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	req, err := c.NewRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "auth server unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return DecodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "malformed auth server response")
	}
	return nil
}

// DecodeError turns a non-2xx response into an *errors.Error. 4xx answers
// keep the server's code; 5xx and unreadable bodies become ErrTransport.
func DecodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 500 {
		return appErrors.Wrap(
			fmt.Errorf("status %d", resp.StatusCode),
			appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "auth server error",
		)
	}

	var body appErrors.Error
	if err := json.Unmarshal(raw, &body); err != nil || body.Code == "" {
		return appErrors.New("HTTP_"+fmt.Sprint(resp.StatusCode), resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	body.Status = resp.StatusCode
	return &body
}

func sessionFrom(pair models.TokenPair) (credstore.Session, error) {
	s := credstore.Session{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}
	if !s.Valid() {
		return credstore.Session{}, appErrors.Clone(appErrors.ErrTransport, "auth server returned an incomplete token pair")
	}
	return s, nil
}

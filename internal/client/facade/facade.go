// Package facade is the surface an app screen talks to: sign up, log in,
// log out, restore a session at startup and send authenticated requests.
package facade

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/mobile-auth-api/internal/client/api"
	"github.com/noah-isme/mobile-auth-api/internal/client/guard"
	"github.com/noah-isme/mobile-auth-api/internal/models"
	appErrors "github.com/noah-isme/mobile-auth-api/pkg/errors"
	"github.com/noah-isme/mobile-auth-api/pkg/logger"
)

// Facade coordinates the auth endpoints with the guard's session.
type Facade struct {
	api    *api.Client
	guard  *guard.Guard
	logger *zap.Logger

	mu      sync.Mutex
	lastErr error
}

// New constructs a Facade.
func New(client *api.Client, g *guard.Guard, log *zap.Logger) *Facade {
	if log == nil {
		log = zap.NewNop()
	}
	return &Facade{api: client, guard: g, logger: log}
}

// Login authenticates and installs the new session, replacing any held one.
func (f *Facade) Login(ctx context.Context, email, password string) bool {
	session, err := f.api.Login(ctx, email, password)
	if err != nil {
		f.fail("login failed", err, logger.Email("email", email))
		return false
	}
	if err := f.guard.Install(ctx, session); err != nil {
		f.fail("failed to persist session", err, logger.Email("email", email))
		return false
	}
	f.setErr(nil)
	f.logger.Info("logged in", logger.Email("email", email))
	return true
}

// Signup registers an identity and logs it in. name is accepted for the
// signup form but is not sent to the server.
func (f *Facade) Signup(ctx context.Context, name, email, password string) bool {
	_ = name
	if _, err := f.api.Register(ctx, email, password); err != nil {
		f.fail("signup failed", err, logger.Email("email", email))
		return false
	}
	return f.Login(ctx, email, password)
}

// Logout revokes the session on the server when reachable and always
// forgets it locally.
func (f *Facade) Logout(ctx context.Context) {
	if session, ok := f.guard.Current(); ok {
		if err := f.api.Logout(ctx, session.RefreshToken); err != nil {
			f.logger.Warn("server logout failed; clearing local session anyway", zap.Error(err))
		}
	}
	if err := f.guard.Reset(ctx); err != nil {
		f.fail("failed to clear credential store", err)
		return
	}
	f.setErr(nil)
	f.logger.Info("logged out")
}

// RestoreSession loads the persisted session. It does not contact the
// server: an expired pair is discovered by the first request that needs it.
func (f *Facade) RestoreSession(ctx context.Context) guard.State {
	state, err := f.guard.Restore(ctx)
	if err != nil {
		f.fail("failed to restore session", err)
		return guard.Unauthenticated
	}
	return state
}

// State reports the current session state.
func (f *Facade) State() guard.State {
	return f.guard.Snapshot().State
}

// Do sends a business request through the guard.
func (f *Facade) Do(req *http.Request) (*http.Response, error) {
	return f.guard.Do(req)
}

// OnSessionExpired registers fn to run once when the server rejects the
// refresh token, typically to route the user back to the login screen.
func (f *Facade) OnSessionExpired(fn func()) {
	f.guard.OnSessionExpired(fn)
}

// Me fetches the identity behind the current session.
func (f *Facade) Me(ctx context.Context) (*models.Identity, error) {
	req, err := f.api.NewRequest(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, api.DecodeError(resp)
	}
	var identity models.Identity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "malformed identity response")
	}
	return &identity, nil
}

// LastError returns the reason the most recent Login, Signup, Logout or
// RestoreSession call failed, or nil.
func (f *Facade) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *Facade) fail(msg string, err error, fields ...zap.Field) {
	f.setErr(err)
	fields = append(fields, zap.String("code", appErrors.FromError(err).Code), zap.Error(err))
	f.logger.Warn(msg, fields...)
}

func (f *Facade) setErr(err error) {
	f.mu.Lock()
	f.lastErr = err
	f.mu.Unlock()
}

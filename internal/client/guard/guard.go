// Package guard attaches the session's access token to outgoing requests and
// transparently refreshes it when the server answers 401. Concurrent 401s
// share one refresh: the first becomes the leader, the rest queue behind it.
package guard

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/mobile-auth-api/internal/client/api"
	"github.com/noah-isme/mobile-auth-api/internal/client/credstore"
	appErrors "github.com/noah-isme/mobile-auth-api/pkg/errors"
)

// State is the guard's view of the session.
type State int

const (
	// Unauthenticated means no session is held; requests go out bare.
	Unauthenticated State = iota
	// Active means a session is held and requests carry its access token.
	Active
	// Refreshing means a refresh is in flight; new requests wait for it.
	Refreshing
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Refreshing:
		return "refreshing"
	default:
		return "unauthenticated"
	}
}

const defaultRefreshTimeout = 10 * time.Second

// Refresher exchanges a refresh token for a new session. It must return an
// error wrapping api.ErrRefreshRejected when the server refuses the token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (credstore.Session, error)
}

// Config wires a Guard.
type Config struct {
	Doer             api.Doer
	Refresher        Refresher
	Store            credstore.Store
	RefreshTimeout   time.Duration
	Logger           *zap.Logger
	OnSessionExpired func()
}

// Snapshot is a point-in-time view of the guard.
type Snapshot struct {
	State      State
	Generation uint64
}

// Guard is safe for concurrent use.
type Guard struct {
	doer           api.Doer
	refresher      Refresher
	store          credstore.Store
	refreshTimeout time.Duration
	logger         *zap.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	session    *credstore.Session
	flight     *flight
	onExpired  func()

	// serialises Credential Store I/O
	storeMu sync.Mutex
}

type flight struct {
	waiters []*waiter
}

type waiter struct {
	result  chan error
	started chan struct{}
	once    sync.Once
}

func (w *waiter) markStarted() {
	if w == nil {
		return
	}
	w.once.Do(func() { close(w.started) })
}

// New constructs a Guard in the Unauthenticated state. Call Restore or
// Install to load a session.
func New(cfg Config) (*Guard, error) {
	if cfg.Doer == nil || cfg.Refresher == nil || cfg.Store == nil {
		return nil, errors.New("guard requires a doer, a refresher and a store")
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Guard{
		doer:           cfg.Doer,
		refresher:      cfg.Refresher,
		store:          cfg.Store,
		refreshTimeout: cfg.RefreshTimeout,
		logger:         cfg.Logger,
		onExpired:      cfg.OnSessionExpired,
	}, nil
}

// OnSessionExpired replaces the callback fired when a refresh is rejected.
func (g *Guard) OnSessionExpired(fn func()) {
	g.mu.Lock()
	g.onExpired = fn
	g.mu.Unlock()
}

// Snapshot returns the current state and generation.
func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{State: g.state, Generation: g.generation}
}

// Current returns a copy of the held session.
func (g *Guard) Current() (credstore.Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return credstore.Session{}, false
	}
	return *g.session, true
}

// Restore loads the persisted session without contacting the server.
func (g *Guard) Restore(ctx context.Context) (State, error) {
	g.storeMu.Lock()
	defer g.storeMu.Unlock()

	session, err := g.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, credstore.ErrCorrupt) {
			return g.Snapshot().State, err
		}
		g.logger.Warn("discarding unreadable credential store", zap.Error(err))
		if clearErr := g.store.Clear(ctx); clearErr != nil {
			return g.Snapshot().State, clearErr
		}
		session = nil
	}
	if session == nil || !session.Valid() {
		g.setSession(nil, Unauthenticated)
		return Unauthenticated, nil
	}
	g.setSession(session, Active)
	return Active, nil
}

// Install persists session and makes it current.
func (g *Guard) Install(ctx context.Context, session credstore.Session) error {
	g.storeMu.Lock()
	defer g.storeMu.Unlock()
	if err := g.store.Save(ctx, session); err != nil {
		return err
	}
	g.setSession(&session, Active)
	return nil
}

// Reset forgets the session locally and in the Credential Store.
func (g *Guard) Reset(ctx context.Context) error {
	g.setSession(nil, Unauthenticated)
	g.storeMu.Lock()
	defer g.storeMu.Unlock()
	return g.store.Clear(ctx)
}

func (g *Guard) setSession(session *credstore.Session, state State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if session != nil {
		s := *session
		session = &s
	}
	g.session = session
	g.state = state
	g.generation++
	// a flight still running is detached; its waiters are released when it ends
	g.flight = nil
}

// Do sends req with the current access token. On a 401 it refreshes the
// session once (shared by all concurrent callers) and retries req once.
// The caller owns the returned response body.
func (g *Guard) Do(req *http.Request) (*http.Response, error) {
	if err := bufferBody(req); err != nil {
		return nil, err
	}
	ctx := req.Context()

	var (
		retried bool
		pending *waiter
	)
	for {
		g.mu.Lock()
		if g.state == Refreshing {
			w := g.flight.enqueue()
			g.mu.Unlock()
			pending.markStarted()
			if err := w.wait(ctx); err != nil {
				return nil, err
			}
			pending = w
			continue
		}

		state, gen := g.state, g.generation
		token := ""
		if state == Active {
			token = g.session.AccessToken
		}
		g.mu.Unlock()

		resp, err := g.send(req, token, pending)
		pending = nil
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}
		discard(resp)

		if state == Unauthenticated {
			return nil, appErrors.Clone(appErrors.ErrSessionExpired, "")
		}
		if retried {
			return nil, appErrors.Clone(appErrors.ErrAuthenticationFailed, "")
		}
		retried = true

		g.mu.Lock()
		switch {
		case g.state == Unauthenticated:
			g.mu.Unlock()
			return nil, appErrors.Clone(appErrors.ErrSessionExpired, "")
		case g.state == Refreshing:
			w := g.flight.enqueue()
			g.mu.Unlock()
			if err := w.wait(ctx); err != nil {
				return nil, err
			}
			pending = w
		case g.generation != gen:
			// a refresh completed while this request was in flight
			g.mu.Unlock()
		default:
			w := g.startFlightLocked(ctx)
			g.mu.Unlock()
			if err := w.wait(ctx); err != nil {
				return nil, err
			}
			pending = w
		}
	}
}

// startFlightLocked moves to Refreshing and launches the refresh. The caller
// holds g.mu and is enqueued as the first waiter.
func (g *Guard) startFlightLocked(ctx context.Context) *waiter {
	f := &flight{}
	leader := f.enqueue()
	g.flight = f
	g.state = Refreshing
	refreshToken := g.session.RefreshToken

	// the leader's cancellation must not abort a refresh others are waiting on
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.refreshTimeout)
	go func() {
		defer cancel()
		g.runFlight(refreshCtx, f, refreshToken)
	}()
	return leader
}

func (g *Guard) runFlight(ctx context.Context, f *flight, refreshToken string) {
	session, err := g.refresher.Refresh(ctx, refreshToken)

	var (
		result  error
		expired func()
	)
	switch {
	case err == nil:
		// storeMu before mu, as in Install. New requests may pick up the pair
		// before Save returns; the store is only read back by Restore.
		g.storeMu.Lock()
		g.mu.Lock()
		current := g.flight == f
		if current {
			g.session = &session
			g.generation++
			g.state = Active
			g.flight = nil
		}
		g.mu.Unlock()
		if current {
			if saveErr := g.store.Save(ctx, session); saveErr != nil {
				// the stored refresh token is now superseded; replaying it
				// after a restart would be treated as reuse
				g.logger.Warn("failed to persist refreshed session; clearing credential store", zap.Error(saveErr))
				if clearErr := g.store.Clear(ctx); clearErr != nil {
					g.logger.Error("failed to clear credential store", zap.Error(clearErr))
				}
			}
		}
		g.storeMu.Unlock()
		g.logger.Debug("session refreshed")

	case errors.Is(err, api.ErrRefreshRejected):
		g.storeMu.Lock()
		g.mu.Lock()
		current := g.flight == f
		if current {
			g.session = nil
			g.generation++
			g.state = Unauthenticated
			g.flight = nil
			expired = g.onExpired
		}
		g.mu.Unlock()
		if current {
			if clearErr := g.store.Clear(ctx); clearErr != nil {
				g.logger.Warn("failed to clear credential store", zap.Error(clearErr))
			}
		}
		g.storeMu.Unlock()
		g.logger.Info("session expired; refresh token rejected")
		result = appErrors.Clone(appErrors.ErrSessionExpired, "")

	default:
		g.mu.Lock()
		if g.flight == f {
			g.state = Active
			g.flight = nil
		}
		g.mu.Unlock()
		g.logger.Warn("session refresh failed", zap.Error(err))
		if errors.Is(err, appErrors.ErrTransport) {
			result = err
		} else {
			result = appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "session refresh failed")
		}
	}

	if expired != nil {
		expired()
	}
	f.release(result)
}

func (f *flight) enqueue() *waiter {
	w := &waiter{result: make(chan error, 1), started: make(chan struct{})}
	f.waiters = append(f.waiters, w)
	return w
}

// release wakes waiters one at a time in arrival order. Each waiter marks
// itself started just before sending, or immediately when it gives up.
// The waiter list is frozen: no enqueue happens once the flight is detached
// from the guard.
func (f *flight) release(result error) {
	for _, w := range f.waiters {
		w.result <- result
		<-w.started
	}
}

func (w *waiter) wait(ctx context.Context) error {
	select {
	case err := <-w.result:
		if err != nil {
			w.markStarted()
		}
		return err
	case <-ctx.Done():
		w.markStarted()
		return ctx.Err()
	}
}

func (g *Guard) send(req *http.Request, token string, pending *waiter) (*http.Response, error) {
	out := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			pending.markStarted()
			return nil, err
		}
		out.Body = body
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}

	pending.markStarted()
	resp, err := g.doer.Do(out)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "request failed")
	}
	return resp, nil
}

// bufferBody makes the body replayable for the retry.
func bufferBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	payload, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return err
	}
	req.Body = io.NopCloser(bytes.NewReader(payload))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	return nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

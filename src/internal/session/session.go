// FILE: srpauth/src/internal/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"srpauth/src/internal/api"
	"srpauth/src/internal/core"
	"srpauth/src/internal/metrics"
	"srpauth/src/internal/transport"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lixenwraith/log"
	"golang.org/x/sync/singleflight"
)

// Invalidation reasons
const (
	ReasonLogout  = "logout"
	ReasonRevoked = "revoked"
)

// TokenPair is published as a unit; readers never see a torn pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Info is the login outcome a Session is built from.
type Info struct {
	UID          string
	UserID       string
	AccessToken  string
	RefreshToken string
	Scope        string
	TwoFA        api.TwoFAStatus
	PasswordMode api.PasswordMode
}

// RefreshData is enough to restore a session without logging in again.
type RefreshData struct {
	UID          string `json:"uid"`
	RefreshToken string `json:"refresh_token"`
}

// Options wires optional collaborators into a Session.
type Options struct {
	Logger  *log.Logger
	Metrics *metrics.Metrics
	Store   Store
	Events  EventPublisher
	// HVTable recognises human verification on refresh; nil uses the default
	HVTable api.HVTable
	// OnRefreshed runs after every successful refresh with the new pair
	OnRefreshed func(uid string, pair TokenPair)
}

type state struct {
	pair  TokenPair
	scope string
}

// Session is an authenticated credential. It is safe for concurrent use.
type Session struct {
	uid          string
	userID       string
	twoFA        api.TwoFAStatus
	passwordMode api.PasswordMode

	transport transport.Transport
	current   atomic.Pointer[state]
	dead      atomic.Bool
	refresh   singleflight.Group

	logger      *log.Logger
	metrics     *metrics.Metrics
	store       Store
	events      EventPublisher
	hvTable     api.HVTable
	onRefreshed func(uid string, pair TokenPair)
}

// New creates a Session from a completed login.
func New(t transport.Transport, info Info, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = log.NewLogger()
	}
	if opts.HVTable == nil {
		opts.HVTable = api.DefaultHVTable()
	}
	s := &Session{
		uid:          info.UID,
		userID:       info.UserID,
		twoFA:        info.TwoFA,
		passwordMode: info.PasswordMode,
		transport:    t,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		store:        opts.Store,
		events:       opts.Events,
		hvTable:      opts.HVTable,
		onRefreshed:  opts.OnRefreshed,
	}
	s.current.Store(&state{
		pair:  TokenPair{AccessToken: info.AccessToken, RefreshToken: info.RefreshToken},
		scope: info.Scope,
	})
	return s
}

// Restore rebuilds a session from refresh data by performing a refresh.
func Restore(ctx context.Context, t transport.Transport, data RefreshData, opts Options) (*Session, error) {
	if data.UID == "" || data.RefreshToken == "" {
		return nil, fmt.Errorf("incomplete refresh data")
	}
	s := New(t, Info{UID: data.UID, RefreshToken: data.RefreshToken}, opts)
	if _, err := s.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	return s, nil
}

// Load restores the session for uid from the configured store.
func Load(ctx context.Context, t transport.Transport, uid string, opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("no session store configured")
	}
	data, err := opts.Store.Load(ctx, uid)
	if err != nil {
		return nil, err
	}
	return Restore(ctx, t, data, opts)
}

func (s *Session) UID() string                    { return s.uid }
func (s *Session) UserID() string                 { return s.userID }
func (s *Session) TwoFA() api.TwoFAStatus         { return s.twoFA }
func (s *Session) PasswordMode() api.PasswordMode { return s.passwordMode }

// Scope is the scope granted with the current token pair.
func (s *Session) Scope() string {
	return s.current.Load().scope
}

// Tokens returns the current token pair.
func (s *Session) Tokens() TokenPair {
	return s.current.Load().pair
}

// Valid reports whether the session has not been invalidated.
func (s *Session) Valid() bool {
	return !s.dead.Load()
}

// RefreshData exports what Restore needs.
func (s *Session) RefreshData() RefreshData {
	return RefreshData{UID: s.uid, RefreshToken: s.Tokens().RefreshToken}
}

// Persist saves the refresh data to the configured store, if any.
func (s *Session) Persist(ctx context.Context) error {
	if s.store == nil || s.dead.Load() {
		return nil
	}
	return s.store.Save(ctx, s.RefreshData())
}

// ExpiresAt reads the exp claim of a JWT access token. Opaque tokens
// report false.
func (s *Session) ExpiresAt() (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(s.Tokens().AccessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Authorize attaches the UID and bearer token to req.
func (s *Session) Authorize(req *transport.Request) error {
	if s.dead.Load() {
		return &api.AuthError{Kind: api.SessionInvalidated}
	}
	setAuthHeaders(req, s.uid, s.Tokens().AccessToken)
	return nil
}

func setAuthHeaders(req *transport.Request, uid, access string) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Set(core.HeaderUID, uid)
	req.Header.Set(core.HeaderAuthorization, "Bearer "+access)
}

// Refresh exchanges the refresh token for a new pair. Concurrent callers
// share one in-flight request and observe the same result.
func (s *Session) Refresh(ctx context.Context) (TokenPair, error) {
	return s.refreshFrom(ctx, "")
}

// RefreshIfCurrent refreshes only if stale is still the current access
// token. A caller that saw stale rejected gets the newer pair without
// another round trip when someone else already rotated it.
func (s *Session) RefreshIfCurrent(ctx context.Context, stale string) (TokenPair, error) {
	return s.refreshFrom(ctx, stale)
}

func (s *Session) refreshFrom(ctx context.Context, stale string) (TokenPair, error) {
	if s.dead.Load() {
		return TokenPair{}, &api.AuthError{Kind: api.SessionInvalidated}
	}
	if stale != "" {
		if pair := s.Tokens(); pair.AccessToken != stale {
			return pair, nil
		}
	}

	ch := s.refresh.DoChan(s.uid, func() (any, error) {
		return s.doRefresh(context.WithoutCancel(ctx), stale)
	})

	select {
	case res := <-ch:
		if res.Shared {
			s.metrics.IncrementCoalesced()
		}
		if res.Err != nil {
			return TokenPair{}, res.Err
		}
		return res.Val.(TokenPair), nil
	case <-ctx.Done():
		return TokenPair{}, &api.RefreshError{Kind: api.RefreshRetryable, Err: ctx.Err()}
	}
}

func (s *Session) doRefresh(ctx context.Context, stale string) (TokenPair, error) {
	if s.dead.Load() {
		return TokenPair{}, &api.AuthError{Kind: api.SessionInvalidated}
	}
	cur := s.current.Load()
	// A flight that finished after the caller's check already rotated stale
	if stale != "" && cur.pair.AccessToken != stale {
		return cur.pair, nil
	}

	req, err := api.NewAuthRefreshRequest(s.uid, cur.pair.RefreshToken)
	if err != nil {
		return TokenPair{}, &api.RefreshError{Kind: api.RefreshRetryable, Err: err}
	}

	s.logger.Debug("msg", "Refreshing session tokens",
		"component", "session",
		"uid", s.uid)

	out, err := api.Call[api.AuthRefresh](ctx, s.transport, "refresh", req)
	if err != nil {
		// A challenge is recoverable; the session stays valid
		if hvErr := s.hvTable.Classify(err); errors.Is(hvErr, api.ErrHumanVerificationRequired) {
			s.metrics.ObserveRefresh(metrics.ResultFailure)
			s.logger.Warn("msg", "Human verification required to refresh session",
				"component", "session",
				"uid", s.uid)
			return TokenPair{}, hvErr
		}
		if revoked(err) {
			s.metrics.ObserveRefresh(metrics.ResultRevoked)
			s.logger.Warn("msg", "Refresh token rejected, invalidating session",
				"component", "session",
				"uid", s.uid,
				"error", err)
			s.invalidate(ctx, ReasonRevoked)
			return TokenPair{}, &api.RefreshError{Kind: api.RefreshRevoked, Err: err}
		}
		s.metrics.ObserveRefresh(metrics.ResultFailure)
		s.logger.Warn("msg", "Session refresh failed",
			"component", "session",
			"uid", s.uid,
			"error", err)
		return TokenPair{}, &api.RefreshError{Kind: api.RefreshRetryable, Err: err}
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		s.metrics.ObserveRefresh(metrics.ResultFailure)
		return TokenPair{}, &api.ProtocolError{Op: "refresh", Err: errors.New("response is missing tokens")}
	}

	next := &state{
		pair:  TokenPair{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken},
		scope: out.Scope,
	}
	if next.scope == "" {
		next.scope = cur.scope
	}
	if !s.current.CompareAndSwap(cur, next) || s.dead.Load() {
		return TokenPair{}, &api.AuthError{Kind: api.SessionInvalidated}
	}
	s.metrics.ObserveRefresh(metrics.ResultSuccess)

	s.logger.Debug("msg", "Session tokens refreshed",
		"component", "session",
		"uid", s.uid)

	s.afterRefresh(ctx, next.pair)
	return next.pair, nil
}

func (s *Session) afterRefresh(ctx context.Context, pair TokenPair) {
	if s.store != nil {
		if err := s.store.Save(ctx, s.RefreshData()); err != nil {
			s.logger.Warn("msg", "Failed to persist refresh data",
				"component", "session",
				"uid", s.uid,
				"error", err)
		}
	}
	if s.events != nil {
		if err := s.events.Publish(ctx, Event{Kind: EventRefreshed, UID: s.uid, At: time.Now()}); err != nil {
			s.logger.Warn("msg", "Failed to publish session event",
				"component", "session",
				"uid", s.uid,
				"error", err)
		}
	}
	if s.onRefreshed != nil {
		s.onRefreshed(s.uid, pair)
	}
}

// revoked separates definitive rejections from transient failures. Callers
// rule out human verification first.
func revoked(err error) bool {
	apiErr, ok := api.AsAPIError(err)
	if !ok {
		return false
	}
	if apiErr.Code == core.CodeInvalidRefreshToken {
		return true
	}
	switch apiErr.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// Logout asks the server to revoke the session, then invalidates it
// locally whatever the outcome.
func (s *Session) Logout(ctx context.Context) error {
	if s.dead.Load() {
		return nil
	}
	defer s.invalidate(ctx, ReasonLogout)

	req := api.NewLogoutRequest()
	setAuthHeaders(req, s.uid, s.Tokens().AccessToken)

	resp, err := s.transport.Send(ctx, req)
	if err != nil {
		s.logger.Warn("msg", "Server-side logout failed",
			"component", "session",
			"uid", s.uid,
			"error", err)
		return fmt.Errorf("logout: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("logout: %w", api.NewAPIError(resp.Status, resp.Body))
	}
	return nil
}

// Invalidate kills the session locally without any I/O.
func (s *Session) Invalidate() {
	s.invalidate(context.Background(), ReasonLogout)
}

func (s *Session) invalidate(ctx context.Context, reason string) {
	if !s.dead.CompareAndSwap(false, true) {
		return
	}
	s.current.Store(&state{scope: s.current.Load().scope})
	s.metrics.ObserveInvalidation(reason)
	s.logger.Info("msg", "Session invalidated",
		"component", "session",
		"uid", s.uid,
		"reason", reason)

	if s.store != nil {
		if err := s.store.Delete(ctx, s.uid); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Warn("msg", "Failed to remove refresh data",
				"component", "session",
				"uid", s.uid,
				"error", err)
		}
	}
	if s.events != nil {
		if err := s.events.Publish(ctx, Event{Kind: EventLoggedOut, UID: s.uid, Reason: reason, At: time.Now()}); err != nil {
			s.logger.Warn("msg", "Failed to publish session event",
				"component", "session",
				"uid", s.uid,
				"error", err)
		}
	}
}

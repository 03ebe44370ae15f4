// FILE: srpauth/src/internal/auth/handshake.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"srpauth/src/internal/api"
	"srpauth/src/internal/core"
	"srpauth/src/internal/metrics"
	"srpauth/src/internal/session"
	"srpauth/src/internal/srp"
	"srpauth/src/internal/transport"

	"github.com/lixenwraith/log"
)

// Defaults for the info step retry and the second factor window
const (
	DefaultInfoRetries        = 3
	DefaultInfoBackoff        = 200 * time.Millisecond
	DefaultMaxBackoff         = 2 * time.Second
	DefaultSecondFactorWindow = 5 * time.Minute
)

// Handshake drives one login attempt. Methods return ErrInvalidState when
// called out of order or while another call on the same instance is in
// flight.
type Handshake struct {
	mu    sync.Mutex
	state atomic.Int32

	transport   transport.Transport
	logger      *log.Logger
	metrics     *metrics.Metrics
	hvTable     api.HVTable
	hv          *api.HumanVerificationLogin
	sessionOpts session.Options

	infoRetries int
	infoBackoff time.Duration
	maxBackoff  time.Duration
	window      time.Duration

	username    string
	challenge   *srp.Challenge
	pending     *api.Auth
	requirement *SecondFactorRequirement
	session     *session.Session
	err         error
}

// Option configures a Handshake.
type Option func(*Handshake)

func WithLogger(logger *log.Logger) Option {
	return func(h *Handshake) { h.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handshake) { h.metrics = m }
}

// WithHumanVerification replays a solved challenge on login requests.
func WithHumanVerification(token, tokenType string) Option {
	return func(h *Handshake) {
		h.hv = &api.HumanVerificationLogin{Token: token, Type: tokenType}
	}
}

func WithHVTable(table api.HVTable) Option {
	return func(h *Handshake) { h.hvTable = table }
}

// WithInfoRetry bounds the retries of the info step.
func WithInfoRetry(retries int, backoff, maxBackoff time.Duration) Option {
	return func(h *Handshake) {
		h.infoRetries = retries
		h.infoBackoff = backoff
		h.maxBackoff = maxBackoff
	}
}

// WithSecondFactorWindow sets how long a pending second factor stays valid.
func WithSecondFactorWindow(d time.Duration) Option {
	return func(h *Handshake) { h.window = d }
}

// WithSessionOptions is passed to the Session created on success.
func WithSessionOptions(opts session.Options) Option {
	return func(h *Handshake) { h.sessionOpts = opts }
}

// NewHandshake creates an idle handshake over t.
func NewHandshake(t transport.Transport, opts ...Option) *Handshake {
	h := &Handshake{
		transport:   t,
		hvTable:     api.DefaultHVTable(),
		infoRetries: DefaultInfoRetries,
		infoBackoff: DefaultInfoBackoff,
		maxBackoff:  DefaultMaxBackoff,
		window:      DefaultSecondFactorWindow,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = log.NewLogger()
	}
	if h.sessionOpts.Logger == nil {
		h.sessionOpts.Logger = h.logger
	}
	if h.sessionOpts.HVTable == nil {
		h.sessionOpts.HVTable = h.hvTable
	}
	if h.sessionOpts.Metrics == nil {
		h.sessionOpts.Metrics = h.metrics
	}
	return h
}

// State returns the current state without waiting for in-flight calls.
func (h *Handshake) State() State {
	return State(h.state.Load())
}

func (h *Handshake) setState(s State) {
	h.state.Store(int32(s))
}

// Err returns the cause of a Failed handshake.
func (h *Handshake) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// enter takes the instance lock and checks the expected state.
func (h *Handshake) enter(want State) error {
	if !h.mu.TryLock() {
		return fmt.Errorf("%w: another call is in flight", ErrInvalidState)
	}
	if cur := h.State(); cur != want {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s, want %s", ErrInvalidState, cur, want)
	}
	return nil
}

// RequestInfo fetches the login challenge for username. Retryable
// transport failures are retried with bounded exponential backoff.
func (h *Handshake) RequestInfo(ctx context.Context, username string) error {
	if err := h.enter(Idle); err != nil {
		return err
	}
	defer h.mu.Unlock()

	h.username = username
	h.logger.Debug("msg", "Requesting login info",
		"component", "auth")

	info, err := h.fetchInfo(ctx, username)
	if err != nil {
		return h.fail(h.classify(err))
	}
	if info.SRPSession == "" || len(info.Modulus) == 0 || len(info.ServerEphemeral) == 0 {
		return h.fail(&api.ProtocolError{Op: "info", Err: errors.New("incomplete login challenge")})
	}

	h.challenge = &srp.Challenge{
		Version:         info.Version,
		Modulus:         info.Modulus,
		ServerEphemeral: info.ServerEphemeral,
		Salt:            info.Salt,
		SessionID:       info.SRPSession,
	}
	h.setState(InfoRequested)
	return nil
}

func (h *Handshake) fetchInfo(ctx context.Context, username string) (*api.AuthInfo, error) {
	backoff := h.infoBackoff
	for attempt := 0; ; attempt++ {
		req, err := api.NewAuthInfoRequest(username, h.hv)
		if err != nil {
			return nil, err
		}
		info, err := api.Call[api.AuthInfo](ctx, h.transport, "info", req)
		if err == nil {
			return info, nil
		}
		if !transport.IsRetryable(err) || attempt >= h.infoRetries {
			return nil, err
		}

		h.logger.Warn("msg", "Login info request failed, retrying",
			"component", "auth",
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("info: %w", ctx.Err())
		case <-timer.C:
		}

		backoff *= 2
		if backoff > h.maxBackoff {
			backoff = h.maxBackoff
		}
	}
}

// SubmitProof derives the client proof from password and submits it. The
// server proof is verified before anything from the response is trusted.
// A non-nil requirement means a second factor is now pending.
func (h *Handshake) SubmitProof(ctx context.Context, password []byte) (*SecondFactorRequirement, error) {
	if err := h.enter(InfoRequested); err != nil {
		return nil, err
	}
	defer h.mu.Unlock()

	ch := h.challenge
	h.challenge = nil
	defer ch.Zero()

	proof, err := srp.DeriveProof(h.username, password, ch)
	if err != nil {
		return nil, h.fail(err)
	}
	defer proof.Zero()

	h.setState(ProofSubmitted)

	req, err := api.NewAuthRequest(api.AuthReq{
		Username:        h.username,
		ClientEphemeral: proof.ClientEphemeral,
		ClientProof:     proof.ClientProof,
		SRPSession:      ch.SessionID,
	}, h.hv)
	if err != nil {
		return nil, h.fail(err)
	}

	auth, err := api.Call[api.Auth](ctx, h.transport, "auth", req)
	if err != nil {
		return nil, h.fail(h.classify(err))
	}
	if !proof.VerifyServerProof(auth.ServerProof) {
		h.logger.Error("msg", "Server proof verification failed",
			"component", "auth")
		if auth.UID != "" {
			h.revoke(ctx, auth)
		}
		return nil, h.fail(ErrServerProofMismatch)
	}
	if auth.UID == "" || auth.AccessToken == "" || auth.RefreshToken == "" {
		return nil, h.fail(&api.ProtocolError{Op: "auth", Err: errors.New("response is missing session tokens")})
	}

	switch auth.TwoFA.Enabled {
	case api.TwoFADisabled:
		h.authenticate(ctx, auth, auth.Scope)
		return nil, nil

	case api.TOTPEnabled, api.TOTPOrFIDO2Enabled:
		methods := []string{MethodTOTP}
		if auth.TwoFA.Enabled == api.TOTPOrFIDO2Enabled {
			methods = append(methods, MethodFIDO2)
		}
		h.pending = auth
		h.requirement = &SecondFactorRequirement{
			UID:       auth.UID,
			Methods:   methods,
			ExpiresAt: time.Now().Add(h.window),
		}
		h.setState(SecondFactorPending)
		h.logger.Info("msg", "Second factor required",
			"component", "auth",
			"uid", auth.UID,
			"methods", methods)
		r := *h.requirement
		return &r, nil

	case api.FIDO2Enabled:
		h.revoke(ctx, auth)
		return nil, h.fail(fmt.Errorf("%w: %s", ErrUnsupportedSecondFactor, auth.TwoFA.Enabled))

	default:
		h.revoke(ctx, auth)
		return nil, h.fail(&api.ProtocolError{Op: "auth", Err: fmt.Errorf("unknown 2FA status %d", auth.TwoFA.Enabled)})
	}
}

// SubmitSecondFactor sends a TOTP code. A wrong code leaves the handshake
// pending so the caller can try again until the window closes.
func (h *Handshake) SubmitSecondFactor(ctx context.Context, code string) (*session.Session, error) {
	if err := h.enter(SecondFactorPending); err != nil {
		return nil, err
	}
	defer h.mu.Unlock()

	if h.requirement.Expired(time.Now()) {
		h.revoke(ctx, h.pending)
		return nil, h.fail(&api.AuthError{Kind: api.ChallengeExpired})
	}

	req, err := api.NewAuth2FARequest(code)
	if err != nil {
		return nil, h.fail(err)
	}
	req.Header.Set(core.HeaderUID, h.pending.UID)
	req.Header.Set(core.HeaderAuthorization, "Bearer "+h.pending.AccessToken)

	out, err := api.Call[api.Auth2FA](ctx, h.transport, "2fa", req)
	if err != nil {
		err = h.classify(err)
		if errors.Is(err, api.ErrSecondFactorInvalid) {
			h.logger.Warn("msg", "Second factor code rejected",
				"component", "auth",
				"uid", h.pending.UID)
			return nil, err
		}
		return nil, h.fail(err)
	}

	scope := out.Scope
	if scope == "" {
		scope = core.ScopeFull
	}
	h.authenticate(ctx, h.pending, scope)
	return h.session, nil
}

// Requirement returns the pending second factor, if any.
func (h *Handshake) Requirement() (*SecondFactorRequirement, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.requirement == nil || h.State() != SecondFactorPending {
		return nil, false
	}
	r := *h.requirement
	return &r, true
}

// Session returns the session of an authenticated handshake.
func (h *Handshake) Session() (*session.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch st := h.State(); st {
	case Authenticated:
		return h.session, nil
	case SecondFactorPending:
		return nil, &api.AuthError{Kind: api.SecondFactorRequired}
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, st)
	}
}

// Login runs the info and proof steps. When a second factor is required
// the returned requirement is non-nil and the session is nil.
func (h *Handshake) Login(ctx context.Context, username string, password []byte) (*session.Session, *SecondFactorRequirement, error) {
	if err := h.RequestInfo(ctx, username); err != nil {
		return nil, nil, err
	}
	req, err := h.SubmitProof(ctx, password)
	if err != nil {
		return nil, nil, err
	}
	if req != nil {
		return nil, req, nil
	}
	s, err := h.Session()
	return s, nil, err
}

// Logout ends an authenticated or pending session. The handshake is
// LoggedOut afterwards even if the server could not be reached.
func (h *Handshake) Logout(ctx context.Context) error {
	if !h.mu.TryLock() {
		return fmt.Errorf("%w: another call is in flight", ErrInvalidState)
	}
	defer h.mu.Unlock()

	var err error
	switch st := h.State(); st {
	case Authenticated:
		err = h.session.Logout(ctx)
	case SecondFactorPending:
		h.revoke(ctx, h.pending)
		h.pending = nil
		h.requirement = nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidState, st)
	}
	h.setState(LoggedOut)
	h.logger.Info("msg", "Logged out", "component", "auth")
	return err
}

// Abort drops all challenge material. An unfinished handshake fails with
// ErrAborted; finished ones are left alone.
func (h *Handshake) Abort() {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.State() {
	case Authenticated, Failed, LoggedOut:
		return
	}
	h.challenge.Zero()
	h.challenge = nil
	h.pending = nil
	h.requirement = nil
	h.err = ErrAborted
	h.setState(Failed)
}

func (h *Handshake) authenticate(ctx context.Context, auth *api.Auth, scope string) {
	h.session = session.New(h.transport, session.Info{
		UID:          auth.UID,
		UserID:       auth.UserID,
		AccessToken:  auth.AccessToken,
		RefreshToken: auth.RefreshToken,
		Scope:        scope,
		TwoFA:        auth.TwoFA.Enabled,
		PasswordMode: auth.PasswordMode,
	}, h.sessionOpts)
	h.pending = nil
	h.requirement = nil
	h.setState(Authenticated)
	h.metrics.ObserveHandshake(metrics.ResultSuccess)

	if err := h.session.Persist(ctx); err != nil {
		h.logger.Warn("msg", "Failed to persist refresh data",
			"component", "auth",
			"uid", auth.UID,
			"error", err)
	}
	h.logger.Info("msg", "Login completed",
		"component", "auth",
		"uid", auth.UID,
		"scope", scope)
}

// revoke makes a best-effort logout for tokens that will never reach a
// Session.
func (h *Handshake) revoke(ctx context.Context, auth *api.Auth) {
	if auth == nil {
		return
	}
	req := api.NewLogoutRequest()
	req.Header.Set(core.HeaderUID, auth.UID)
	req.Header.Set(core.HeaderAuthorization, "Bearer "+auth.AccessToken)
	if _, err := h.transport.Send(ctx, req); err != nil {
		h.logger.Debug("msg", "Failed to revoke unfinished session",
			"component", "auth",
			"error", err)
	}
}

func (h *Handshake) fail(err error) error {
	h.challenge.Zero()
	h.challenge = nil
	h.pending = nil
	h.requirement = nil
	h.err = err
	h.setState(Failed)
	h.metrics.ObserveHandshake(metrics.ResultFailure)

	h.logger.Warn("msg", "Login failed",
		"component", "auth",
		"error", err)
	return err
}

// classify maps API errors onto authentication outcomes.
func (h *Handshake) classify(err error) error {
	err = h.hvTable.Classify(err)
	if errors.Is(err, api.ErrHumanVerificationRequired) {
		h.metrics.IncrementHumanVerifications()
		return err
	}

	apiErr, ok := api.AsAPIError(err)
	if !ok {
		return err
	}
	switch apiErr.Code {
	case core.CodeWrongPassword:
		return &api.AuthError{Kind: api.InvalidCredentials, API: apiErr}
	case core.CodeChallengeExpired:
		return &api.AuthError{Kind: api.ChallengeExpired, API: apiErr}
	case core.CodeInvalid2FACode:
		return &api.AuthError{Kind: api.SecondFactorInvalid, API: apiErr}
	}
	return err
}

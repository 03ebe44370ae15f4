// FILE: srpauth/src/internal/session/session_test.go
package session

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"srpauth/src/internal/api"
	"srpauth/src/internal/core"
	"srpauth/src/internal/metrics"
	"srpauth/src/internal/srp"
	"srpauth/src/internal/testserver"
	"srpauth/src/internal/transport"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/lixenwraith/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *log.Logger {
	return log.NewLogger()
}

type fixture struct {
	srv *testserver.Server
	tr  transport.Transport
}

func newFixture(t *testing.T, sequential bool) *fixture {
	t.Helper()
	return newBackendFixture(t, sequential, transport.BackendSync)
}

func newBackendFixture(t *testing.T, sequential bool, backend string) *fixture {
	t.Helper()
	opts := testserver.DefaultOptions()
	opts.Sequential = sequential
	srv, err := testserver.New(opts, newTestLogger())
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	topts := transport.DefaultOptions()
	topts.BaseURL = srv.URL()
	topts.Backend = backend
	topts.Timeout = 5 * time.Second
	tr, err := transport.New(topts, newTestLogger())
	require.NoError(t, err)

	_, err = srv.CreateUser("alice", []byte("password"))
	require.NoError(t, err)
	return &fixture{srv: srv, tr: tr}
}

// login performs the raw SRP exchange and returns the session info.
func (f *fixture) login(t *testing.T) Info {
	t.Helper()
	ctx := context.Background()

	req, err := api.NewAuthInfoRequest("alice", nil)
	require.NoError(t, err)
	info, err := api.Call[api.AuthInfo](ctx, f.tr, "info", req)
	require.NoError(t, err)

	proof, err := srp.DeriveProof("alice", []byte("password"), &srp.Challenge{
		Version:         info.Version,
		Modulus:         info.Modulus,
		ServerEphemeral: info.ServerEphemeral,
		Salt:            info.Salt,
		SessionID:       info.SRPSession,
	})
	require.NoError(t, err)
	defer proof.Zero()

	req, err = api.NewAuthRequest(api.AuthReq{
		Username:        "alice",
		ClientEphemeral: proof.ClientEphemeral,
		ClientProof:     proof.ClientProof,
		SRPSession:      info.SRPSession,
	}, nil)
	require.NoError(t, err)
	auth, err := api.Call[api.Auth](ctx, f.tr, "auth", req)
	require.NoError(t, err)
	require.True(t, proof.VerifyServerProof(auth.ServerProof))

	return Info{
		UID:          auth.UID,
		UserID:       auth.UserID,
		AccessToken:  auth.AccessToken,
		RefreshToken: auth.RefreshToken,
		Scope:        auth.Scope,
		TwoFA:        auth.TwoFA.Enabled,
		PasswordMode: auth.PasswordMode,
	}
}

func (f *fixture) newSession(t *testing.T, opts Options) *Session {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = newTestLogger()
	}
	return New(f.tr, f.login(t), opts)
}

// getUser issues a protected call with the given session.
func (f *fixture) getUser(s *Session) (*api.UserResponse, error) {
	req := api.NewUserRequest()
	if err := s.Authorize(req); err != nil {
		return nil, err
	}
	return api.Call[api.UserResponse](context.Background(), f.tr, "user", req)
}

func TestSession_RefreshRotatesTokens(t *testing.T) {
	f := newFixture(t, true)
	s := f.newSession(t, Options{})

	assert.Equal(t, "u1", s.UID())
	assert.Equal(t, TokenPair{AccessToken: "a1", RefreshToken: "r1"}, s.Tokens())
	assert.Equal(t, core.ScopeFull, s.Scope())

	pair, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TokenPair{AccessToken: "a2", RefreshToken: "r2"}, pair)
	assert.Equal(t, pair, s.Tokens())

	t.Run("OldAccessTokenRejected", func(t *testing.T) {
		req := api.NewUserRequest()
		req.Header.Set(core.HeaderUID, "u1")
		req.Header.Set(core.HeaderAuthorization, "Bearer a1")
		resp, err := f.tr.Send(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.Status)
	})

	t.Run("NewAccessTokenAccepted", func(t *testing.T) {
		user, err := f.getUser(s)
		require.NoError(t, err)
		assert.Equal(t, s.UserID(), user.User.ID)
	})
}

func TestSession_Authorize(t *testing.T) {
	s := New(nil, Info{UID: "u9", AccessToken: "tok"}, Options{Logger: newTestLogger()})

	req := transport.NewRequest(http.MethodGet, "x")
	require.NoError(t, s.Authorize(req))
	assert.Equal(t, "u9", req.Header.Get(core.HeaderUID))
	assert.Equal(t, "Bearer tok", req.Header.Get(core.HeaderAuthorization))

	req = &transport.Request{Method: http.MethodGet, Path: "x"}
	require.NoError(t, s.Authorize(req))
	assert.Equal(t, "u9", req.Header.Get(core.HeaderUID))

	s.Invalidate()
	assert.False(t, s.Valid())
	assert.ErrorIs(t, s.Authorize(transport.NewRequest(http.MethodGet, "x")), api.ErrSessionInvalidated)
	assert.Empty(t, s.Tokens().AccessToken)
}

func TestSession_ConcurrentRefreshCoalesced(t *testing.T) {
	for _, backend := range []string{transport.BackendSync, transport.BackendAsync} {
		t.Run(backend, func(t *testing.T) {
			f := newBackendFixture(t, false, backend)
			reg := prometheus.NewRegistry()
			m := metrics.New(reg)
			s := f.newSession(t, Options{Metrics: m})

			f.srv.SetRefreshDelay(150 * time.Millisecond)

			const callers = 16
			var (
				wg    sync.WaitGroup
				start = make(chan struct{})
				pairs = make([]TokenPair, callers)
				errs  = make([]error, callers)
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					pairs[i], errs[i] = s.Refresh(context.Background())
				}(i)
			}
			close(start)
			wg.Wait()

			for i := 0; i < callers; i++ {
				require.NoError(t, errs[i])
				assert.Equal(t, pairs[0], pairs[i])
			}
			assert.Equal(t, uint64(1), f.srv.Stats().Refresh)
			assert.Equal(t, pairs[0], s.Tokens())
			assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues(metrics.ResultSuccess)))
			assert.Greater(t, testutil.ToFloat64(m.RefreshesCoalesced), 0.0)

			_, err := f.getUser(s)
			assert.NoError(t, err)
		})
	}
}

func TestSession_RefreshIfCurrent(t *testing.T) {
	f := newFixture(t, true)
	s := f.newSession(t, Options{})
	ctx := context.Background()

	first, err := s.RefreshIfCurrent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "a2", first.AccessToken)

	again, err := s.RefreshIfCurrent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, uint64(1), f.srv.Stats().Refresh)
}

func TestSession_RefreshFailures(t *testing.T) {
	t.Run("Retryable", func(t *testing.T) {
		f := newFixture(t, false)
		s := f.newSession(t, Options{})
		before := s.Tokens()

		f.srv.FailNextRefresh(http.StatusServiceUnavailable, 0)
		_, err := s.Refresh(context.Background())
		require.ErrorIs(t, err, api.ErrRefreshRetryable)
		assert.True(t, s.Valid())
		assert.Equal(t, before, s.Tokens())

		_, err = s.Refresh(context.Background())
		require.NoError(t, err)
	})

	t.Run("Revoked", func(t *testing.T) {
		f := newFixture(t, false)
		s := f.newSession(t, Options{})

		f.srv.FailNextRefresh(http.StatusUnprocessableEntity, core.CodeInvalidRefreshToken)
		_, err := s.Refresh(context.Background())
		require.ErrorIs(t, err, api.ErrRefreshRevoked)
		apiErr, ok := api.AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, core.CodeInvalidRefreshToken, apiErr.Code)
		assert.False(t, s.Valid())

		calls := f.srv.Stats().Refresh
		_, err = s.Refresh(context.Background())
		assert.ErrorIs(t, err, api.ErrSessionInvalidated)
		assert.ErrorIs(t, s.Authorize(api.NewUserRequest()), api.ErrSessionInvalidated)
		assert.Equal(t, calls, f.srv.Stats().Refresh, "invalidated sessions must not touch the network")
	})

	t.Run("ServerSideRevocation", func(t *testing.T) {
		f := newFixture(t, false)
		s := f.newSession(t, Options{})

		require.True(t, f.srv.RevokeSession(s.UID()))
		_, err := s.Refresh(context.Background())
		require.ErrorIs(t, err, api.ErrRefreshRevoked)
		assert.False(t, s.Valid())
	})

	t.Run("HumanVerification", func(t *testing.T) {
		f := newFixture(t, false)
		store := NewMemoryStore()
		s := f.newSession(t, Options{Store: store})
		ctx := context.Background()
		require.NoError(t, s.Persist(ctx))
		before := s.Tokens()

		f.srv.RequireHumanVerification(api.PathAuthRefresh)
		_, err := s.Refresh(ctx)
		require.ErrorIs(t, err, api.ErrHumanVerificationRequired)
		assert.NotErrorIs(t, err, api.ErrRefreshRevoked)
		var authErr *api.AuthError
		require.ErrorAs(t, err, &authErr)
		require.NotNil(t, authErr.HumanVerification)
		assert.NotEmpty(t, authErr.HumanVerification.Token)
		assert.Equal(t, []string{"captcha"}, authErr.HumanVerification.Methods)

		assert.True(t, s.Valid())
		assert.Equal(t, before, s.Tokens())
		saved, err := store.Load(ctx, s.UID())
		require.NoError(t, err)
		assert.Equal(t, before.RefreshToken, saved.RefreshToken)

		f.srv.ClearHumanVerification()
		pair, err := s.Refresh(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, before, pair)
	})

	t.Run("TransportFailure", func(t *testing.T) {
		f := newFixture(t, false)
		s := f.newSession(t, Options{})
		f.srv.Stop()

		_, err := s.Refresh(context.Background())
		require.ErrorIs(t, err, api.ErrRefreshRetryable)
		assert.True(t, transport.IsRetryable(err))
		assert.True(t, s.Valid())
	})

	t.Run("CallerContextCancelled", func(t *testing.T) {
		f := newFixture(t, false)
		s := f.newSession(t, Options{})
		f.srv.SetRefreshDelay(200 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := s.Refresh(ctx)
		require.ErrorIs(t, err, api.ErrRefreshRetryable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		pair, err := s.Refresh(context.Background())
		require.NoError(t, err)
		assert.Equal(t, pair, s.Tokens())
	})
}

func TestSession_Logout(t *testing.T) {
	t.Run("RevokesServerSide", func(t *testing.T) {
		f := newFixture(t, false)
		s := f.newSession(t, Options{})
		data := s.RefreshData()

		require.NoError(t, s.Logout(context.Background()))
		assert.False(t, s.Valid())
		assert.ErrorIs(t, s.Authorize(api.NewUserRequest()), api.ErrSessionInvalidated)
		assert.Equal(t, uint64(1), f.srv.Stats().Logout)

		_, err := Restore(context.Background(), f.tr, data, Options{Logger: newTestLogger()})
		assert.Error(t, err, "server must have forgotten the refresh token")

		require.NoError(t, s.Logout(context.Background()))
		assert.Equal(t, uint64(1), f.srv.Stats().Logout, "second logout is a no-op")
	})

	t.Run("InvalidatesWhenUnreachable", func(t *testing.T) {
		f := newFixture(t, false)
		s := f.newSession(t, Options{})
		f.srv.Stop()

		err := s.Logout(context.Background())
		require.Error(t, err)
		assert.True(t, transport.IsRetryable(err))
		assert.False(t, s.Valid())
		assert.ErrorIs(t, s.Authorize(api.NewUserRequest()), api.ErrSessionInvalidated)
		_, err = s.Refresh(context.Background())
		assert.ErrorIs(t, err, api.ErrSessionInvalidated)
	})

	t.Run("InvalidatesOnServerError", func(t *testing.T) {
		f := newFixture(t, false)
		s := f.newSession(t, Options{})
		f.srv.ForceUnauthorized(1)

		err := s.Logout(context.Background())
		_, ok := api.AsAPIError(err)
		assert.True(t, ok)
		assert.False(t, s.Valid())
	})
}

func TestSession_RestoreAndExpiry(t *testing.T) {
	f := newFixture(t, false)
	var refreshed []TokenPair
	opts := Options{
		Logger: newTestLogger(),
		OnRefreshed: func(uid string, pair TokenPair) {
			refreshed = append(refreshed, pair)
		},
	}
	s := f.newSession(t, opts)

	exp, ok := s.ExpiresAt()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	restored, err := Restore(context.Background(), f.tr, s.RefreshData(), opts)
	require.NoError(t, err)
	assert.Equal(t, s.UID(), restored.UID())
	assert.NotEqual(t, s.Tokens(), restored.Tokens())
	require.Len(t, refreshed, 1)
	assert.Equal(t, restored.Tokens(), refreshed[0])

	_, err = f.getUser(restored)
	assert.NoError(t, err)

	_, err = Restore(context.Background(), f.tr, RefreshData{}, opts)
	assert.Error(t, err)

	opaque := New(nil, Info{UID: "u1", AccessToken: "a1"}, Options{})
	_, ok = opaque.ExpiresAt()
	assert.False(t, ok)
}

func TestSession_StoreIntegration(t *testing.T) {
	f := newFixture(t, false)
	store := NewMemoryStore()
	opts := Options{Logger: newTestLogger(), Store: store}
	s := f.newSession(t, opts)
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx))
	saved, err := store.Load(ctx, s.UID())
	require.NoError(t, err)
	assert.Equal(t, s.RefreshData(), saved)

	pair, err := s.Refresh(ctx)
	require.NoError(t, err)
	saved, err = store.Load(ctx, s.UID())
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshToken, saved.RefreshToken)

	loaded, err := Load(ctx, f.tr, s.UID(), opts)
	require.NoError(t, err)
	assert.True(t, loaded.Valid())

	require.NoError(t, loaded.Logout(ctx))
	_, err = store.Load(ctx, s.UID())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Load(ctx, f.tr, "missing", opts)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = Load(ctx, f.tr, "missing", Options{})
	assert.Error(t, err)
}

func TestSession_Events(t *testing.T) {
	f := newFixture(t, false)
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))
	defer pubsub.Close()

	publisher := NewWatermillPublisher(pubsub, "srpauth.")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	refreshed, err := pubsub.Subscribe(ctx, publisher.Topic(EventRefreshed))
	require.NoError(t, err)
	loggedOut, err := pubsub.Subscribe(ctx, publisher.Topic(EventLoggedOut))
	require.NoError(t, err)

	s := f.newSession(t, Options{Events: publisher})

	_, err = s.Refresh(context.Background())
	require.NoError(t, err)
	ev := receiveEvent(t, refreshed)
	assert.Equal(t, EventRefreshed, ev.Kind)
	assert.Equal(t, s.UID(), ev.UID)

	require.NoError(t, s.Logout(context.Background()))
	ev = receiveEvent(t, loggedOut)
	assert.Equal(t, EventLoggedOut, ev.Kind)
	assert.Equal(t, ReasonLogout, ev.Reason)
}

func receiveEvent(t *testing.T, ch <-chan *message.Message) Event {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		var ev Event
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		assert.NotContains(t, string(msg.Payload), "token")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// FILE: srpauth/src/internal/dispatch/dispatch_test.go
package dispatch

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"srpauth/src/internal/api"
	"srpauth/src/internal/auth"
	"srpauth/src/internal/config"
	"srpauth/src/internal/core"
	"srpauth/src/internal/metrics"
	"srpauth/src/internal/session"
	"srpauth/src/internal/testserver"
	"srpauth/src/internal/transport"

	"github.com/lixenwraith/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv     *testserver.Server
	tr      transport.Transport
	session *session.Session
	userID  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.NewLogger()

	opts := testserver.DefaultOptions()
	opts.Sequential = true
	srv, err := testserver.New(opts, logger)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	userID, err := srv.CreateUser("alice", []byte("password"))
	require.NoError(t, err)

	topts := transport.DefaultOptions()
	topts.BaseURL = srv.URL()
	topts.Timeout = 5 * time.Second
	tr, err := transport.New(topts, logger)
	require.NoError(t, err)

	s, _, err := auth.NewHandshake(tr, auth.WithLogger(logger)).Login(context.Background(), "alice", []byte("password"))
	require.NoError(t, err)
	require.Equal(t, "a1", s.Tokens().AccessToken)

	return &fixture{srv: srv, tr: tr, session: s, userID: userID}
}

func (f *fixture) dispatcher(opts ...Option) *Dispatcher {
	opts = append([]Option{WithLogger(log.NewLogger())}, opts...)
	return New(f.tr, f.session, opts...)
}

func TestDispatcher_GetUser(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher()

	user, err := d.GetUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.userID, user.ID)
	assert.Equal(t, "alice", user.Name)

	stats := f.srv.Stats()
	assert.Equal(t, uint64(1), stats.Users)
	assert.Zero(t, stats.Refresh)
	assert.Same(t, f.session, d.Session())
}

func TestDispatcher_RefreshOnce(t *testing.T) {
	t.Run("RetrySucceeds", func(t *testing.T) {
		f := newFixture(t)
		reg := prometheus.NewRegistry()
		m := metrics.New(reg)
		d := f.dispatcher(WithMetrics(m))

		f.srv.ForceUnauthorized(1)
		user, err := d.GetUser(context.Background())
		require.NoError(t, err)
		assert.Equal(t, f.userID, user.ID)

		stats := f.srv.Stats()
		assert.Equal(t, uint64(2), stats.Users)
		assert.Equal(t, uint64(1), stats.Refresh)
		assert.Equal(t, session.TokenPair{AccessToken: "a2", RefreshToken: "r2"}, f.session.Tokens())
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries))
	})

	t.Run("SecondUnauthorizedGivesUp", func(t *testing.T) {
		f := newFixture(t)
		d := f.dispatcher()

		f.srv.ForceUnauthorized(2)
		_, err := d.GetUser(context.Background())
		require.ErrorIs(t, err, api.ErrUnauthenticated)

		apiErr, ok := api.AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

		stats := f.srv.Stats()
		assert.Equal(t, uint64(2), stats.Users, "no third attempt")
		assert.Equal(t, uint64(1), stats.Refresh)
		assert.True(t, f.session.Valid())

		_, err = d.GetUser(context.Background())
		assert.NoError(t, err)
	})

	t.Run("ExpiredAccessToken", func(t *testing.T) {
		f := newFixture(t)
		d := f.dispatcher()

		require.True(t, f.srv.ExpireAccessToken(f.session.UID()))
		_, err := d.GetUser(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "a2", f.session.Tokens().AccessToken)
	})
}

func TestDispatcher_RefreshFailures(t *testing.T) {
	t.Run("Revoked", func(t *testing.T) {
		f := newFixture(t)
		d := f.dispatcher()

		f.srv.ForceUnauthorized(1)
		f.srv.FailNextRefresh(http.StatusBadRequest, core.CodeInvalidRefreshToken)

		_, err := d.GetUser(context.Background())
		require.ErrorIs(t, err, api.ErrRefreshRevoked)
		assert.False(t, f.session.Valid())
		assert.Equal(t, uint64(1), f.srv.Stats().Users)

		_, err = d.GetUser(context.Background())
		require.ErrorIs(t, err, api.ErrSessionInvalidated)
		assert.Equal(t, uint64(1), f.srv.Stats().Users, "dead session sends nothing")
	})

	t.Run("Retryable", func(t *testing.T) {
		f := newFixture(t)
		d := f.dispatcher()

		f.srv.ForceUnauthorized(1)
		f.srv.FailNextRefresh(http.StatusServiceUnavailable, 0)

		_, err := d.GetUser(context.Background())
		require.ErrorIs(t, err, api.ErrRefreshRetryable)
		assert.True(t, f.session.Valid())
		assert.Equal(t, "a1", f.session.Tokens().AccessToken)

		_, err = d.GetUser(context.Background())
		assert.NoError(t, err)
	})

	t.Run("HumanVerification", func(t *testing.T) {
		f := newFixture(t)
		d := f.dispatcher()

		f.srv.ForceUnauthorized(1)
		f.srv.RequireHumanVerification(api.PathAuthRefresh)

		_, err := d.GetUser(context.Background())
		require.ErrorIs(t, err, api.ErrHumanVerificationRequired)
		assert.NotErrorIs(t, err, api.ErrRefreshRevoked)
		var authErr *api.AuthError
		require.ErrorAs(t, err, &authErr)
		require.NotNil(t, authErr.HumanVerification)
		assert.NotEmpty(t, authErr.HumanVerification.Token)

		assert.True(t, f.session.Valid())
		assert.Equal(t, session.TokenPair{AccessToken: "a1", RefreshToken: "r1"}, f.session.Tokens())

		f.srv.ClearHumanVerification()
		_, err = d.GetUser(context.Background())
		assert.NoError(t, err)
	})
}

func TestDispatcher_ConcurrentUnauthorized(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher()
	require.True(t, f.srv.ExpireAccessToken(f.session.UID()))

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.GetUser(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, uint64(1), f.srv.Stats().Refresh)
	assert.Equal(t, "a2", f.session.Tokens().AccessToken)
}

func TestDispatcher_HumanVerification(t *testing.T) {
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	d := f.dispatcher(WithMetrics(m))

	f.srv.RequireHumanVerification(api.PathUsers)
	_, err := d.GetUser(context.Background())
	require.ErrorIs(t, err, api.ErrHumanVerificationRequired)

	var authErr *api.AuthError
	require.ErrorAs(t, err, &authErr)
	require.NotNil(t, authErr.HumanVerification)
	token := authErr.HumanVerification.Token
	assert.NotEmpty(t, token)

	stats := f.srv.Stats()
	assert.Equal(t, uint64(1), stats.Users, "never retried")
	assert.Zero(t, stats.Refresh)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HumanVerifications))

	t.Run("Captcha", func(t *testing.T) {
		page, err := d.Captcha(context.Background(), token)
		require.NoError(t, err)
		assert.Contains(t, string(page), token)

		_, err = d.Captcha(context.Background(), "unknown")
		apiErr, ok := api.AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	})

	t.Run("NonJSONBody", func(t *testing.T) {
		var out map[string]any
		err := d.DoJSON(context.Background(), api.NewCaptchaRequest(token, false), &out)
		var protoErr *api.ProtocolError
		require.ErrorAs(t, err, &protoErr)
		assert.Equal(t, api.PathCaptcha, protoErr.Op)
	})
}

func TestDispatcher_CustomHVTable(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher(WithHVTable(api.HVTable{{Status: http.StatusUnauthorized}}))

	f.srv.ForceUnauthorized(1)
	_, err := d.GetUser(context.Background())
	require.ErrorIs(t, err, api.ErrHumanVerificationRequired)
	assert.Zero(t, f.srv.Stats().Refresh, "matching 401 is not refreshed")
}

func TestDispatcher_Ping(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher()

	require.NoError(t, d.Ping(context.Background()))
	assert.Equal(t, uint64(1), f.srv.Stats().Ping)

	f.session.Invalidate()
	require.NoError(t, d.Ping(context.Background()), "ping needs no session")

	f.srv.Stop()
	err := d.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, transport.IsRetryable(err))
}

func TestDispatcher_APIError(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher()

	_, err := d.Do(context.Background(), transport.NewRequest(http.MethodGet, "core/v4/nothing"))
	apiErr, ok := api.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.NotErrorIs(t, err, api.ErrUnauthenticated)
}

func TestDispatcher_RequestNotMutated(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher()

	req := api.NewUserRequest()
	f.srv.ForceUnauthorized(1)
	resp, err := d.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Empty(t, req.Header.Get(core.HeaderAuthorization))
	assert.Empty(t, req.Header.Get(core.HeaderUID))
}

func TestDispatcher_InvalidatedSession(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher()

	f.session.Invalidate()
	_, err := d.GetUser(context.Background())
	require.ErrorIs(t, err, api.ErrSessionInvalidated)
	assert.Zero(t, f.srv.Stats().Users)
}

func TestDispatcher_RateLimit(t *testing.T) {
	t.Run("Reject", func(t *testing.T) {
		f := newFixture(t)
		l, err := NewLimiter(config.RateLimitConfig{Rate: 1, Burst: 1, Policy: "reject"}, log.NewLogger())
		require.NoError(t, err)
		d := f.dispatcher(WithLimiter(l))

		_, err = d.GetUser(context.Background())
		require.NoError(t, err)
		_, err = d.GetUser(context.Background())
		require.ErrorIs(t, err, ErrRateLimited)
		assert.Equal(t, uint64(1), f.srv.Stats().Users)
		assert.Equal(t, uint64(1), l.GetStats()["rejected_total"])
	})

	t.Run("Wait", func(t *testing.T) {
		f := newFixture(t)
		l, err := NewLimiter(config.RateLimitConfig{Rate: 20, Burst: 1, Policy: "wait"}, log.NewLogger())
		require.NoError(t, err)
		d := f.dispatcher(WithLimiter(l))

		start := time.Now()
		for range 3 {
			_, err := d.GetUser(context.Background())
			require.NoError(t, err)
		}
		assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
		assert.Equal(t, uint64(2), l.GetStats()["waited_total"])
	})

	t.Run("WaitHonoursContext", func(t *testing.T) {
		f := newFixture(t)
		l, err := NewLimiter(config.RateLimitConfig{Rate: 0.1, Burst: 1}, log.NewLogger())
		require.NoError(t, err)
		d := f.dispatcher(WithLimiter(l))

		_, err = d.GetUser(context.Background())
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = d.GetUser(ctx)
		require.ErrorIs(t, err, ErrRateLimited)
		assert.Equal(t, uint64(1), f.srv.Stats().Users)
	})
}

func TestNewLimiter(t *testing.T) {
	l, err := NewLimiter(config.RateLimitConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, l)
	assert.NoError(t, l.Wait(context.Background()))
	assert.Equal(t, false, l.GetStats()["enabled"])

	_, err = NewLimiter(config.RateLimitConfig{Rate: 1, Policy: "drop"}, nil)
	assert.Error(t, err)

	l, err = NewLimiter(config.RateLimitConfig{Rate: 2.5}, nil)
	require.NoError(t, err)
	stats := l.GetStats()
	assert.Equal(t, 3, stats["burst"])
	assert.Equal(t, "wait", stats["policy"])
}

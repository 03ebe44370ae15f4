// FILE: srpauth/src/internal/testserver/server.go
package testserver

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"srpauth/src/internal/srp"

	"github.com/lixenwraith/log"
	"github.com/valyala/fasthttp"
)

// Options configures a test double.
type Options struct {
	// Addr is the listen address; empty means 127.0.0.1:0
	Addr string
	// PathPrefix is stripped from request paths before routing
	PathPrefix string
	// Sequential issues predictable UIDs and tokens (u1, a1, r1, ...)
	// instead of random UIDs and signed JWT access tokens
	Sequential bool

	AccessTokenTTL time.Duration
	ChallengeTTL   time.Duration
	TwoFAWindow    time.Duration
	MaxIdle        time.Duration

	// InfoRate limits auth info requests per second and client IP; zero
	// disables it
	InfoRate  float64
	InfoBurst int

	Group *srp.Group

	// TLS serves HTTPS when set
	TLS *tls.Config
}

// DefaultOptions returns the options used by package tests.
func DefaultOptions() Options {
	return Options{
		Addr:           "127.0.0.1:0",
		PathPrefix:     "/api",
		AccessTokenTTL: time.Hour,
		ChallengeTTL:   time.Minute,
		TwoFAWindow:    5 * time.Minute,
		MaxIdle:        30 * time.Minute,
	}
}

// Stats counts requests per endpoint.
type Stats struct {
	Info    uint64
	Auth    uint64
	TwoFA   uint64
	Refresh uint64
	Logout  uint64
	Users   uint64
	Captcha uint64
	Ping    uint64
}

// Server is an in-process implementation of the auth wire protocol.
type Server struct {
	opts     Options
	logger   *log.Logger
	server   *fasthttp.Server
	listener net.Listener
	url      string
	wg       sync.WaitGroup

	accounts   *accountStore
	sessions   *sessionStore
	issuer     *issuer
	handshakes map[string]*handshake
	hsMu       sync.Mutex
	limiter    *ipLimiter

	faults *faults

	infoCalls    atomic.Uint64
	authCalls    atomic.Uint64
	twoFACalls   atomic.Uint64
	refreshCalls atomic.Uint64
	logoutCalls  atomic.Uint64
	userCalls    atomic.Uint64
	captchaCalls atomic.Uint64
	pingCalls    atomic.Uint64
	startTime    time.Time
}

// New creates a stopped server.
func New(opts Options, logger *log.Logger) (*Server, error) {
	def := DefaultOptions()
	if opts.Addr == "" {
		opts.Addr = def.Addr
	}
	if opts.AccessTokenTTL <= 0 {
		opts.AccessTokenTTL = def.AccessTokenTTL
	}
	if opts.ChallengeTTL <= 0 {
		opts.ChallengeTTL = def.ChallengeTTL
	}
	if opts.TwoFAWindow <= 0 {
		opts.TwoFAWindow = def.TwoFAWindow
	}
	if opts.MaxIdle <= 0 {
		opts.MaxIdle = def.MaxIdle
	}
	opts.PathPrefix = strings.TrimRight(opts.PathPrefix, "/")
	if opts.Group == nil {
		opts.Group = srp.Group2048
	}
	if logger == nil {
		logger = log.NewLogger()
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	s := &Server{
		opts:       opts,
		logger:     logger,
		accounts:   newAccountStore(),
		sessions:   newSessionStore(opts.MaxIdle),
		issuer:     newIssuer(key, opts.Sequential),
		handshakes: make(map[string]*handshake),
		faults:     newFaults(),
	}
	s.limiter = newIPLimiter(opts.InfoRate, opts.InfoBurst, logger)
	return s, nil
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	scheme := "http"
	if s.opts.TLS != nil {
		ln = tls.NewListener(ln, s.opts.TLS)
		scheme = "https"
	}
	s.listener = ln
	s.url = scheme + "://" + ln.Addr().String() + s.opts.PathPrefix
	s.startTime = time.Now()

	s.server = &fasthttp.Server{
		Handler:         s.requestHandler,
		Name:            "srpauth-testserver",
		CloseOnShutdown: true,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("msg", "Test server starting",
			"component", "testserver",
			"address", ln.Addr().String(),
			"tls", s.opts.TLS != nil)

		if err := s.server.Serve(ln); err != nil {
			s.logger.Error("msg", "Test server failed",
				"component", "testserver",
				"error", err)
		}
	}()

	s.sessions.startCleanup()
	return nil
}

// Stop shuts the server down and waits for the serve loop to exit.
func (s *Server) Stop() {
	if s.server != nil {
		if err := s.server.Shutdown(); err != nil {
			s.logger.Error("msg", "Error shutting down test server",
				"component", "testserver",
				"error", err)
		}
	}
	s.sessions.stop()
	s.wg.Wait()
	s.logger.Info("msg", "Test server stopped", "component", "testserver")
}

// URL is the base URL clients should use.
func (s *Server) URL() string {
	return s.url
}

// Stats returns the request counters.
func (s *Server) Stats() Stats {
	return Stats{
		Info:    s.infoCalls.Load(),
		Auth:    s.authCalls.Load(),
		TwoFA:   s.twoFACalls.Load(),
		Refresh: s.refreshCalls.Load(),
		Logout:  s.logoutCalls.Load(),
		Users:   s.userCalls.Load(),
		Captcha: s.captchaCalls.Load(),
		Ping:    s.pingCalls.Load(),
	}
}

// GetStats reports server state in the form logged by the CLI.
func (s *Server) GetStats() map[string]any {
	st := s.Stats()
	return map[string]any{
		"url":             s.url,
		"uptime_seconds":  int(time.Since(s.startTime).Seconds()),
		"accounts":        s.accounts.count(),
		"active_sessions": s.sessions.count(),
		"requests": map[string]uint64{
			"info":    st.Info,
			"auth":    st.Auth,
			"2fa":     st.TwoFA,
			"refresh": st.Refresh,
			"logout":  st.Logout,
			"users":   st.Users,
			"captcha": st.Captcha,
			"ping":    st.Ping,
		},
		"info_limit": s.limiter.stats(),
	}
}

func (s *Server) requestHandler(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	if s.opts.PathPrefix != "" {
		if !strings.HasPrefix(path, s.opts.PathPrefix+"/") {
			writeError(ctx, fasthttp.StatusNotFound, codeNotFound, "Not Found", nil)
			return
		}
		path = strings.TrimPrefix(path, s.opts.PathPrefix)
	}
	method := string(ctx.Method())

	switch {
	case method == fasthttp.MethodPost && path == "/auth/v4/info":
		s.handleInfo(ctx)
	case method == fasthttp.MethodPost && path == "/auth/v4":
		s.handleAuth(ctx)
	case method == fasthttp.MethodDelete && path == "/auth/v4":
		s.handleLogout(ctx)
	case method == fasthttp.MethodPost && path == "/auth/v4/2fa":
		s.handleTwoFA(ctx)
	case method == fasthttp.MethodPost && path == "/auth/v4/refresh":
		s.handleRefresh(ctx)
	case method == fasthttp.MethodGet && path == "/core/v4/users":
		s.handleUsers(ctx)
	case method == fasthttp.MethodGet && path == "/core/v4/captcha":
		s.handleCaptcha(ctx)
	case method == fasthttp.MethodGet && path == "/tests/ping":
		s.handlePing(ctx)
	default:
		writeError(ctx, fasthttp.StatusNotFound, codeNotFound, "Not Found", nil)
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	}
}

func writeError(ctx *fasthttp.RequestCtx, status, code int, message string, details any) {
	body := struct {
		Code    int
		Error   string
		Details any `json:",omitempty"`
	}{code, message, details}
	writeJSON(ctx, status, body)
}

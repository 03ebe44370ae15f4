// FILE: srpauth/src/internal/dispatch/dispatch.go
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"srpauth/src/internal/api"
	"srpauth/src/internal/core"
	"srpauth/src/internal/metrics"
	"srpauth/src/internal/session"
	"srpauth/src/internal/transport"

	"github.com/lixenwraith/log"
)

// Dispatcher sends authenticated requests on behalf of a session. A 401 is
// answered with one refresh and one retry; nothing is retried twice.
type Dispatcher struct {
	transport transport.Transport
	session   *session.Session
	logger    *log.Logger
	metrics   *metrics.Metrics
	hvTable   api.HVTable
	limiter   *Limiter
}

type Option func(*Dispatcher)

func WithLogger(logger *log.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithHVTable replaces the default human verification mapping.
func WithHVTable(table api.HVTable) Option {
	return func(d *Dispatcher) { d.hvTable = table }
}

// WithLimiter applies a client-side rate limit to every outgoing request.
func WithLimiter(l *Limiter) Option {
	return func(d *Dispatcher) { d.limiter = l }
}

// New creates a dispatcher bound to s.
func New(t transport.Transport, s *session.Session, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport: t,
		session:   s,
		hvTable:   api.DefaultHVTable(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = log.NewLogger()
	}
	return d
}

// Session returns the session requests are authorized with.
func (d *Dispatcher) Session() *session.Session {
	return d.session
}

// Do authorizes and sends req. Non-2xx responses are returned as errors:
// human verification as an AuthError carrying the challenge, a 401 that
// survives a refresh as Unauthenticated, anything else as *api.APIError.
// A failed refresh is returned as is.
func (d *Dispatcher) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	resp, sent, err := d.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusUnauthorized {
		return d.check(resp)
	}
	if hvErr := d.humanVerification(resp); hvErr != nil {
		return nil, hvErr
	}

	d.logger.Debug("msg", "Access token rejected, refreshing",
		"component", "dispatch",
		"uid", d.session.UID(),
		"path", req.Path)

	if _, err := d.session.RefreshIfCurrent(ctx, sent); err != nil {
		return nil, err
	}

	d.metrics.IncrementRetries()
	resp, _, err = d.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusUnauthorized {
		if hvErr := d.humanVerification(resp); hvErr != nil {
			return nil, hvErr
		}
		d.logger.Warn("msg", "Request still unauthorized after refresh",
			"component", "dispatch",
			"uid", d.session.UID(),
			"path", req.Path)
		return nil, &api.AuthError{
			Kind: api.Unauthenticated,
			API:  api.NewAPIError(resp.Status, resp.Body),
		}
	}
	return d.check(resp)
}

// send applies the rate limit and sends an authorized copy of req. It
// returns the access token the copy carried.
func (d *Dispatcher) send(ctx context.Context, req *transport.Request) (*transport.Response, string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	attempt := req.Clone()
	if err := d.session.Authorize(attempt); err != nil {
		return nil, "", err
	}
	sent := strings.TrimPrefix(attempt.Header.Get(core.HeaderAuthorization), "Bearer ")

	resp, err := d.transport.Send(ctx, attempt)
	if err != nil {
		return nil, sent, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	return resp, sent, nil
}

func (d *Dispatcher) check(resp *transport.Response) (*transport.Response, error) {
	if resp.IsSuccess() {
		return resp, nil
	}
	if hvErr := d.humanVerification(resp); hvErr != nil {
		return nil, hvErr
	}
	return nil, api.NewAPIError(resp.Status, resp.Body)
}

// humanVerification returns a classified error when resp matches the table.
func (d *Dispatcher) humanVerification(resp *transport.Response) error {
	apiErr := api.NewAPIError(resp.Status, resp.Body)
	if !d.hvTable.Matches(apiErr) {
		return nil
	}
	d.metrics.IncrementHumanVerifications()
	d.logger.Info("msg", "Human verification required",
		"component", "dispatch",
		"uid", d.session.UID(),
		"status", resp.Status,
		"code", apiErr.Code)
	return d.hvTable.Classify(apiErr)
}

// DoJSON sends req and decodes a 2xx body into out.
func (d *Dispatcher) DoJSON(ctx context.Context, req *transport.Request, out any) error {
	resp, err := d.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &api.ProtocolError{Op: req.Path, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// GetUser fetches the authenticated user.
func (d *Dispatcher) GetUser(ctx context.Context) (*api.User, error) {
	var out api.UserResponse
	if err := d.DoJSON(ctx, api.NewUserRequest(), &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Ping checks that the API is reachable. It needs no session.
func (d *Dispatcher) Ping(ctx context.Context) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := d.transport.Send(ctx, api.NewPingRequest())
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !resp.IsSuccess() {
		return api.NewAPIError(resp.Status, resp.Body)
	}
	d.logger.Debug("msg", "Ping succeeded",
		"component", "dispatch",
		"status", resp.Status)
	return nil
}

// Captcha fetches the captcha page for a human verification token. It
// needs no session.
func (d *Dispatcher) Captcha(ctx context.Context, token string) ([]byte, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := d.transport.Send(ctx, api.NewCaptchaRequest(token, false))
	if err != nil {
		return nil, fmt.Errorf("captcha: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, api.NewAPIError(resp.Status, resp.Body)
	}
	return resp.Body, nil
}

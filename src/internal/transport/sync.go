// FILE: srpauth/src/internal/transport/sync.go
package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/lixenwraith/log"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpproxy"
)

// SyncTransport is the blocking backend built on fasthttp. Send occupies the
// calling goroutine until the response is read or the timeout fires.
type SyncTransport struct {
	opts   Options
	base   *url.URL
	client *fasthttp.Client
	jar    *Jar
	logger *log.Logger

	// Statistics
	totalRequests  atomic.Uint64
	failedRequests atomic.Uint64
}

// NewSyncTransport creates the fasthttp backend.
func NewSyncTransport(opts Options, logger *log.Logger) (*SyncTransport, error) {
	if logger == nil {
		logger = log.NewLogger()
	}
	base, err := opts.normalize()
	if err != nil {
		return nil, err
	}

	t := &SyncTransport{
		opts:   opts,
		base:   base,
		logger: logger,
	}

	t.client = &fasthttp.Client{
		MaxConnsPerHost:     16,
		MaxIdleConnDuration: 10 * time.Second,
		ReadTimeout:         opts.Timeout,
		WriteTimeout:        opts.Timeout,
		TLSConfig:           opts.TLS,
	}

	if opts.Proxy != "" {
		dial, err := proxyDialer(opts.Proxy, opts.Timeout)
		if err != nil {
			return nil, err
		}
		t.client.Dial = dial
	}

	if opts.Cookies {
		if t.jar, err = NewJar(); err != nil {
			return nil, err
		}
	}

	logger.Debug("msg", "Sync transport created",
		"component", "transport",
		"backend", BackendSync,
		"base_url", base.String(),
		"timeout", opts.Timeout,
		"proxy", opts.Proxy != "",
		"cookies", opts.Cookies)
	return t, nil
}

// Jar returns the cookie jar, or nil when cookies are disabled.
func (t *SyncTransport) Jar() *Jar {
	return t.jar
}

// Send implements Transport.
func (t *SyncTransport) Send(ctx context.Context, r *Request) (*Response, error) {
	t.totalRequests.Add(1)
	u := resolve(t.base, r)

	if err := ctx.Err(); err != nil {
		t.failedRequests.Add(1)
		return nil, classify(r.Method, u.String(), err)
	}

	timeout := t.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		t.failedRequests.Add(1)
		return nil, classify(r.Method, u.String(), context.DeadlineExceeded)
	}

	// Acquire per call, release before returning
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(u.String())
	req.Header.SetMethod(r.Method)
	for k, vs := range defaultHeaders(&t.opts) {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	for k, vs := range r.Header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if len(r.Body) > 0 {
		req.SetBody(r.Body)
	}
	if t.jar != nil {
		t.jar.load(req, u)
	}

	start := time.Now()
	if err := t.client.DoTimeout(req, resp, timeout); err != nil {
		t.failedRequests.Add(1)
		te := classify(r.Method, u.String(), err)
		t.logger.Warn("msg", "HTTP request failed",
			"component", "transport",
			"backend", BackendSync,
			"method", r.Method,
			"path", r.Path,
			"retryable", te.Retryable(),
			"error", err)
		return nil, te
	}

	if t.jar != nil {
		t.jar.store(resp, u)
	}

	out := &Response{
		Status: resp.StatusCode(),
		Header: make(http.Header),
		Body:   append([]byte(nil), resp.Body()...),
	}
	resp.Header.VisitAll(func(k, v []byte) {
		out.Header.Add(string(k), string(v))
	})

	t.logger.Debug("msg", "HTTP request completed",
		"component", "transport",
		"backend", BackendSync,
		"method", r.Method,
		"path", r.Path,
		"status", out.Status,
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

// GetStats returns request counters.
func (t *SyncTransport) GetStats() map[string]any {
	return map[string]any{
		"backend":         BackendSync,
		"total_requests":  t.totalRequests.Load(),
		"failed_requests": t.failedRequests.Load(),
	}
}

// proxyDialer builds a fasthttp dialer routing through the proxy URL.
func proxyDialer(proxy string, timeout time.Duration) (fasthttp.DialFunc, error) {
	u, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy URL has no host: %s", proxy)
	}

	switch u.Scheme {
	case "socks5", "socks5h":
		return fasthttpproxy.FasthttpSocksDialer(proxy), nil
	case "http", "https":
		addr := u.Host
		if u.User != nil {
			addr = u.User.String() + "@" + u.Host
		}
		return fasthttpproxy.FasthttpHTTPDialerTimeout(addr, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", u.Scheme)
	}
}

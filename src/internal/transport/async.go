// FILE: srpauth/src/internal/transport/async.go
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/lixenwraith/log"
)

// Future is the pending result of an asynchronous request.
type Future struct {
	done chan struct{}
	resp *Response
	err  error
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the request completes.
func (f *Future) Result() (*Response, error) {
	<-f.done
	return f.resp, f.err
}

// Wait blocks until the request completes or ctx ends.
func (f *Future) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, classify("wait", "", ctx.Err())
	}
}

// AsyncTransport is the non-blocking backend: Go starts a request and
// returns immediately; Send is Go followed by Wait, so both backends share
// the Transport contract.
type AsyncTransport struct {
	opts   Options
	base   *url.URL
	client *http.Client
	jar    *Jar
	logger *log.Logger

	// Statistics
	inFlight       atomic.Int64
	totalRequests  atomic.Uint64
	failedRequests atomic.Uint64
}

// NewAsyncTransport creates the net/http backend.
func NewAsyncTransport(opts Options, logger *log.Logger) (*AsyncTransport, error) {
	if logger == nil {
		logger = log.NewLogger()
	}
	base, err := opts.normalize()
	if err != nil {
		return nil, err
	}

	rt := &http.Transport{
		Proxy:               nil,
		TLSClientConfig:     opts.TLS,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		switch proxyURL.Scheme {
		case "http", "https", "socks5", "socks5h":
		default:
			return nil, fmt.Errorf("unsupported proxy scheme: %s", proxyURL.Scheme)
		}
		rt.Proxy = http.ProxyURL(proxyURL)
	}

	t := &AsyncTransport{
		opts:   opts,
		base:   base,
		logger: logger,
	}
	t.client = &http.Client{
		Transport: rt,
		Timeout:   opts.Timeout,
		// Redirects are surfaced to the API layer like any other status
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	if opts.Cookies {
		if t.jar, err = NewJar(); err != nil {
			return nil, err
		}
		t.client.Jar = t.jar
	}

	logger.Debug("msg", "Async transport created",
		"component", "transport",
		"backend", BackendAsync,
		"base_url", base.String(),
		"timeout", opts.Timeout,
		"proxy", opts.Proxy != "",
		"cookies", opts.Cookies)
	return t, nil
}

// Jar returns the cookie jar, or nil when cookies are disabled.
func (t *AsyncTransport) Jar() *Jar {
	return t.jar
}

// Go starts the request without blocking. Cancelling ctx aborts it.
func (t *AsyncTransport) Go(ctx context.Context, r *Request) *Future {
	f := &Future{done: make(chan struct{})}
	t.inFlight.Add(1)
	go func() {
		defer close(f.done)
		defer t.inFlight.Add(-1)
		f.resp, f.err = t.do(ctx, r)
	}()
	return f
}

// Send implements Transport.
func (t *AsyncTransport) Send(ctx context.Context, r *Request) (*Response, error) {
	return t.Go(ctx, r).Wait(ctx)
}

func (t *AsyncTransport) do(ctx context.Context, r *Request) (*Response, error) {
	t.totalRequests.Add(1)
	u := resolve(t.base, r)

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), body)
	if err != nil {
		t.failedRequests.Add(1)
		return nil, &Error{Kind: KindFatal, Op: r.Method, URL: u.String(), Err: err}
	}
	req.Header = defaultHeaders(&t.opts)
	for k, vs := range r.Header {
		req.Header[k] = append([]string(nil), vs...)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		t.failedRequests.Add(1)
		te := classify(r.Method, u.String(), err)
		t.logger.Warn("msg", "HTTP request failed",
			"component", "transport",
			"backend", BackendAsync,
			"method", r.Method,
			"path", r.Path,
			"retryable", te.Retryable(),
			"error", err)
		return nil, te
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.failedRequests.Add(1)
		return nil, classify(r.Method, u.String(), err)
	}

	t.logger.Debug("msg", "HTTP request completed",
		"component", "transport",
		"backend", BackendAsync,
		"method", r.Method,
		"path", r.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}

// GetStats returns request counters.
func (t *AsyncTransport) GetStats() map[string]any {
	return map[string]any{
		"backend":         BackendAsync,
		"in_flight":       t.inFlight.Load(),
		"total_requests":  t.totalRequests.Load(),
		"failed_requests": t.failedRequests.Load(),
	}
}

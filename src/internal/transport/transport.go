// FILE: srpauth/src/internal/transport/transport.go
package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"srpauth/src/internal/core"
	"srpauth/src/internal/version"

	"github.com/lixenwraith/log"
)

// Backend names
const (
	BackendSync  = "sync"
	BackendAsync = "async"
)

// Request is a backend-neutral HTTP request. Path is relative to the base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// NewRequest creates a request with an empty header set.
func NewRequest(method, path string) *Request {
	return &Request{
		Method: method,
		Path:   path,
		Header: make(http.Header),
	}
}

// WithJSON encodes v as the request body.
func (r *Request) WithJSON(v any) (*Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	r.Body = body
	r.Header.Set("Content-Type", "application/json")
	return r, nil
}

// Clone returns a deep copy so callers can retry without sharing headers.
func (r *Request) Clone() *Request {
	c := &Request{
		Method: r.Method,
		Path:   r.Path,
		Header: r.Header.Clone(),
	}
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	if r.Query != nil {
		c.Query = make(url.Values, len(r.Query))
		for k, v := range r.Query {
			c.Query[k] = append([]string(nil), v...)
		}
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return c
}

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.Status >= 200 && r.Status < 300
}

// Transport sends a request and returns the response. Non-2xx statuses are
// returned as responses; only network-level failures are errors, and those are
// always *Error.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Options configures either backend.
type Options struct {
	BaseURL    string
	AppVersion string
	UserAgent  string
	Backend    string
	Timeout    time.Duration
	// Proxy is an http://, https:// or socks5:// URL
	Proxy string
	TLS   *tls.Config
	// Cookies enables the per-transport cookie jar
	Cookies bool
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		BaseURL:    core.DefaultBaseURL,
		AppVersion: version.AppVersion(),
		UserAgent:  version.UserAgent(),
		Backend:    BackendSync,
		Timeout:    core.DefaultTimeout,
		Cookies:    true,
	}
}

// New creates the backend selected by opts.Backend.
func New(opts Options, logger *log.Logger) (Transport, error) {
	switch opts.Backend {
	case "", BackendSync:
		return NewSyncTransport(opts, logger)
	case BackendAsync:
		return NewAsyncTransport(opts, logger)
	default:
		return nil, fmt.Errorf("unknown transport backend: %s", opts.Backend)
	}
}

func (o *Options) normalize() (*url.URL, error) {
	if o.BaseURL == "" {
		o.BaseURL = core.DefaultBaseURL
	}
	if o.Timeout <= 0 {
		o.Timeout = core.DefaultTimeout
	}
	if o.AppVersion == "" {
		o.AppVersion = version.AppVersion()
	}
	if o.UserAgent == "" {
		o.UserAgent = version.UserAgent()
	}

	base, err := url.Parse(strings.TrimRight(o.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https: %s", o.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base URL has no host: %s", o.BaseURL)
	}
	return base, nil
}

// resolve joins the request path and query onto the base URL.
func resolve(base *url.URL, r *Request) *url.URL {
	u := base.JoinPath(strings.TrimLeft(r.Path, "/"))
	if len(r.Query) > 0 {
		u.RawQuery = r.Query.Encode()
	}
	return u
}

// defaultHeaders are applied before the request's own headers.
func defaultHeaders(o *Options) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/vnd.protonmail.v1+json")
	h.Set("User-Agent", o.UserAgent)
	h.Set(core.HeaderAppVersion, o.AppVersion)
	return h
}

// FILE: srpauth/src/internal/transport/cookies.go
package transport

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"github.com/valyala/fasthttp"
)

// Jar persists cookies across calls for one transport. The API sets
// anti-abuse cookies during human verification that must be replayed.
type Jar struct {
	jar *cookiejar.Jar
}

// NewJar creates an empty in-memory jar.
func NewJar() (*Jar, error) {
	j, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &Jar{jar: j}, nil
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.jar.SetCookies(u, cookies)
}

// load copies stored cookies for u onto a fasthttp request.
func (j *Jar) load(req *fasthttp.Request, u *url.URL) {
	for _, c := range j.jar.Cookies(u) {
		req.Header.SetCookie(c.Name, c.Value)
	}
}

// store records Set-Cookie headers from a fasthttp response.
func (j *Jar) store(resp *fasthttp.Response, u *url.URL) {
	var cookies []*http.Cookie
	resp.Header.VisitAllCookie(func(_, value []byte) {
		if c, err := http.ParseSetCookie(string(value)); err == nil {
			cookies = append(cookies, c)
		}
	})
	if len(cookies) > 0 {
		j.jar.SetCookies(u, cookies)
	}
}

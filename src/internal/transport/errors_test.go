// FILE: srpauth/src/internal/transport/errors_test.go
package transport

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"DeadlineExceeded", context.DeadlineExceeded, KindRetryable},
		{"Cancelled", context.Canceled, KindFatal},
		{"FasthttpTimeout", fasthttp.ErrTimeout, KindRetryable},
		{"DialTimeout", fasthttp.ErrDialTimeout, KindRetryable},
		{"ConnectionClosed", fasthttp.ErrConnectionClosed, KindRetryable},
		{"ConnReset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, KindRetryable},
		{"ConnRefused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, KindRetryable},
		{"UnexpectedEOF", fmt.Errorf("reading body: %w", io.ErrUnexpectedEOF), KindRetryable},
		{"DNSTemporary", &net.DNSError{Err: "server misbehaving", IsTemporary: true}, KindRetryable},
		{"DNSNotFound", &net.DNSError{Err: "no such host", IsNotFound: true}, KindFatal},
		{"UnknownAuthority", x509.UnknownAuthorityError{}, KindFatal},
		{"ExpiredCertificate", fmt.Errorf("tls: %w", x509.CertificateInvalidError{Reason: x509.Expired}), KindFatal},
		{"Unknown", errors.New("something odd"), KindFatal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			te := classify("GET", "http://x", tc.err)
			assert.Equal(t, tc.expected, te.Kind, "error: %v", tc.err)
			assert.ErrorIs(t, te, tc.err)
		})
	}
}

func TestClassify_KeepsExistingError(t *testing.T) {
	orig := &Error{Kind: KindFatal, Op: "POST", URL: "u", Err: errors.New("boom")}
	wrapped := fmt.Errorf("outer: %w", orig)

	assert.Same(t, orig, classify("GET", "other", wrapped))
	assert.False(t, IsRetryable(wrapped))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Contains(t, orig.Error(), "fatal")
}

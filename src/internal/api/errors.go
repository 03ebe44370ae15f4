// FILE: srpauth/src/internal/api/errors.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

// APIError is a non-2xx response decoded from its {Code, Error} body.
type APIError struct {
	Status  int
	Code    int
	Message string
	Details json.RawMessage
}

// NewAPIError decodes a response body. Bodies that are not JSON still yield
// an error carrying the HTTP status.
func NewAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	if len(body) == 0 {
		return e
	}
	var desc ErrorBody
	if err := json.Unmarshal(body, &desc); err == nil {
		e.Code = desc.Code
		e.Message = desc.Error
		e.Details = desc.Details
	}
	return e
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error (http=%d code=%d): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error (http=%d code=%d)", e.Status, e.Code)
}

// HumanVerification extracts the challenge details, if present.
func (e *APIError) HumanVerification() (*HumanVerification, bool) {
	if len(e.Details) == 0 {
		return nil, false
	}
	var hv HumanVerification
	if err := json.Unmarshal(e.Details, &hv); err != nil || hv.Token == "" {
		return nil, false
	}
	return &hv, true
}

// AsAPIError unwraps err to an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// ProtocolError reports a response whose shape does not match the wire
// protocol. It is never retried.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error in %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// AuthErrorKind enumerates authentication outcomes surfaced to callers.
type AuthErrorKind int

const (
	InvalidCredentials AuthErrorKind = iota + 1
	SecondFactorRequired
	SecondFactorInvalid
	ChallengeExpired
	HumanVerificationRequired
	SessionInvalidated
	Unauthenticated
)

func (k AuthErrorKind) String() string {
	switch k {
	case InvalidCredentials:
		return "invalid credentials"
	case SecondFactorRequired:
		return "second factor required"
	case SecondFactorInvalid:
		return "second factor invalid"
	case ChallengeExpired:
		return "challenge expired"
	case HumanVerificationRequired:
		return "human verification required"
	case SessionInvalidated:
		return "session invalidated"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// AuthError carries the kind plus whatever the server sent.
type AuthError struct {
	Kind              AuthErrorKind
	API               *APIError
	HumanVerification *HumanVerification
}

// Sentinels for errors.Is; matching is by Kind only.
var (
	ErrInvalidCredentials        = &AuthError{Kind: InvalidCredentials}
	ErrSecondFactorRequired      = &AuthError{Kind: SecondFactorRequired}
	ErrSecondFactorInvalid       = &AuthError{Kind: SecondFactorInvalid}
	ErrChallengeExpired          = &AuthError{Kind: ChallengeExpired}
	ErrHumanVerificationRequired = &AuthError{Kind: HumanVerificationRequired}
	ErrSessionInvalidated        = &AuthError{Kind: SessionInvalidated}
	ErrUnauthenticated           = &AuthError{Kind: Unauthenticated}
)

func (e *AuthError) Error() string {
	if e.API != nil {
		return fmt.Sprintf("auth: %s: %v", e.Kind, e.API)
	}
	return "auth: " + e.Kind.String()
}

func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Kind == e.Kind
}

func (e *AuthError) Unwrap() error {
	if e.API == nil {
		return nil
	}
	return e.API
}

// RefreshErrorKind separates transient refresh failures from revocation.
type RefreshErrorKind int

const (
	RefreshRetryable RefreshErrorKind = iota + 1
	RefreshRevoked
)

func (k RefreshErrorKind) String() string {
	if k == RefreshRevoked {
		return "revoked"
	}
	return "retryable"
}

// RefreshError is returned by a failed token refresh.
type RefreshError struct {
	Kind RefreshErrorKind
	Err  error
}

var (
	ErrRefreshRetryable = &RefreshError{Kind: RefreshRetryable}
	ErrRefreshRevoked   = &RefreshError{Kind: RefreshRevoked}
)

func (e *RefreshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("refresh %s: %v", e.Kind, e.Err)
	}
	return "refresh " + e.Kind.String()
}

func (e *RefreshError) Is(target error) bool {
	t, ok := target.(*RefreshError)
	return ok && t.Kind == e.Kind
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

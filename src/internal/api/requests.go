// FILE: srpauth/src/internal/api/requests.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"srpauth/src/internal/core"
	"srpauth/src/internal/transport"
)

// Paths
const (
	PathAuthInfo    = "auth/v4/info"
	PathAuth        = "auth/v4"
	PathAuth2FA     = "auth/v4/2fa"
	PathAuthRefresh = "auth/v4/refresh"
	PathUsers       = "core/v4/users"
	PathCaptcha     = "core/v4/captcha"
	PathPing        = "tests/ping"
)

// NewAuthInfoRequest asks for the SRP parameters of username.
func NewAuthInfoRequest(username string, hv *HumanVerificationLogin) (*transport.Request, error) {
	req, err := transport.NewRequest(http.MethodPost, PathAuthInfo).WithJSON(AuthInfoReq{Username: username})
	if err != nil {
		return nil, err
	}
	withHumanVerification(req, hv)
	return req, nil
}

// NewAuthRequest submits the client proof.
func NewAuthRequest(body AuthReq, hv *HumanVerificationLogin) (*transport.Request, error) {
	req, err := transport.NewRequest(http.MethodPost, PathAuth).WithJSON(body)
	if err != nil {
		return nil, err
	}
	withHumanVerification(req, hv)
	return req, nil
}

// NewAuth2FARequest submits a TOTP code. The caller authorizes it with the
// pending session's headers.
func NewAuth2FARequest(code string) (*transport.Request, error) {
	return transport.NewRequest(http.MethodPost, PathAuth2FA).WithJSON(Auth2FAReq{TwoFactorCode: code})
}

// NewAuthRefreshRequest exchanges a refresh token for a new pair.
func NewAuthRefreshRequest(uid, refreshToken string) (*transport.Request, error) {
	req, err := transport.NewRequest(http.MethodPost, PathAuthRefresh).WithJSON(AuthRefreshReq{
		UID:          uid,
		RefreshToken: refreshToken,
		ResponseType: "token",
		GrantType:    "refresh_token",
		RedirectURI:  core.DefaultRedirectURI,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set(core.HeaderUID, uid)
	return req, nil
}

// NewLogoutRequest revokes the session identified by the auth headers.
func NewLogoutRequest() *transport.Request {
	return transport.NewRequest(http.MethodDelete, PathAuth)
}

// NewUserRequest fetches the authenticated user.
func NewUserRequest() *transport.Request {
	return transport.NewRequest(http.MethodGet, PathUsers)
}

// NewCaptchaRequest fetches the captcha page for a human verification token.
func NewCaptchaRequest(token string, forceWebMessaging bool) *transport.Request {
	req := transport.NewRequest(http.MethodGet, PathCaptcha)
	req.Query = url.Values{"Token": {token}}
	if forceWebMessaging {
		req.Query.Set("ForceWebMessaging", "1")
	}
	return req
}

// NewPingRequest checks that the API answers.
func NewPingRequest() *transport.Request {
	return transport.NewRequest(http.MethodGet, PathPing)
}

func withHumanVerification(req *transport.Request, hv *HumanVerificationLogin) {
	if hv == nil || hv.Token == "" {
		return
	}
	req.Header.Set(core.HeaderHVToken, hv.Token)
	req.Header.Set(core.HeaderHVTokenType, hv.Type)
}

// Decode returns the APIError for non-2xx responses, otherwise unmarshals
// the body into T. Shape mismatches are ProtocolErrors.
func Decode[T any](op string, resp *transport.Response) (*T, error) {
	if !resp.IsSuccess() {
		return nil, NewAPIError(resp.Status, resp.Body)
	}
	var out T
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, &ProtocolError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return &out, nil
}

// Call sends req and decodes the response.
func Call[T any](ctx context.Context, t transport.Transport, op string, req *transport.Request) (*T, error) {
	resp, err := t.Send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return Decode[T](op, resp)
}

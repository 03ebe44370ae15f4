// FILE: srpauth/src/internal/api/api_test.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"srpauth/src/internal/core"
	"srpauth/src/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAPIError(t *testing.T) {
	t.Run("JSONBody", func(t *testing.T) {
		e := NewAPIError(422, []byte(`{"Code":8002,"Error":"Incorrect login credentials"}`))
		assert.Equal(t, 422, e.Status)
		assert.Equal(t, core.CodeWrongPassword, e.Code)
		assert.Equal(t, "Incorrect login credentials", e.Message)
		assert.Contains(t, e.Error(), "Incorrect login credentials")
	})

	t.Run("EmptyBody", func(t *testing.T) {
		e := NewAPIError(502, nil)
		assert.Equal(t, 502, e.Status)
		assert.Zero(t, e.Code)
		assert.Contains(t, e.Error(), "http=502")
	})

	t.Run("GarbageBody", func(t *testing.T) {
		e := NewAPIError(500, []byte("<html>oops</html>"))
		assert.Equal(t, 500, e.Status)
		assert.Empty(t, e.Message)
	})
}

func TestHVTable(t *testing.T) {
	hvBody := []byte(`{"Code":9001,"Error":"Human verification required","Details":{"HumanVerificationToken":"hv-tok","HumanVerificationMethods":["captcha"]}}`)

	t.Run("DefaultMatches", func(t *testing.T) {
		table := DefaultHVTable()
		assert.True(t, table.Matches(NewAPIError(422, hvBody)))
		assert.False(t, table.Matches(NewAPIError(422, []byte(`{"Code":8002}`))))
		assert.False(t, table.Matches(NewAPIError(400, hvBody)))
		assert.False(t, table.Matches(nil))
	})

	t.Run("WildcardStatus", func(t *testing.T) {
		table := HVTable{{Code: 12087}}
		assert.True(t, table.Matches(&APIError{Status: 400, Code: 12087}))
		assert.True(t, table.Matches(&APIError{Status: 429, Code: 12087}))
		assert.False(t, table.Matches(&APIError{Status: 422, Code: 9001}))
	})

	t.Run("ClassifyCarriesPayload", func(t *testing.T) {
		wrapped := fmt.Errorf("login: %w", NewAPIError(422, hvBody))
		err := DefaultHVTable().Classify(wrapped)

		require.ErrorIs(t, err, ErrHumanVerificationRequired)
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		require.NotNil(t, authErr.HumanVerification)
		assert.Equal(t, "hv-tok", authErr.HumanVerification.Token)
		assert.Equal(t, []string{"captcha"}, authErr.HumanVerification.Methods)

		apiErr, ok := AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, core.CodeHumanVerification, apiErr.Code)
	})

	t.Run("ClassifyPassThrough", func(t *testing.T) {
		plain := errors.New("boom")
		assert.Same(t, plain, HVTable{}.Classify(plain))

		other := NewAPIError(500, nil)
		assert.Equal(t, error(other), DefaultHVTable().Classify(other))
	})
}

func TestAuthError_Is(t *testing.T) {
	err := fmt.Errorf("refresh: %w", &AuthError{Kind: SessionInvalidated})

	assert.ErrorIs(t, err, ErrSessionInvalidated)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, "auth: session invalidated", ErrSessionInvalidated.Error())

	withAPI := &AuthError{Kind: InvalidCredentials, API: &APIError{Status: 422, Code: 8002}}
	apiErr, ok := AsAPIError(withAPI)
	require.True(t, ok)
	assert.Equal(t, 8002, apiErr.Code)
}

func TestRefreshError_Is(t *testing.T) {
	cause := &APIError{Status: 400, Code: core.CodeInvalidRefreshToken}
	err := &RefreshError{Kind: RefreshRevoked, Err: cause}

	assert.ErrorIs(t, err, ErrRefreshRevoked)
	assert.NotErrorIs(t, err, ErrRefreshRetryable)
	assert.Contains(t, err.Error(), "revoked")

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Same(t, cause, apiErr)
}

func TestDecode(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		body, _ := json.Marshal(AuthInfo{Version: 4, Salt: []byte{1, 2, 3}, SRPSession: "s1"})
		info, err := Decode[AuthInfo]("info", &transport.Response{Status: 200, Body: body})
		require.NoError(t, err)
		assert.Equal(t, 4, info.Version)
		assert.Equal(t, []byte{1, 2, 3}, info.Salt)
		assert.Equal(t, "s1", info.SRPSession)
	})

	t.Run("APIError", func(t *testing.T) {
		_, err := Decode[AuthInfo]("info", &transport.Response{Status: 422, Body: []byte(`{"Code":8002}`)})
		apiErr, ok := AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, 8002, apiErr.Code)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		_, err := Decode[AuthInfo]("info", &transport.Response{Status: 200, Body: []byte(`{"Salt": 12`)})
		var protoErr *ProtocolError
		require.ErrorAs(t, err, &protoErr)
		assert.Equal(t, "info", protoErr.Op)
	})

	t.Run("TwoFAFieldName", func(t *testing.T) {
		var a Auth
		require.NoError(t, json.Unmarshal([]byte(`{"UID":"u1","2FA":{"Enabled":1}}`), &a))
		assert.Equal(t, TOTPEnabled, a.TwoFA.Enabled)
	})
}

func TestRequests(t *testing.T) {
	hv := &HumanVerificationLogin{Token: "tok", Type: "captcha"}

	req, err := NewAuthInfoRequest("alice", hv)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, PathAuthInfo, req.Path)
	assert.Equal(t, "tok", req.Header.Get(core.HeaderHVToken))
	assert.Equal(t, "captcha", req.Header.Get(core.HeaderHVTokenType))
	assert.JSONEq(t, `{"Username":"alice"}`, string(req.Body))

	req, err = NewAuthRefreshRequest("u1", "r1")
	require.NoError(t, err)
	var body AuthRefreshReq
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "refresh_token", body.GrantType)
	assert.Equal(t, "token", body.ResponseType)
	assert.Equal(t, core.DefaultRedirectURI, body.RedirectURI)
	assert.Equal(t, "u1", req.Header.Get(core.HeaderUID))

	req = NewCaptchaRequest("tok", true)
	assert.Equal(t, "tok", req.Query.Get("Token"))
	assert.Equal(t, "1", req.Query.Get("ForceWebMessaging"))

	req, err = NewAuthRequest(AuthReq{Username: "alice"}, nil)
	require.NoError(t, err)
	assert.Empty(t, req.Header.Get(core.HeaderHVToken))

	req = NewPingRequest()
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, PathPing, req.Path)
	assert.Empty(t, req.Body)
}

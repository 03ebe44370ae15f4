// FILE: srpauth/src/internal/testserver/handlers.go
package testserver

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"srpauth/src/internal/api"
	"srpauth/src/internal/core"
	"srpauth/src/internal/srp"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// Server-only API codes
const (
	codeInvalidInput      = 2001
	codeNotFound          = 2501
	codeUnauthorized      = 401
	codeInsufficientScope = 9101
	codeTooManyRequests   = 85131
)

type handshake struct {
	session   *srp.ServerSession
	account   *account
	expiresAt time.Time
}

func (s *Server) storeHandshake(id string, hs *handshake) {
	s.hsMu.Lock()
	defer s.hsMu.Unlock()

	now := time.Now()
	for k, v := range s.handshakes {
		if now.After(v.expiresAt) {
			delete(s.handshakes, k)
		}
	}
	s.handshakes[id] = hs
}

// takeHandshake removes the handshake so each SRP session is used once.
func (s *Server) takeHandshake(id string) *handshake {
	s.hsMu.Lock()
	defer s.hsMu.Unlock()

	hs, exists := s.handshakes[id]
	if !exists {
		return nil
	}
	delete(s.handshakes, id)
	if time.Now().After(hs.expiresAt) || s.faults.challengesExpired() {
		return nil
	}
	return hs
}

func (s *Server) checkHumanVerification(ctx *fasthttp.RequestCtx, path string) bool {
	presented := string(ctx.Request.Header.Peek(core.HeaderHVToken))
	token, required := s.faults.humanVerification(path, presented)
	if !required {
		return true
	}
	s.logger.Debug("msg", "Human verification demanded",
		"component", "testserver",
		"path", path)
	writeError(ctx, fasthttp.StatusUnprocessableEntity, core.CodeHumanVerification,
		"Human verification required", api.HumanVerification{
			Token:   token,
			Methods: []string{"captcha"},
		})
	return false
}

func decodeBody(ctx *fasthttp.RequestCtx, v any) bool {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, codeInvalidInput,
			fmt.Sprintf("Invalid request body: %v", err), nil)
		return false
	}
	return true
}

func (s *Server) handleInfo(ctx *fasthttp.RequestCtx) {
	s.infoCalls.Add(1)

	if !s.limiter.allow(ctx.RemoteIP().String()) {
		ctx.Response.Header.Set("Retry-After", "1")
		writeError(ctx, fasthttp.StatusTooManyRequests, codeTooManyRequests, "Too many recent logins", nil)
		return
	}
	if !s.checkHumanVerification(ctx, "/"+api.PathAuthInfo) {
		return
	}

	var req api.AuthInfoReq
	if !decodeBody(ctx, &req) {
		return
	}
	acct, exists := s.accounts.byUsername(req.Username)
	if !exists {
		writeError(ctx, fasthttp.StatusUnprocessableEntity, core.CodeWrongPassword,
			"Incorrect login credentials. Please try again.", nil)
		return
	}

	ss, err := srp.NewServerSession(acct.verifier)
	if err != nil {
		s.logger.Error("msg", "Failed to start SRP session",
			"component", "testserver",
			"error", err)
		writeError(ctx, fasthttp.StatusInternalServerError, codeInvalidInput, "Internal error", nil)
		return
	}

	id := uuid.NewString()
	s.storeHandshake(id, &handshake{
		session:   ss,
		account:   acct,
		expiresAt: time.Now().Add(s.opts.ChallengeTTL),
	})
	ch := ss.Challenge(id)

	writeJSON(ctx, fasthttp.StatusOK, struct {
		Code int
		api.AuthInfo
	}{core.CodeOK, api.AuthInfo{
		Version:         ch.Version,
		Modulus:         ch.Modulus,
		ServerEphemeral: ch.ServerEphemeral,
		Salt:            ch.Salt,
		SRPSession:      id,
	}})
}

func (s *Server) handleAuth(ctx *fasthttp.RequestCtx) {
	s.authCalls.Add(1)

	if !s.checkHumanVerification(ctx, "/"+api.PathAuth) {
		return
	}

	var req api.AuthReq
	if !decodeBody(ctx, &req) {
		return
	}

	hs := s.takeHandshake(req.SRPSession)
	if hs == nil {
		writeError(ctx, fasthttp.StatusUnprocessableEntity, core.CodeChallengeExpired,
			"Invalid or expired SRP session", nil)
		return
	}
	if !strings.EqualFold(hs.account.Name, req.Username) {
		writeError(ctx, fasthttp.StatusUnprocessableEntity, core.CodeWrongPassword,
			"Incorrect login credentials. Please try again.", nil)
		return
	}

	serverProof, err := hs.session.VerifyClient(req.ClientEphemeral, req.ClientProof)
	if err != nil {
		s.logger.Debug("msg", "Client proof rejected",
			"component", "testserver",
			"user_id", hs.account.ID)
		writeError(ctx, fasthttp.StatusUnprocessableEntity, core.CodeWrongPassword,
			"Incorrect login credentials. Please try again.", nil)
		return
	}
	if s.faults.tampered() {
		serverProof[0] ^= 0xff
	}

	acct := hs.account
	scope := core.ScopeFull
	if acct.twoFA != api.TwoFADisabled {
		scope = core.ScopeTwoFA
	}

	uid := s.issuer.newUID()
	access, refresh, err := s.issuer.newPair(uid, acct.ID, scope, s.opts.AccessTokenTTL)
	if err != nil {
		writeError(ctx, fasthttp.StatusInternalServerError, codeInvalidInput, "Internal error", nil)
		return
	}

	now := time.Now()
	sess := &authSession{
		UID:          uid,
		UserID:       acct.ID,
		Access:       access,
		Refresh:      refresh,
		Scope:        scope,
		AccessExpiry: now.Add(s.opts.AccessTokenTTL),
	}
	if acct.twoFA != api.TwoFADisabled {
		sess.TwoFADeadline = now.Add(s.opts.TwoFAWindow)
	}
	s.sessions.create(sess)

	twoFA := api.TwoFAInfo{Enabled: acct.twoFA}
	if acct.twoFA == api.FIDO2Enabled || acct.twoFA == api.TOTPOrFIDO2Enabled {
		twoFA.FIDO2 = &api.FIDO2Info{
			RegisteredKeys: []api.RegisteredKey{{AttestationFormat: "none", Name: "test key"}},
		}
	}

	s.logger.Debug("msg", "Login accepted",
		"component", "testserver",
		"user_id", acct.ID,
		"uid", uid,
		"scope", scope)

	writeJSON(ctx, fasthttp.StatusOK, struct {
		Code int
		api.Auth
	}{core.CodeOK, api.Auth{
		UserID:       acct.ID,
		UID:          uid,
		TokenType:    "Bearer",
		AccessToken:  access,
		RefreshToken: refresh,
		ServerProof:  serverProof,
		Scope:        scope,
		TwoFA:        twoFA,
		PasswordMode: api.OnePasswordMode,
	}})
}

// authenticated validates the UID and bearer token headers.
func (s *Server) authenticated(ctx *fasthttp.RequestCtx) (authSession, bool) {
	uid := string(ctx.Request.Header.Peek(core.HeaderUID))
	token := strings.TrimPrefix(string(ctx.Request.Header.Peek(core.HeaderAuthorization)), "Bearer ")

	if s.faults.takeUnauthorized() {
		writeError(ctx, fasthttp.StatusUnauthorized, codeUnauthorized, "Invalid access token", nil)
		return authSession{}, false
	}

	sess, ok := s.sessions.authenticate(uid, token)
	if ok {
		if err := s.issuer.verify(token, uid); err != nil {
			ok = false
		}
	}
	if !ok {
		writeError(ctx, fasthttp.StatusUnauthorized, codeUnauthorized, "Invalid access token", nil)
		return authSession{}, false
	}
	return sess, true
}

func (s *Server) handleTwoFA(ctx *fasthttp.RequestCtx) {
	s.twoFACalls.Add(1)

	sess, ok := s.authenticated(ctx)
	if !ok {
		return
	}
	if sess.Scope != core.ScopeTwoFA {
		writeError(ctx, fasthttp.StatusUnprocessableEntity, codeInvalidInput, "Second factor is not pending", nil)
		return
	}
	if time.Now().After(sess.TwoFADeadline) {
		s.sessions.revoke(sess.UID)
		writeError(ctx, fasthttp.StatusUnprocessableEntity, core.CodeChallengeExpired,
			"Second factor window expired", nil)
		return
	}

	var req api.Auth2FAReq
	if !decodeBody(ctx, &req) {
		return
	}
	acct, exists := s.accounts.get(sess.UserID)
	if !exists || !acct.checkTOTP(req.TwoFactorCode) {
		writeError(ctx, fasthttp.StatusUnprocessableEntity, core.CodeInvalid2FACode,
			"Incorrect code. Please try again.", nil)
		return
	}

	s.sessions.setScope(sess.UID, core.ScopeFull)
	writeJSON(ctx, fasthttp.StatusOK, struct {
		Code int
		api.Auth2FA
	}{core.CodeOK, api.Auth2FA{Scope: core.ScopeFull}})
}

func (s *Server) handleRefresh(ctx *fasthttp.RequestCtx) {
	s.refreshCalls.Add(1)
	if !s.checkHumanVerification(ctx, "/"+api.PathAuthRefresh) {
		return
	}

	failure, delay, failing := s.faults.takeRefreshFailure()
	if delay > 0 {
		time.Sleep(delay)
	}
	if failing {
		writeError(ctx, failure.status, failure.code, "Injected refresh failure", nil)
		return
	}

	var req api.AuthRefreshReq
	if !decodeBody(ctx, &req) {
		return
	}
	if req.GrantType != "refresh_token" || req.ResponseType != "token" {
		writeError(ctx, fasthttp.StatusBadRequest, codeInvalidInput, "Unsupported grant", nil)
		return
	}
	uid := req.UID
	if uid == "" {
		uid = string(ctx.Request.Header.Peek(core.HeaderUID))
	}

	current, exists := s.sessions.get(uid)
	if !exists {
		writeError(ctx, fasthttp.StatusUnprocessableEntity, core.CodeInvalidRefreshToken,
			"Invalid refresh token", nil)
		return
	}
	access, refresh, err := s.issuer.newPair(uid, current.UserID, current.Scope, s.opts.AccessTokenTTL)
	if err != nil {
		writeError(ctx, fasthttp.StatusInternalServerError, codeInvalidInput, "Internal error", nil)
		return
	}
	sess, ok := s.sessions.rotate(uid, req.RefreshToken, access, refresh, time.Now().Add(s.opts.AccessTokenTTL))
	if !ok {
		writeError(ctx, fasthttp.StatusUnprocessableEntity, core.CodeInvalidRefreshToken,
			"Invalid refresh token", nil)
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, struct {
		Code int
		api.AuthRefresh
	}{core.CodeOK, api.AuthRefresh{
		UID:          sess.UID,
		TokenType:    "Bearer",
		AccessToken:  sess.Access,
		RefreshToken: sess.Refresh,
		Scope:        sess.Scope,
	}})
}

func (s *Server) handleLogout(ctx *fasthttp.RequestCtx) {
	s.logoutCalls.Add(1)

	sess, ok := s.authenticated(ctx)
	if !ok {
		return
	}
	s.sessions.revoke(sess.UID)
	writeJSON(ctx, fasthttp.StatusOK, struct{ Code int }{core.CodeOK})
}

func (s *Server) handleUsers(ctx *fasthttp.RequestCtx) {
	s.userCalls.Add(1)

	sess, ok := s.authenticated(ctx)
	if !ok {
		return
	}
	if !s.checkHumanVerification(ctx, "/"+api.PathUsers) {
		return
	}
	if sess.Scope != core.ScopeFull {
		writeError(ctx, fasthttp.StatusForbidden, codeInsufficientScope,
			"Access token does not have sufficient scope", nil)
		return
	}
	acct, exists := s.accounts.get(sess.UserID)
	if !exists {
		writeError(ctx, fasthttp.StatusNotFound, codeNotFound, "User not found", nil)
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, struct {
		Code int
		api.UserResponse
	}{core.CodeOK, api.UserResponse{User: api.User{
		ID:          acct.ID,
		Name:        acct.Name,
		DisplayName: acct.Name,
		Email:       acct.Email,
	}}})
}

func (s *Server) handlePing(ctx *fasthttp.RequestCtx) {
	s.pingCalls.Add(1)
	writeJSON(ctx, fasthttp.StatusOK, struct{ Code int }{core.CodeOK})
}

func (s *Server) handleCaptcha(ctx *fasthttp.RequestCtx) {
	s.captchaCalls.Add(1)

	token := string(ctx.QueryArgs().Peek("Token"))
	if token == "" || !s.faults.knownHVToken(token) {
		writeError(ctx, fasthttp.StatusUnprocessableEntity, codeInvalidInput, "Unknown verification token", nil)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("text/html; charset=utf-8")
	fmt.Fprintf(ctx, "<!DOCTYPE html><html><body><div id=\"captcha\" data-token=\"%s\"></div></body></html>",
		html.EscapeString(token))
}

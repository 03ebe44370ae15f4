// FILE: srpauth/src/internal/testserver/faults.go
package testserver

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type refreshFailure struct {
	status int
	code   int
}

// faults holds the misbehaviour a test asked the server to inject.
type faults struct {
	mu               sync.Mutex
	tamperProof      bool
	expireChallenges bool
	hvPaths          map[string]bool
	hvTokens         map[string]bool
	unauthorized     int
	refreshFailures  []refreshFailure
	refreshDelay     time.Duration
}

func newFaults() *faults {
	return &faults{
		hvPaths:  make(map[string]bool),
		hvTokens: make(map[string]bool),
	}
}

func routePath(p string) string {
	return "/" + strings.TrimLeft(p, "/")
}

// TamperServerProof corrupts the server proof returned by successful logins.
// The server still accepts the client proof.
func (s *Server) TamperServerProof(on bool) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	s.faults.tamperProof = on
}

// ExpireChallenges makes every proof submission report a stale SRP session.
func (s *Server) ExpireChallenges(on bool) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	s.faults.expireChallenges = on
}

// RequireHumanVerification demands a solved challenge on each listed path.
// Paths are given relative to the API root, e.g. "auth/v4/info".
func (s *Server) RequireHumanVerification(paths ...string) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	for _, p := range paths {
		s.faults.hvPaths[routePath(p)] = true
	}
}

// ClearHumanVerification stops demanding challenges.
func (s *Server) ClearHumanVerification() {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	clear(s.faults.hvPaths)
}

// ForceUnauthorized answers the next n protected calls with 401.
func (s *Server) ForceUnauthorized(n int) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	s.faults.unauthorized = n
}

// FailNextRefresh queues an error response for the next refresh call.
func (s *Server) FailNextRefresh(status, code int) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	s.faults.refreshFailures = append(s.faults.refreshFailures, refreshFailure{status: status, code: code})
}

// SetRefreshDelay delays every refresh response by d.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	s.faults.refreshDelay = d
}

// ExpireAccessToken makes the current access token of uid stop working.
// The refresh token stays valid.
func (s *Server) ExpireAccessToken(uid string) bool {
	return s.sessions.expireAccess(uid)
}

// RevokeSession removes uid server side, as an administrator would.
func (s *Server) RevokeSession(uid string) bool {
	return s.sessions.revoke(uid)
}

func (f *faults) tampered() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tamperProof
}

func (f *faults) challengesExpired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expireChallenges
}

func (f *faults) takeUnauthorized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unauthorized <= 0 {
		return false
	}
	f.unauthorized--
	return true
}

func (f *faults) takeRefreshFailure() (refreshFailure, time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.refreshFailures) == 0 {
		return refreshFailure{}, f.refreshDelay, false
	}
	rf := f.refreshFailures[0]
	f.refreshFailures = f.refreshFailures[1:]
	return rf, f.refreshDelay, true
}

// humanVerification reports whether path needs a challenge. A solved token
// presented on the request is consumed and lets the request through.
// Otherwise a fresh token is issued for the caller to solve.
func (f *faults) humanVerification(path, presented string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.hvPaths[path] {
		return "", false
	}
	if presented != "" && f.hvTokens[presented] {
		delete(f.hvTokens, presented)
		return "", false
	}
	token := uuid.NewString()
	f.hvTokens[token] = true
	return token, true
}

func (f *faults) knownHVToken(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hvTokens[token]
}

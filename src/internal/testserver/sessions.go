// FILE: srpauth/src/internal/testserver/sessions.go
package testserver

import (
	"sync"
	"time"
)

// authSession is the server-side record behind one UID.
type authSession struct {
	UID           string
	UserID        string
	Access        string
	Refresh       string
	Scope         string
	AccessExpiry  time.Time
	TwoFADeadline time.Time
	CreatedAt     time.Time
	LastActivity  time.Time
}

// sessionStore tracks live sessions and their current token pair. Replaced
// tokens are forgotten, so only the newest pair authenticates.
type sessionStore struct {
	sessions  map[string]*authSession
	byAccess  map[string]string
	byRefresh map[string]string
	mu        sync.RWMutex

	maxIdleTime   time.Duration
	cleanupTicker *time.Ticker
	done          chan struct{}
	stopOnce      sync.Once
}

func newSessionStore(maxIdleTime time.Duration) *sessionStore {
	if maxIdleTime == 0 {
		maxIdleTime = 30 * time.Minute
	}
	return &sessionStore{
		sessions:    make(map[string]*authSession),
		byAccess:    make(map[string]string),
		byRefresh:   make(map[string]string),
		maxIdleTime: maxIdleTime,
		done:        make(chan struct{}),
	}
}

func (m *sessionStore) create(s *authSession) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s.CreatedAt = now
	s.LastActivity = now
	m.sessions[s.UID] = s
	m.byAccess[s.Access] = s.UID
	m.byRefresh[s.Refresh] = s.UID
}

// authenticate returns a copy of the session if access is its current,
// unexpired access token.
func (m *sessionStore) authenticate(uid, access string) (authSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.byAccess[access] != uid {
		return authSession{}, false
	}
	s, exists := m.sessions[uid]
	if !exists || s.Access != access || time.Now().After(s.AccessExpiry) {
		return authSession{}, false
	}
	s.LastActivity = time.Now()
	return *s, true
}

// rotate replaces the token pair if refresh is the session's current
// refresh token. The old pair stops authenticating immediately.
func (m *sessionStore) rotate(uid, refresh, access, nextRefresh string, expiry time.Time) (authSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.byRefresh[refresh] != uid {
		return authSession{}, false
	}
	s, exists := m.sessions[uid]
	if !exists || s.Refresh != refresh {
		return authSession{}, false
	}

	delete(m.byAccess, s.Access)
	delete(m.byRefresh, s.Refresh)
	s.Access = access
	s.Refresh = nextRefresh
	s.AccessExpiry = expiry
	s.LastActivity = time.Now()
	m.byAccess[access] = uid
	m.byRefresh[nextRefresh] = uid
	return *s, true
}

func (m *sessionStore) get(uid string) (authSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, exists := m.sessions[uid]
	if !exists {
		return authSession{}, false
	}
	return *s, true
}

func (m *sessionStore) setScope(uid, scope string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, exists := m.sessions[uid]; exists {
		s.Scope = scope
	}
}

// expireAccess makes the current access token of uid fail authentication.
func (m *sessionStore) expireAccess(uid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, exists := m.sessions[uid]
	if !exists {
		return false
	}
	s.AccessExpiry = time.Now().Add(-time.Second)
	return true
}

func (m *sessionStore) revoke(uid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(uid)
}

func (m *sessionStore) removeLocked(uid string) bool {
	s, exists := m.sessions[uid]
	if !exists {
		return false
	}
	delete(m.byAccess, s.Access)
	delete(m.byRefresh, s.Refresh)
	delete(m.sessions, uid)
	return true
}

func (m *sessionStore) count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// startCleanup periodically drops sessions idle for longer than maxIdleTime.
func (m *sessionStore) startCleanup() {
	interval := m.maxIdleTime / 2
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	m.cleanupTicker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-m.cleanupTicker.C:
				m.cleanupIdleSessions()
			case <-m.done:
				return
			}
		}
	}()
}

func (m *sessionStore) stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		if m.cleanupTicker != nil {
			m.cleanupTicker.Stop()
		}
	})
}

func (m *sessionStore) cleanupIdleSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for uid, s := range m.sessions {
		if now.Sub(s.LastActivity) > m.maxIdleTime {
			m.removeLocked(uid)
			removed++
		}
	}
	return removed
}

// FILE: srpauth/src/internal/testserver/accounts.go
package testserver

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"srpauth/src/internal/api"
	"srpauth/src/internal/srp"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var ErrUserExists = errors.New("user already exists")

type account struct {
	ID       string
	Name     string
	Email    string
	verifier *srp.Verifier
	twoFA    api.TwoFAStatus
	totp     string
	totpHash []byte
}

// checkTOTP compares code against the stored hash.
func (a *account) checkTOTP(code string) bool {
	if len(a.totpHash) == 0 || code == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.totpHash, []byte(code)) == nil
}

// UserOption customises an account at creation.
type UserOption func(*account)

// WithTOTP requires the second factor code on login.
func WithTOTP(code string) UserOption {
	return func(a *account) {
		a.twoFA = api.TOTPEnabled
		a.totp = code
	}
}

// WithTOTPOrFIDO2 advertises both methods; only TOTP is accepted.
func WithTOTPOrFIDO2(code string) UserOption {
	return func(a *account) {
		a.twoFA = api.TOTPOrFIDO2Enabled
		a.totp = code
	}
}

// WithFIDO2Only advertises a security key as the only second factor.
func WithFIDO2Only() UserOption {
	return func(a *account) {
		a.twoFA = api.FIDO2Enabled
		a.totp = ""
	}
}

type accountStore struct {
	mu     sync.RWMutex
	byName map[string]*account
	byID   map[string]*account
}

func newAccountStore() *accountStore {
	return &accountStore{
		byName: make(map[string]*account),
		byID:   make(map[string]*account),
	}
}

func (s *accountStore) add(a *account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(a.Name)
	if _, exists := s.byName[key]; exists {
		return fmt.Errorf("%w: %s", ErrUserExists, a.Name)
	}
	s.byName[key] = a
	s.byID[a.ID] = a
	return nil
}

func (s *accountStore) byUsername(name string) (*account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byName[strings.ToLower(name)]
	return a, ok
}

func (s *accountStore) get(id string) (*account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	return a, ok
}

func (s *accountStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// CreateUser stores an SRP verifier for username and returns the user ID.
func (s *Server) CreateUser(username string, password []byte, opts ...UserOption) (string, error) {
	if username == "" {
		return "", fmt.Errorf("username cannot be empty")
	}
	v, err := srp.NewVerifier(username, password, s.opts.Group)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}

	a := &account{
		ID:       uuid.NewString(),
		Name:     username,
		Email:    username,
		verifier: v,
	}
	if !strings.Contains(username, "@") {
		a.Email = username + "@proton.test"
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.totp != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(a.totp), bcrypt.MinCost)
		if err != nil {
			return "", fmt.Errorf("failed to hash TOTP code: %w", err)
		}
		a.totpHash = hash
		a.totp = ""
	}

	if err := s.accounts.add(a); err != nil {
		return "", err
	}

	s.logger.Debug("msg", "Test user created",
		"component", "testserver",
		"user_id", a.ID,
		"two_factor", a.twoFA.String())
	return a.ID, nil
}

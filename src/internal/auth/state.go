// FILE: srpauth/src/internal/auth/state.go
package auth

import (
	"errors"
	"time"
)

// State is a handshake state.
type State int32

const (
	Idle State = iota
	InfoRequested
	ProofSubmitted
	SecondFactorPending
	Authenticated
	Failed
	LoggedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InfoRequested:
		return "info_requested"
	case ProofSubmitted:
		return "proof_submitted"
	case SecondFactorPending:
		return "second_factor_pending"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	case LoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether the handshake can make no further progress.
func (s State) Terminal() bool {
	return s == Failed || s == LoggedOut
}

var (
	ErrInvalidState            = errors.New("invalid handshake state")
	ErrServerProofMismatch     = errors.New("server proof does not match")
	ErrUnsupportedSecondFactor = errors.New("unsupported second factor")
	ErrAborted                 = errors.New("handshake aborted")
)

// Second factor methods
const (
	MethodTOTP  = "totp"
	MethodFIDO2 = "fido2"
)

// SecondFactorRequirement describes the code the server is waiting for.
type SecondFactorRequirement struct {
	UID       string
	Methods   []string
	ExpiresAt time.Time
}

// Expired reports whether the window has closed at t.
func (r *SecondFactorRequirement) Expired(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}

// FILE: srpauth/src/internal/srp/errors.go
package srp

import (
	"errors"
	"fmt"
)

var (
	ErrNilChallenge        = errors.New("missing login challenge")
	ErrUnsupportedVersion  = errors.New("unsupported auth version")
	ErrUnsupportedGroup    = errors.New("modulus is not a supported SRP group")
	ErrShortSalt           = errors.New("salt too short")
	ErrInvalidEphemeral    = errors.New("invalid ephemeral value")
	ErrInvalidClientProof  = errors.New("client proof rejected")
	ErrRandomSourceFailure = errors.New("random source failure")
)

// CryptoError reports malformed SRP parameters. It is always fatal to the
// current attempt.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("srp %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

func cryptoErr(op string, err error) error {
	return &CryptoError{Op: op, Err: err}
}

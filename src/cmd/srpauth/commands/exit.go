// FILE: srpauth/src/cmd/srpauth/commands/exit.go
package commands

import (
	"errors"

	"srpauth/src/internal/api"
)

// Exit codes
const (
	ExitFailure            = 1
	ExitInvalidCredentials = 2
	ExitHumanVerification  = 3
	ExitSecondFactor       = 4
	ExitSessionInvalidated = 5
)

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, api.ErrInvalidCredentials):
		return ExitInvalidCredentials
	case errors.Is(err, api.ErrHumanVerificationRequired):
		return ExitHumanVerification
	case errors.Is(err, api.ErrSecondFactorRequired), errors.Is(err, api.ErrSecondFactorInvalid):
		return ExitSecondFactor
	case errors.Is(err, api.ErrSessionInvalidated), errors.Is(err, api.ErrRefreshRevoked):
		return ExitSessionInvalidated
	default:
		return ExitFailure
	}
}

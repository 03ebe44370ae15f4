// FILE: srpauth/src/internal/api/hv.go
package api

import (
	"net/http"

	"srpauth/src/internal/core"
)

// HVRule matches responses that demand human verification. A zero field
// matches any value.
type HVRule struct {
	Status int `toml:"status"`
	Code   int `toml:"code"`
}

// HVTable is the server-specific mapping from error responses to
// HumanVerificationRequired.
type HVTable []HVRule

// DefaultHVTable matches HTTP 422 with API code 9001.
func DefaultHVTable() HVTable {
	return HVTable{
		{Status: http.StatusUnprocessableEntity, Code: core.CodeHumanVerification},
	}
}

// Matches reports whether e requires human verification.
func (t HVTable) Matches(e *APIError) bool {
	if e == nil {
		return false
	}
	for _, r := range t {
		if (r.Status == 0 || r.Status == e.Status) && (r.Code == 0 || r.Code == e.Code) {
			return true
		}
	}
	return false
}

// Classify turns a matching APIError into an AuthError carrying the
// challenge payload. Other errors pass through unchanged.
func (t HVTable) Classify(err error) error {
	apiErr, ok := AsAPIError(err)
	if !ok || !t.Matches(apiErr) {
		return err
	}
	hv, _ := apiErr.HumanVerification()
	return &AuthError{
		Kind:              HumanVerificationRequired,
		API:               apiErr,
		HumanVerification: hv,
	}
}

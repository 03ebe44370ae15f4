// FILE: srpauth/src/internal/core/const.go
package core

import "time"

// Wire headers
const (
	HeaderUID           = "X-Pm-Uid"
	HeaderAppVersion    = "X-Pm-Appversion"
	HeaderAuthorization = "Authorization"
	HeaderHVToken       = "X-Pm-Human-Verification-Token"
	HeaderHVTokenType   = "X-Pm-Human-Verification-Token-Type"
)

// DefaultBaseURL targets the bundled test server. Hosted services that sign
// their modulus cannot be reached with this SRP variant.
const (
	DefaultBaseURL     = "http://127.0.0.1:8089/api"
	DefaultRedirectURI = "https://protonmail.ch/"
	DefaultTimeout     = 30 * time.Second
)

// Argon2id parameters for the SRP password hash
const (
	Argon2Time    = 1
	Argon2Memory  = 16 * 1024 // 16 MB
	Argon2Threads = 2
	Argon2SaltLen = 16
	Argon2KeyLen  = 32
)

// SRPVersion is the only auth version this client speaks.
const SRPVersion = 4

// API response codes
const (
	CodeOK                  = 1000
	CodeMultiOK             = 1001
	CodeChallengeExpired    = 2028
	CodeWrongPassword       = 8002
	CodeInvalid2FACode      = 8008
	CodeHumanVerification   = 9001
	CodeInvalidRefreshToken = 10013
)

// Scopes
const (
	ScopeFull   = "full"
	ScopeLocked = "locked"
	ScopeTwoFA  = "twofactor"
)

// FILE: srpauth/src/internal/api/types.go
package api

import "encoding/json"

// Binary fields are carried as standard base64 strings, which is how
// encoding/json renders []byte.

type AuthInfoReq struct {
	Username string
}

type AuthInfo struct {
	Version         int
	Modulus         []byte
	ServerEphemeral []byte
	Salt            []byte
	SRPSession      string
}

type AuthReq struct {
	Username        string
	ClientEphemeral []byte
	ClientProof     []byte
	SRPSession      string
}

type Auth struct {
	UserID string

	UID          string
	TokenType    string
	AccessToken  string
	RefreshToken string
	ServerProof  []byte

	Scope        string
	TwoFA        TwoFAInfo `json:"2FA"`
	PasswordMode PasswordMode
}

type TwoFAStatus int

const (
	TwoFADisabled TwoFAStatus = iota
	TOTPEnabled
	FIDO2Enabled
	TOTPOrFIDO2Enabled
)

func (s TwoFAStatus) String() string {
	switch s {
	case TwoFADisabled:
		return "none"
	case TOTPEnabled:
		return "totp"
	case FIDO2Enabled:
		return "fido2"
	case TOTPOrFIDO2Enabled:
		return "totp_or_fido2"
	default:
		return "unknown"
	}
}

type TwoFAInfo struct {
	Enabled TwoFAStatus
	FIDO2   *FIDO2Info `json:",omitempty"`
}

type FIDO2Info struct {
	AuthenticationOptions json.RawMessage `json:",omitempty"`
	RegisteredKeys        []RegisteredKey `json:",omitempty"`
}

type RegisteredKey struct {
	AttestationFormat string
	CredentialID      []int
	Name              string
}

type PasswordMode int

const (
	OnePasswordMode PasswordMode = iota + 1
	TwoPasswordMode
)

type Auth2FAReq struct {
	TwoFactorCode string
}

type Auth2FA struct {
	Scope string
}

type AuthRefreshReq struct {
	UID          string
	RefreshToken string
	ResponseType string
	GrantType    string
	RedirectURI  string
	State        string `json:",omitempty"`
}

type AuthRefresh struct {
	UID          string
	TokenType    string
	AccessToken  string
	RefreshToken string
	Scope        string
}

type User struct {
	ID          string
	Name        string
	DisplayName string
	Email       string
}

type UserResponse struct {
	User User
}

// ErrorBody is the JSON shape of every non-2xx response.
type ErrorBody struct {
	Code    int
	Error   string          `json:",omitempty"`
	Details json.RawMessage `json:",omitempty"`
}

// HumanVerification is the challenge payload attached to code 9001.
type HumanVerification struct {
	Token   string   `json:"HumanVerificationToken"`
	Methods []string `json:"HumanVerificationMethods"`
}

// HumanVerificationLogin is a solved challenge replayed on login requests.
type HumanVerificationLogin struct {
	Token string
	Type  string
}

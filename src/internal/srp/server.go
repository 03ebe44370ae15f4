// FILE: srpauth/src/internal/srp/server.go
package srp

import (
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"

	"srpauth/src/internal/core"
)

// Verifier is the server-side record for one account. The password itself
// is never stored.
type Verifier struct {
	Username string
	Group    *Group
	Salt     []byte
	V        []byte
}

// NewVerifier derives v = g^x mod N with a fresh salt.
func NewVerifier(username string, password []byte, group *Group) (*Verifier, error) {
	if group == nil {
		group = Group2048
	}
	salt := make([]byte, core.Argon2SaltLen)
	if _, err := io.ReadFull(Rand, salt); err != nil {
		return nil, fmt.Errorf("salt generation failed: %w", err)
	}

	x := passwordExponent(password, salt)
	defer x.SetInt64(0)
	v := new(big.Int).Exp(group.G, x, group.N)

	return &Verifier{
		Username: username,
		Group:    group,
		Salt:     salt,
		V:        pad(group, v),
	}, nil
}

// ServerSession is one server-side handshake. It is single use.
type ServerSession struct {
	verifier *Verifier
	b        *big.Int
	B        *big.Int
}

// NewServerSession generates the server ephemeral B = k*v + g^b mod N.
func NewServerSession(v *Verifier) (*ServerSession, error) {
	if v == nil || v.Group == nil {
		return nil, fmt.Errorf("nil verifier")
	}
	g := v.Group

	b, err := randomExponent()
	if err != nil {
		return nil, err
	}

	k := multiplier(g)
	vi := new(big.Int).SetBytes(v.V)
	B := new(big.Int).Mul(k, vi)
	B.Add(B, new(big.Int).Exp(g.G, b, g.N))
	B.Mod(B, g.N)

	return &ServerSession{verifier: v, b: b, B: B}, nil
}

// Challenge builds the login challenge handed to the client.
func (s *ServerSession) Challenge(sessionID string) *Challenge {
	g := s.verifier.Group
	return &Challenge{
		Version:         core.SRPVersion,
		Modulus:         g.Modulus(),
		ServerEphemeral: pad(g, s.B),
		Salt:            append([]byte(nil), s.verifier.Salt...),
		SessionID:       sessionID,
	}
}

// VerifyClient checks the client proof and returns the server proof M2.
func (s *ServerSession) VerifyClient(clientEphemeral, clientProofBytes []byte) ([]byte, error) {
	g := s.verifier.Group
	defer s.b.SetInt64(0)

	A := new(big.Int).SetBytes(clientEphemeral)
	if !validEphemeral(g, A) {
		return nil, cryptoErr("verify", fmt.Errorf("%w: client ephemeral out of range", ErrInvalidEphemeral))
	}

	padA := pad(g, A)
	padB := pad(g, s.B)
	u := hashInt(padA, padB)
	if u.Sign() == 0 {
		return nil, cryptoErr("verify", fmt.Errorf("%w: zero scrambling parameter", ErrInvalidEphemeral))
	}

	// S = (A * v^u) ^ b mod N
	v := new(big.Int).SetBytes(s.verifier.V)
	S := new(big.Int).Exp(v, u, g.N)
	S.Mul(S, A)
	S.Mod(S, g.N)
	S.Exp(S, s.b, g.N)

	key := hash(pad(g, S))
	defer zero(key)

	expected := clientProof(g, s.verifier.Username, s.verifier.Salt, padA, padB, key)
	if subtle.ConstantTimeCompare(expected, clientProofBytes) != 1 {
		return nil, ErrInvalidClientProof
	}
	return hash(padA, expected, key), nil
}

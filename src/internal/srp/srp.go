// FILE: srpauth/src/internal/srp/srp.go
package srp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"

	"srpauth/src/internal/core"

	"golang.org/x/crypto/argon2"
)

// Rand is the entropy source for ephemeral secrets. Tests may replace it.
var Rand io.Reader = rand.Reader

// ephemeralBits is the size of the private ephemeral exponents a and b.
const ephemeralBits = 256

// Challenge is the server-issued login data for one attempt.
type Challenge struct {
	Version         int
	Modulus         []byte
	ServerEphemeral []byte
	Salt            []byte
	SessionID       string
}

// Zero clears the challenge byte slices.
func (c *Challenge) Zero() {
	if c == nil {
		return
	}
	zero(c.Modulus)
	zero(c.ServerEphemeral)
	zero(c.Salt)
	c.SessionID = ""
}

// ClientProof is the output of DeriveProof. It holds secret-derived material
// and must be zeroed once the proof exchange completes.
type ClientProof struct {
	ClientEphemeral     []byte
	ClientProof         []byte
	ExpectedServerProof []byte
}

// Zero clears all proof material.
func (p *ClientProof) Zero() {
	if p == nil {
		return
	}
	zero(p.ClientEphemeral)
	zero(p.ClientProof)
	zero(p.ExpectedServerProof)
}

// VerifyServerProof compares the server's proof against the expected value
// in constant time.
func (p *ClientProof) VerifyServerProof(serverProof []byte) bool {
	if p == nil || len(p.ExpectedServerProof) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(p.ExpectedServerProof, serverProof) == 1
}

// DeriveProof computes the client side of an SRP-6a exchange for the given
// challenge. It performs no I/O.
func DeriveProof(username string, password []byte, ch *Challenge) (*ClientProof, error) {
	if ch == nil {
		return nil, cryptoErr("derive", ErrNilChallenge)
	}
	if ch.Version != core.SRPVersion {
		return nil, cryptoErr("derive", fmt.Errorf("%w: %d", ErrUnsupportedVersion, ch.Version))
	}
	if len(ch.Salt) < core.Argon2SaltLen {
		return nil, cryptoErr("derive", fmt.Errorf("%w: %d bytes", ErrShortSalt, len(ch.Salt)))
	}
	group, ok := LookupGroup(ch.Modulus)
	if !ok {
		return nil, cryptoErr("derive", fmt.Errorf("%w: %d bits", ErrUnsupportedGroup, new(big.Int).SetBytes(ch.Modulus).BitLen()))
	}

	B := new(big.Int).SetBytes(ch.ServerEphemeral)
	if !validEphemeral(group, B) {
		return nil, cryptoErr("derive", fmt.Errorf("%w: server ephemeral out of range", ErrInvalidEphemeral))
	}

	a, err := randomExponent()
	if err != nil {
		return nil, cryptoErr("derive", err)
	}
	defer a.SetInt64(0)

	A := new(big.Int).Exp(group.G, a, group.N)
	padA := pad(group, A)
	padB := pad(group, B)

	u := hashInt(padA, padB)
	if u.Sign() == 0 {
		return nil, cryptoErr("derive", fmt.Errorf("%w: zero scrambling parameter", ErrInvalidEphemeral))
	}

	x := passwordExponent(password, ch.Salt)
	defer x.SetInt64(0)

	k := multiplier(group)

	// S = (B - k*g^x) ^ (a + u*x) mod N
	gx := new(big.Int).Exp(group.G, x, group.N)
	base := new(big.Int).Mul(k, gx)
	base.Sub(B, base)
	base.Mod(base, group.N)
	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, a)
	S := new(big.Int).Exp(base, exp, group.N)
	defer S.SetInt64(0)
	defer exp.SetInt64(0)

	sessionKey := hash(pad(group, S))
	defer zero(sessionKey)

	m1 := clientProof(group, username, ch.Salt, padA, padB, sessionKey)
	m2 := hash(padA, m1, sessionKey)

	return &ClientProof{
		ClientEphemeral:     padA,
		ClientProof:         m1,
		ExpectedServerProof: m2,
	}, nil
}

// passwordExponent derives x = H(salt | Argon2id(password, salt)).
func passwordExponent(password, salt []byte) *big.Int {
	hashed := argon2.IDKey(password, salt, core.Argon2Time, core.Argon2Memory, core.Argon2Threads, core.Argon2KeyLen)
	defer zero(hashed)
	return hashInt(salt, hashed)
}

// multiplier computes k = H(N | PAD(g)).
func multiplier(g *Group) *big.Int {
	return hashInt(g.N.Bytes(), pad(g, g.G))
}

// clientProof computes M1 = H(H(N) xor H(g) | H(I) | s | A | B | K).
func clientProof(g *Group, username string, salt, padA, padB, key []byte) []byte {
	hn := hash(g.N.Bytes())
	hg := hash(pad(g, g.G))
	for i := range hn {
		hn[i] ^= hg[i]
	}
	hu := hash([]byte(username))
	return hash(hn, hu, salt, padA, padB, key)
}

func validEphemeral(g *Group, v *big.Int) bool {
	if v.Sign() <= 0 || v.Cmp(g.N) >= 0 {
		return false
	}
	return new(big.Int).Mod(v, g.N).Sign() != 0
}

func randomExponent() (*big.Int, error) {
	buf := make([]byte, ephemeralBits/8)
	defer zero(buf)
	if _, err := io.ReadFull(Rand, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRandomSourceFailure, err)
	}
	n := new(big.Int).SetBytes(buf)
	if n.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero exponent", ErrRandomSourceFailure)
	}
	return n, nil
}

func pad(g *Group, v *big.Int) []byte {
	out := make([]byte, g.Size())
	return v.FillBytes(out)
}

func hash(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func hashInt(parts ...[]byte) *big.Int {
	return new(big.Int).SetBytes(hash(parts...))
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

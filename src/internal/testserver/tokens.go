// FILE: srpauth/src/internal/testserver/tokens.go
package testserver

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// accessClaims are embedded in signed access tokens.
type accessClaims struct {
	UID   string `json:"uid"`
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

type issuer struct {
	key        []byte
	sequential bool
	uidSeq     atomic.Uint64
	tokenSeq   atomic.Uint64
}

func newIssuer(key []byte, sequential bool) *issuer {
	return &issuer{key: key, sequential: sequential}
}

func (i *issuer) newUID() string {
	if i.sequential {
		return fmt.Sprintf("u%d", i.uidSeq.Add(1))
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// newPair issues an access and refresh token. Sequential pairs share their
// index so the n-th pair is (an, rn).
func (i *issuer) newPair(uid, userID, scope string, ttl time.Duration) (string, string, error) {
	if i.sequential {
		n := i.tokenSeq.Add(1)
		return fmt.Sprintf("a%d", n), fmt.Sprintf("r%d", n), nil
	}

	now := time.Now()
	claims := accessClaims{
		UID:   uid,
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    "srpauth-testserver",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return access, uuid.NewString(), nil
}

var errTokenExpired = errors.New("access token expired")

// verify checks the signature and expiry of a signed access token.
// Sequential tokens carry no claims and are checked against the session
// record only.
func (i *issuer) verify(access, uid string) error {
	if i.sequential {
		return nil
	}
	var claims accessClaims
	_, err := jwt.ParseWithClaims(access, &claims, func(t *jwt.Token) (any, error) {
		return i.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return errTokenExpired
		}
		return err
	}
	if claims.UID != uid {
		return fmt.Errorf("token issued for another session")
	}
	return nil
}

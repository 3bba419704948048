// Package auth maps bearer tokens to the owning user.
//
// Tokens are HS256 JWTs whose subject claim is the owner id that scopes
// every row in the remote store.
package auth

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail to parse or verify, or
// that carry no subject.
var ErrInvalidToken = errors.New("invalid token")

// Issue signs a token for owner. A zero ttl issues a token without expiry.
func Issue(secret []byte, owner string, ttl time.Duration, now time.Time) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("issue token: empty owner")
	}
	if len(secret) == 0 {
		return "", fmt.Errorf("issue token: empty secret")
	}
	claims := gojwt.RegisteredClaims{
		Subject:  owner,
		IssuedAt: gojwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = gojwt.NewNumericDate(now.Add(ttl))
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verifier checks token signatures and expiry.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a verifier for tokens signed with secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret, now: time.Now}
}

// WithClock returns a copy of v that evaluates expiry against now.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	return &Verifier{secret: v.secret, now: now}
}

// Owner verifies token and returns its subject.
func (v *Verifier) Owner(token string) (string, error) {
	parsed, err := gojwt.ParseWithClaims(token, &gojwt.RegisteredClaims{},
		func(*gojwt.Token) (any, error) { return v.secret, nil },
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return subject(parsed)
}

// OwnerUnverified returns the subject of token without checking its
// signature. Clients use it to learn their own owner id; servers must use
// a Verifier.
func OwnerUnverified(token string) (string, error) {
	parsed, _, err := gojwt.NewParser().ParseUnverified(token, &gojwt.RegisteredClaims{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return subject(parsed)
}

func subject(token *gojwt.Token) (string, error) {
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return sub, nil
}

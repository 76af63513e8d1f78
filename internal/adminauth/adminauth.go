// Package adminauth issues and verifies the short-lived bearer tokens that
// guard the admin HTTP surface (freeze/unfreeze/broadcast/job control,
// SPEC_FULL.md §4). Grounded on pocketbase's own JWT-backed auth tokens
// (core.App record auth uses golang-jwt/jwt/v4 RegisteredClaims under the
// hood) — generalized here to a secret-signed admin claim set instead of a
// record-backed user session, since this service has no end-user login.
package adminauth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// ErrInvalidToken covers every rejection reason (bad signature, expired,
// wrong issuer) — callers don't need to distinguish them, only the HTTP
// layer's 401 response does.
var ErrInvalidToken = errors.New("adminauth: invalid or expired token")

const issuer = "outagewatch-admin"

type claims struct {
	jwt.RegisteredClaims
}

// Issuer mints and verifies admin bearer tokens against a single shared
// secret (ADMIN_JWT_SECRET, SPEC_FULL.md §6).
type Issuer struct {
	secret []byte
}

// New builds an Issuer. An empty secret means the admin surface is
// disabled entirely (Verify always fails) rather than accepting tokens
// signed with an empty key.
func New(secret string) *Issuer {
	return &Issuer{secret: []byte(secret)}
}

// Enabled reports whether a signing secret was configured.
func (i *Issuer) Enabled() bool { return len(i.secret) > 0 }

// Mint issues a token valid for ttl, identifying the operator as subject.
func (i *Issuer) Mint(subject string, ttl time.Duration, now time.Time) (string, error) {
	if !i.Enabled() {
		return "", ErrInvalidToken
	}
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(i.secret)
}

// Verify validates tokenString's signature, issuer, and expiry, returning
// the admin subject it was minted for.
func (i *Issuer) Verify(tokenString string, now time.Time) (subject string, err error) {
	if !i.Enabled() {
		return "", ErrInvalidToken
	}
	var c claims
	parsed, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if c.Issuer != issuer {
		return "", ErrInvalidToken
	}
	return c.Subject, nil
}

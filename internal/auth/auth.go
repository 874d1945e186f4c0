package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoToken = errors.New("no session token; run login first")

// Claims is the subset of the backend session token the client reads.
type Claims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time // zero when the token carries no exp
}

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Parse reads the claims of a session token without verifying its signature.
// The signing key belongs to the backend; the client only needs the expiry
// and the identity for display.
func Parse(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrNoToken
	}
	var tc tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &tc); err != nil {
		return Claims{}, fmt.Errorf("parse session token: %w", err)
	}
	c := Claims{Subject: tc.Subject, Email: tc.Email}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}
	return c, nil
}

// Expired reports whether the token is past its expiry at now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Check parses token and fails if it is missing or expired.
func Check(token string, now time.Time) (Claims, error) {
	c, err := Parse(token)
	if err != nil {
		return Claims{}, err
	}
	if c.Expired(now) {
		return c, fmt.Errorf("session token expired at %s; run login again", c.ExpiresAt.Format(time.RFC3339))
	}
	return c, nil
}

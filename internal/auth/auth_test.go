package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zsprackett/coursedesk/internal/auth"
)

func issue(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   "42",
		"email": "aluno@example.com",
		"exp":   exp.Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestParse(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	c, err := auth.Parse(issue(t, exp))
	if err != nil {
		t.Fatal(err)
	}
	if c.Subject != "42" || c.Email != "aluno@example.com" {
		t.Errorf("unexpected claims: %+v", c)
	}
	if !c.ExpiresAt.Equal(exp) {
		t.Errorf("exp: got %v want %v", c.ExpiresAt, exp)
	}
}

func TestCheck_Expired(t *testing.T) {
	tok := issue(t, time.Now().Add(-time.Minute))
	if _, err := auth.Check(tok, time.Now()); err == nil {
		t.Fatal("expected expired token error")
	}
}

func TestCheck_Empty(t *testing.T) {
	if _, err := auth.Check("", time.Now()); !errors.Is(err, auth.ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
}

func TestParse_Garbage(t *testing.T) {
	if _, err := auth.Parse("not-a-jwt"); err == nil {
		t.Fatal("expected parse error")
	}
}

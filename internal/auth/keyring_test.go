package auth_test

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/zsprackett/coursedesk/internal/auth"
)

func TestTokenKeyring(t *testing.T) {
	keyring.MockInit()

	if got := auth.LoadToken("from-file"); got != "from-file" {
		t.Errorf("empty keyring: got %q want fallback", got)
	}
	if err := auth.SaveToken("  jwt-123 "); err != nil {
		t.Fatal(err)
	}
	if got := auth.LoadToken("from-file"); got != "jwt-123" {
		t.Errorf("after save: got %q", got)
	}
	if err := auth.DeleteToken(); err != nil {
		t.Fatal(err)
	}
	if err := auth.DeleteToken(); err != nil {
		t.Errorf("second delete: %v", err)
	}
	if got := auth.LoadToken(""); got != "" {
		t.Errorf("after delete: got %q", got)
	}
}

func TestSaveToken_Empty(t *testing.T) {
	keyring.MockInit()
	if err := auth.SaveToken(" "); !errors.Is(err, auth.ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
}

func TestLoadToken_KeyringUnavailable(t *testing.T) {
	keyring.MockInitWithError(errors.New("no secret service"))
	if got := auth.LoadToken("from-file"); got != "from-file" {
		t.Errorf("got %q want fallback", got)
	}
	if err := auth.SaveToken("x"); err == nil {
		t.Error("expected save error")
	}
}

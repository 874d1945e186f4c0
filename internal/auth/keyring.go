package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "coursedesk"
	keyringUser    = "session-token"
)

// SaveToken stores the session token in the system keyring.
func SaveToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNoToken
	}
	if err := keyring.Set(keyringService, keyringUser, token); err != nil {
		return fmt.Errorf("store session token: %w", err)
	}
	return nil
}

// LoadToken returns the keyring token, or fallback when the keyring holds
// none or cannot be reached.
func LoadToken(fallback string) string {
	token, err := keyring.Get(keyringService, keyringUser)
	if err != nil || token == "" {
		return fallback
	}
	return token
}

// DeleteToken removes the stored token. A missing token is not an error.
func DeleteToken() error {
	err := keyring.Delete(keyringService, keyringUser)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete session token: %w", err)
	}
	return nil
}

// Package credential keeps portal access tokens in the OS keyring.
package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "portalbell"

// ErrNotFound is returned by Token when no token is stored for the user.
var ErrNotFound = errors.New("credential not found")

// opener builds the keyring. Tests swap it for an in-memory ring.
var opener = func() (keyring.Keyring, error) {
	return keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/portalbell/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("portalbell-file-key"),
		KeychainTrustApplication: true,
	})
}

func openKeyring() (keyring.Keyring, error) {
	ring, err := opener()
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// TokenKey is the keyring key holding username's token.
func TokenKey(username string) string {
	return "token-" + username
}

// Token returns the stored token for username.
func Token(username string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(TokenKey(username))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting token for %q: %w", username, err)
	}

	return string(item.Data), nil
}

// SetToken stores the token for username.
func SetToken(username, token string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   TokenKey(username),
		Data:  []byte(token),
		Label: "portalbell token for " + username,
	})
	if err != nil {
		return fmt.Errorf("setting token for %q: %w", username, err)
	}

	return nil
}

// DeleteToken removes the stored token for username. A missing token is
// not an error.
func DeleteToken(username string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(TokenKey(username))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting token for %q: %w", username, err)
	}

	return nil
}

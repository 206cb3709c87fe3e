// Package credential stores provider secrets (access tokens, refresh
// tokens, app passwords) in the system keyring. Only account metadata
// goes to the database; secrets never do.
package credential

import (
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "mailhub"

// Key names are derived per account so each secret rotates independently.
func AccessTokenKey(accountID string) string  { return "access-token-" + accountID }
func RefreshTokenKey(accountID string) string { return "refresh-token-" + accountID }
func AppPasswordKey(accountID string) string  { return "app-password-" + accountID }

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailhub/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailhub-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// GetOptional retrieves a credential value, returning empty (not an
// error) when the key does not exist.
func GetOptional(key string) string {
	ring, err := openKeyring()
	if err != nil {
		return ""
	}
	item, err := ring.Get(key)
	if err != nil {
		return ""
	}
	return string(item.Data)
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring. Missing
// keys are not an error; deletion is idempotent.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil && err != keyring.ErrKeyNotFound {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

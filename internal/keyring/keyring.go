// Package keyring stores the hex-encoded decryption key in the OS
// keyring. It is the fallback key cache when no agent is running.
package keyring

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/avoronov/lastvault/internal/common"
)

const serviceName = "lastvault"

// SaveKey stores the decryption key for username.
func SaveKey(username, keyHex string) error {
	if err := keyring.Set(serviceName, username, keyHex); err != nil {
		return fmt.Errorf("keyring: %w", err)
	}
	return nil
}

// GetKey retrieves the decryption key for username. Returns
// common.ErrNotCached when no key is stored.
func GetKey(username string) (string, error) {
	keyHex, err := keyring.Get(serviceName, username)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", common.ErrNotCached
		}
		return "", fmt.Errorf("keyring: %w", err)
	}
	return keyHex, nil
}

// DeleteKey removes the stored key. Deleting an absent key is not an
// error.
func DeleteKey(username string) error {
	err := keyring.Delete(serviceName, username)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring: %w", err)
	}
	return nil
}

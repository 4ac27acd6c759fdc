// Package kdf derives the per-user key material from the master password.
//
// Two keys come out of a derivation: the decryption key, used locally for
// all field decryption and never sent anywhere, and the login hash, which
// is what the server sees during authentication.
package kdf

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/avoronov/lastvault/internal/common"
)

// KeyLen is the size of the derived decryption key in bytes (AES-256).
const KeyLen = 32

// KeySet holds the two derived keys for one user. The DecryptionKey must be
// wiped with common.WipeByteArray when the owning session ends.
type KeySet struct {
	// LoginHash is the hex-encoded authentication hash sent to the server.
	LoginHash string
	// DecryptionKey is the 32-byte symmetric key for field decryption.
	DecryptionKey []byte
}

// Derive computes a KeySet from credentials.
//
// The username is lower-cased before use, matching server behavior. For
// iterations > 1:
//
//	decryptionKey = PBKDF2-HMAC-SHA256(password, salt=username, iterations, 32)
//	loginHash     = hex(PBKDF2-HMAC-SHA256(decryptionKey, salt=password, 1, 32))
//
// iterations == 1 selects the legacy single-round scheme used by accounts
// predating the iterative KDF:
//
//	decryptionKey = SHA256(username || password)
//	loginHash     = hex(SHA256(hex(decryptionKey) || password))
//
// Derivation is deterministic and has no side effects.
func Derive(username, password string, iterations int) (*KeySet, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: empty username", common.ErrInvalidInput)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: empty password", common.ErrInvalidInput)
	}
	if iterations < 1 {
		return nil, fmt.Errorf("%w: iteration count %d", common.ErrInvalidInput, iterations)
	}

	username = strings.ToLower(username)

	if iterations == 1 {
		return deriveLegacy(username, password), nil
	}

	key := pbkdf2.Key([]byte(password), []byte(username), iterations, KeyLen, sha256.New)
	hash := pbkdf2.Key(key, []byte(password), 1, KeyLen, sha256.New)

	return &KeySet{
		LoginHash:     hex.EncodeToString(hash),
		DecryptionKey: key,
	}, nil
}

func deriveLegacy(username, password string) *KeySet {
	key := sha256.Sum256([]byte(username + password))
	hash := sha256.Sum256([]byte(hex.EncodeToString(key[:]) + password))

	return &KeySet{
		LoginHash:     hex.EncodeToString(hash[:]),
		DecryptionKey: key[:],
	}
}

// Wipe zeros the decryption key in place.
func (k *KeySet) Wipe() {
	common.WipeByteArray(k.DecryptionKey)
}

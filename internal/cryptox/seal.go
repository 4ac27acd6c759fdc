package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/avoronov/lastvault/internal/common"
)

const gcmNonceSize = 12

// StateKey derives the key protecting local state files (session, caches)
// from the vault decryption key. Local state must never be readable without
// the master secret, but must also never be encrypted directly under the
// field key, so a domain-separated hash is used.
func StateKey(decryptionKey []byte) []byte {
	h := sha256.New()
	h.Write([]byte("lastvault/state/v1"))
	h.Write(decryptionKey)
	return h.Sum(nil)
}

// SealState serializes v to JSON and encrypts it with AES-GCM under key.
// Output layout is nonce || ciphertext.
func SealState(v any, key []byte) ([]byte, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := common.GenerateRandByteArray(gcmNonceSize)
	return append(nonce, aead.Seal(nil, nonce, plain, nil)...), nil
}

// OpenState decrypts data produced by SealState and unmarshals the JSON
// into v. A wrong key or tampered data yields common.ErrDecryption.
func OpenState(data []byte, key []byte, v any) error {
	aead, err := newGCM(key)
	if err != nil {
		return err
	}
	if len(data) < gcmNonceSize {
		return fmt.Errorf("%w: state file truncated", common.ErrDecryption)
	}

	plain, err := aead.Open(nil, data[:gcmNonceSize], data[gcmNonceSize:], nil)
	if err != nil {
		return fmt.Errorf("%w: state authentication failed", common.ErrDecryption)
	}
	return json.Unmarshal(plain, v)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

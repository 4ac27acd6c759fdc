package cryptox

import (
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"github.com/avoronov/lastvault/internal/common"
)

// DecryptPrivateKey recovers the user's RSA private key from its
// transport form: a hex string whose bytes are the key material encrypted
// under the user's decryption key. The decrypted material may be a PEM
// block, raw DER, or hex-encoded DER, in either PKCS#8 or PKCS#1 layout.
func DecryptPrivateKey(keyHex string, decryptionKey []byte) (*rsa.PrivateKey, error) {
	encrypted, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: private key is not valid hex", common.ErrDecryption)
	}

	der, err := DecryptField(encrypted, decryptionKey)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}

	if block, _ := pem.Decode(der); block != nil {
		der = block.Bytes
	} else if raw, err := hex.DecodeString(string(der)); err == nil {
		der = raw
	}

	return parsePrivateKey(der)
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: private key is not RSA", common.ErrDecryption)
		}
		return rsaKey, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w: unparseable private key", common.ErrDecryption)
}

// UnwrapShareKey decrypts a shared folder's symmetric key with the user's
// RSA private key. Servers have emitted both RSA-OAEP(SHA-1) and
// PKCS#1 v1.5 wrappings, so both are attempted. The decrypted value is the
// hex encoding of a 32-byte AES key; a raw 32-byte key is accepted for
// robustness.
func UnwrapShareKey(wrapped []byte, priv *rsa.PrivateKey) ([]byte, error) {
	if len(wrapped) == 0 {
		return nil, fmt.Errorf("%w: empty share key", common.ErrDecryption)
	}
	if priv == nil {
		return nil, fmt.Errorf("%w: no private key available", common.ErrDecryption)
	}

	plain, err := rsa.DecryptOAEP(sha1.New(), nil, priv, wrapped, nil)
	if err != nil {
		plain, err = rsa.DecryptPKCS1v15(nil, priv, wrapped)
		if err != nil {
			return nil, fmt.Errorf("%w: RSA unwrap failed", common.ErrDecryption)
		}
	}

	if key, err := hex.DecodeString(string(plain)); err == nil && len(key) == 32 {
		return key, nil
	}
	if len(plain) == 32 {
		return plain, nil
	}
	return nil, fmt.Errorf("%w: unwrapped share key has unexpected form", common.ErrDecryption)
}

// Package cryptox implements the symmetric and asymmetric cipher layer of
// the vault: per-field AES encryption in the three historical encodings,
// RSA unwrap of shared-folder keys, and an AES-GCM envelope for local
// state files.
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"

	"github.com/avoronov/lastvault/internal/common"
)

// Historical blobs mix three field encodings, distinguished by a signature
// in the ciphertext itself:
//
//	CBC raw:    '!' + 16-byte IV + raw ciphertext, (len-1) % 16 == 0
//	CBC base64: '!' + 24 base64 chars (16-byte IV) + '|' + base64 ciphertext
//	legacy ECB: base64 ciphertext, zero IV, no marker
//
// Encryption always produces the CBC raw form with a fresh random IV.

const ivSize = aes.BlockSize

// DecryptField decrypts a single vault field value. Empty ciphertext
// decrypts to an empty plaintext; many fields are legitimately blank.
// Truncated input, an unknown encoding, or a padding mismatch yields
// common.ErrDecryption, never silent garbage.
func DecryptField(data []byte, key []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}

	if data[0] == '!' {
		if (len(data)-1)%aes.BlockSize == 0 && len(data) > 1+ivSize {
			return decryptCBC(data[1:1+ivSize], data[1+ivSize:], key)
		}
		return decryptCBCBase64(data[1:], key)
	}

	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: unrecognized field encoding", common.ErrDecryption)
	}
	return decryptECB(raw, key)
}

func decryptCBCBase64(data []byte, key []byte) ([]byte, error) {
	sep := bytes.IndexByte(data, '|')
	if sep < 0 {
		return nil, fmt.Errorf("%w: missing IV separator", common.ErrDecryption)
	}

	iv, err := base64.StdEncoding.DecodeString(string(data[:sep]))
	if err != nil || len(iv) != ivSize {
		return nil, fmt.Errorf("%w: bad IV encoding", common.ErrDecryption)
	}
	ct, err := base64.StdEncoding.DecodeString(string(data[sep+1:]))
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding", common.ErrDecryption)
	}
	return decryptCBC(iv, ct, key)
}

func decryptCBC(iv, ct, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block-aligned", common.ErrDecryption)
	}

	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	return pkcs7Unpad(plain)
}

func decryptECB(ct, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block-aligned", common.ErrDecryption)
	}

	plain := make([]byte, len(ct))
	for i := 0; i < len(ct); i += aes.BlockSize {
		block.Decrypt(plain[i:i+aes.BlockSize], ct[i:i+aes.BlockSize])
	}
	return pkcs7Unpad(plain)
}

// EncryptField encrypts a field value into the CBC raw form with a fresh
// random IV. An empty plaintext encrypts to an empty ciphertext so that
// blank fields round-trip.
func EncryptField(plain []byte, key []byte) ([]byte, error) {
	if len(plain) == 0 {
		return []byte{}, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := common.GenerateRandByteArray(ivSize)
	padded := pkcs7Pad(plain)

	out := make([]byte, 1+ivSize+len(padded))
	out[0] = '!'
	copy(out[1:], iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[1+ivSize:], padded)
	return out, nil
}

// EncryptFieldBase64 encrypts a field value into the '!' + base64(iv) + '|' +
// base64(ciphertext) wire form used by mutation endpoints.
func EncryptFieldBase64(plain []byte, key []byte) (string, error) {
	if len(plain) == 0 {
		return "", nil
	}

	raw, err := EncryptField(plain, key)
	if err != nil {
		return "", err
	}

	iv := raw[1 : 1+ivSize]
	ct := raw[1+ivSize:]
	return "!" + base64.StdEncoding.EncodeToString(iv) + "|" +
		base64.StdEncoding.EncodeToString(ct), nil
}

func pkcs7Pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 || len(b)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: bad padded length", common.ErrDecryption)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", common.ErrDecryption)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", common.ErrDecryption)
		}
	}
	return b[:len(b)-n], nil
}

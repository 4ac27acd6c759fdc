package cryptox

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avoronov/lastvault/internal/common"
)

var fixtureKey, _ = hex.DecodeString(
	"196eb5f036e485f3f996e7fbc45fb233a9c1325b6b0f23cf7d960f56c01da9f2")

// Three encodings of the same plaintext under fixtureKey, captured so the
// decoder is pinned to real wire layouts rather than its own output.
var (
	fixtureECB = []byte("9lbs5wwReszyFbMrdyNfhw==")

	fixtureCBCBase64 = []byte(
		"!AAECAwQFBgcICQoLDA0ODw==|qd4OzOATPB888WVb9USc9A==")

	fixtureCBCRaw, _ = hex.DecodeString(
		"21000102030405060708090a0b0c0d0e0fa9de0ecce0133c1f3cf1655bf5449cf4")
)

func TestDecryptField_AllEncodingsAgree(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"legacy ECB base64", fixtureECB},
		{"CBC base64", fixtureCBCBase64},
		{"CBC raw", fixtureCBCRaw},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plain, err := DecryptField(tc.data, fixtureKey)
			require.NoError(t, err)
			assert.Equal(t, "GitHub", string(plain))
		})
	}
}

func TestDecryptField_MultiBlockFixture(t *testing.T) {
	raw, err := hex.DecodeString(
		"21000102030405060708090a0b0c0d0e1f34740110c3606cea7e2cbf971245ef4b" +
			"f1815b2f12c144a9aa741e1e7049d142")
	require.NoError(t, err)

	plain, err := DecryptField(raw, fixtureKey)
	require.NoError(t, err)
	assert.Equal(t, "correct horse battery staple", string(plain))
}

func TestDecryptField_EmptyInput(t *testing.T) {
	plain, err := DecryptField(nil, fixtureKey)
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	tests := []string{
		"",
		"x",
		"GitHub",
		"exactly sixteen!",
		"a somewhat longer plaintext that spans multiple AES blocks",
	}

	for _, plaintext := range tests {
		t.Run(plaintext, func(t *testing.T) {
			ct, err := EncryptField([]byte(plaintext), fixtureKey)
			require.NoError(t, err)

			got, err := DecryptField(ct, fixtureKey)
			require.NoError(t, err)
			assert.Equal(t, plaintext, string(got))
		})
	}
}

func TestEncryptField_FreshIVPerCall(t *testing.T) {
	a, err := EncryptField([]byte("GitHub"), fixtureKey)
	require.NoError(t, err)
	b, err := EncryptField([]byte("GitHub"), fixtureKey)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestEncryptFieldBase64_RoundTrip(t *testing.T) {
	wire, err := EncryptFieldBase64([]byte("GitHub"), fixtureKey)
	require.NoError(t, err)
	require.NotEmpty(t, wire)
	assert.Equal(t, byte('!'), wire[0])

	plain, err := DecryptField([]byte(wire), fixtureKey)
	require.NoError(t, err)
	assert.Equal(t, "GitHub", string(plain))
}

func TestDecryptField_Failures(t *testing.T) {
	wrongKey := make([]byte, 32)

	truncatedRaw := append([]byte{}, fixtureCBCRaw...)
	truncatedRaw = truncatedRaw[:len(truncatedRaw)-1]

	tampered := append([]byte{}, fixtureCBCRaw...)
	tampered[len(tampered)-1] ^= 0xff

	tests := []struct {
		name string
		data []byte
		key  []byte
	}{
		{"wrong key", fixtureCBCRaw, wrongKey},
		{"truncated raw", truncatedRaw, fixtureKey},
		{"tampered padding", tampered, fixtureKey},
		{"marker only", []byte("!"), fixtureKey},
		{"not base64", []byte("@@not-base64@@"), fixtureKey},
		{"bad base64 IV", []byte("!tooshort|AAAA"), fixtureKey},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecryptField(tc.data, tc.key)
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrDecryption), "got %v", err)
		})
	}
}

func TestPrivateKeyAndShareUnwrap(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	// Transport form: PEM-encoded PKCS#8, field-encrypted, hex-encoded.
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	encrypted, err := EncryptField(pemKey, fixtureKey)
	require.NoError(t, err)

	got, err := DecryptPrivateKey(hex.EncodeToString(encrypted), fixtureKey)
	require.NoError(t, err)
	require.True(t, got.Equal(priv))

	shareKey := common.GenerateRandByteArray(32)
	shareKeyHex := []byte(hex.EncodeToString(shareKey))

	t.Run("OAEP", func(t *testing.T) {
		wrapped, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, &priv.PublicKey, shareKeyHex, nil)
		require.NoError(t, err)

		key, err := UnwrapShareKey(wrapped, got)
		require.NoError(t, err)
		assert.Equal(t, shareKey, key)
	})

	t.Run("PKCS1v15", func(t *testing.T) {
		wrapped, err := rsa.EncryptPKCS1v15(rand.Reader, &priv.PublicKey, shareKeyHex)
		require.NoError(t, err)

		key, err := UnwrapShareKey(wrapped, got)
		require.NoError(t, err)
		assert.Equal(t, shareKey, key)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := UnwrapShareKey([]byte("not an RSA block"), got)
		require.Error(t, err)
		assert.True(t, errors.Is(err, common.ErrDecryption))
	})
}

func TestSealOpenState(t *testing.T) {
	type state struct {
		Token string `json:"token"`
		N     int    `json:"n"`
	}

	key := StateKey(fixtureKey)

	sealed, err := SealState(state{Token: "abc", N: 7}, key)
	require.NoError(t, err)

	var got state
	require.NoError(t, OpenState(sealed, key, &got))
	assert.Equal(t, state{Token: "abc", N: 7}, got)

	// Tampering must fail closed.
	sealed[len(sealed)-1] ^= 1
	err = OpenState(sealed, key, &got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrDecryption))
}

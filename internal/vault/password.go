package vault

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/avoronov/lastvault/internal/common"
)

const (
	passwordLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	passwordSymbols = "!@#$%^&*()_+-=[]{}|;:,.<>?"
)

// GeneratePassword returns a random password of the given length drawn
// from letters and digits, plus punctuation when symbols is set. Each
// character is chosen uniformly with crypto/rand.
func GeneratePassword(length int, symbols bool) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("%w: password length must be positive", common.ErrInvalidInput)
	}

	chars := passwordLetters
	if symbols {
		chars += passwordSymbols
	}

	size := big.NewInt(int64(len(chars)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generating password: %w", err)
		}
		out[i] = chars[n.Int64()]
	}
	return string(out), nil
}

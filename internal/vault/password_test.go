package vault

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avoronov/lastvault/internal/common"
)

func TestGeneratePassword(t *testing.T) {
	p, err := GeneratePassword(16, true)
	require.NoError(t, err)
	assert.Len(t, p, 16)

	p2, err := GeneratePassword(16, true)
	require.NoError(t, err)
	assert.NotEqual(t, p, p2, "two generated passwords should differ")

	for _, c := range p {
		assert.True(t, strings.ContainsRune(passwordLetters+passwordSymbols, c),
			"unexpected character %q", c)
	}
}

func TestGeneratePassword_NoSymbols(t *testing.T) {
	p, err := GeneratePassword(64, false)
	require.NoError(t, err)
	for _, c := range p {
		assert.True(t, strings.ContainsRune(passwordLetters, c),
			"symbol %q in alphanumeric password", c)
	}
}

func TestGeneratePassword_RejectsBadLength(t *testing.T) {
	_, err := GeneratePassword(0, true)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))

	_, err = GeneratePassword(-5, false)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}

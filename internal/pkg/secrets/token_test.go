package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomToken(t *testing.T) {
	a, err := RandomToken(SessionTokenBytes)
	require.NoError(t, err)
	b, err := RandomToken(SessionTokenBytes)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	// 32 bytes → 43 base64url characters, no padding.
	assert.Len(t, a, 43)
	assert.NotContains(t, a, "=")
}

func TestRandomInviteCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := RandomInviteCode()
		require.NoError(t, err)
		require.Len(t, code, InviteCodeLength)
		for j := 0; j < len(code); j++ {
			c := code[j]
			inAlphabet := (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
			require.True(t, inAlphabet, "code %q has symbol %q outside alphabet", code, c)
		}
		seen[code] = true
	}
	// 50 draws from 36^8 should never collide.
	assert.Len(t, seen, 50)
}

func TestConstantTimeEquals(t *testing.T) {
	assert.True(t, ConstantTimeEquals("abc", "abc"))
	assert.False(t, ConstantTimeEquals("abc", "abd"))
	assert.False(t, ConstantTimeEquals("abc", "abcd"))
	assert.True(t, ConstantTimeEquals("", ""))
}

func TestVerifyCSRF(t *testing.T) {
	token, err := NewCSRFToken()
	require.NoError(t, err)

	assert.True(t, VerifyCSRF(token, token))
	assert.False(t, VerifyCSRF(token, "forged"))
	assert.False(t, VerifyCSRF("", ""), "empty pair must not pass")
	assert.False(t, VerifyCSRF(token, ""))
	assert.False(t, VerifyCSRF("", token))
}

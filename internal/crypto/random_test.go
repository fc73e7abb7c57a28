package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken()
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	token2, err := GenerateSecureToken()
	assert.NoError(t, err)
	assert.NotEqual(t, token, token2)

	// 32 bytes, unpadded base64url
	assert.Len(t, token, 43)
}

func TestHashPassword(t *testing.T) {
	hashed, err := HashPassword("correct horse")
	assert.NoError(t, err)
	assert.NotEqual(t, []byte("correct horse"), hashed)

	assert.True(t, CheckPassword(hashed, "correct horse"))
	assert.False(t, CheckPassword(hashed, "wrong"))

	again, err := HashPassword("correct horse")
	assert.NoError(t, err)
	assert.NotEqual(t, hashed, again)
}

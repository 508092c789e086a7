// internal/auth/auth_test.go
package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := CreateHash("xyz789")
	require.NoError(t, err)

	ok, err := ComparePasswordAndHash("xyz789", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ComparePasswordAndHash("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestComparePasswordRejectsGarbageHash(t *testing.T) {
	_, err := ComparePasswordAndHash("xyz789", "not-a-hash")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestJWTRoundTrip(t *testing.T) {
	require.NoError(t, Init())

	token, err := CreateJWT("alice@example.com")
	require.NoError(t, err)

	subject, err := AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", subject)

	_, err = AuthenticateJWT("bogus")
	assert.Error(t, err)
}

package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPassword      = "SecurePassword123!"
	testWrongPassword = "WrongPassword456!"
)

func TestHashPassword_Format(t *testing.T) {
	hash, err := HashPassword(testPassword)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=1,p=4$"))
	assert.Len(t, strings.Split(hash, "$"), 6)
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword(testPassword)
	require.NoError(t, err)

	match, err := VerifyPassword(testPassword, hash)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = VerifyPassword(testWrongPassword, hash)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	hash1, err := HashPassword(testPassword)
	require.NoError(t, err)
	hash2, err := HashPassword(testPassword)
	require.NoError(t, err)

	assert.NotEqual(t, hash1, hash2)
}

func TestHashPassword_UnicodeCharacters(t *testing.T) {
	for _, password := range []string{"パスワード123", "Şifre123!", "🔒🔑Password123"} {
		t.Run(password, func(t *testing.T) {
			hash, err := HashPassword(password)
			require.NoError(t, err)

			match, err := VerifyPassword(password, hash)
			require.NoError(t, err)
			assert.True(t, match)
		})
	}
}

func TestVerifyPassword_MalformedHash(t *testing.T) {
	cases := map[string]error{
		"not-a-hash": ErrInvalidHash,

		"$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA":   ErrInvalidHash,
		"$argon2id$v=18$m=65536,t=1,p=4$c2FsdA$aGFzaA": ErrIncompatibleVersion,
		"$argon2id$v=19$garbage$c2FsdA$aGFzaA":         ErrInvalidHash,
		"$argon2id$v=19$m=65536,t=1,p=4$!!!$aGFzaA":    ErrInvalidHash,
	}

	for hash, want := range cases {
		t.Run(hash, func(t *testing.T) {
			match, err := VerifyPassword(testPassword, hash)
			assert.ErrorIs(t, err, want)
			assert.False(t, match)
		})
	}
}

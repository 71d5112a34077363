package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testHasher(t *testing.T, algorithm string) *PasswordHasher {
	t.Helper()
	h, err := NewPasswordHasher(PasswordHasherConfig{
		Algorithm:     algorithm,
		Argon2Memory:  8 * 1024,
		Argon2Time:    1,
		Argon2Threads: 1,
		BcryptCost:    bcrypt.MinCost,
	})
	require.NoError(t, err)
	return h
}

func TestArgon2HashAndVerify(t *testing.T) {
	h := testHasher(t, "argon2id")

	digest, salt, err := h.Hash("pw1")
	require.NoError(t, err)
	assert.Contains(t, digest, "$argon2id$v=19$m=8192,t=1,p=1$")
	assert.NotEmpty(t, salt)
	assert.NotContains(t, digest, "pw1")

	ok, err := h.Verify("pw1", digest, salt)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("pw2", digest, salt)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArgon2SaltsDiffer(t *testing.T) {
	h := testHasher(t, "argon2id")

	d1, s1, err := h.Hash("same")
	require.NoError(t, err)
	d2, s2, err := h.Hash("same")
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2)
	assert.NotEqual(t, d1, d2)
}

func TestBcryptHashAndVerify(t *testing.T) {
	h := testHasher(t, "bcrypt")

	digest, salt, err := h.Hash("secret")
	require.NoError(t, err)
	assert.Empty(t, salt)

	ok, err := h.Verify("secret", digest, salt)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong", digest, salt)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyAcceptsRecordsFromOtherAlgorithm(t *testing.T) {
	legacy := testHasher(t, "bcrypt")
	digest, salt, err := legacy.Hash("secret")
	require.NoError(t, err)

	current := testHasher(t, "argon2id")
	ok, err := current.Verify("secret", digest, salt)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	h := testHasher(t, "argon2id")

	_, err := h.Verify("x", "plaintext", "")
	assert.ErrorIs(t, err, errUnknownHashFormat)

	_, err = h.Verify("x", "$argon2id$v=19$m=1,t=1,p=1$AAAA", "!!notbase64")
	assert.ErrorIs(t, err, errUnknownHashFormat)
}

func TestNewPasswordHasherRejectsUnknownAlgorithm(t *testing.T) {
	_, err := NewPasswordHasher(PasswordHasherConfig{Algorithm: "md5"})
	assert.Error(t, err)
}

func TestBcryptRejectsOverlongPassword(t *testing.T) {
	h := testHasher(t, "bcrypt")
	long := strings.Repeat("p", 100)

	_, _, err := h.Hash(long)
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	digest, _, err := h.Hash(long[:72])
	require.NoError(t, err)
	ok, err := h.Verify(long, digest, "")
	require.NoError(t, err)
	assert.False(t, ok, "bytes past 72 must not be silently ignored")

	_, _, err = testHasher(t, "argon2id").Hash(long)
	assert.NoError(t, err)
}

package cipher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *AgeCipher {
	t.Helper()
	key, err := GenerateServiceKey()
	require.NoError(t, err)
	c, err := NewAgeCipher(key)
	require.NoError(t, err)
	return c
}

func TestAgeCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t)
	plaintext := []byte("if you are reading this, I missed my check-in")

	content, key, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, content)

	got, err := c.Decrypt(content, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestAgeCipher_WrongServiceIdentity(t *testing.T) {
	c1 := newTestCipher(t)
	c2 := newTestCipher(t)

	content, key, err := c1.Encrypt([]byte("sealed"))
	require.NoError(t, err)

	_, err = c2.Decrypt(content, key)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCipher)
}

func TestAgeCipher_CorruptContent(t *testing.T) {
	c := newTestCipher(t)
	content, key, err := c.Encrypt([]byte("sealed"))
	require.NoError(t, err)

	content[len(content)-1] ^= 0xFF
	_, err = c.Decrypt(content, key)
	assert.ErrorIs(t, err, ErrCipher)
}

func TestNewAgeCipher_RejectsGarbage(t *testing.T) {
	_, err := NewAgeCipher("not-a-key")
	assert.Error(t, err)
}

func TestContentHash_VerifyContent(t *testing.T) {
	plaintext := []byte("payload")
	h := ContentHash(plaintext)

	assert.Len(t, h, 64) // 32-byte digest, hex encoded
	assert.True(t, VerifyContent(plaintext, h))
	assert.False(t, VerifyContent([]byte("tampered"), h))
}

func TestContentHash_Deterministic(t *testing.T) {
	assert.Equal(t, ContentHash([]byte("x")), ContentHash([]byte("x")))
	assert.NotEqual(t, ContentHash([]byte("x")), ContentHash([]byte("y")))
}

package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealRoundTrip(t *testing.T) {
	s, err := NewSealer("test-key")
	require.NoError(t, err)

	sealed, err := s.Seal("refresh-token-value")
	require.NoError(t, err)
	assert.NotEqual(t, "refresh-token-value", sealed)

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token-value", plain)

	// Sealing twice produces distinct ciphertexts (fresh nonce).
	sealed2, err := s.Seal("refresh-token-value")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, sealed2)
}

func TestOpenWithWrongKey(t *testing.T) {
	a, err := NewSealer("key-a")
	require.NoError(t, err)
	b, err := NewSealer("key-b")
	require.NoError(t, err)

	sealed, err := a.Seal("secret")
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.Error(t, err)
}

func TestOpenGarbage(t *testing.T) {
	s, err := NewSealer("test-key")
	require.NoError(t, err)

	_, err = s.Open("not base64 at all!!!")
	assert.Error(t, err)

	_, err = s.Open("c2hvcnQ=") // valid base64, too short for a nonce
	assert.Error(t, err)
}

func TestOpenEmpty(t *testing.T) {
	s, err := NewSealer("test-key")
	require.NoError(t, err)

	plain, err := s.Open("")
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestNewSealerEmptyKey(t *testing.T) {
	_, err := NewSealer("")
	assert.Error(t, err)
}

func TestLongKeyTruncated(t *testing.T) {
	long, err := NewSealer("0123456789012345678901234567890123456789")
	require.NoError(t, err)
	trunc, err := NewSealer("01234567890123456789012345678901")
	require.NoError(t, err)

	sealed, err := long.Seal("secret")
	require.NoError(t, err)

	plain, err := trunc.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "secret", plain)
}

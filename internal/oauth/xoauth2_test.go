package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXOAuth2Client(t *testing.T) {
	c := NewXOAuth2Client("user@example.com", "ya29.token")

	mech, ir, err := c.Start()
	require.NoError(t, err)
	assert.Equal(t, "XOAUTH2", mech)
	assert.Equal(t, "user=user@example.com\x01auth=Bearer ya29.token\x01\x01", string(ir))

	// The error challenge gets an empty response, a second challenge
	// is a protocol violation.
	resp, err := c.Next([]byte(`{"status":"401"}`))
	require.NoError(t, err)
	assert.Empty(t, resp)

	_, err = c.Next([]byte(`again`))
	assert.Error(t, err)
}

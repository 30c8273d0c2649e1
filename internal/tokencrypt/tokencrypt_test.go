package tokencrypt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	assert := assert.New(t)

	c, err := New([]byte("some-key-material"))
	require.NoError(t, err)
	assert.True(c.Enabled())

	payload := []byte(`{"access_token":"at","refresh_token":"rt"}`)

	sealed, encrypted, err := c.Encrypt(payload)
	require.NoError(t, err)
	assert.True(encrypted)
	assert.NotEqual(string(payload), sealed)

	opened, err := c.Decrypt(sealed, encrypted)
	require.NoError(t, err)
	assert.Equal(payload, opened)
}

func TestPassThroughWithoutKey(t *testing.T) {
	assert := assert.New(t)

	c, err := New(nil)
	require.NoError(t, err)
	assert.False(c.Enabled())

	payload := []byte(`{"access_token":"at"}`)

	stored, encrypted, err := c.Encrypt(payload)
	require.NoError(t, err)
	assert.False(encrypted)
	assert.Equal(string(payload), stored)

	opened, err := c.Decrypt(stored, encrypted)
	require.NoError(t, err)
	assert.Equal(payload, opened)
}

func TestDecryptUnencryptedRowWithKeyConfigured(t *testing.T) {
	// A row written before encryption was enabled must stay readable.
	c, err := New([]byte("new-key"))
	require.NoError(t, err)

	opened, err := c.Decrypt(`{"access_token":"at"}`, false)
	require.NoError(t, err)
	assert.Equal(t, `{"access_token":"at"}`, string(opened))
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	c1, err := New([]byte("key-one"))
	require.NoError(t, err)

	c2, err := New([]byte("key-two"))
	require.NoError(t, err)

	sealed, encrypted, err := c1.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = c2.Decrypt(sealed, encrypted)
	assert.Error(t, err)
}

func TestDecryptEncryptedRowWithoutKeyFails(t *testing.T) {
	c1, err := New([]byte("key-one"))
	require.NoError(t, err)

	sealed, encrypted, err := c1.Encrypt([]byte("secret"))
	require.NoError(t, err)

	disabled, err := New(nil)
	require.NoError(t, err)

	_, err = disabled.Decrypt(sealed, encrypted)
	assert.Error(t, err)
}

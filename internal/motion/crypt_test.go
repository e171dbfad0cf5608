package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "a3q8r8c135sqbn66"

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher(testKey)
	require.NoError(t, err)
	return c
}

func TestCipher_FixedVector_SingleBlock(t *testing.T) {
	c := newTestCipher(t)

	initial := "244e1d963ebdc5453f43e896465b5bcf"
	decrypted, err := c.Decrypt(initial)
	require.NoError(t, err)
	assert.Equal(t, "070404020e0059b4", decrypted)

	encrypted, err := c.Encrypt(decrypted)
	require.NoError(t, err)
	assert.Equal(t, initial, encrypted)
}

func TestCipher_FixedVector_TwoBlocks(t *testing.T) {
	c := newTestCipher(t)

	initial := "69bfafefae90f4d98e226064bd99fc9d8776fe675d70a8cd7adce3c5210b3681"
	decrypted, err := c.Decrypt(initial)
	require.NoError(t, err)
	assert.Equal(t, "12040f020e0048b40018071002000000001c0b", decrypted)

	encrypted, err := c.Encrypt(decrypted)
	require.NoError(t, err)
	assert.Equal(t, initial, encrypted)
}

func TestCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	plaintexts := []string{
		"",
		"00",
		"03020301180305",
		"000102030405060708090a0b0c0d0e",
		"000102030405060708090a0b0c0d0e0f",
		"000102030405060708090a0b0c0d0e0f1011121314151617",
	}
	for _, p := range plaintexts {
		encrypted, err := c.Encrypt(p)
		require.NoError(t, err, p)
		assert.Equal(t, 0, len(encrypted)%32, "ciphertext of %q should be whole blocks", p)

		decrypted, err := c.Decrypt(encrypted)
		require.NoError(t, err, p)
		assert.Equal(t, p, decrypted)
	}
}

func TestCipher_KeyNotSet(t *testing.T) {
	_, err := NewCipher("")
	assert.ErrorIs(t, err, ErrKeyNotSet)

	var c *Cipher
	_, err = c.Encrypt("00")
	assert.ErrorIs(t, err, ErrKeyNotSet)
	_, err = c.Decrypt("244e1d963ebdc5453f43e896465b5bcf")
	assert.ErrorIs(t, err, ErrKeyNotSet)

	_, err = (&Cipher{}).EncryptBytes([]byte{1})
	assert.ErrorIs(t, err, ErrKeyNotSet)
}

func TestCipher_InvalidKeyLength(t *testing.T) {
	_, err := NewCipher("short")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCipher_AES256Key(t *testing.T) {
	c, err := NewCipher(testKey + testKey)
	require.NoError(t, err)

	encrypted, err := c.Encrypt("12040f02")
	require.NoError(t, err)
	decrypted, err := c.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "12040f02", decrypted)
}

func TestCipher_InvalidInput(t *testing.T) {
	c := newTestCipher(t)

	_, err := c.Encrypt("zz")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.Decrypt("244e1d")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.Decrypt("not hex")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPKCS7Unpad_RejectsBadPadding(t *testing.T) {
	_, err := pkcs7Unpad([]byte{1, 2, 3, 0}, 16)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = pkcs7Unpad([]byte{1, 2, 3, 17}, 16)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = pkcs7Unpad([]byte{1, 3, 2, 2}, 16)
	assert.NoError(t, err)

	_, err = pkcs7Unpad([]byte{1, 3, 1, 2}, 16)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

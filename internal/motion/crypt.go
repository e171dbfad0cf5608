package motion

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
)

// Cipher encrypts and decrypts motor payloads with AES in ECB mode and PKCS7 padding.
// ECB is what the motor firmware speaks, so the mode cannot be changed.
// A Cipher is immutable once built and safe for concurrent use.
type Cipher struct {
	block cipher.Block
}

// NewCipher creates a Cipher from a UTF-8 passphrase of 16, 24 or 32 bytes
func NewCipher(key string) (*Cipher, error) {
	if key == "" {
		return nil, ErrKeyNotSet
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: encryption key: %v", ErrInvalidArgument, err)
	}
	return &Cipher{block: block}, nil
}

// Encrypt encrypts a hex encoded plaintext and returns hex encoded ciphertext
func (c *Cipher) Encrypt(hexPlaintext string) (string, error) {
	plaintext, err := hex.DecodeString(hexPlaintext)
	if err != nil {
		return "", fmt.Errorf("%w: plaintext is not hex: %v", ErrInvalidArgument, err)
	}
	ciphertext, err := c.EncryptBytes(plaintext)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ciphertext), nil
}

// Decrypt decrypts hex encoded ciphertext and returns the hex encoded plaintext
func (c *Cipher) Decrypt(hexCiphertext string) (string, error) {
	ciphertext, err := hex.DecodeString(hexCiphertext)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext is not hex: %v", ErrInvalidArgument, err)
	}
	plaintext, err := c.DecryptBytes(ciphertext)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(plaintext), nil
}

// EncryptBytes pads the plaintext and encrypts it block by block
func (c *Cipher) EncryptBytes(plaintext []byte) ([]byte, error) {
	if c == nil || c.block == nil {
		return nil, ErrKeyNotSet
	}
	blockSize := c.block.BlockSize()
	padded := pkcs7Pad(plaintext, blockSize)
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += blockSize {
		c.block.Encrypt(out[i:i+blockSize], padded[i:i+blockSize])
	}
	return out, nil
}

// DecryptBytes decrypts block by block and strips the padding
func (c *Cipher) DecryptBytes(ciphertext []byte) ([]byte, error) {
	if c == nil || c.block == nil {
		return nil, ErrKeyNotSet
	}
	blockSize := c.block.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%blockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of %d", ErrInvalidArgument, len(ciphertext), blockSize)
	}
	out := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += blockSize {
		c.block.Decrypt(out[i:i+blockSize], ciphertext[i:i+blockSize])
	}
	return pkcs7Unpad(out, blockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrInvalidArgument)
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, fmt.Errorf("%w: bad padding length %d", ErrInvalidArgument, padding)
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("%w: inconsistent padding", ErrInvalidArgument)
		}
	}
	return data[:len(data)-padding], nil
}

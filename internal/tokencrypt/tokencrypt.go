// Package tokencrypt encrypts token material before it is written to the
// database. When no key is configured the cipher runs in pass-through mode:
// payloads round-trip unchanged and rows are tagged as unencrypted so that
// both formats stay readable across a key rotation.
package tokencrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// Cipher seals and opens credential payloads with AES-256-GCM. The zero-key
// cipher is valid and passes payloads through unchanged.
type Cipher struct {
	aead cipher.AEAD
}

// New derives a 32-byte AES-256 key from the provided key material via
// SHA-256 and returns a ready cipher. A nil or empty key yields a
// pass-through cipher, which is the explicit "encryption disabled" mode.
func New(keyMaterial []byte) (*Cipher, error) {
	if len(keyMaterial) == 0 {
		return &Cipher{}, nil
	}

	key := sha256.Sum256(keyMaterial)

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("could not create aes cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("could not create gcm: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Enabled reports whether a key is configured.
func (c *Cipher) Enabled() bool {
	return c.aead != nil
}

// Encrypt seals the payload and returns the stored representation plus a
// discriminator the caller persists alongside it. With no key configured the
// payload is returned as-is and the discriminator is false.
func (c *Cipher) Encrypt(plaintext []byte) (string, bool, error) {
	if c.aead == nil {
		return string(plaintext), false, nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", false, fmt.Errorf("could not generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)

	return base64.RawStdEncoding.EncodeToString(sealed), true, nil
}

// Decrypt reverses Encrypt. The encrypted flag is the stored discriminator:
// unencrypted payloads round-trip unchanged regardless of whether a key is
// currently configured, so a row written before a key was introduced stays
// readable. Opening an encrypted payload without a key, or with the wrong
// key, fails.
func (c *Cipher) Decrypt(payload string, encrypted bool) ([]byte, error) {
	if !encrypted {
		return []byte(payload), nil
	}

	if c.aead == nil {
		return nil, fmt.Errorf("payload is encrypted but no key is configured")
	}

	sealed, err := base64.RawStdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("could not decode payload: %w", err)
	}

	if len(sealed) < c.aead.NonceSize() {
		return nil, fmt.Errorf("payload is too short")
	}

	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("could not decrypt payload: %w", err)
	}

	return plaintext, nil
}

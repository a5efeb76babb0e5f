// Package seal provides optional authenticated encryption for values an
// application stores in sensitive columns. The key arrives through
// configuration; when it is absent or unusable the store runs
// unencrypted and callers receive a nil cipher.
package seal

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher seals and opens byte payloads with XChaCha20-Poly1305.
type Cipher struct {
	aead cipher.AEAD
}

// New builds a cipher from a 32-byte key.
func New(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("seal: failed to initialize cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// FromConfig parses an encryption key from its configured string form,
// accepting base64 or hex encodings of a 32-byte key. A missing or
// malformed key logs a warning and returns nil: the store keeps working
// without column encryption rather than refusing to start.
func FromConfig(encoded string) *Cipher {
	if encoded == "" {
		return nil
	}
	key := decodeKey(encoded)
	if key == nil {
		log.Printf("[WARN] Encryption key is not a valid 32-byte base64 or hex string, column encryption disabled")
		return nil
	}
	c, err := New(key)
	if err != nil {
		log.Printf("[WARN] Failed to initialize column encryption: %v", err)
		return nil
	}
	return c
}

func decodeKey(encoded string) []byte {
	if key, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(key) == chacha20poly1305.KeySize {
		return key
	}
	if key, err := hex.DecodeString(encoded); err == nil && len(key) == chacha20poly1305.KeySize {
		return key
	}
	return nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal: failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered or truncated input fails.
func (c *Cipher) Decrypt(encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("seal: ciphertext is not valid base64: %w", err)
	}
	if len(sealed) < c.aead.NonceSize() {
		return nil, fmt.Errorf("seal: ciphertext shorter than nonce")
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("seal: failed to open ciphertext: %w", err)
	}
	return plaintext, nil
}

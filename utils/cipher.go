package utils

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// DecryptFailedPlaceholder is shown instead of content that cannot be
// decrypted.
const DecryptFailedPlaceholder = "[Encrypted message — decryption failed]"

const cipherInfo = "lightoflife message content v1"

var ErrCiphertext = errors.New("malformed ciphertext")

// Cipher encrypts message content at rest with XChaCha20-Poly1305.
// Ciphertexts are base64(nonce || sealed).
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the content key from secret with HKDF-SHA256.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("encryption secret is empty")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(cipherInfo)), key); err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrCiphertext
	}
	if len(raw) < c.aead.NonceSize()+c.aead.Overhead() {
		return "", ErrCiphertext
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Reveal returns the readable form of stored content. Content that fails to
// decrypt becomes DecryptFailedPlaceholder and ok is false.
func (c *Cipher) Reveal(content string, encrypted bool) (text string, ok bool) {
	if !encrypted || content == "" {
		return content, true
	}
	plaintext, err := c.Decrypt(content)
	if err != nil {
		return DecryptFailedPlaceholder, false
	}
	return plaintext, true
}

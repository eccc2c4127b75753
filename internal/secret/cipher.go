// Package secret encrypts tokens at rest. Records in the database only ever
// hold the base64 form of an age ciphertext; the X25519 identity comes from
// configuration and never leaves the process.
package secret

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"filippo.io/age"
)

// Cipher wraps a single age X25519 key pair for string encryption.
type Cipher struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewCipher parses an age X25519 identity ("AGE-SECRET-KEY-1...").
func NewCipher(key string) (*Cipher, error) {
	identity, err := age.ParseX25519Identity(key)
	if err != nil {
		return nil, fmt.Errorf("parse encryption key: %w", err)
	}
	return &Cipher{
		identity:  identity,
		recipient: identity.Recipient(),
	}, nil
}

// GenerateKey creates a fresh X25519 identity for first-run setup.
func GenerateKey() (string, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", err
	}
	return identity.String(), nil
}

// Encrypt returns the base64-wrapped ciphertext of plain.
// An empty plaintext stays empty: absence is stored as absence.
func (c *Cipher) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, c.recipient)
	if err != nil {
		return "", fmt.Errorf("encrypt token: %w", err)
	}
	if _, err := io.WriteString(w, plain); err != nil {
		return "", fmt.Errorf("encrypt token: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("encrypt token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decrypt reverses Encrypt. An empty ciphertext stays empty.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode token ciphertext: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), c.identity)
	if err != nil {
		return "", fmt.Errorf("decrypt token: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decrypt token: %w", err)
	}
	return string(plain), nil
}

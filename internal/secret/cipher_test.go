package secret

import (
	"strings"
	"testing"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return c
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	inputs := []string{
		"a",
		"eyJhbGciOiJIUzI1NiJ9.payload.signature",
		"токен с кириллицей и пробелами",
		strings.Repeat("x", 4096),
		"line1\nline2\ttab",
	}
	for _, in := range inputs {
		enc, err := c.Encrypt(in)
		if err != nil {
			t.Fatalf("encrypt %q: %v", in[:min(len(in), 16)], err)
		}
		if enc == in {
			t.Fatalf("ciphertext equals plaintext")
		}
		out, err := c.Decrypt(enc)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if out != in {
			t.Fatalf("round trip mismatch: got %q, want %q", out, in)
		}
	}
}

func TestEncryptDecrypt_EmptyIsAbsent(t *testing.T) {
	c := newTestCipher(t)

	enc, err := c.Encrypt("")
	if err != nil || enc != "" {
		t.Fatalf("Encrypt(\"\") = (%q, %v), want (\"\", nil)", enc, err)
	}
	dec, err := c.Decrypt("")
	if err != nil || dec != "" {
		t.Fatalf("Decrypt(\"\") = (%q, %v), want (\"\", nil)", dec, err)
	}
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	c1 := newTestCipher(t)
	c2 := newTestCipher(t)

	enc, err := c1.Encrypt("secret-token")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := c2.Decrypt(enc); err == nil {
		t.Fatal("expected decryption with a different key to fail")
	}
}

func TestDecrypt_GarbageFails(t *testing.T) {
	c := newTestCipher(t)
	if _, err := c.Decrypt("not base64!!"); err == nil {
		t.Fatal("expected invalid base64 to fail")
	}
	if _, err := c.Decrypt("aGVsbG8="); err == nil {
		t.Fatal("expected non-age payload to fail")
	}
}

func TestNewCipher_RejectsBadKey(t *testing.T) {
	if _, err := NewCipher("definitely-not-a-key"); err == nil {
		t.Fatal("expected invalid identity to be rejected")
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/kenneth/chunkvault/internal/vaulterr"
)

func newTestKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func newTestNonce(t *testing.T, c *Cipher) []byte {
	t.Helper()
	nonce, err := NewRandomNonceSource(c.NonceSize()).Next()
	if err != nil {
		t.Fatalf("failed to generate nonce: %v", err)
	}
	return nonce
}

func TestCipher_RoundTrip(t *testing.T) {
	for _, alg := range SupportedAlgorithms() {
		t.Run(alg, func(t *testing.T) {
			c, err := NewCipher(alg, newTestKey(t))
			if err != nil {
				t.Fatalf("NewCipher failed: %v", err)
			}
			if c.Algorithm() != alg {
				t.Fatalf("expected algorithm %s, got %s", alg, c.Algorithm())
			}

			plaintext := []byte("The fox jumped over the fence.")
			nonce := newTestNonce(t, c)

			ciphertext, err := c.Encrypt(plaintext, nonce)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			if len(ciphertext) != len(plaintext)+c.Overhead() {
				t.Fatalf("expected ciphertext length %d, got %d", len(plaintext)+c.Overhead(), len(ciphertext))
			}

			decrypted, err := c.Decrypt(ciphertext, nonce)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if !bytes.Equal(plaintext, decrypted) {
				t.Fatalf("expected %q, got %q", plaintext, decrypted)
			}
		})
	}
}

func TestCipher_NonceSizes(t *testing.T) {
	tests := []struct {
		algorithm string
		expected  int
	}{
		{AlgorithmChaCha20Poly1305, 12},
		{AlgorithmXChaCha20Poly1305, 24},
		{AlgorithmAES256GCM, 12},
	}

	for _, tt := range tests {
		c, err := NewCipher(tt.algorithm, newTestKey(t))
		if err != nil {
			t.Fatalf("NewCipher(%s) failed: %v", tt.algorithm, err)
		}
		if c.NonceSize() != tt.expected {
			t.Errorf("%s: expected nonce size %d, got %d", tt.algorithm, tt.expected, c.NonceSize())
		}
		size, err := NonceSizeFor(tt.algorithm)
		if err != nil || size != tt.expected {
			t.Errorf("NonceSizeFor(%s) = %d, %v", tt.algorithm, size, err)
		}
	}
}

func TestNewCipher_InvalidKeySize(t *testing.T) {
	_, err := NewCipher(AlgorithmChaCha20Poly1305, make([]byte, 16))
	if !errors.Is(err, vaulterr.ErrCrypto) {
		t.Fatalf("expected CryptoError, got %v", err)
	}
}

func TestNewCipher_InvalidAlgorithm(t *testing.T) {
	_, err := NewCipher("INVALID", newTestKey(t))
	if !errors.Is(err, vaulterr.ErrCrypto) {
		t.Fatalf("expected CryptoError, got %v", err)
	}
	if !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
}

func TestCipher_EncryptRejectsWrongNonceSize(t *testing.T) {
	c, err := NewCipher(AlgorithmChaCha20Poly1305, newTestKey(t))
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}

	// A 24-byte nonce is what the extended variant needs, not this one.
	_, err = c.Encrypt([]byte("data"), make([]byte, 24))
	if !errors.Is(err, vaulterr.ErrCrypto) {
		t.Fatalf("expected CryptoError, got %v", err)
	}
}

func TestCipher_TamperedCiphertext(t *testing.T) {
	c, err := NewCipher(AlgorithmChaCha20Poly1305, newTestKey(t))
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}
	nonce := newTestNonce(t, c)

	ciphertext, err := c.Encrypt([]byte("Hello, World!"), nonce)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	for i := range ciphertext {
		tampered := append([]byte(nil), ciphertext...)
		tampered[i] ^= 0x01

		plaintext, err := c.Decrypt(tampered, nonce)
		if !errors.Is(err, vaulterr.ErrCrypto) {
			t.Fatalf("byte %d: expected CryptoError, got %v", i, err)
		}
		if plaintext != nil {
			t.Fatalf("byte %d: expected no plaintext, got %q", i, plaintext)
		}
	}
}

func TestCipher_WrongKey(t *testing.T) {
	c1, _ := NewCipher(AlgorithmAES256GCM, newTestKey(t))
	c2, _ := NewCipher(AlgorithmAES256GCM, newTestKey(t))
	nonce := newTestNonce(t, c1)

	ciphertext, err := c1.Encrypt([]byte("secret"), nonce)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	plaintext, err := c2.Decrypt(ciphertext, nonce)
	if !errors.Is(err, vaulterr.ErrCrypto) {
		t.Fatalf("expected CryptoError, got %v", err)
	}
	if plaintext != nil {
		t.Fatalf("expected no plaintext, got %q", plaintext)
	}
}

func TestCipher_WrongNonce(t *testing.T) {
	c, _ := NewCipher(AlgorithmXChaCha20Poly1305, newTestKey(t))

	ciphertext, err := c.Encrypt([]byte("secret"), newTestNonce(t, c))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if _, err := c.Decrypt(ciphertext, newTestNonce(t, c)); !errors.Is(err, vaulterr.ErrCrypto) {
		t.Fatalf("expected CryptoError, got %v", err)
	}
}

func TestCipher_TruncatedCiphertext(t *testing.T) {
	c, _ := NewCipher(AlgorithmChaCha20Poly1305, newTestKey(t))

	if _, err := c.Decrypt([]byte{1, 2, 3}, newTestNonce(t, c)); !errors.Is(err, vaulterr.ErrCrypto) {
		t.Fatalf("expected CryptoError, got %v", err)
	}
}

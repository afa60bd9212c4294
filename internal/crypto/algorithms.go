package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/kenneth/chunkvault/internal/vaulterr"
)

const (
	// AlgorithmChaCha20Poly1305 is the default ChaCha20-Poly1305 algorithm.
	AlgorithmChaCha20Poly1305 = "ChaCha20-Poly1305"
	// AlgorithmXChaCha20Poly1305 is the extended-nonce ChaCha20-Poly1305 variant.
	AlgorithmXChaCha20Poly1305 = "XChaCha20-Poly1305"
	// AlgorithmAES256GCM is the AES-256-GCM algorithm.
	AlgorithmAES256GCM = "AES256-GCM"

	// DefaultAlgorithm is used when none is configured.
	DefaultAlgorithm = AlgorithmChaCha20Poly1305

	// KeySize is the master key size shared by all supported algorithms.
	KeySize = 32 // 256 bits
)

// ErrUnsupportedAlgorithm is returned for unknown algorithm names.
var ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

// SupportedAlgorithms lists every algorithm name accepted by NewCipher.
func SupportedAlgorithms() []string {
	return []string{
		AlgorithmChaCha20Poly1305,
		AlgorithmXChaCha20Poly1305,
		AlgorithmAES256GCM,
	}
}

// IsSupportedAlgorithm reports whether name is a known algorithm.
func IsSupportedAlgorithm(name string) bool {
	for _, alg := range SupportedAlgorithms() {
		if alg == name {
			return true
		}
	}
	return false
}

// NonceSizeFor returns the nonce size required by the given algorithm.
func NonceSizeFor(algorithm string) (int, error) {
	switch algorithm {
	case AlgorithmChaCha20Poly1305:
		return chacha20poly1305.NonceSize, nil
	case AlgorithmXChaCha20Poly1305:
		return chacha20poly1305.NonceSizeX, nil
	case AlgorithmAES256GCM:
		return 12, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
}

// Cipher is a stateless AEAD wrapper bound to one master key. It is safe
// for concurrent use.
type Cipher struct {
	algorithm string
	aead      cipher.AEAD
}

// NewCipher creates a Cipher for the given algorithm and key.
func NewCipher(algorithm string, key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, vaulterr.Crypto("new cipher", algorithm,
			fmt.Errorf("invalid key size: expected %d bytes, got %d", KeySize, len(key)))
	}

	aead, err := createAEAD(algorithm, key)
	if err != nil {
		return nil, vaulterr.Crypto("new cipher", algorithm, err)
	}

	return &Cipher{algorithm: algorithm, aead: aead}, nil
}

func createAEAD(algorithm string, key []byte) (cipher.AEAD, error) {
	switch algorithm {
	case AlgorithmChaCha20Poly1305:
		return chacha20poly1305.New(key)
	case AlgorithmXChaCha20Poly1305:
		return chacha20poly1305.NewX(key)
	case AlgorithmAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		return cipher.NewGCM(block)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
}

// Algorithm returns the algorithm name.
func (c *Cipher) Algorithm() string {
	return c.algorithm
}

// NonceSize returns the nonce length the cipher requires.
func (c *Cipher) NonceSize() int {
	return c.aead.NonceSize()
}

// Overhead returns the number of bytes the tag adds to each ciphertext.
func (c *Cipher) Overhead() int {
	return c.aead.Overhead()
}

// Encrypt seals plaintext under nonce. The returned ciphertext carries
// the authentication tag.
func (c *Cipher) Encrypt(plaintext, nonce []byte) ([]byte, error) {
	if len(nonce) != c.aead.NonceSize() {
		return nil, vaulterr.Crypto("encrypt", c.algorithm,
			fmt.Errorf("invalid nonce size: expected %d bytes, got %d", c.aead.NonceSize(), len(nonce)))
	}
	return c.aead.Seal(nil, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext sealed under nonce. On any verification
// failure it returns a CryptoError and no plaintext.
func (c *Cipher) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != c.aead.NonceSize() {
		return nil, vaulterr.Crypto("decrypt", c.algorithm,
			fmt.Errorf("invalid nonce size: expected %d bytes, got %d", c.aead.NonceSize(), len(nonce)))
	}
	if len(ciphertext) < c.aead.Overhead() {
		return nil, vaulterr.Crypto("decrypt", c.algorithm,
			fmt.Errorf("ciphertext too short: %d bytes", len(ciphertext)))
	}

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, vaulterr.Crypto("decrypt", c.algorithm, err)
	}
	return plaintext, nil
}

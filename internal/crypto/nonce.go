package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

const (
	// NoncePolicyRandom draws every nonce from the CSPRNG.
	NoncePolicyRandom = "random"
	// NoncePolicyCounter uses a random session prefix and a monotonic counter.
	NoncePolicyCounter = "counter"

	counterSize = 8
)

// NonceSource yields nonces that are unique for the lifetime of one key.
// Implementations are safe for concurrent use.
type NonceSource interface {
	Next() ([]byte, error)
}

// NewNonceSource builds the source named by policy for nonces of size bytes.
func NewNonceSource(policy string, size int) (NonceSource, error) {
	switch policy {
	case "", NoncePolicyRandom:
		return NewRandomNonceSource(size), nil
	case NoncePolicyCounter:
		return NewCounterNonceSource(size)
	default:
		return nil, fmt.Errorf("unknown nonce policy: %s", policy)
	}
}

type randomNonceSource struct {
	size int
}

// NewRandomNonceSource returns a source drawing size bytes from crypto/rand.
func NewRandomNonceSource(size int) NonceSource {
	return &randomNonceSource{size: size}
}

func (s *randomNonceSource) Next() ([]byte, error) {
	nonce := make([]byte, s.size)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// counterNonceSource fills the high bytes with a random per-session prefix
// and the low 8 bytes with a big-endian counter.
type counterNonceSource struct {
	mu      sync.Mutex
	prefix  []byte
	counter uint64
	size    int
}

// NewCounterNonceSource returns a counter-based source for nonces of size
// bytes. size must leave room for the 8-byte counter.
func NewCounterNonceSource(size int) (NonceSource, error) {
	if size < counterSize {
		return nil, fmt.Errorf("nonce size %d too small for counter policy", size)
	}

	prefix := make([]byte, size-counterSize)
	if _, err := rand.Read(prefix); err != nil {
		return nil, fmt.Errorf("failed to generate nonce prefix: %w", err)
	}

	return &counterNonceSource{prefix: prefix, size: size}, nil
}

func (s *counterNonceSource) Next() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counter == math.MaxUint64 {
		return nil, fmt.Errorf("nonce counter exhausted")
	}

	nonce := make([]byte, s.size)
	copy(nonce, s.prefix)
	binary.BigEndian.PutUint64(nonce[len(s.prefix):], s.counter)
	s.counter++

	return nonce, nil
}

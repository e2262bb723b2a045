package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashAlgorithm represents the hashing algorithm to use
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "sha256"
)

// Hasher produces self-describing digests ("sha256:<hex>") so stored values
// stay comparable if the algorithm changes
type Hasher struct {
	algorithm HashAlgorithm
}

// NewHasher creates a new hasher with the specified algorithm
func NewHasher(algorithm HashAlgorithm) *Hasher {
	return &Hasher{algorithm: algorithm}
}

// DefaultHasher returns a hasher with the default algorithm
func DefaultHasher() *Hasher {
	return NewHasher(SHA256)
}

// Hash computes the digest of data
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return string(h.algorithm) + ":" + hex.EncodeToString(sum[:])
}

// Algorithm returns the algorithm in use
func (h *Hasher) Algorithm() HashAlgorithm {
	return h.algorithm
}

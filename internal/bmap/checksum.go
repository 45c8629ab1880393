package bmap

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"

	"github.com/zeebo/blake3"
)

// ChecksumType identifies the digest algorithm a block map uses, both for
// its own self-check and for per-range data verification. Format 1.3 is
// hardwired to SHA1; format 2.0 declares the algorithm in a ChecksumType
// element.
type ChecksumType string

const (
	SHA1   ChecksumType = "sha1"
	SHA256 ChecksumType = "sha256"
	BLAKE3 ChecksumType = "blake3"
)

// ParseChecksumType maps a ChecksumType element value to a known algorithm.
func ParseChecksumType(s string) (ChecksumType, error) {
	switch ChecksumType(s) {
	case SHA1, SHA256, BLAKE3:
		return ChecksumType(s), nil
	}
	return "", fmt.Errorf("unknown checksum type %q", s)
}

// New returns a fresh hash for the algorithm.
func (t ChecksumType) New() hash.Hash {
	switch t {
	case SHA1:
		return sha1.New()
	case SHA256:
		return sha256.New()
	case BLAKE3:
		return blake3.New()
	default:
		panic(fmt.Sprintf("bmap: no hash for checksum type %q", string(t)))
	}
}

// Size returns the digest length in bytes.
func (t ChecksumType) Size() int {
	return t.New().Size()
}

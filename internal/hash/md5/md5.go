// Package md5 derives document keys from canonical URLs.
//
// MD5 is used as a cheap uniqueness fingerprint, not as a security primitive.
package md5

import (
	"crypto/md5" //nolint:gosec // fingerprint only
	"encoding/hex"
)

// Size is the length of a hex-encoded key.
const Size = md5.Size * 2

// Hasher implements crawler.Hasher using MD5.
type Hasher struct{}

// New returns an MD5 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a lowercase hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := md5.Sum(data) //nolint:gosec // fingerprint only
	return hex.EncodeToString(sum[:]), nil
}

// Fingerprint returns the document key of a canonical URL.
func Fingerprint(canonicalURL string) string {
	sum := md5.Sum([]byte(canonicalURL)) //nolint:gosec // fingerprint only
	return hex.EncodeToString(sum[:])
}

// Package sha256 fingerprints scraped items so repeated scrapes of the same
// article collapse onto one stored row.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher computes SHA-256 hex digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ContentKey fingerprints an item by its normalised title and link.
func (h *Hasher) ContentKey(title, link string) string {
	key := strings.ToLower(strings.TrimSpace(title)) + "|" + strings.TrimSpace(link)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

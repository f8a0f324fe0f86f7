// Package sha256 includes tests for the content hasher.
package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)

	again, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, got, again)
}

// TestContentKeyNormalisesTitle verifies case and padding do not change the key.
func TestContentKeyNormalisesTitle(t *testing.T) {
	t.Parallel()

	h := New()
	a := h.ContentKey("  Rates Rise ", "https://example.com/a")
	b := h.ContentKey("rates rise", "https://example.com/a")
	c := h.ContentKey("rates rise", "https://example.com/b")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)
}

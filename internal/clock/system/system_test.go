// Package system exercises the wall clock adapter.
package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after), "expected %v between %v and %v", got, before, after)
}

// TestClockUntil verifies Until measures forward distances.
func TestClockUntil(t *testing.T) {
	t.Parallel()

	clk := New()
	d := clk.Until(time.Now().Add(time.Hour))
	require.Greater(t, d, 59*time.Minute)
	require.LessOrEqual(t, d, time.Hour)
	require.Negative(t, clk.Until(time.Now().Add(-time.Minute)))
}

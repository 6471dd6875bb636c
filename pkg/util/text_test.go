package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	out, cut := Truncate("hello", 10)
	require.False(t, cut)
	require.Equal(t, "hello", out)

	out, cut = Truncate("hello world", 5)
	require.True(t, cut)
	require.Equal(t, "hello", out)

	// "é" is two bytes; cutting inside it drops the whole rune.
	out, cut = Truncate("caé", 3)
	require.True(t, cut)
	require.Equal(t, "ca", out)

	out, cut = Truncate("anything", 0)
	require.False(t, cut)
	require.Equal(t, "anything", out)
}

func TestTruncateMarked(t *testing.T) {
	require.Equal(t, "abc", TruncateMarked("abc", 5))
	require.Equal(t, "ab\n...[truncated]", TruncateMarked("ab\ncdef", 3))
}

package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitLevels(t *testing.T) {
	defer Init("info")

	cases := map[string]string{
		"debug":   "debug",
		"WARNING": "warn",
		" error ": "error",
		"fatal":   "fatal",
		"bogus":   "info",
		"":        "info",
	}
	for in, want := range cases {
		Init(in)
		require.Equal(t, want, LevelString(), "input %q", in)
	}
}

func TestEnabled(t *testing.T) {
	defer Init("info")

	Init("warn")
	require.False(t, Enabled(LevelDebug))
	require.False(t, Enabled(LevelInfo))
	require.True(t, Enabled(LevelWarn))
	require.True(t, Enabled(LevelError))
}

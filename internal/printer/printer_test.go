package printer

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	prevOut, prevErr, prevColor := Out, Err, color.NoColor
	Out, Err, color.NoColor = &out, &errOut, true
	t.Cleanup(func() { Out, Err, color.NoColor = prevOut, prevErr, prevColor })
	return &out, &errOut
}

func TestError(t *testing.T) {
	t.Run("returns the title only", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("config invalid", "warden.yml failed validation", nil)
		require.EqualError(t, err, "config invalid")
		require.Equal(t, "config invalid\n\nwarden.yml failed validation\n", errOut.String())
	})

	t.Run("single suggestion is printed bare", func(t *testing.T) {
		_, errOut := capture(t)
		Error("redis unreachable", "dial tcp: refused", []string{"Check REDIS_URL"})
		require.Contains(t, errOut.String(), "\nCheck REDIS_URL\n")
		require.NotContains(t, errOut.String(), "Either:")
	})

	t.Run("several suggestions are numbered", func(t *testing.T) {
		_, errOut := capture(t)
		Error("review not found", "", []string{"Check the user id", "List reviews"})
		require.Contains(t, errOut.String(), "Either:\n  1. Check the user id\n  2. List reviews\n")
	})
}

func TestErrorWithContext(t *testing.T) {
	_, errOut := capture(t)
	err := ErrorWithContext("lookup failed", "", map[string]string{
		"store":    "sqlite",
		"instance": "prod",
	}, nil)
	require.EqualError(t, err, "lookup failed")
	require.Equal(t, "lookup failed\n\n  instance: prod\n  store: sqlite\n", errOut.String())
}

func TestLines(t *testing.T) {
	out, _ := capture(t)
	Success("%d categories", 2)
	Warning("no admin")
	Failure("bad")
	Step("loading")
	Detail("tank: 3 buckets")
	require.Equal(t, "✓ 2 categories\n⚠️  no admin\n✗ bad\n→ loading\n    tank: 3 buckets\n", out.String())
}

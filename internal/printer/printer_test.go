package printer

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	prev := color.NoColor
	color.NoColor = true
	var out, errOut bytes.Buffer
	restore := SetOutput(&out, &errOut)
	t.Cleanup(func() {
		restore()
		color.NoColor = prev
	})
	return &out, &errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		capture(t)
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("prints a single suggestion inline", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "Explanation\n\nTry this fix\n")
		assert.NotContains(t, errOut.String(), "Either:")
	})

	t.Run("numbers multiple suggestions", func(t *testing.T) {
		_, errOut := capture(t)
		Error("Test Error", "Explanation", []string{"First option", "Second option"})
		assert.Contains(t, errOut.String(), "Either:\n  1. First option\n  2. Second option\n")
	})
}

func TestErrorWithContext(t *testing.T) {
	_, errOut := capture(t)
	context := map[string]string{
		"Redis":     "localhost:6379",
		"Namespace": "default",
	}
	err := ErrorWithContext("Relay unreachable", "Could not reach Redis", context, []string{"Start Redis"})
	require.Equal(t, "Relay unreachable", err.Error())

	text := errOut.String()
	assert.Less(t, strings.Index(text, "Namespace"), strings.Index(text, "Redis:"), "context keys are sorted")
}

func TestMessagePrefixes(t *testing.T) {
	out, errOut := capture(t)

	Success("done\n")
	Success("✓ already prefixed\n")
	Warning("careful\n")
	Failure("broken\n")

	assert.Equal(t, "✓ done\n✓ already prefixed\n⚠️  careful\n", out.String())
	assert.Equal(t, "✗ broken\n", errOut.String())
}

func TestEvent(t *testing.T) {
	out, _ := capture(t)
	at := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)

	Event(at, "PLAY", "Started playback")

	assert.True(t, strings.HasPrefix(out.String(), "15:04:05.000 PLAY"))
	assert.True(t, strings.HasSuffix(out.String(), " Started playback\n"))
}

func TestKeyValues(t *testing.T) {
	out, _ := capture(t)
	KeyValues([][2]string{{"Tracks", "3"}, {"Active users", "2"}})
	want := "  Tracks:" + strings.Repeat(" ", 7) + "3\n" +
		"  Active users: 2\n"
	assert.Equal(t, want, out.String())
}

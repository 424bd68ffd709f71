package pkg

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComponentLogging(t *testing.T) {
	var buf bytes.Buffer
	prev := DefaultLogger
	prevLevel := GetLogLevel()
	defer func() {
		SetLogger(prev)
		SetLogLevel(prevLevel)
	}()

	SetLogger(NewLogger(&buf, nil))
	SetLogLevel(slog.LevelDebug)

	LogDebug(ComponentLink, "read", "n", 4)
	LogInfo(ComponentSession, "attached", "port", "/dev/ttyACM0")
	LogWarn(ComponentXfer, "slow ack")
	LogError(ComponentRepl, "no prompt")

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], "component=link")
	assert.Contains(t, lines[1], "component=session")
	assert.Contains(t, lines[1], "port=/dev/ttyACM0")
	assert.Contains(t, lines[2], "component=xfer")
	assert.Contains(t, lines[3], "component=repl")
}

func TestSetLogLevel(t *testing.T) {
	var buf bytes.Buffer
	prev := DefaultLogger
	prevLevel := GetLogLevel()
	defer func() {
		SetLogger(prev)
		SetLogLevel(prevLevel)
	}()

	SetLogger(NewLogger(&buf, nil))
	SetLogLevel(slog.LevelWarn)

	LogDebug(ComponentLink, "hidden")
	LogInfo(ComponentLink, "hidden")
	LogWarn(ComponentLink, "visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
	assert.Equal(t, slog.LevelWarn, GetLogLevel())
}

package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewLoggerLevel(t *testing.T) {
	var console, file bytes.Buffer
	log := newLogger(&console, &file, "warn")

	log.Info().Msg("hidden")
	log.Warn().Str("device", "cam0").Msg("shown")

	assert.NotContains(t, file.String(), "hidden")
	assert.Contains(t, file.String(), `"device":"cam0"`)
	assert.Contains(t, console.String(), "shown")
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())
}

func TestNewLoggerUnknownLevelFallsBackToInfo(t *testing.T) {
	var console, file bytes.Buffer
	assert.Equal(t, zerolog.InfoLevel, newLogger(&console, &file, "loud").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger(&console, &file, "").GetLevel())
}

func TestLogPathXDG(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/tmp/state")
	t.Setenv("HOME", "/home/someone")
	path := LogPath()
	assert.Contains(t, path, "capture-tray.log")
}

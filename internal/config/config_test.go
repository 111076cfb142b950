package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, "user", cfg.FacingMode)
	assert.True(t, cfg.IncludeAudio)
	assert.Equal(t, 400, cfg.Preview.Width)
	assert.Equal(t, 300, cfg.Preview.Height)
	assert.Zero(t, cfg.Recorder.Timeslice)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	cfg.FacingMode = "environment"
	cfg.Recorder.Timeslice = Duration(250 * time.Millisecond)
	cfg.Video.UserDeviceID = "cam0"
	require.NoError(t, cfg.Save())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"timeslice": "250ms"`)

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "environment", loaded.FacingMode)
	assert.Equal(t, Duration(250*time.Millisecond), loaded.Recorder.Timeslice)
	assert.Equal(t, "cam0", loaded.Video.UserDeviceID)
	assert.Equal(t, path, loaded.Path())
}

func TestLoadPartialFileKeepsOtherDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"include_audio": false, "recorder": {"timeslice": 1000000}}`), 0644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.False(t, cfg.IncludeAudio)
	assert.Equal(t, Duration(time.Millisecond), cfg.Recorder.Timeslice)
	assert.Equal(t, "127.0.0.1:8765", cfg.Preview.Addr)
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"recorder": {"timeslice": "soon"}}`), 0644))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}

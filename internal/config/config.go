package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

type Config struct {
	LogLevel            string        `json:"log_level"`
	Hotkey              string        `json:"hotkey"`
	HotkeyDarwin        string        `json:"hotkey_darwin"`
	OutputDir           string        `json:"output_dir"`
	FacingMode          string        `json:"facing_mode"` // "user" or "environment"
	IncludeAudio        bool          `json:"include_audio"`
	CopyPathToClipboard bool          `json:"copy_path_to_clipboard"`
	Video               VideoConfig   `json:"video"`
	Audio               AudioConfig   `json:"audio"`
	Recorder            RecordConfig  `json:"recorder"`
	Preview             PreviewConfig `json:"preview"`

	path string
}

type VideoConfig struct {
	UserDeviceID        string  `json:"user_device_id"`
	EnvironmentDeviceID string  `json:"environment_device_id"`
	Width               int     `json:"width"`
	Height              int     `json:"height"`
	FrameRate           float32 `json:"frame_rate"`
	BitRate             int     `json:"bit_rate"`
}

type AudioConfig struct {
	DeviceID   string `json:"device_id"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type RecordConfig struct {
	// Timeslice is how often the recorder emits a chunk. Zero emits a single
	// chunk when recording stops.
	Timeslice Duration `json:"timeslice"`
}

type PreviewConfig struct {
	Addr        string `json:"addr"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	JPEGQuality int    `json:"jpeg_quality"`
}

// Duration marshals as a Go duration string ("500ms").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Plain numbers are nanoseconds.
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:     "info",
		Hotkey:       "Alt+Space",
		HotkeyDarwin: "Ctrl+Space",
		OutputDir:    DownloadsPath(),
		FacingMode:   "user",
		IncludeAudio: true,
		Video: VideoConfig{
			Width:     640,
			Height:    480,
			FrameRate: 30,
			BitRate:   1_000_000,
		},
		Audio: AudioConfig{
			DeviceID:   "",
			SampleRate: 48000,
			Channels:   1,
		},
		Preview: PreviewConfig{
			Addr:        "127.0.0.1:8765",
			Width:       400,
			Height:      300,
			JPEGQuality: 92,
		},
	}
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	return LoadFrom(configPath())
}

// LoadFrom reads the config at path. A missing file yields the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	// Load existing config if it exists
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		path = configPath()
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Path returns the file this config was loaded from.
func (c *Config) Path() string {
	if c.path == "" {
		return configPath()
	}
	return c.path
}

// PlatformHotkey returns the appropriate hotkey for the current platform
func (c *Config) PlatformHotkey() string {
	if runtime.GOOS == "darwin" && c.HotkeyDarwin != "" {
		return c.HotkeyDarwin
	}
	return c.Hotkey
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "capture-tray", "config.json")
}

// DownloadsPath returns the platform-specific default output directory
func DownloadsPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("USERPROFILE"), "Downloads")
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Downloads")
	default:
		if xdg := os.Getenv("XDG_DOWNLOAD_DIR"); xdg != "" {
			return xdg
		}
		return filepath.Join(os.Getenv("HOME"), "Downloads")
	}
}

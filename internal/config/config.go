package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

const (
	ModePushToTalk = "PushToTalk"
	ModeToggle     = "Toggle"
)

type Config struct {
	ServerURL    string       `json:"server_url"`
	Hotkey       string       `json:"hotkey"`
	HotkeyDarwin string       `json:"hotkey_darwin"`
	Mode         string       `json:"mode"` // "PushToTalk" or "Toggle"
	LogLevel     string       `json:"log_level"`
	MetricsAddr  string       `json:"metrics_addr"` // empty disables the listener
	Audio        AudioConfig  `json:"audio"`
	Stream       StreamConfig `json:"stream"`
	Inject       InjectConfig `json:"inject"`

	path string
}

type AudioConfig struct {
	DeviceID        string `json:"device_id"`
	FramesPerBuffer int    `json:"frames_per_buffer"`
	Channels        int    `json:"channels"`
}

type StreamConfig struct {
	// Bound on unsent audio, in 200ms packets. Zero means unbounded.
	MaxQueuedPackets int      `json:"max_queued_packets"`
	HandshakeTimeout Duration `json:"handshake_timeout"`
}

type InjectConfig struct {
	CopyFinals bool `json:"copy_finals"`
}

// Duration marshals as a Go duration string ("10s") in the config file.
type Duration time.Duration

// Std returns d as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration used when no file exists
func Default() *Config {
	return &Config{
		ServerURL:    "ws://localhost:8000/asr",
		Hotkey:       "Alt+Space",
		HotkeyDarwin: "Ctrl+Space",
		Mode:         ModeToggle,
		LogLevel:     "info",
		Audio: AudioConfig{
			DeviceID:        "",
			FramesPerBuffer: 4096,
			Channels:        1,
		},
		Stream: StreamConfig{
			MaxQueuedPackets: 50, // 10 seconds
			HandshakeTimeout: Duration(10 * time.Second),
		},
		Inject: InjectConfig{
			CopyFinals: false,
		},
	}
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	return LoadFrom(configPath())
}

// LoadFrom reads the config at path over the defaults. A missing file is
// not an error.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

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

// ApplyEnv overrides file settings with ASR_TRAY_* environment variables
// where they are set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("ASR_TRAY_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("ASR_TRAY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ASR_TRAY_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("ASR_TRAY_DEVICE"); v != "" {
		c.Audio.DeviceID = v
	}
}

// PlatformHotkey returns the appropriate hotkey for the current platform
func (c *Config) PlatformHotkey() string {
	if runtime.GOOS == "darwin" && c.HotkeyDarwin != "" {
		return c.HotkeyDarwin
	}
	return c.Hotkey
}

// MaxQueuedSamples converts the packet bound into samples for the queue.
func (c *Config) MaxQueuedSamples(packetSamples int) int {
	if c.Stream.MaxQueuedPackets <= 0 {
		return 0
	}
	return c.Stream.MaxQueuedPackets * packetSamples
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

	return filepath.Join(base, "asr-tray", "config.json")
}

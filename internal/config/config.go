package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AlbumConfig describes where captures are written.
type AlbumConfig struct {
	Name        string `yaml:"name"`         // album directory name, e.g. "photobox"
	StorageRoot string `yaml:"storage_root"` // shared storage root, e.g. "/srv/media/Pictures"
}

// CameraConfig describes how to drive the camera.
// Type selects a concrete implementation ("command", "nikon_d90_gpio", "mock").
type CameraConfig struct {
	Type string `yaml:"type"`

	// command
	Command    []string `yaml:"command"`     // argv; "{output}" is replaced with the destination path
	CancelCode int      `yaml:"cancel_code"` // exit code meaning "user cancelled" (0 = none)
	TimeoutSec int      `yaml:"timeout_sec"` // upper bound for one capture

	// nikon_d90_gpio
	FocusPin       int    `yaml:"focus_pin"`        // GPIO pin for FOCUS line
	ShutterPin     int    `yaml:"shutter_pin"`      // GPIO pin for SHUTTER line
	FocusDelayMs   int    `yaml:"focus_delay_ms"`   // autofocus delay (ms)
	ShutterDelayMs int    `yaml:"shutter_delay_ms"` // shutter hold time (ms)
	ImportDir      string `yaml:"import_dir"`       // tethered directory the camera drops JPEGs into
	ImportPollMs   int    `yaml:"import_poll_ms"`   // poll interval for ImportDir

	// mock
	MockWidth  int `yaml:"mock_width"`
	MockHeight int `yaml:"mock_height"`
}

// PreviewConfig holds the preview surface size used when no client reports one.
type PreviewConfig struct {
	WidthPx     int `yaml:"width_px"`
	HeightPx    int `yaml:"height_px"`
	JPEGQuality int `yaml:"jpeg_quality"` // quality of /preview.jpg
}

// MediaIndexConfig selects the media index backend.
type MediaIndexConfig struct {
	Driver    string `yaml:"driver"`     // "sqlite" or "mysql"
	DSN       string `yaml:"dsn"`        // file path for sqlite, DSN for mysql
	QueueSize int    `yaml:"queue_size"` // pending announcements before dropping
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Album      AlbumConfig      `yaml:"album"`
	Camera     CameraConfig     `yaml:"camera"`
	Preview    PreviewConfig    `yaml:"preview"`
	MediaIndex MediaIndexConfig `yaml:"media_index"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
}

// ValidateConfigPath rejects config paths outside a configs/ directory,
// paths with traversal and files without a .yaml extension.
func ValidateConfigPath(path string) error {
	if strings.Contains(filepath.ToSlash(path), "..") {
		return fmt.Errorf("config path must not contain '..': %s", path)
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path must have .yaml extension: %s", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must be in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if cfg.Album.Name == "" {
		cfg.Album.Name = "photobox"
	}
	if strings.ContainsAny(cfg.Album.Name, `/\`) || cfg.Album.Name == "." || cfg.Album.Name == ".." {
		return nil, fmt.Errorf("album.name must be a single directory name, got %q", cfg.Album.Name)
	}
	if cfg.Album.StorageRoot == "" {
		return nil, fmt.Errorf("album.storage_root is required")
	}

	if cfg.Camera.Type == "" {
		return nil, fmt.Errorf("camera.type is required")
	}
	switch cfg.Camera.Type {
	case "command":
		if len(cfg.Camera.Command) == 0 {
			return nil, fmt.Errorf("camera.command is required for type command")
		}
	case "nikon_d90_gpio":
		if cfg.Camera.ImportDir == "" {
			return nil, fmt.Errorf("camera.import_dir is required for type nikon_d90_gpio")
		}
	case "mock":
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
	if cfg.Camera.TimeoutSec <= 0 {
		cfg.Camera.TimeoutSec = 60
	}
	if cfg.Camera.FocusDelayMs <= 0 {
		cfg.Camera.FocusDelayMs = 500 // 500ms for autofocus
	}
	if cfg.Camera.ShutterDelayMs <= 0 {
		cfg.Camera.ShutterDelayMs = 200 // 200ms shutter hold
	}
	if cfg.Camera.ImportPollMs <= 0 {
		cfg.Camera.ImportPollMs = 250
	}
	if cfg.Camera.MockWidth <= 0 {
		cfg.Camera.MockWidth = 4000
	}
	if cfg.Camera.MockHeight <= 0 {
		cfg.Camera.MockHeight = 3000
	}

	if cfg.Preview.WidthPx < 0 || cfg.Preview.HeightPx < 0 {
		return nil, fmt.Errorf("preview size must not be negative, got %dx%d", cfg.Preview.WidthPx, cfg.Preview.HeightPx)
	}
	if cfg.Preview.JPEGQuality == 0 {
		cfg.Preview.JPEGQuality = 80
	}
	if cfg.Preview.JPEGQuality < 1 || cfg.Preview.JPEGQuality > 100 {
		return nil, fmt.Errorf("preview.jpeg_quality must be between 1 and 100, got %d", cfg.Preview.JPEGQuality)
	}

	if cfg.MediaIndex.Driver == "" {
		cfg.MediaIndex.Driver = "sqlite"
	}
	switch cfg.MediaIndex.Driver {
	case "sqlite":
		if cfg.MediaIndex.DSN == "" {
			cfg.MediaIndex.DSN = filepath.Join(cfg.Album.StorageRoot, ".photobox", "media.db")
		}
	case "mysql":
		if cfg.MediaIndex.DSN == "" {
			return nil, fmt.Errorf("media_index.dsn is required for driver mysql")
		}
	default:
		return nil, fmt.Errorf("unsupported media_index.driver: %s", cfg.MediaIndex.Driver)
	}
	if cfg.MediaIndex.QueueSize <= 0 {
		cfg.MediaIndex.QueueSize = 16
	}

	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}

	return &cfg, nil
}

// FocusDelay returns the autofocus delay duration.
func (c *Config) FocusDelay() time.Duration {
	return time.Duration(c.Camera.FocusDelayMs) * time.Millisecond
}

// ShutterDelay returns the shutter hold duration.
func (c *Config) ShutterDelay() time.Duration {
	return time.Duration(c.Camera.ShutterDelayMs) * time.Millisecond
}

// ImportPoll returns the tethered import poll interval.
func (c *Config) ImportPoll() time.Duration {
	return time.Duration(c.Camera.ImportPollMs) * time.Millisecond
}

// CaptureTimeout returns the upper bound for a single capture.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Camera.TimeoutSec) * time.Second
}

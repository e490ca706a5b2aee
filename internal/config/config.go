package config

import (
	"fmt"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/1broseidon/paintd/internal/gfx"
)

// Duration is a time.Duration written as "10s" or "1m30s" in config files.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the effective daemon configuration.
type Config struct {
	// Display is the X display to composite; empty uses $DISPLAY.
	Display string `yaml:"display"`
	// RefreshRate in Hz, used when detection is off or fails.
	RefreshRate       float64 `yaml:"refresh_rate"`
	DetectRefreshRate bool    `yaml:"detect_refresh_rate"`
	SyncToVBlank      bool    `yaml:"sync_to_vblank"`
	AlwaysSwap        bool    `yaml:"always_swap"`
	UseFBO            bool    `yaml:"use_fbo"`
	// ForceIndependentOutputPainting paints every output separately even
	// when they all have the same size.
	ForceIndependentOutputPainting bool `yaml:"force_independent_output_painting"`
	UnredirectFullscreen           bool `yaml:"unredirect_fullscreen"`
	// PersistentBackBuffer rules out presentation paths that may leave
	// the back buffer undefined.
	PersistentBackBuffer bool     `yaml:"persistent_back_buffer"`
	TextureFilter        string   `yaml:"texture_filter"`
	Background           string   `yaml:"background"`
	LogLevel             string   `yaml:"log_level"`
	ReconcileInterval    Duration `yaml:"reconcile_interval"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		RefreshRate:          60,
		DetectRefreshRate:    true,
		SyncToVBlank:         true,
		UnredirectFullscreen: true,
		TextureFilter:        "good",
		Background:           "#000000",
		LogLevel:             "info",
		ReconcileInterval:    Duration(10 * time.Second),
	}
}

func DefaultConfigDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "paintd"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "paintd"), nil
}

// DefaultConfigPath returns config.yaml in the config directory, or
// config.toml when only that exists.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	yamlPath := filepath.Join(dir, "config.yaml")
	if ok, _ := pathExists(yamlPath); ok {
		return yamlPath, nil
	}
	tomlPath := filepath.Join(dir, "config.toml")
	if ok, _ := pathExists(tomlPath); ok {
		return tomlPath, nil
	}
	return yamlPath, nil
}

// Validate checks the effective config.
func (c *Config) Validate() error {
	if c.RefreshRate < 1 || c.RefreshRate > 1000 {
		return &ValidationError{Path: "refresh_rate", Err: fmt.Errorf("refresh_rate must be between 1 and 1000")}
	}
	if _, ok := gfx.ParseFilter(c.TextureFilter); !ok {
		return &ValidationError{Path: "texture_filter", Err: fmt.Errorf("texture_filter must be one of: fast, good, best")}
	}
	if _, err := parseHexColor(c.Background); err != nil {
		return &ValidationError{Path: "background", Err: err}
	}
	switch c.LogLevel {
	case "debug", "info", "warning", "error":
	default:
		return &ValidationError{Path: "log_level", Err: fmt.Errorf("log_level must be one of: debug, info, warning, error")}
	}
	if c.ReconcileInterval < 0 {
		return &ValidationError{Path: "reconcile_interval", Err: fmt.Errorf("reconcile_interval must be >= 0")}
	}
	return nil
}

// Filter returns the texture filter. Validate has already checked it.
func (c *Config) Filter() gfx.Filter {
	f, _ := gfx.ParseFilter(c.TextureFilter)
	return f
}

// BackgroundColor returns the parsed background, black when invalid.
func (c *Config) BackgroundColor() color.RGBA {
	rgba, err := parseHexColor(c.Background)
	if err != nil {
		return color.RGBA{A: 0xff}
	}
	return rgba
}

// SlogLevel maps log_level to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Marshal renders the effective config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

func parseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.RGBA{}, fmt.Errorf("background must be #rrggbb or #rrggbbaa, got %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("background must be #rrggbb or #rrggbbaa, got %q", s)
	}
	if len(hex) == 6 {
		v = v<<8 | 0xff
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

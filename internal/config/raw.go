package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// IncludeList supports either:
//
//	include: "/path/to/file.yaml"
//
// or:
//
//	include:
//	  - "/path/to/file.yaml"
//	  - "/path/to/dir"
//
// TOML files only accept the list form.
type IncludeList []string

func (l *IncludeList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case 0:
		// Not present.
		*l = nil
		return nil
	case yaml.ScalarNode:
		if value.Tag != "!!str" {
			return fmt.Errorf("include must be a string or list of strings")
		}
		*l = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
				return fmt.Errorf("include entries must be strings")
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("include must be a string or list of strings")
	}
}

// RawConfig is one config file as written. Nil fields were not set and
// leave the value from earlier files or the defaults.
type RawConfig struct {
	Include IncludeList `yaml:"include" toml:"include"`

	Display                        *string   `yaml:"display" toml:"display"`
	RefreshRate                    *float64  `yaml:"refresh_rate" toml:"refresh_rate"`
	DetectRefreshRate              *bool     `yaml:"detect_refresh_rate" toml:"detect_refresh_rate"`
	SyncToVBlank                   *bool     `yaml:"sync_to_vblank" toml:"sync_to_vblank"`
	AlwaysSwap                     *bool     `yaml:"always_swap" toml:"always_swap"`
	UseFBO                         *bool     `yaml:"use_fbo" toml:"use_fbo"`
	ForceIndependentOutputPainting *bool     `yaml:"force_independent_output_painting" toml:"force_independent_output_painting"`
	UnredirectFullscreen           *bool     `yaml:"unredirect_fullscreen" toml:"unredirect_fullscreen"`
	PersistentBackBuffer           *bool     `yaml:"persistent_back_buffer" toml:"persistent_back_buffer"`
	TextureFilter                  *string   `yaml:"texture_filter" toml:"texture_filter"`
	Background                     *string   `yaml:"background" toml:"background"`
	LogLevel                       *string   `yaml:"log_level" toml:"log_level"`
	ReconcileInterval              *Duration `yaml:"reconcile_interval" toml:"reconcile_interval"`
}

// merge returns base overlaid with every field set in override.
func (base RawConfig) merge(override RawConfig) RawConfig {
	out := base
	out.Include = nil
	if override.Display != nil {
		out.Display = override.Display
	}
	if override.RefreshRate != nil {
		out.RefreshRate = override.RefreshRate
	}
	if override.DetectRefreshRate != nil {
		out.DetectRefreshRate = override.DetectRefreshRate
	}
	if override.SyncToVBlank != nil {
		out.SyncToVBlank = override.SyncToVBlank
	}
	if override.AlwaysSwap != nil {
		out.AlwaysSwap = override.AlwaysSwap
	}
	if override.UseFBO != nil {
		out.UseFBO = override.UseFBO
	}
	if override.ForceIndependentOutputPainting != nil {
		out.ForceIndependentOutputPainting = override.ForceIndependentOutputPainting
	}
	if override.UnredirectFullscreen != nil {
		out.UnredirectFullscreen = override.UnredirectFullscreen
	}
	if override.PersistentBackBuffer != nil {
		out.PersistentBackBuffer = override.PersistentBackBuffer
	}
	if override.TextureFilter != nil {
		out.TextureFilter = override.TextureFilter
	}
	if override.Background != nil {
		out.Background = override.Background
	}
	if override.LogLevel != nil {
		out.LogLevel = override.LogLevel
	}
	if override.ReconcileInterval != nil {
		out.ReconcileInterval = override.ReconcileInterval
	}
	return out
}

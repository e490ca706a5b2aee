package config

import (
	"fmt"
)

type ValidationError struct {
	Path   string
	Source Source
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Source.Kind == SourceFile && e.Source.File != "" && e.Source.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %v", e.Source.File, e.Source.Line, e.Source.Column, e.Path, e.Err)
	}
	if e.Source.Kind == SourceFile && e.Source.File != "" {
		return fmt.Sprintf("%s: %s: %v", e.Source.File, e.Path, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// BuildEffectiveConfig applies raw on top of the defaults.
func BuildEffectiveConfig(raw RawConfig) *Config {
	cfg := DefaultConfig()

	if raw.Display != nil {
		cfg.Display = *raw.Display
	}
	if raw.RefreshRate != nil {
		cfg.RefreshRate = *raw.RefreshRate
	}
	if raw.DetectRefreshRate != nil {
		cfg.DetectRefreshRate = *raw.DetectRefreshRate
	}
	if raw.SyncToVBlank != nil {
		cfg.SyncToVBlank = *raw.SyncToVBlank
	}
	if raw.AlwaysSwap != nil {
		cfg.AlwaysSwap = *raw.AlwaysSwap
	}
	if raw.UseFBO != nil {
		cfg.UseFBO = *raw.UseFBO
	}
	if raw.ForceIndependentOutputPainting != nil {
		cfg.ForceIndependentOutputPainting = *raw.ForceIndependentOutputPainting
	}
	if raw.UnredirectFullscreen != nil {
		cfg.UnredirectFullscreen = *raw.UnredirectFullscreen
	}
	if raw.PersistentBackBuffer != nil {
		cfg.PersistentBackBuffer = *raw.PersistentBackBuffer
	}
	if raw.TextureFilter != nil {
		cfg.TextureFilter = *raw.TextureFilter
	}
	if raw.Background != nil {
		cfg.Background = *raw.Background
	}
	if raw.LogLevel != nil {
		cfg.LogLevel = *raw.LogLevel
	}
	if raw.ReconcileInterval != nil {
		cfg.ReconcileInterval = *raw.ReconcileInterval
	}
	return cfg
}

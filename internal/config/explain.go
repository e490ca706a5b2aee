package config

import (
	"fmt"
	"strings"
)

// Keys lists every config key in file order.
var Keys = []string{
	"display",
	"refresh_rate",
	"detect_refresh_rate",
	"sync_to_vblank",
	"always_swap",
	"use_fbo",
	"force_independent_output_painting",
	"unredirect_fullscreen",
	"persistent_back_buffer",
	"texture_filter",
	"background",
	"log_level",
	"reconcile_interval",
}

// Explain returns the effective value of a top-level key and where it
// was last set.
func Explain(res *LoadResult, path string) (any, Source, error) {
	if res == nil || res.Config == nil {
		return nil, Source{}, fmt.Errorf("no config loaded")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, Source{}, fmt.Errorf("path is empty")
	}

	value, err := lookupValue(res.Config, path)
	if err != nil {
		return nil, Source{}, err
	}
	if src, ok := res.Sources[path]; ok {
		return value, src, nil
	}
	return value, Source{Kind: SourceDefault, Name: "defaults"}, nil
}

func lookupValue(cfg *Config, path string) (any, error) {
	switch path {
	case "display":
		return cfg.Display, nil
	case "refresh_rate":
		return cfg.RefreshRate, nil
	case "detect_refresh_rate":
		return cfg.DetectRefreshRate, nil
	case "sync_to_vblank":
		return cfg.SyncToVBlank, nil
	case "always_swap":
		return cfg.AlwaysSwap, nil
	case "use_fbo":
		return cfg.UseFBO, nil
	case "force_independent_output_painting":
		return cfg.ForceIndependentOutputPainting, nil
	case "unredirect_fullscreen":
		return cfg.UnredirectFullscreen, nil
	case "persistent_back_buffer":
		return cfg.PersistentBackBuffer, nil
	case "texture_filter":
		return cfg.TextureFilter, nil
	case "background":
		return cfg.Background, nil
	case "log_level":
		return cfg.LogLevel, nil
	case "reconcile_interval":
		return cfg.ReconcileInterval, nil
	default:
		return nil, fmt.Errorf("unknown path: %s", path)
	}
}

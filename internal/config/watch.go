package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce collapses the burst of events an editor save produces.
const DefaultWatchDebounce = 250 * time.Millisecond

// Watcher reports changes to loaded config files. It watches their
// directories, since editors usually replace files rather than write them.
type Watcher struct {
	logger   *slog.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher
	dirs     map[string]struct{}
	files    map[string]struct{}
}

func NewWatcher(logger *slog.Logger, debounce time.Duration) (*Watcher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	return &Watcher{
		logger:   logger,
		debounce: debounce,
		watcher:  fw,
		dirs:     make(map[string]struct{}),
		files:    make(map[string]struct{}),
	}, nil
}

// Track replaces the watched file set. Directories no longer needed stay
// watched until Close.
func (w *Watcher) Track(files []string) {
	clear(w.files)
	for _, f := range files {
		w.files[filepath.Clean(f)] = struct{}{}
		dir := filepath.Dir(f)
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Warn("config watch failed", "dir", dir, "error", err)
			continue
		}
		w.dirs[dir] = struct{}{}
	}
}

// Run calls onChange once per burst of changes until ctx is done. The
// returned file list replaces the tracked set.
func (w *Watcher) Run(ctx context.Context, onChange func() []string) error {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("config file event", "file", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watch error", "error", err)
		case <-fire:
			fire = nil
			if files := onChange(); files != nil {
				w.Track(files)
			}
		}
	}
}

// relevant reports whether ev touches a tracked file or a new config
// file next to one.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	name := filepath.Clean(ev.Name)
	if _, ok := w.files[name]; ok {
		return true
	}
	if !ev.Has(fsnotify.Create) {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".toml":
		_, ok := w.dirs[filepath.Dir(name)]
		return ok
	}
	return false
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}

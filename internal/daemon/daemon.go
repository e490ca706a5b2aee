// Package daemon runs a compositor screen against a backend together with
// its control socket, config reloads and drift reconciliation.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/1broseidon/paintd/internal/compositor"
	"github.com/1broseidon/paintd/internal/config"
	"github.com/1broseidon/paintd/internal/gfx"
	"github.com/1broseidon/paintd/internal/ipc"
	"github.com/1broseidon/paintd/internal/platform"
	"github.com/1broseidon/paintd/internal/schedule"
)

// ErrBackendClosed is returned by Run when the display connection ends.
var ErrBackendClosed = errors.New("display connection closed")

// Options configure a daemon.
type Options struct {
	// ConfigPath is reloaded on RELOAD, SIGHUP and file changes.
	ConfigPath string
	// SocketPath enables the control socket when set.
	SocketPath string
	// Watch enables reloading when config files change.
	Watch bool
	// BackendName is reported by GET_STATUS.
	BackendName string
	Logger      *slog.Logger
	// Level, when set, follows log_level across reloads.
	Level *slog.LevelVar
}

// Daemon owns the compositor loop. Pipeline state is only touched on the
// loop goroutine; every other entry point goes through Loop.Call.
type Daemon struct {
	opts       Options
	logger     *slog.Logger
	backend    platform.Backend
	loop       *compositor.Loop
	screen     *compositor.Screen
	reconciler *Reconciler
	startTime  time.Time

	reloadMu sync.Mutex
	cfg      *config.LoadResult
}

var _ ipc.Handler = (*Daemon)(nil)

// New builds the screen for backend from the loaded config.
func New(backend platform.Backend, res *config.LoadResult, opts Options) (*Daemon, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Level != nil {
		opts.Level.Set(res.Config.SlogLevel())
	}
	d := &Daemon{
		opts:      opts,
		logger:    opts.Logger,
		backend:   backend,
		loop:      compositor.NewLoop(0),
		startTime: time.Now(),
		cfg:       res,
	}

	timer := schedule.NewAfterFuncTimer(d.loop.Post)
	screen, err := compositor.NewScreen(backend, timer, ScreenOptions(res.Config, opts.Logger))
	if err != nil {
		return nil, fmt.Errorf("create screen: %w", err)
	}
	d.screen = screen

	d.reconciler = NewReconciler(ReconcilerConfig{
		Interval: time.Duration(res.Config.ReconcileInterval),
		Logger:   opts.Logger,
	}, d.sweep)
	return d, nil
}

// ScreenOptions maps the config onto compositor options.
func ScreenOptions(cfg *config.Config, logger *slog.Logger) compositor.Options {
	opts := compositor.Options{
		SyncToVBlank:         cfg.SyncToVBlank,
		AlwaysSwap:           cfg.AlwaysSwap,
		UseFBO:               cfg.UseFBO,
		FallbackRefreshRate:  cfg.RefreshRate,
		IndependentOutputs:   cfg.ForceIndependentOutputPainting,
		UnredirectFullscreen: cfg.UnredirectFullscreen,
		PersistentBackBuffer: cfg.PersistentBackBuffer,
		TextureFilter:        cfg.Filter(),
		Background:           cfg.BackgroundColor(),
		Logger:               logger,
	}
	if !cfg.DetectRefreshRate {
		opts.RefreshRate = cfg.RefreshRate
	}
	return opts
}

// Run drives the compositor until ctx is done or the backend fails. It
// closes the backend on return.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer d.backend.Close()

	backendErr := make(chan error, 1)
	go func() {
		err := d.backend.Run(ctx, func(ev platform.Event) {
			d.loop.Post(func() { d.screen.HandleEvent(ev) })
		})
		if err == nil {
			err = ErrBackendClosed
		}
		backendErr <- err
		cancel()
	}()

	if d.opts.SocketPath != "" {
		srv := ipc.NewServer(d.opts.SocketPath, d, d.logger)
		if err := srv.Start(); err != nil {
			d.screen.Close()
			return err
		}
		defer srv.Stop()
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.reconciler.Run(ctx)
	}()

	if d.opts.Watch && d.opts.ConfigPath != "" {
		w, err := config.NewWatcher(d.logger, 0)
		if err != nil {
			d.logger.Warn("config watching disabled", "error", err)
		} else {
			defer w.Close()
			w.Track(d.watchFiles(d.cfg))
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.Run(ctx, func() []string {
					res, err := d.reload(ctx)
					if err != nil {
						d.logger.Warn("config reload failed", "error", err)
						return nil
					}
					return d.watchFiles(res)
				})
			}()
		}
	}

	d.logger.Info("compositor running", "backend", d.opts.BackendName)
	loopErr := d.loop.Run(ctx)

	// The loop has stopped; nothing else touches the screen now.
	d.screen.Close()

	select {
	case err := <-backendErr:
		if !errors.Is(err, context.Canceled) {
			return err
		}
	default:
	}
	if errors.Is(loopErr, context.Canceled) {
		return nil
	}
	return loopErr
}

func (d *Daemon) watchFiles(res *config.LoadResult) []string {
	files := append([]string{d.opts.ConfigPath}, res.Files...)
	return files
}

// Reload re-reads the config file and applies it to the running screen.
func (d *Daemon) Reload(ctx context.Context) error {
	_, err := d.reload(ctx)
	return err
}

func (d *Daemon) reload(ctx context.Context) (*config.LoadResult, error) {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	if d.opts.ConfigPath == "" {
		return nil, fmt.Errorf("no config path")
	}
	res, err := config.LoadFromPath(d.opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg := res.Config
	if cfg.Display != d.cfg.Config.Display {
		d.logger.Warn("display change takes effect after restart",
			"running", d.cfg.Config.Display, "configured", cfg.Display)
	}

	opts := ScreenOptions(cfg, d.logger)
	if err := d.loop.Call(ctx, func() { d.screen.SetOptions(opts) }); err != nil {
		return nil, err
	}
	if d.opts.Level != nil {
		d.opts.Level.Set(cfg.SlogLevel())
	}
	d.reconciler.SetInterval(time.Duration(cfg.ReconcileInterval))
	d.cfg = res

	d.logger.Info("config reloaded", "files", len(res.Files))
	return res, nil
}

// Config returns the most recently applied config.
func (d *Daemon) Config() *config.LoadResult {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()
	return d.cfg
}

// sweep reconciles on the loop. When ctx ends first the queued call may
// still run later, so its result is read only after it finished.
func (d *Daemon) sweep(ctx context.Context) (int, int, error) {
	type result struct {
		dropped, adopted int
		err              error
	}
	var res result
	callErr := d.loop.Call(ctx, func() {
		listed, err := d.backend.Windows()
		if err != nil {
			res = result{err: err}
			return
		}
		dropped, adopted := d.screen.Reconcile(listed)
		res = result{dropped: dropped, adopted: adopted}
	})
	if callErr != nil {
		return 0, 0, callErr
	}
	return res.dropped, res.adopted, res.err
}

func (d *Daemon) Status(ctx context.Context) (ipc.StatusData, error) {
	var st compositor.Status
	if err := d.loop.Call(ctx, func() { st = d.screen.Status() }); err != nil {
		return ipc.StatusData{}, err
	}
	presents := make(map[string]uint64, len(st.Presents))
	for m, n := range st.Presents {
		presents[m.String()] = n
	}
	return ipc.StatusData{
		Width:          st.Screen.Dx(),
		Height:         st.Screen.Dy(),
		Windows:        st.Windows,
		Mapped:         st.Mapped,
		Bound:          st.Bound,
		FailedBinds:    st.Failed,
		Frames:         st.Frames,
		RefreshRate:    st.RefreshRate,
		VSync:          st.VSync,
		Method:         st.Method.String(),
		LastPath:       st.LastPath.String(),
		Presents:       presents,
		SkippedPresent: st.SkippedPresent,
		Fallbacks:      st.Fallbacks,
		SkippedWindows: st.SkippedWindows,
		FBOFrames:      st.FBOFrames,
		ProtocolErrors: d.backend.ProtocolErrors(),
		Unredirected:   uint32(st.Unredirected),
		TextureFilter:  st.TextureFilter.String(),
		Plugins:        st.Plugins,
		UptimeSeconds:  int64(time.Since(d.startTime).Seconds()),
		Backend:        d.opts.BackendName,
	}, nil
}

func (d *Daemon) Outputs(ctx context.Context) (ipc.OutputsData, error) {
	var outputs, targets []gfx.Output
	err := d.loop.Call(ctx, func() {
		outputs = d.screen.Outputs()
		targets = d.screen.PaintTargets()
	})
	if err != nil {
		return ipc.OutputsData{}, err
	}
	return ipc.OutputsData{
		Outputs: outputInfos(outputs),
		Targets: outputInfos(targets),
	}, nil
}

func outputInfos(outputs []gfx.Output) []ipc.OutputInfo {
	out := make([]ipc.OutputInfo, len(outputs))
	for i, o := range outputs {
		out[i] = ipc.OutputInfo{
			ID:     o.ID,
			Name:   o.Name,
			X:      o.Rect.Min.X,
			Y:      o.Rect.Min.Y,
			Width:  o.Rect.Dx(),
			Height: o.Rect.Dy(),
		}
	}
	return out
}

func (d *Daemon) Damage(ctx context.Context, r image.Rectangle) error {
	return d.loop.Call(ctx, func() {
		if r.Empty() {
			d.screen.DamageScreen()
			return
		}
		d.screen.AddDamage(r)
	})
}

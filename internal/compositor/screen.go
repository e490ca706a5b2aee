// Package compositor wires the damage, binding, scheduling, rendering and
// presentation stages into one screen driven by display-server events.
package compositor

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"slices"
	"time"

	"github.com/1broseidon/paintd/internal/damage"
	"github.com/1broseidon/paintd/internal/gfx"
	"github.com/1broseidon/paintd/internal/output"
	"github.com/1broseidon/paintd/internal/paint"
	"github.com/1broseidon/paintd/internal/pixmap"
	"github.com/1broseidon/paintd/internal/platform"
	"github.com/1broseidon/paintd/internal/present"
	"github.com/1broseidon/paintd/internal/region"
	"github.com/1broseidon/paintd/internal/schedule"
)

// Options are the screen's policy settings. Config reloads replace them
// with SetOptions.
type Options struct {
	// RefreshRate overrides the detected refresh rate when non-zero.
	RefreshRate float64
	// FallbackRefreshRate is used when detection fails; zero means
	// schedule.DefaultRefreshRate.
	FallbackRefreshRate  float64
	SyncToVBlank         bool
	AlwaysSwap           bool
	UseFBO               bool
	IndependentOutputs   bool
	UnredirectFullscreen bool
	// PersistentBackBuffer keeps the back buffer valid across presents.
	PersistentBackBuffer bool
	TextureFilter        gfx.Filter
	Background           color.Color
	Logger               *slog.Logger
}

// Status is a snapshot of the screen for the control socket.
type Status struct {
	Screen         image.Rectangle
	Windows        int
	Mapped         int
	Bound          int
	Failed         int
	Frames         uint64
	RefreshRate    float64
	VSync          bool
	Method         present.Method
	LastPath       present.Method
	Presents       map[present.Method]uint64
	SkippedPresent uint64
	Fallbacks      uint64
	SkippedWindows uint64
	FBOFrames      uint64
	Unredirected   gfx.WindowID
	Plugins        []string
	TextureFilter  gfx.Filter
}

// Screen is the compositing pipeline of one display-server screen. It
// implements the core of the paint hook chain; the output stages come
// from the embedded renderer. All methods must run on the loop goroutine.
type Screen struct {
	*output.Renderer

	backend  platform.Backend
	dev      gfx.Device
	opts     Options
	logger   *slog.Logger
	refresh  float64
	damage   *damage.Aggregator
	tracker  *damage.Tracker
	chain    *paint.Chain
	programs *gfx.ProgramCache
	strategy *present.Strategy
	sched    *schedule.Scheduler

	windows      map[gfx.WindowID]*Window
	stack        []*Window
	unredirected *Window
	lastPlan     present.Plan
}

// NewScreen builds the pipeline for backend and adopts the windows that
// already exist. timer drives the frame scheduler; it must call back on
// the loop goroutine.
func NewScreen(backend platform.Backend, timer schedule.Timer, opts Options) (*Screen, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	dev := backend.Device()
	screen := backend.Screen()

	s := &Screen{
		backend: backend,
		dev:     dev,
		opts:    opts,
		logger:  opts.Logger,
		damage:  damage.NewAggregator(screen),
		tracker: damage.NewTracker(backend, opts.Logger),
		windows: make(map[gfx.WindowID]*Window),
	}

	caps := present.Detect(dev.Extensions(), dev.DoubleBuffered())
	s.strategy = present.NewStrategy(dev, caps, presentOptions(opts))

	s.programs = gfx.NewProgramCache(dev)
	s.chain = paint.NewChain(s.programs, opts.Logger)
	s.chain.SetTextureFilter(opts.TextureFilter)
	s.Renderer = output.NewRenderer(dev, s.chain, s.surfaces, caps.FBO, s.rendererConfig())
	s.Renderer.Resize(screen)
	s.chain.SetCore(s)

	outputs, err := backend.Outputs()
	if err != nil {
		s.logger.Warn("output query failed, painting the screen as one output", "error", err)
	}
	s.SetOutputs(outputs)

	s.refresh = s.refreshRate()
	s.sched = schedule.New(schedule.Config{
		RefreshRate: s.refresh,
		VSync:       s.strategy.HasVSync,
		Logger:      opts.Logger,
	}, timer, s.paintFrame)

	existing, err := backend.Windows()
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	for _, info := range existing {
		s.addWindow(info)
	}
	s.updateUnredirect()

	s.logger.Info("screen ready",
		"size", screen.Size().String(),
		"outputs", len(outputs),
		"windows", len(s.stack),
		"refresh_hz", s.refresh,
		"method", s.strategy.Method().String())

	s.damage.DamageScreen()
	s.sched.Schedule()
	return s, nil
}

func presentOptions(opts Options) present.Options {
	return present.Options{
		SyncToVBlank:         opts.SyncToVBlank,
		AlwaysSwap:           opts.AlwaysSwap,
		PersistentBackBuffer: opts.PersistentBackBuffer,
		Logger:               opts.Logger,
	}
}

func (s *Screen) rendererConfig() output.Config {
	return output.Config{
		IndependentOutputs: s.opts.IndependentOutputs,
		UseFBO:             s.opts.UseFBO,
		Background:         s.opts.Background,
		Logger:             s.opts.Logger,
	}
}

func (s *Screen) refreshRate() float64 {
	if s.opts.RefreshRate > 0 {
		return s.opts.RefreshRate
	}
	hz, err := s.backend.RefreshRate()
	if err != nil || hz <= 0 {
		fallback := s.opts.FallbackRefreshRate
		if fallback <= 0 {
			fallback = schedule.DefaultRefreshRate
		}
		s.logger.Debug("refresh rate detection failed, using fallback",
			"fallback_hz", fallback, "error", err)
		return fallback
	}
	return hz
}

// SetOptions applies reloaded settings and repaints everything.
func (s *Screen) SetOptions(opts Options) {
	if opts.Logger == nil {
		opts.Logger = s.logger
	}
	s.opts = opts
	s.strategy.SetOptions(presentOptions(opts))
	s.Renderer.SetConfig(s.rendererConfig())
	s.chain.SetTextureFilter(opts.TextureFilter)
	s.refresh = s.refreshRate()
	s.sched.SetRefreshRate(s.refresh)
	s.updateUnredirect()
	s.DamageScreen()
}

// Chain returns the paint hook chain for loading plugins.
func (s *Screen) Chain() *paint.Chain { return s.chain }

// Scheduler returns the frame scheduler.
func (s *Screen) Scheduler() *schedule.Scheduler { return s.sched }

// Damage returns the damage aggregator.
func (s *Screen) Damage() *damage.Aggregator { return s.damage }

// LastPlan is the presentation decision of the most recent frame.
func (s *Screen) LastPlan() present.Plan { return s.lastPlan }

// Window returns a managed window.
func (s *Screen) Window(id gfx.WindowID) (*Window, bool) {
	w, ok := s.windows[id]
	return w, ok
}

// Stack returns the managed windows bottom first.
func (s *Screen) Stack() []*Window { return slices.Clone(s.stack) }

// DamageScreen repaints the whole screen on the next frame.
func (s *Screen) DamageScreen() {
	s.damage.DamageScreen()
	s.sched.Schedule()
}

// AddDamage marks a screen rectangle for repaint.
func (s *Screen) AddDamage(r image.Rectangle) {
	s.damage.AddRect(r.Intersect(s.damage.Screen()))
	s.sched.Schedule()
}

func (s *Screen) surfaces() []output.Surface {
	out := make([]output.Surface, len(s.stack))
	for i, w := range s.stack {
		out[i] = w
	}
	return out
}

// paintFrame is the scheduler's paint pass.
func (s *Screen) paintFrame(elapsed time.Duration) {
	s.chain.PreparePaint(elapsed)

	mask, r := s.damage.Consume()
	screen := s.damage.Screen()
	if mask.Has(damage.MaskFull) {
		r = region.FromRect(screen)
	}
	if u := s.unredirected; u != nil {
		// The unredirected window draws straight to the screen; a full
		// swap would cover it.
		r = r.SubtractRect(u.Rect())
		if mask.Has(damage.MaskFull) {
			mask = mask&^damage.MaskFull | damage.MaskRegion
		}
	}
	r = r.IntersectRect(screen)

	if !r.Empty() {
		useFBO := s.PrepareFBO()
		plan := s.strategy.Plan(mask, r, useFBO)
		frame := s.Render(mask, r, plan.FullRepaint, useFBO)
		if frame.Mask.Has(damage.MaskFull) && !plan.FullRepaint {
			plan = s.strategy.Plan(frame.Mask, frame.Region, frame.FBO)
		}
		s.lastPlan = plan
		if err := s.strategy.Present(plan, frame.Region); err != nil {
			s.logger.Warn("present failed", "path", plan.Path.String(), "error", err)
		}
	}

	s.chain.DonePaint()
	s.tracker.Flush()

	if s.damage.Mask() != damage.MaskNone {
		s.sched.Schedule()
	}
}

// PreparePaint is the core handler; nothing to do before a frame.
func (s *Screen) PreparePaint(time.Duration) {}

// DonePaint is the core handler; nothing to do after a frame.
func (s *Screen) DonePaint() {}

// DamageWindowRect is the core handler. The first damage after a map
// covers the whole window; later rectangles are left to the caller.
func (s *Screen) DamageWindowRect(w paint.Window, initial bool, rect image.Rectangle) bool {
	if !initial {
		return false
	}
	s.damage.AddRect(w.Rect().Intersect(s.damage.Screen()))
	return true
}

// Status returns a snapshot for the control socket.
func (s *Screen) Status() Status {
	ps := s.strategy.Stats()
	rs := s.Renderer.Stats()
	st := Status{
		Screen:         s.damage.Screen(),
		Windows:        len(s.stack),
		Frames:         s.sched.Frames(),
		RefreshRate:    s.refresh,
		VSync:          s.strategy.HasVSync(),
		Method:         s.strategy.Method(),
		LastPath:       ps.LastPath,
		Presents:       ps.Presents,
		SkippedPresent: ps.Skipped,
		Fallbacks:      rs.Fallbacks,
		SkippedWindows: rs.SkippedWindows,
		FBOFrames:      rs.FBOFrames,
		Plugins:        s.chain.Plugins(),
		TextureFilter:  s.chain.TextureFilter(),
	}
	for _, w := range s.stack {
		if w.info.Mapped {
			st.Mapped++
		}
		switch w.binder.State() {
		case pixmap.Bound:
			st.Bound++
		case pixmap.Failed:
			st.Failed++
		}
	}
	if s.unredirected != nil {
		st.Unredirected = s.unredirected.ID()
	}
	return st
}

// Close releases every binding and damage record and stops painting.
func (s *Screen) Close() {
	s.sched.Stop()
	if s.unredirected != nil {
		if err := s.backend.Redirect(s.unredirected.ID()); err != nil {
			s.logger.Debug("redirect on close failed", "window", uint32(s.unredirected.ID()), "error", err)
		}
		s.unredirected = nil
	}
	for _, w := range s.stack {
		w.binder.Close()
	}
	s.stack = nil
	clear(s.windows)
	s.tracker.Close()
	s.Renderer.Close()
	s.programs.Release()
}

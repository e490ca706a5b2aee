// Package schedule decides when the next frame of a screen paints.
package schedule

import (
	"log/slog"
	"time"
)

const (
	// MinTick is the shortest delay ever armed.
	MinTick = time.Millisecond
	// IdleGap is the longest elapsed time handed to a paint pass as is.
	// Longer gaps are clamped to one optimal interval so an animation
	// resumes with a normal step instead of one huge catch-up step.
	IdleGap = 100 * time.Millisecond

	DefaultRefreshRate = 60.0
	minRefreshRate     = 1.0
	maxRefreshRate     = 1000.0
)

// Phase is the scheduler's position in the Idle → Scheduled → Painting cycle.
type Phase uint8

const (
	Idle Phase = iota
	Scheduled
	Painting
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Painting:
		return "painting"
	default:
		return "unknown"
	}
}

// FrameState is the per-screen timing state.
type FrameState struct {
	LastPaint       time.Time
	OptimalInterval time.Duration
	Scheduled       bool
	Painting        bool
	// Reschedule is set when damage arrives during a paint pass; the
	// scheduler re-arms as soon as the pass ends.
	Reschedule bool
}

// Timer arms a single deferred call that runs on the loop goroutine.
// Arming again replaces the previous call.
type Timer interface {
	Arm(d time.Duration, fn func())
	Stop()
}

// PaintFunc runs one paint pass with the elapsed animation budget.
type PaintFunc func(elapsed time.Duration)

// Config configures a Scheduler.
type Config struct {
	RefreshRate float64
	// VSync reports whether retrace pacing is active; when it is the
	// scheduler arms the minimal tick and lets presentation wait.
	VSync  func() bool
	Now    func() time.Time
	Logger *slog.Logger
}

// Scheduler is a self-correcting frame timer guarded against reentrant
// painting.
type Scheduler struct {
	state  FrameState
	timer  Timer
	paint  PaintFunc
	vsync  func() bool
	now    func() time.Time
	logger *slog.Logger
	frames uint64
}

// New creates an idle scheduler.
func New(cfg Config, timer Timer, paint PaintFunc) *Scheduler {
	s := &Scheduler{
		timer:  timer,
		paint:  paint,
		vsync:  cfg.VSync,
		now:    cfg.Now,
		logger: cfg.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.SetRefreshRate(cfg.RefreshRate)
	return s
}

// SetRefreshRate derives the optimal interval from a refresh rate in Hz.
// Out of range rates fall back to DefaultRefreshRate.
func (s *Scheduler) SetRefreshRate(hz float64) {
	if hz < minRefreshRate || hz > maxRefreshRate {
		hz = DefaultRefreshRate
	}
	s.state.OptimalInterval = time.Duration(float64(time.Second) / hz)
}

// SetOptimalInterval sets the target frame interval directly.
func (s *Scheduler) SetOptimalInterval(d time.Duration) {
	if d < MinTick {
		d = MinTick
	}
	s.state.OptimalInterval = d
}

// SetVSync replaces the retrace pacing query.
func (s *Scheduler) SetVSync(vsync func() bool) { s.vsync = vsync }

// State returns a copy of the frame state.
func (s *Scheduler) State() FrameState { return s.state }

// Phase reports where in the paint cycle the scheduler is.
func (s *Scheduler) Phase() Phase {
	switch {
	case s.state.Painting:
		return Painting
	case s.state.Scheduled:
		return Scheduled
	default:
		return Idle
	}
}

// Frames returns the number of completed paint passes.
func (s *Scheduler) Frames() uint64 { return s.frames }

// Delay computes how long to wait before the next paint.
func (s *Scheduler) Delay(now time.Time) time.Duration {
	if s.vsync != nil && s.vsync() {
		return MinTick
	}
	elapsed := now.Sub(s.state.LastPaint)
	if elapsed < 0 {
		elapsed = 0
	}
	d := s.state.OptimalInterval - elapsed
	if d < MinTick {
		d = MinTick
	}
	return d
}

// Elapsed is the animation budget handed to a paint pass starting at now.
func (s *Scheduler) Elapsed(now time.Time) time.Duration {
	elapsed := now.Sub(s.state.LastPaint)
	if elapsed < 0 {
		return 0
	}
	if elapsed > IdleGap {
		return s.state.OptimalInterval
	}
	return elapsed
}

// Schedule requests a frame. During a paint pass the request is folded
// into an immediate re-arm once the pass ends.
func (s *Scheduler) Schedule() {
	if s.state.Painting {
		s.state.Reschedule = true
		return
	}
	if s.state.Scheduled {
		return
	}
	s.state.Scheduled = true
	s.timer.Arm(s.Delay(s.now()), s.fire)
}

// Stop disarms a pending frame.
func (s *Scheduler) Stop() {
	s.timer.Stop()
	s.state.Scheduled = false
}

func (s *Scheduler) fire() {
	if s.state.Painting {
		s.state.Reschedule = true
		return
	}
	s.state.Scheduled = false
	s.state.Painting = true

	now := s.now()
	elapsed := s.Elapsed(now)
	s.state.LastPaint = now
	s.paint(elapsed)

	s.state.Painting = false
	s.frames++

	if s.state.Reschedule {
		s.state.Reschedule = false
		s.Schedule()
	}
}

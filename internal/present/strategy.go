// Package present chooses how a painted back buffer reaches the screen.
package present

import (
	"fmt"
	"image"
	"log/slog"
	"slices"

	"github.com/1broseidon/paintd/internal/damage"
	"github.com/1broseidon/paintd/internal/gfx"
	"github.com/1broseidon/paintd/internal/region"
)

// PartialFraction is the share of the screen above which a partial update
// costs more than a full swap.
const PartialFraction = 0.5

// Method is a presentation path.
type Method uint8

const (
	// FullSwap presents the entire back buffer.
	FullSwap Method = iota
	// PartialBlit pushes only damaged rectangles from back to front.
	PartialBlit
	// FallbackBlit copies damaged rectangles with an explicit pixel copy.
	FallbackBlit
)

func (m Method) String() string {
	switch m {
	case FullSwap:
		return "full-swap"
	case PartialBlit:
		return "partial-blit"
	case FallbackBlit:
		return "fallback-blit"
	default:
		return fmt.Sprintf("Method(%d)", uint8(m))
	}
}

// Capabilities are detected once when the device is created.
type Capabilities struct {
	DoubleBuffered bool
	CopySubBuffer  bool
	CopyPixels     bool
	VideoSync      bool
	SwapControl    bool
	FBO            bool
}

// Detect derives capabilities from the device's extension strings.
func Detect(extensions []string, doubleBuffered bool) Capabilities {
	has := func(names ...string) bool {
		for _, n := range names {
			if slices.Contains(extensions, n) {
				return true
			}
		}
		return false
	}
	return Capabilities{
		DoubleBuffered: doubleBuffered,
		CopySubBuffer:  has(gfx.ExtCopySubBuffer),
		CopyPixels:     has(gfx.ExtCopyPixels),
		VideoSync:      has(gfx.ExtVideoSync),
		SwapControl:    has(gfx.ExtSwapControlSGI, gfx.ExtSwapControlEXT, gfx.ExtSwapControlMESA),
		FBO:            has(gfx.ExtFramebufferEXT, gfx.ExtFramebufferARB),
	}
}

// Method returns the partial-update path this device supports, or
// FullSwap when it has none.
func (c Capabilities) Method() Method {
	switch {
	case c.CopySubBuffer:
		return PartialBlit
	case c.CopyPixels:
		return FallbackBlit
	default:
		return FullSwap
	}
}

// Options are the presentation policy flags.
type Options struct {
	SyncToVBlank bool
	AlwaysSwap   bool
	// PersistentBackBuffer is set when something relies on the back
	// buffer keeping its contents across presents, which rules out the
	// partial blit.
	PersistentBackBuffer bool
	Logger               *slog.Logger
}

// Plan is the presentation decision for one frame, made before painting.
type Plan struct {
	Path Method
	// FullRepaint requires every output to be repainted entirely.
	FullRepaint bool
	Reason      string
}

// Stats counts presents per path.
type Stats struct {
	Presents  map[Method]uint64
	Skipped   uint64
	LastPath  Method
	LastError error
}

// Strategy presents frames on one device.
type Strategy struct {
	dev    gfx.Device
	caps   Capabilities
	opts   Options
	logger *slog.Logger

	swapInterval int
	stats        Stats
}

// NewStrategy creates a strategy for dev with the detected capabilities.
func NewStrategy(dev gfx.Device, caps Capabilities, opts Options) *Strategy {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Strategy{
		dev:          dev,
		caps:         caps,
		opts:         opts,
		logger:       logger,
		swapInterval: -1,
		stats:        Stats{Presents: make(map[Method]uint64)},
	}
	logger.Info("presentation method selected",
		"method", s.Method().String(),
		"double_buffered", caps.DoubleBuffered,
		"vsync", s.HasVSync())
	return s
}

func (s *Strategy) Capabilities() Capabilities { return s.caps }

// Method is the partial-update path in effect under the current options.
func (s *Strategy) Method() Method {
	m := s.caps.Method()
	if m == PartialBlit && s.opts.PersistentBackBuffer {
		if s.caps.CopyPixels {
			return FallbackBlit
		}
		return FullSwap
	}
	return m
}

// SetOptions replaces the policy flags, for example after a config reload.
func (s *Strategy) SetOptions(opts Options) {
	if opts.Logger == nil {
		opts.Logger = s.opts.Logger
	}
	s.opts = opts
}

// HasVSync reports whether presents are paced to the vertical retrace.
func (s *Strategy) HasVSync() bool {
	return s.opts.SyncToVBlank && (s.caps.VideoSync || s.caps.SwapControl)
}

// Stats returns a copy of the present counters.
func (s *Strategy) Stats() Stats {
	out := s.stats
	out.Presents = make(map[Method]uint64, len(s.stats.Presents))
	for k, v := range s.stats.Presents {
		out.Presents[k] = v
	}
	return out
}

// Plan picks the path for a frame with the given damage. fbo is true when
// the frame is composited through an off-screen framebuffer.
func (s *Strategy) Plan(mask damage.Mask, r region.Region, fbo bool) Plan {
	full := func(reason string) Plan {
		return Plan{Path: FullSwap, FullRepaint: true, Reason: reason}
	}
	switch {
	case fbo:
		return full("fbo")
	case s.opts.AlwaysSwap:
		return full("always-swap")
	case mask.Has(damage.MaskFull) && !s.caps.DoubleBuffered:
		return full("full-damage-single-buffer")
	case mask.Has(damage.MaskFull):
		return full("full-damage")
	}

	method := s.Method()
	if method == FullSwap {
		return full("no-partial-update")
	}
	if s.exceedsFraction(r) {
		return full("large-damage")
	}
	return Plan{Path: method, Reason: "partial"}
}

func (s *Strategy) exceedsFraction(r region.Region) bool {
	size := s.dev.Size()
	screen := size.X * size.Y
	if screen <= 0 {
		return true
	}
	return float64(r.Area()) > PartialFraction*float64(screen)
}

// Present pushes r to the screen along plan's path. The device's viewport
// and projection are restored afterwards. An empty region is a no-op.
func (s *Strategy) Present(plan Plan, r region.Region) error {
	if r.Empty() {
		s.stats.Skipped++
		return nil
	}

	viewport, projection := s.dev.Viewport(), s.dev.Projection()
	defer func() {
		s.dev.SetViewport(viewport)
		s.dev.SetProjection(projection)
	}()

	if err := s.pace(); err != nil {
		// A missed retrace only costs tearing.
		s.logger.Debug("vsync pacing failed", "error", err)
	}

	err := s.present(plan.Path, s.clip(r))
	s.stats.LastPath = plan.Path
	s.stats.LastError = err
	if err != nil {
		return fmt.Errorf("present %s: %w", plan.Path, err)
	}
	s.stats.Presents[plan.Path]++
	return nil
}

func (s *Strategy) present(path Method, rects []image.Rectangle) error {
	switch path {
	case FullSwap:
		return s.dev.SwapBuffers()
	case PartialBlit:
		if len(rects) == 0 {
			return nil
		}
		return s.dev.CopySubBuffer(rects)
	case FallbackBlit:
		if len(rects) == 0 {
			return nil
		}
		return s.dev.CopyPixels(rects)
	default:
		return fmt.Errorf("unknown method %d", path)
	}
}

// clip keeps rects inside the device so partial paths never copy outside
// the buffer.
func (s *Strategy) clip(r region.Region) []image.Rectangle {
	size := s.dev.Size()
	return r.IntersectRect(image.Rectangle{Max: size}).Rects()
}

// pace applies vsync before any path: a retrace wait when the device has
// one, otherwise the swap interval.
func (s *Strategy) pace() error {
	want := 0
	if s.opts.SyncToVBlank {
		if s.caps.VideoSync {
			return s.dev.WaitVideoSync()
		}
		want = 1
	}
	if !s.caps.SwapControl || want == s.swapInterval {
		return nil
	}
	if err := s.dev.SetSwapInterval(want); err != nil {
		return err
	}
	s.swapInterval = want
	return nil
}

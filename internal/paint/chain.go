// Package paint holds the per-frame hook chain that plugins extend.
//
// A frame runs PreparePaint, PaintOutputs (which calls PaintOutput per
// output, which calls PaintWindow per window) and DonePaint. Each stage is
// a list of handlers ending in the core implementation. A plugin implements
// any subset of the stage interfaces and receives the next handler as an
// explicit continuation; it may change the arguments, call next more than
// once, or not call it at all.
package paint

import (
	"image"
	"log/slog"
	"time"

	"github.com/1broseidon/paintd/internal/damage"
	"github.com/1broseidon/paintd/internal/gfx"
	"github.com/1broseidon/paintd/internal/region"
)

// Window is what the hooks see of a managed window.
type Window interface {
	ID() gfx.WindowID
	// Rect is the window's screen rectangle including borders.
	Rect() image.Rectangle
	// Texture returns the bound texture or nil when the window cannot be
	// painted this frame.
	Texture() gfx.Texture
	Opaque() bool
}

// WindowAttrib describes how a window is painted this frame.
type WindowAttrib struct {
	Opacity   float32
	Scale     float64
	Translate image.Point
}

// DefaultAttrib paints a window as is.
var DefaultAttrib = WindowAttrib{Opacity: 1, Scale: 1}

// Context is the per-screen render state handed to output and window
// hooks. The renderer owns it; hooks may read it and switch Target.
type Context struct {
	// Target is the framebuffer being drawn into, nil for the back buffer.
	Target gfx.Framebuffer
	// Output is the index into Outputs of the output being painted, or -1.
	Output  int
	Outputs []gfx.Output
	Filter  gfx.Filter
}

// CurrentOutput returns the output being painted.
func (c *Context) CurrentOutput() (gfx.Output, bool) {
	if c.Output < 0 || c.Output >= len(c.Outputs) {
		return gfx.Output{}, false
	}
	return c.Outputs[c.Output], true
}

type (
	PrepareFunc func(elapsed time.Duration)
	OutputsFunc func(outputs []gfx.Output, mask damage.Mask, r region.Region)
	// OutputFunc paints one output clipped to clip. Returning false rejects
	// the clipped attempt; the renderer then repaints the whole output.
	OutputFunc     func(ctx *Context, out gfx.Output, clip region.Region, mask damage.Mask) bool
	WindowFunc     func(ctx *Context, w Window, attrib WindowAttrib, clip region.Region, mask damage.Mask) bool
	DoneFunc       func()
	DamageRectFunc func(w Window, initial bool, rect image.Rectangle) bool
)

// Core is the innermost handler of every stage.
type Core interface {
	PreparePaint(elapsed time.Duration)
	PaintOutputs(outputs []gfx.Output, mask damage.Mask, r region.Region)
	PaintOutput(ctx *Context, out gfx.Output, clip region.Region, mask damage.Mask) bool
	PaintWindow(ctx *Context, w Window, attrib WindowAttrib, clip region.Region, mask damage.Mask) bool
	DonePaint()
	// DamageWindowRect returns true when the rectangle was fully handled
	// and must not be added to the screen's damage.
	DamageWindowRect(w Window, initial bool, rect image.Rectangle) bool
}

// Plugin is a named hook provider.
type Plugin interface {
	Name() string
}

type Preparer interface {
	PreparePaint(elapsed time.Duration, next PrepareFunc)
}

type OutputsPainter interface {
	PaintOutputs(outputs []gfx.Output, mask damage.Mask, r region.Region, next OutputsFunc)
}

type OutputPainter interface {
	PaintOutput(ctx *Context, out gfx.Output, clip region.Region, mask damage.Mask, next OutputFunc) bool
}

type WindowPainter interface {
	PaintWindow(ctx *Context, w Window, attrib WindowAttrib, clip region.Region, mask damage.Mask, next WindowFunc) bool
}

type Finisher interface {
	DonePaint(next DoneFunc)
}

// DamageClaimer lets a plugin take over a damaged rectangle, for example
// to expand it through a window transform.
type DamageClaimer interface {
	DamageWindowRect(w Window, initial bool, rect image.Rectangle, next DamageRectFunc) bool
}

// Chain is the assembled hook chain of one screen.
type Chain struct {
	core     Core
	plugins  []Plugin
	programs *gfx.ProgramCache
	filter   gfx.Filter
	logger   *slog.Logger

	prepare    PrepareFunc
	outputs    OutputsFunc
	output     OutputFunc
	window     WindowFunc
	done       DoneFunc
	damageRect DamageRectFunc
}

// NewChain creates a chain with no plugins.
func NewChain(programs *gfx.ProgramCache, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Chain{programs: programs, filter: gfx.FilterGood, logger: logger}
}

// SetCore installs the innermost handlers and rebuilds the chain.
func (c *Chain) SetCore(core Core) {
	c.core = core
	c.build()
}

// Load appends plugins, which run in load order: the first loaded plugin
// sees every call first.
func (c *Chain) Load(plugins ...Plugin) {
	for _, p := range plugins {
		c.logger.Debug("loading paint plugin", "plugin", p.Name())
	}
	c.plugins = append(c.plugins, plugins...)
	c.build()
}

// Unload removes the named plugin and reports whether it was loaded.
func (c *Chain) Unload(name string) bool {
	for i, p := range c.plugins {
		if p.Name() == name {
			c.plugins = append(c.plugins[:i:i], c.plugins[i+1:]...)
			c.build()
			return true
		}
	}
	return false
}

// Plugins returns the loaded plugin names in load order.
func (c *Chain) Plugins() []string {
	names := make([]string, len(c.plugins))
	for i, p := range c.plugins {
		names[i] = p.Name()
	}
	return names
}

func (c *Chain) TextureFilter() gfx.Filter { return c.filter }

func (c *Chain) SetTextureFilter(f gfx.Filter) { c.filter = f }

// Programs returns the screen's shader program cache.
func (c *Chain) Programs() *gfx.ProgramCache { return c.programs }

func (c *Chain) PreparePaint(elapsed time.Duration) { c.prepare(elapsed) }

func (c *Chain) PaintOutputs(outputs []gfx.Output, mask damage.Mask, r region.Region) {
	c.outputs(outputs, mask, r)
}

func (c *Chain) PaintOutput(ctx *Context, out gfx.Output, clip region.Region, mask damage.Mask) bool {
	return c.output(ctx, out, clip, mask)
}

func (c *Chain) PaintWindow(ctx *Context, w Window, attrib WindowAttrib, clip region.Region, mask damage.Mask) bool {
	return c.window(ctx, w, attrib, clip, mask)
}

func (c *Chain) DonePaint() { c.done() }

func (c *Chain) DamageWindowRect(w Window, initial bool, rect image.Rectangle) bool {
	return c.damageRect(w, initial, rect)
}

func (c *Chain) build() {
	core := c.core
	if core == nil {
		core = nopCore{}
	}
	c.prepare = wrap(c.plugins, PrepareFunc(core.PreparePaint),
		func(h Preparer, next PrepareFunc) PrepareFunc {
			return func(elapsed time.Duration) { h.PreparePaint(elapsed, next) }
		})
	c.outputs = wrap(c.plugins, OutputsFunc(core.PaintOutputs),
		func(h OutputsPainter, next OutputsFunc) OutputsFunc {
			return func(outputs []gfx.Output, mask damage.Mask, r region.Region) {
				h.PaintOutputs(outputs, mask, r, next)
			}
		})
	c.output = wrap(c.plugins, OutputFunc(core.PaintOutput),
		func(h OutputPainter, next OutputFunc) OutputFunc {
			return func(ctx *Context, out gfx.Output, clip region.Region, mask damage.Mask) bool {
				return h.PaintOutput(ctx, out, clip, mask, next)
			}
		})
	c.window = wrap(c.plugins, WindowFunc(core.PaintWindow),
		func(h WindowPainter, next WindowFunc) WindowFunc {
			return func(ctx *Context, w Window, attrib WindowAttrib, clip region.Region, mask damage.Mask) bool {
				return h.PaintWindow(ctx, w, attrib, clip, mask, next)
			}
		})
	c.done = wrap(c.plugins, DoneFunc(core.DonePaint),
		func(h Finisher, next DoneFunc) DoneFunc {
			return func() { h.DonePaint(next) }
		})
	c.damageRect = wrap(c.plugins, DamageRectFunc(core.DamageWindowRect),
		func(h DamageClaimer, next DamageRectFunc) DamageRectFunc {
			return func(w Window, initial bool, rect image.Rectangle) bool {
				return h.DamageWindowRect(w, initial, rect, next)
			}
		})
}

// wrap builds one stage: every plugin implementing H wraps the handlers
// of the plugins loaded after it.
func wrap[H any, F any](plugins []Plugin, core F, bind func(h H, next F) F) F {
	fn := core
	for i := len(plugins) - 1; i >= 0; i-- {
		if h, ok := plugins[i].(H); ok {
			fn = bind(h, fn)
		}
	}
	return fn
}

type nopCore struct{}

func (nopCore) PreparePaint(time.Duration)                                        {}
func (nopCore) PaintOutputs([]gfx.Output, damage.Mask, region.Region)             {}
func (nopCore) PaintOutput(*Context, gfx.Output, region.Region, damage.Mask) bool { return true }
func (nopCore) PaintWindow(*Context, Window, WindowAttrib, region.Region, damage.Mask) bool {
	return true
}
func (nopCore) DonePaint()                                          {}
func (nopCore) DamageWindowRect(Window, bool, image.Rectangle) bool { return false }

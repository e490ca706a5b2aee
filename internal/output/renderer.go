// Package output paints a screen's damage across its outputs.
package output

import (
	"image"
	"image/color"
	"log/slog"

	"github.com/1broseidon/paintd/internal/damage"
	"github.com/1broseidon/paintd/internal/gfx"
	"github.com/1broseidon/paintd/internal/paint"
	"github.com/1broseidon/paintd/internal/region"
)

// VirtualOutputID identifies the single output that stands in for a set of
// collapsed outputs.
const VirtualOutputID = -1

// Surface is a window the renderer can paint.
type Surface interface {
	paint.Window
	// Visible is false for unmapped, unredirected or destroyed windows.
	Visible() bool
}

// Config holds the renderer's policy flags.
type Config struct {
	// IndependentOutputs disables collapsing equal-size outputs.
	IndependentOutputs bool
	// UseFBO renders the desktop off-screen first when the device can.
	UseFBO     bool
	Background color.Color
	Logger     *slog.Logger
}

// Frame is the outcome of one render pass, as presentation must see it.
type Frame struct {
	Mask   damage.Mask
	Region region.Region
	FBO    bool
	// Fallbacks counts outputs whose clipped paint was rejected.
	Fallbacks int
}

// Stats are cumulative renderer counters.
type Stats struct {
	Frames         uint64
	Fallbacks      uint64
	SkippedWindows uint64
	FBOFrames      uint64
}

// Renderer paints one screen. It owns the per-screen paint.Context.
type Renderer struct {
	dev     gfx.Device
	chain   *paint.Chain
	windows func() []Surface
	cfg     Config
	logger  *slog.Logger

	screen  image.Rectangle
	outputs []gfx.Output
	ctx     paint.Context

	fboCapable bool
	fbo        gfx.Framebuffer

	// per-frame state
	mask      damage.Mask
	widened   region.Region
	fallbacks int

	stats Stats
}

// NewRenderer creates a renderer. windows returns the screen's windows in
// stacking order, bottom first. fboCapable comes from the presentation
// capability check.
func NewRenderer(dev gfx.Device, chain *paint.Chain, windows func() []Surface, fboCapable bool, cfg Config) *Renderer {
	r := &Renderer{
		dev:        dev,
		chain:      chain,
		windows:    windows,
		fboCapable: fboCapable,
		screen:     image.Rectangle{Max: dev.Size()},
		ctx:        paint.Context{Output: -1},
	}
	r.SetConfig(cfg)
	return r
}

// SetConfig replaces the policy flags.
func (r *Renderer) SetConfig(cfg Config) {
	if cfg.Background == nil {
		cfg.Background = color.Black
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if !cfg.UseFBO {
		r.releaseFBO()
	}
	r.cfg = cfg
	r.logger = cfg.Logger
}

// Context returns the per-screen render context.
func (r *Renderer) Context() *paint.Context { return &r.ctx }

func (r *Renderer) Stats() Stats { return r.stats }

func (r *Renderer) Screen() image.Rectangle { return r.screen }

// SetOutputs replaces the configured outputs.
func (r *Renderer) SetOutputs(outputs []gfx.Output) {
	r.outputs = append([]gfx.Output(nil), outputs...)
}

// Outputs returns the configured outputs.
func (r *Renderer) Outputs() []gfx.Output {
	return append([]gfx.Output(nil), r.outputs...)
}

// Resize changes the screen bounds; the off-screen target is recreated on
// next use.
func (r *Renderer) Resize(screen image.Rectangle) {
	r.screen = screen
	r.releaseFBO()
}

// PaintTargets returns the outputs a frame paints: the configured outputs,
// or one virtual output covering the screen when they collapse.
func (r *Renderer) PaintTargets() []gfx.Output {
	return Collapse(r.outputs, r.screen, r.cfg.IndependentOutputs)
}

// Collapse merges outputs into a single virtual output covering screen
// when there is more than one and all have the same pixel size. Position
// and rotation are not considered. With no outputs the screen itself is
// the only output.
func Collapse(outputs []gfx.Output, screen image.Rectangle, independent bool) []gfx.Output {
	virtual := []gfx.Output{{ID: VirtualOutputID, Name: "desktop", Rect: screen}}
	if len(outputs) == 0 {
		return virtual
	}
	if independent || len(outputs) == 1 {
		return append([]gfx.Output(nil), outputs...)
	}
	size := outputs[0].Size()
	for _, o := range outputs[1:] {
		if o.Size() != size {
			return append([]gfx.Output(nil), outputs...)
		}
	}
	return virtual
}

// PrepareFBO reports whether the next frame composites through the
// off-screen target, allocating it on first use. An allocation failure
// disables the path until the next resize or config change.
func (r *Renderer) PrepareFBO() bool {
	if !r.cfg.UseFBO || !r.fboCapable {
		return false
	}
	if r.fbo != nil {
		return true
	}
	fb, err := r.dev.NewFramebuffer(r.screen.Size())
	if err != nil {
		r.logger.Warn("off-screen target unavailable, painting directly", "error", err)
		r.fboCapable = false
		return false
	}
	r.fbo = fb
	return true
}

func (r *Renderer) releaseFBO() {
	if r.fbo != nil {
		r.fbo.Release()
		r.fbo = nil
	}
}

// Render runs the paint hook chain for one frame. fullRepaint is set when
// presentation needs every pixel; useFBO must be the result of PrepareFBO
// for this frame.
func (r *Renderer) Render(mask damage.Mask, damaged region.Region, fullRepaint, useFBO bool) Frame {
	useFBO = useFBO && r.fbo != nil
	if fullRepaint || useFBO {
		mask |= damage.MaskFull
	}
	if mask.Has(damage.MaskFull) {
		damaged = region.FromRect(r.screen)
	}

	r.mask = mask
	r.widened = damaged
	r.fallbacks = 0
	r.ctx.Filter = r.chain.TextureFilter()
	r.ctx.Outputs = nil
	r.ctx.Output = -1

	if useFBO {
		r.ctx.Target = r.fbo
		r.dev.BindTarget(r.fbo)
	}

	r.chain.PaintOutputs(r.PaintTargets(), mask, damaged)

	if useFBO {
		r.ctx.Target = nil
		r.dev.BindTarget(nil)
		r.blitFBO()
		r.stats.FBOFrames++
	}

	frame := Frame{Mask: r.mask, Region: r.widened, FBO: useFBO, Fallbacks: r.fallbacks}
	if !frame.Mask.Has(damage.MaskFull) && frame.Region.Covers(r.screen) {
		frame.Mask |= damage.MaskFull
	}
	r.ctx.Output = -1
	r.stats.Frames++
	r.stats.Fallbacks += uint64(r.fallbacks)
	return frame
}

// blitFBO composites the off-screen desktop onto each output.
func (r *Renderer) blitFBO() {
	tex := r.fbo.Texture()
	for _, out := range r.PaintTargets() {
		r.dev.SetViewport(out.Rect)
		r.dev.SetProjection(gfx.Ortho(out.Rect))
		r.dev.DrawTexture(tex, r.screen.Min, region.FromRect(out.Rect), gfx.DrawOptions{Opaque: true})
	}
}

// PaintOutputs is the core handler: a clipped attempt per output, falling
// back to the whole output when a hook rejects it.
func (r *Renderer) PaintOutputs(outputs []gfx.Output, mask damage.Mask, damaged region.Region) {
	r.ctx.Outputs = outputs
	for i, out := range outputs {
		r.ctx.Output = i
		whole := region.FromRect(out.Rect)

		if mask.Has(damage.MaskFull) {
			r.chain.PaintOutput(&r.ctx, out, whole, mask)
			continue
		}
		clip := damaged.IntersectRect(out.Rect)
		if clip.Empty() {
			continue
		}
		if r.chain.PaintOutput(&r.ctx, out, clip, mask) {
			continue
		}

		r.logger.Debug("clipped output paint rejected, repainting output",
			"output", out.Name, "rect", out.Rect.String())
		r.fallbacks++
		r.chain.PaintOutput(&r.ctx, out, whole, mask|damage.MaskRegion)
		r.widened = r.widened.Union(whole)
		r.mask |= damage.MaskRegion
	}
}

// PaintOutput is the core handler: clear what no opaque window covers,
// then paint visible windows bottom to top, each clipped to what the
// windows above leave of it.
func (r *Renderer) PaintOutput(ctx *paint.Context, out gfx.Output, clip region.Region, mask damage.Mask) bool {
	r.dev.SetViewport(out.Rect)
	r.dev.SetProjection(gfx.Ortho(out.Rect))

	windows := r.windows()
	clips := make([]region.Region, len(windows))
	uncovered := clip
	for i := len(windows) - 1; i >= 0; i-- {
		w := windows[i]
		if !w.Visible() {
			continue
		}
		if w.Texture() == nil {
			r.stats.SkippedWindows++
			continue
		}
		clips[i] = uncovered.IntersectRect(w.Rect())
		if w.Opaque() {
			uncovered = uncovered.SubtractRect(w.Rect())
		}
	}

	if !uncovered.Empty() {
		r.dev.Clear(uncovered, r.cfg.Background)
	}
	for i, w := range windows {
		if clips[i].Empty() {
			continue
		}
		r.chain.PaintWindow(ctx, w, paint.DefaultAttrib, clips[i], mask)
	}
	return true
}

// PaintWindow is the core handler: draw the window's texture.
func (r *Renderer) PaintWindow(ctx *paint.Context, w paint.Window, attrib paint.WindowAttrib, clip region.Region, mask damage.Mask) bool {
	tex := w.Texture()
	if tex == nil {
		r.stats.SkippedWindows++
		return false
	}
	opaque := w.Opaque() && (attrib.Opacity == 0 || attrib.Opacity >= 1)
	r.dev.DrawTexture(tex, w.Rect().Min.Add(attrib.Translate), clip, gfx.DrawOptions{
		Opacity: attrib.Opacity,
		Scale:   attrib.Scale,
		Opaque:  opaque,
		Filter:  ctx.Filter,
		Program: r.textureProgram(ctx.Filter),
	})
	return true
}

// textureProgram returns the cached sampling program for f, or nil when
// the device draws without programs.
func (r *Renderer) textureProgram(f gfx.Filter) gfx.Program {
	cache := r.chain.Programs()
	if cache == nil {
		return nil
	}
	p, err := cache.Get(gfx.TextureProgram(f))
	if err != nil {
		return nil
	}
	return p
}

// Close releases the off-screen target.
func (r *Renderer) Close() {
	r.releaseFBO()
}

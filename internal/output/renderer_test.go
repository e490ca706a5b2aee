package output

import (
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/paintd/internal/damage"
	"github.com/1broseidon/paintd/internal/gfx"
	"github.com/1broseidon/paintd/internal/paint"
	"github.com/1broseidon/paintd/internal/region"
)

type draw struct {
	tex  gfx.Texture
	dst  image.Point
	clip region.Region
	opts gfx.DrawOptions
}

type fakeProgram struct{ name string }

func (*fakeProgram) Release() {}

type fakeDevice struct {
	size     image.Point
	viewport image.Rectangle
	proj     gfx.Matrix
	target   gfx.Framebuffer
	targets  []gfx.Framebuffer
	fbErr    error
	fbs      []*fakeFramebuffer

	clears []region.Region
	draws  []draw

	// programs enables CompileProgram; compiled lists every compile.
	programs bool
	compiled []string
}

func (d *fakeDevice) Extensions() []string          { return nil }
func (d *fakeDevice) DoubleBuffered() bool          { return true }
func (d *fakeDevice) Size() image.Point             { return d.size }
func (d *fakeDevice) Viewport() image.Rectangle     { return d.viewport }
func (d *fakeDevice) SetViewport(r image.Rectangle) { d.viewport = r }
func (d *fakeDevice) Projection() gfx.Matrix        { return d.proj }
func (d *fakeDevice) SetProjection(m gfx.Matrix)    { d.proj = m }
func (d *fakeDevice) BindTarget(fb gfx.Framebuffer) {
	d.target = fb
	d.targets = append(d.targets, fb)
}
func (d *fakeDevice) NewFramebuffer(size image.Point) (gfx.Framebuffer, error) {
	if d.fbErr != nil {
		return nil, d.fbErr
	}
	fb := &fakeFramebuffer{size: size}
	d.fbs = append(d.fbs, fb)
	return fb, nil
}
func (d *fakeDevice) BindPixmap(gfx.NativePixmap, image.Point, int) (gfx.Texture, error) {
	return nil, gfx.ErrUnsupported
}
func (d *fakeDevice) CompileProgram(name, _ string) (gfx.Program, error) {
	d.compiled = append(d.compiled, name)
	if !d.programs {
		return nil, gfx.ErrUnsupported
	}
	return &fakeProgram{name: name}, nil
}
func (d *fakeDevice) Clear(clip region.Region, _ color.Color) { d.clears = append(d.clears, clip) }
func (d *fakeDevice) DrawTexture(t gfx.Texture, dst image.Point, clip region.Region, opts gfx.DrawOptions) {
	d.draws = append(d.draws, draw{tex: t, dst: dst, clip: clip, opts: opts})
}
func (d *fakeDevice) SwapBuffers() error                    { return nil }
func (d *fakeDevice) CopySubBuffer([]image.Rectangle) error { return nil }
func (d *fakeDevice) CopyPixels([]image.Rectangle) error    { return nil }
func (d *fakeDevice) WaitVideoSync() error                  { return nil }
func (d *fakeDevice) SetSwapInterval(int) error             { return nil }

type fakeTexture struct{ size image.Point }

func (t *fakeTexture) Size() image.Point { return t.size }
func (t *fakeTexture) Release()          {}

type fakeFramebuffer struct {
	size     image.Point
	tex      fakeTexture
	released bool
}

func (f *fakeFramebuffer) Size() image.Point    { return f.size }
func (f *fakeFramebuffer) Texture() gfx.Texture { return &f.tex }
func (f *fakeFramebuffer) Release()             { f.released = true }

type fakeWindow struct {
	id      gfx.WindowID
	rect    image.Rectangle
	tex     gfx.Texture
	opaque  bool
	visible bool
}

func (w *fakeWindow) ID() gfx.WindowID      { return w.id }
func (w *fakeWindow) Rect() image.Rectangle { return w.rect }
func (w *fakeWindow) Texture() gfx.Texture  { return w.tex }
func (w *fakeWindow) Opaque() bool          { return w.opaque }
func (w *fakeWindow) Visible() bool         { return w.visible }

func window(id gfx.WindowID, r image.Rectangle, opaque bool) *fakeWindow {
	return &fakeWindow{id: id, rect: r, tex: &fakeTexture{size: r.Size()}, opaque: opaque, visible: true}
}

// screenCore completes the renderer into a paint.Core the way a screen does.
type screenCore struct{ *Renderer }

func (screenCore) PreparePaint(time.Duration)                                {}
func (screenCore) DonePaint()                                                {}
func (screenCore) DamageWindowRect(paint.Window, bool, image.Rectangle) bool { return false }

type harness struct {
	dev     *fakeDevice
	chain   *paint.Chain
	r       *Renderer
	windows []Surface
}

func newHarness(cfg Config, fboCapable bool, windows ...Surface) *harness {
	dev := &fakeDevice{size: image.Pt(200, 100)}
	h := &harness{
		dev:     dev,
		chain:   paint.NewChain(gfx.NewProgramCache(dev), nil),
		windows: windows,
	}
	h.r = NewRenderer(h.dev, h.chain, func() []Surface { return h.windows }, fboCapable, cfg)
	h.chain.SetCore(screenCore{h.r})
	return h
}

type outputRecorder struct {
	seen []gfx.Output
	ctx  []int
}

func (*outputRecorder) Name() string { return "recorder" }

func (o *outputRecorder) PaintOutput(ctx *paint.Context, out gfx.Output, clip region.Region, mask damage.Mask, next paint.OutputFunc) bool {
	o.seen = append(o.seen, out)
	o.ctx = append(o.ctx, ctx.Output)
	return next(ctx, out, clip, mask)
}

func TestCollapseOnlyEqualSizes(t *testing.T) {
	screen := image.Rect(0, 0, 3840, 1080)
	left := gfx.Output{ID: 0, Rect: image.Rect(0, 0, 1920, 1080)}
	right := gfx.Output{ID: 1, Rect: image.Rect(1920, 0, 3840, 1080)}
	small := gfx.Output{ID: 1, Rect: image.Rect(1920, 0, 3200, 1024)}

	got := Collapse([]gfx.Output{left, right}, screen, false)
	require.Len(t, got, 1)
	assert.Equal(t, VirtualOutputID, got[0].ID)
	assert.Equal(t, screen, got[0].Rect)

	assert.Equal(t, []gfx.Output{left, right}, Collapse([]gfx.Output{left, right}, screen, true))
	assert.Equal(t, []gfx.Output{left, small}, Collapse([]gfx.Output{left, small}, screen, false))
	assert.Equal(t, []gfx.Output{left}, Collapse([]gfx.Output{left}, screen, false))

	// Equal size at overlapping positions still collapses.
	clone := gfx.Output{ID: 2, Rect: left.Rect}
	assert.Len(t, Collapse([]gfx.Output{left, clone}, screen, false), 1)

	none := Collapse(nil, screen, false)
	require.Len(t, none, 1)
	assert.Equal(t, screen, none[0].Rect)
}

func TestRenderPaintsEachOutputWithContext(t *testing.T) {
	h := newHarness(Config{IndependentOutputs: true}, false)
	rec := &outputRecorder{}
	h.chain.Load(rec)
	h.r.SetOutputs([]gfx.Output{
		{ID: 0, Rect: image.Rect(0, 0, 100, 100)},
		{ID: 1, Rect: image.Rect(100, 0, 200, 100)},
	})

	frame := h.r.Render(damage.MaskRegion, region.FromRect(image.Rect(90, 10, 110, 20)), false, false)
	require.Len(t, rec.seen, 2)
	assert.Equal(t, []int{0, 1}, rec.ctx)
	assert.Equal(t, -1, h.r.Context().Output, "context reset after frame")
	assert.False(t, frame.Mask.Has(damage.MaskFull))
	assert.Equal(t, region.FromRect(image.Rect(90, 10, 110, 20)), frame.Region)

	// Outputs without damage are not painted.
	rec.seen = nil
	h.r.Render(damage.MaskRegion, region.FromRect(image.Rect(10, 10, 20, 20)), false, false)
	require.Len(t, rec.seen, 1)
	assert.Equal(t, 0, rec.seen[0].ID)
}

type needsWholeOutput struct{ attempts []region.Region }

func (*needsWholeOutput) Name() string { return "blur" }

func (n *needsWholeOutput) PaintOutput(ctx *paint.Context, out gfx.Output, clip region.Region, mask damage.Mask, next paint.OutputFunc) bool {
	n.attempts = append(n.attempts, clip)
	if !clip.Covers(out.Rect) {
		return false
	}
	return next(ctx, out, clip, mask)
}

func TestRejectedClipFallsBackToWholeOutputAndWidens(t *testing.T) {
	h := newHarness(Config{IndependentOutputs: true}, false)
	hook := &needsWholeOutput{}
	h.chain.Load(hook)
	left := gfx.Output{ID: 0, Rect: image.Rect(0, 0, 100, 100)}
	right := gfx.Output{ID: 1, Rect: image.Rect(100, 0, 200, 100)}
	h.r.SetOutputs([]gfx.Output{left, right})

	damaged := region.FromRect(image.Rect(10, 10, 20, 20))
	frame := h.r.Render(damage.MaskRegion, damaged, false, false)

	require.Len(t, hook.attempts, 2)
	assert.Equal(t, damaged, hook.attempts[0])
	assert.Equal(t, region.FromRect(left.Rect), hook.attempts[1])
	assert.Equal(t, 1, frame.Fallbacks)
	assert.Equal(t, region.FromRect(left.Rect), frame.Region)
	assert.False(t, frame.Mask.Has(damage.MaskFull))
	assert.Equal(t, uint64(1), h.r.Stats().Fallbacks)

	// When the widened damage covers the screen it becomes full damage.
	hook.attempts = nil
	frame = h.r.Render(damage.MaskRegion, region.New(image.Rect(0, 0, 1, 1), image.Rect(150, 0, 151, 1)), false, false)
	assert.Equal(t, 2, frame.Fallbacks)
	assert.True(t, frame.Mask.Has(damage.MaskFull))
}

func TestOcclusionClipsWindowsBelowOpaqueOnes(t *testing.T) {
	bottom := window(1, image.Rect(0, 0, 100, 100), true)
	top := window(2, image.Rect(50, 0, 100, 100), true)
	hidden := window(3, image.Rect(60, 10, 70, 20), false)
	hidden.visible = false
	h := newHarness(Config{}, false, bottom, hidden, top)
	h.r.SetOutputs([]gfx.Output{{Rect: image.Rect(0, 0, 200, 100)}})

	h.r.Render(damage.MaskRegion, region.FromRect(image.Rect(0, 0, 200, 100)), false, false)

	require.Len(t, h.dev.draws, 2)
	assert.Same(t, bottom.tex, h.dev.draws[0].tex)
	assert.Equal(t, region.FromRect(image.Rect(0, 0, 50, 100)), h.dev.draws[0].clip)
	assert.Same(t, top.tex, h.dev.draws[1].tex)
	require.Len(t, h.dev.clears, 1)
	assert.Equal(t, region.FromRect(image.Rect(100, 0, 200, 100)), h.dev.clears[0])
}

func TestWindowsDrawWithCachedSamplingProgram(t *testing.T) {
	a := window(1, image.Rect(0, 0, 50, 50), true)
	b := window(2, image.Rect(60, 0, 90, 50), true)
	h := newHarness(Config{}, false, a, b)
	h.dev.programs = true
	h.chain.SetTextureFilter(gfx.FilterBest)
	h.r.SetOutputs([]gfx.Output{{Rect: image.Rect(0, 0, 200, 100)}})
	whole := region.FromRect(image.Rect(0, 0, 200, 100))

	h.r.Render(damage.MaskRegion, whole, false, false)
	h.r.Render(damage.MaskRegion, whole, false, false)

	require.Len(t, h.dev.draws, 4)
	for _, d := range h.dev.draws {
		p, ok := d.opts.Program.(*fakeProgram)
		require.True(t, ok)
		assert.Equal(t, "texture-best", p.name)
		assert.Equal(t, gfx.FilterBest, d.opts.Filter)
	}
	assert.Equal(t, []string{"texture-best"}, h.dev.compiled, "compiled once per screen")
}

func TestDeviceWithoutProgramsDrawsPlain(t *testing.T) {
	h := newHarness(Config{}, false, window(1, image.Rect(0, 0, 50, 50), true))
	h.r.SetOutputs([]gfx.Output{{Rect: image.Rect(0, 0, 200, 100)}})
	whole := region.FromRect(image.Rect(0, 0, 200, 100))

	h.r.Render(damage.MaskRegion, whole, false, false)
	h.r.Render(damage.MaskRegion, whole, false, false)

	require.Len(t, h.dev.draws, 2)
	assert.Nil(t, h.dev.draws[0].opts.Program)
	assert.Equal(t, []string{"texture-good"}, h.dev.compiled, "a failed compile is not retried")
}

func TestUnboundWindowIsSkippedNotOccluding(t *testing.T) {
	bottom := window(1, image.Rect(0, 0, 100, 100), true)
	broken := window(2, image.Rect(0, 0, 100, 100), true)
	broken.tex = nil
	h := newHarness(Config{}, false, bottom, broken)
	h.r.SetOutputs([]gfx.Output{{Rect: image.Rect(0, 0, 100, 100)}})

	h.r.Render(damage.MaskRegion, region.FromRect(image.Rect(0, 0, 100, 100)), false, false)
	require.Len(t, h.dev.draws, 1)
	assert.Same(t, bottom.tex, h.dev.draws[0].tex)
	assert.Equal(t, uint64(1), h.r.Stats().SkippedWindows)
}

func TestFullRepaintPaintsWholeScreen(t *testing.T) {
	h := newHarness(Config{}, false)
	rec := &outputRecorder{}
	h.chain.Load(rec)
	frame := h.r.Render(damage.MaskRegion, region.FromRect(image.Rect(0, 0, 1, 1)), true, false)
	assert.True(t, frame.Mask.Has(damage.MaskFull))
	assert.Equal(t, region.FromRect(image.Rect(0, 0, 200, 100)), frame.Region)
	require.Len(t, rec.seen, 1)
	assert.Equal(t, VirtualOutputID, rec.seen[0].ID)
}

func TestFBOPathRendersOffscreenThenBlits(t *testing.T) {
	w := window(1, image.Rect(0, 0, 50, 50), true)
	h := newHarness(Config{UseFBO: true, IndependentOutputs: true}, true, w)
	h.r.SetOutputs([]gfx.Output{
		{ID: 0, Rect: image.Rect(0, 0, 100, 100)},
		{ID: 1, Rect: image.Rect(100, 0, 200, 100)},
	})

	require.True(t, h.r.PrepareFBO())
	frame := h.r.Render(damage.MaskRegion, region.FromRect(image.Rect(0, 0, 5, 5)), true, true)
	require.Len(t, h.dev.fbs, 1)
	fb := h.dev.fbs[0]
	assert.Equal(t, image.Pt(200, 100), fb.size)
	assert.True(t, frame.FBO)
	assert.True(t, frame.Mask.Has(damage.MaskFull))
	assert.Equal(t, []gfx.Framebuffer{fb, nil}, h.dev.targets)

	// One window draw into the FBO, then one blit per output.
	require.Len(t, h.dev.draws, 3)
	assert.Same(t, fb.Texture(), h.dev.draws[1].tex)
	assert.Equal(t, region.FromRect(image.Rect(100, 0, 200, 100)), h.dev.draws[2].clip)
	assert.Equal(t, uint64(1), h.r.Stats().FBOFrames)

	require.True(t, h.r.PrepareFBO())
	assert.Len(t, h.dev.fbs, 1, "target reused")

	h.r.Resize(image.Rect(0, 0, 300, 100))
	assert.True(t, fb.released)
}

func TestFBOAllocationFailureDisablesPath(t *testing.T) {
	h := newHarness(Config{UseFBO: true}, true)
	h.dev.fbErr = errors.New("out of memory")
	assert.False(t, h.r.PrepareFBO())
	h.dev.fbErr = nil
	assert.False(t, h.r.PrepareFBO())

	off := newHarness(Config{UseFBO: false}, true)
	assert.False(t, off.r.PrepareFBO())
}

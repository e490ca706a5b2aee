package present

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/paintd/internal/damage"
	"github.com/1broseidon/paintd/internal/gfx"
	"github.com/1broseidon/paintd/internal/region"
)

type fakeDevice struct {
	exts     []string
	double   bool
	size     image.Point
	viewport image.Rectangle
	proj     gfx.Matrix

	calls    []string
	subRects [][]image.Rectangle
	swapErr  error
	interval []int
}

func (d *fakeDevice) Extensions() []string             { return d.exts }
func (d *fakeDevice) DoubleBuffered() bool             { return d.double }
func (d *fakeDevice) Size() image.Point                { return d.size }
func (d *fakeDevice) Viewport() image.Rectangle        { return d.viewport }
func (d *fakeDevice) SetViewport(r image.Rectangle)    { d.viewport = r }
func (d *fakeDevice) Projection() gfx.Matrix           { return d.proj }
func (d *fakeDevice) SetProjection(m gfx.Matrix)       { d.proj = m }
func (d *fakeDevice) BindTarget(gfx.Framebuffer)       {}
func (d *fakeDevice) Clear(region.Region, color.Color) {}
func (d *fakeDevice) DrawTexture(gfx.Texture, image.Point, region.Region, gfx.DrawOptions) {
}
func (d *fakeDevice) NewFramebuffer(image.Point) (gfx.Framebuffer, error) {
	return nil, gfx.ErrUnsupported
}
func (d *fakeDevice) BindPixmap(gfx.NativePixmap, image.Point, int) (gfx.Texture, error) {
	return nil, gfx.ErrUnsupported
}
func (d *fakeDevice) CompileProgram(string, string) (gfx.Program, error) {
	return nil, gfx.ErrUnsupported
}

// mess simulates a driver resetting state during presentation.
func (d *fakeDevice) mess() {
	d.viewport = image.Rect(0, 0, 1, 1)
	d.proj = gfx.Matrix{}
}

func (d *fakeDevice) SwapBuffers() error {
	d.calls = append(d.calls, "swap")
	d.mess()
	return d.swapErr
}

func (d *fakeDevice) CopySubBuffer(rects []image.Rectangle) error {
	d.calls = append(d.calls, "sub")
	d.subRects = append(d.subRects, rects)
	d.mess()
	return nil
}

func (d *fakeDevice) CopyPixels([]image.Rectangle) error {
	d.calls = append(d.calls, "pixels")
	d.mess()
	return nil
}

func (d *fakeDevice) WaitVideoSync() error {
	d.calls = append(d.calls, "vsync")
	return nil
}

func (d *fakeDevice) SetSwapInterval(n int) error {
	d.calls = append(d.calls, "interval")
	d.interval = append(d.interval, n)
	return nil
}

func newDevice(exts ...string) *fakeDevice {
	size := image.Pt(100, 100)
	return &fakeDevice{
		exts:     exts,
		double:   true,
		size:     size,
		viewport: image.Rectangle{Max: size},
		proj:     gfx.Ortho(image.Rectangle{Max: size}),
	}
}

func newStrategy(dev *fakeDevice, opts Options) *Strategy {
	return NewStrategy(dev, Detect(dev.exts, dev.double), opts)
}

func TestDetectSelectsExactlyOneMethod(t *testing.T) {
	cases := []struct {
		name       string
		exts       []string
		persistent bool
		want       Method
	}{
		{"copy sub buffer", []string{gfx.ExtCopySubBuffer, gfx.ExtCopyPixels}, false, PartialBlit},
		{"persistent back buffer", []string{gfx.ExtCopySubBuffer, gfx.ExtCopyPixels}, true, FallbackBlit},
		{"persistent without pixel copy", []string{gfx.ExtCopySubBuffer}, true, FullSwap},
		{"copy pixels only", []string{gfx.ExtCopyPixels}, false, FallbackBlit},
		{"nothing", nil, false, FullSwap},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dev := newDevice(tc.exts...)
			s := newStrategy(dev, Options{PersistentBackBuffer: tc.persistent})
			assert.Equal(t, tc.want, s.Method())
		})
	}
}

func TestDetectSwapControlVariants(t *testing.T) {
	for _, ext := range []string{gfx.ExtSwapControlSGI, gfx.ExtSwapControlEXT, gfx.ExtSwapControlMESA} {
		assert.True(t, Detect([]string{ext}, true).SwapControl, ext)
	}
	caps := Detect([]string{gfx.ExtFramebufferARB, gfx.ExtVideoSync}, false)
	assert.True(t, caps.FBO)
	assert.True(t, caps.VideoSync)
	assert.False(t, caps.DoubleBuffered)
}

func TestFullDamageWithoutPartialBlitSwaps(t *testing.T) {
	for _, exts := range [][]string{nil, {gfx.ExtCopyPixels}} {
		dev := newDevice(exts...)
		s := newStrategy(dev, Options{})
		screen := region.FromRect(image.Rect(0, 0, 100, 100))

		plan := s.Plan(damage.MaskFull, screen, false)
		require.Equal(t, FullSwap, plan.Path)
		assert.True(t, plan.FullRepaint)
		require.NoError(t, s.Present(plan, screen))

		assert.Equal(t, []string{"swap"}, dev.calls)
		assert.Empty(t, dev.subRects)
	}
}

func TestPlanPolicy(t *testing.T) {
	small := region.FromRect(image.Rect(0, 0, 10, 10))
	large := region.FromRect(image.Rect(0, 0, 100, 60))

	s := newStrategy(newDevice(gfx.ExtCopySubBuffer), Options{})
	assert.Equal(t, PartialBlit, s.Plan(damage.MaskRegion, small, false).Path)
	assert.Equal(t, FullSwap, s.Plan(damage.MaskRegion, large, false).Path)
	assert.Equal(t, FullSwap, s.Plan(damage.MaskRegion, small, true).Path, "fbo pass forces swap")
	assert.Equal(t, "fbo", s.Plan(damage.MaskRegion, small, true).Reason)

	always := newStrategy(newDevice(gfx.ExtCopySubBuffer), Options{AlwaysSwap: true})
	assert.Equal(t, FullSwap, always.Plan(damage.MaskRegion, small, false).Path)

	single := newDevice(gfx.ExtCopySubBuffer)
	single.double = false
	ss := newStrategy(single, Options{})
	plan := ss.Plan(damage.MaskFull, region.FromRect(image.Rect(0, 0, 100, 100)), false)
	assert.Equal(t, FullSwap, plan.Path)
	assert.Equal(t, "full-damage-single-buffer", plan.Reason)
}

func TestPartialBlitPushesDamagedRects(t *testing.T) {
	dev := newDevice(gfx.ExtCopySubBuffer)
	s := newStrategy(dev, Options{})
	r := region.New(image.Rect(0, 0, 10, 10), image.Rect(50, 50, 60, 60), image.Rect(95, 95, 120, 120))

	plan := s.Plan(damage.MaskRegion, r, false)
	require.Equal(t, PartialBlit, plan.Path)
	require.NoError(t, s.Present(plan, r))

	require.Len(t, dev.subRects, 1)
	assert.Equal(t, []image.Rectangle{
		image.Rect(0, 0, 10, 10),
		image.Rect(50, 50, 60, 60),
		image.Rect(95, 95, 100, 100),
	}, dev.subRects[0])
	assert.Equal(t, uint64(1), s.Stats().Presents[PartialBlit])
}

func TestZeroRectsIsNoOpOnEveryPath(t *testing.T) {
	for _, m := range []Method{FullSwap, PartialBlit, FallbackBlit} {
		dev := newDevice(gfx.ExtCopySubBuffer, gfx.ExtCopyPixels, gfx.ExtVideoSync)
		s := newStrategy(dev, Options{SyncToVBlank: true})
		require.NoError(t, s.Present(Plan{Path: m}, region.Region{}))
		assert.Empty(t, dev.calls, m.String())
		assert.Equal(t, uint64(1), s.Stats().Skipped)
	}
}

func TestPresentRestoresViewportAndProjection(t *testing.T) {
	for _, m := range []Method{FullSwap, PartialBlit, FallbackBlit} {
		dev := newDevice(gfx.ExtCopySubBuffer, gfx.ExtCopyPixels)
		vp, proj := dev.viewport, dev.proj
		s := newStrategy(dev, Options{})
		require.NoError(t, s.Present(Plan{Path: m}, region.FromRect(image.Rect(0, 0, 5, 5))))
		assert.Equal(t, vp, dev.viewport, m.String())
		assert.Equal(t, proj, dev.proj, m.String())
	}
}

func TestVSyncAppliedBeforeEveryPath(t *testing.T) {
	for _, m := range []Method{FullSwap, PartialBlit, FallbackBlit} {
		dev := newDevice(gfx.ExtCopySubBuffer, gfx.ExtCopyPixels, gfx.ExtVideoSync)
		s := newStrategy(dev, Options{SyncToVBlank: true})
		require.True(t, s.HasVSync())
		require.NoError(t, s.Present(Plan{Path: m}, region.FromRect(image.Rect(0, 0, 5, 5))))
		require.Len(t, dev.calls, 2)
		assert.Equal(t, "vsync", dev.calls[0], m.String())
	}
}

func TestSwapIntervalSetOnceAndCleared(t *testing.T) {
	dev := newDevice(gfx.ExtSwapControlEXT)
	s := newStrategy(dev, Options{SyncToVBlank: true})
	r := region.FromRect(image.Rect(0, 0, 5, 5))

	require.NoError(t, s.Present(Plan{Path: FullSwap}, r))
	require.NoError(t, s.Present(Plan{Path: FullSwap}, r))
	assert.Equal(t, []int{1}, dev.interval)

	s.SetOptions(Options{})
	assert.False(t, s.HasVSync())
	require.NoError(t, s.Present(Plan{Path: FullSwap}, r))
	assert.Equal(t, []int{1, 0}, dev.interval)
}

func TestPresentWrapsDeviceError(t *testing.T) {
	dev := newDevice()
	dev.swapErr = errors.New("lost device")
	s := newStrategy(dev, Options{})
	err := s.Present(Plan{Path: FullSwap}, region.FromRect(image.Rect(0, 0, 1, 1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, dev.swapErr)
	assert.Equal(t, dev.swapErr, s.Stats().LastError)
	assert.Zero(t, s.Stats().Presents[FullSwap])
}

// Package software is a CPU rendering device. It backs the headless
// backend and tests; its buffers are gg pixmap targets.
package software

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/gogpu/gg/render"
	"github.com/gogpu/gputypes"
	"golang.org/x/image/draw"

	"github.com/1broseidon/paintd/internal/gfx"
	"github.com/1broseidon/paintd/internal/region"
)

// PixmapSource resolves native pixmaps to their pixels. Textures bound
// from a pixmap sample the live image, so later server-side drawing shows
// up without a rebind.
type PixmapSource interface {
	PixmapImage(p gfx.NativePixmap) (*image.RGBA, bool)
}

// Options configure a Device.
type Options struct {
	Size image.Point
	// Extensions advertised to the presentation setup.
	Extensions []string
	// SingleBuffered makes the front and back buffer the same image.
	SingleBuffered bool
}

// DefaultExtensions are advertised when Options.Extensions is nil. The
// device never blocks on a retrace, so vsync extensions are opt-in.
var DefaultExtensions = []string{
	gfx.ExtCopySubBuffer,
	gfx.ExtCopyPixels,
	gfx.ExtFramebufferARB,
	gfx.ExtTextureFromPixmap,
}

// Counters record presentation calls for status and tests.
type Counters struct {
	Swaps           int
	SubBufferCopies int
	PixelCopies     int
	CopiedRects     int
	VSyncWaits      int
	SwapInterval    int
	Draws           int
	Clears          int
	Programs        int
}

// Device renders into a back buffer and presents into a front buffer.
type Device struct {
	source PixmapSource
	exts   []string
	double bool

	front  *render.PixmapTarget
	back   *render.PixmapTarget
	target *render.PixmapTarget

	viewport   image.Rectangle
	projection gfx.Matrix

	counters Counters
}

// New creates a device. source may be nil when no pixmaps are bound.
func New(source PixmapSource, opts Options) *Device {
	exts := opts.Extensions
	if exts == nil {
		exts = DefaultExtensions
	}
	d := &Device{
		source: source,
		exts:   append([]string(nil), exts...),
		double: !opts.SingleBuffered,
	}
	d.Resize(opts.Size)
	return d
}

// Resize reallocates both buffers; their contents are lost.
func (d *Device) Resize(size image.Point) {
	d.back = render.NewPixmapTarget(size.X, size.Y)
	if d.double {
		d.front = render.NewPixmapTarget(size.X, size.Y)
	} else {
		d.front = d.back
	}
	d.target = d.back
	d.viewport = image.Rectangle{Max: size}
	d.projection = gfx.Ortho(d.viewport)
}

func (d *Device) Extensions() []string { return d.exts }
func (d *Device) DoubleBuffered() bool { return d.double }

func (d *Device) Size() image.Point {
	return image.Pt(d.back.Width(), d.back.Height())
}

func (d *Device) Viewport() image.Rectangle     { return d.viewport }
func (d *Device) SetViewport(r image.Rectangle) { d.viewport = r }
func (d *Device) Projection() gfx.Matrix        { return d.projection }
func (d *Device) SetProjection(m gfx.Matrix)    { d.projection = m }

// Front returns the presented image.
func (d *Device) Front() *image.RGBA { return d.front.Image() }

// Back returns the image being painted.
func (d *Device) Back() *image.RGBA { return d.back.Image() }

func (d *Device) Counters() Counters { return d.counters }

func (d *Device) BindTarget(fb gfx.Framebuffer) {
	if f, ok := fb.(*framebuffer); ok && f.target != nil {
		d.target = f.target
		return
	}
	d.target = d.back
}

func (d *Device) NewFramebuffer(size image.Point) (gfx.Framebuffer, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("framebuffer size %v: %w", size, gfx.ErrUnsupported)
	}
	return &framebuffer{target: render.NewPixmapTarget(size.X, size.Y)}, nil
}

func (d *Device) BindPixmap(p gfx.NativePixmap, size image.Point, depth int) (gfx.Texture, error) {
	if d.source == nil {
		return nil, gfx.ErrUnsupported
	}
	img, ok := d.source.PixmapImage(p)
	if !ok {
		return nil, fmt.Errorf("pixmap %#x not found", uint32(p))
	}
	bounds := image.Rectangle{Min: img.Bounds().Min, Max: img.Bounds().Min.Add(size)}.Intersect(img.Bounds())
	return &Texture{img: img, bounds: bounds, opaque: depth != 32}, nil
}

// CompileProgram understands sampling programs of the form "sample
// <filter>", as produced by gfx.TextureProgram.
func (d *Device) CompileProgram(name, source string) (gfx.Program, error) {
	arg, ok := strings.CutPrefix(source, "sample ")
	if !ok {
		return nil, fmt.Errorf("program %q: %w", name, gfx.ErrUnsupported)
	}
	f, ok := gfx.ParseFilter(arg)
	if !ok || arg == "" {
		return nil, fmt.Errorf("program %q: unknown filter %q", name, arg)
	}
	d.counters.Programs++
	return &program{name: name, interp: interpolator(f)}, nil
}

func (d *Device) Clear(clip region.Region, c color.Color) {
	d.counters.Clears++
	dst := d.target.Image()
	src := image.NewUniform(c)
	for _, r := range clip.Rects() {
		draw.Draw(dst, r, src, image.Point{}, draw.Src)
	}
}

func (d *Device) DrawTexture(t gfx.Texture, dst image.Point, clip region.Region, opts gfx.DrawOptions) {
	tex, ok := t.(*Texture)
	if !ok || tex == nil || tex.img == nil {
		return
	}
	d.counters.Draws++

	target := d.target.Image()
	op := draw.Over
	if opts.Opaque || tex.opaque && (opts.Opacity == 0 || opts.Opacity >= 1) {
		op = draw.Src
	}
	var mask image.Image
	if opts.Opacity > 0 && opts.Opacity < 1 {
		mask = image.NewUniform(color.Alpha{A: uint8(opts.Opacity * 255)})
		op = draw.Over
	}

	scale := opts.Scale
	if scale == 0 {
		scale = 1
	}
	size := tex.bounds.Size()
	dr := image.Rectangle{Min: dst, Max: dst.Add(image.Pt(int(float64(size.X)*scale), int(float64(size.Y)*scale)))}

	interp := interpolator(opts.Filter)
	if p, ok := opts.Program.(*program); ok && p.interp != nil {
		interp = p.interp
	}
	for _, r := range clip.IntersectRect(dr).Rects() {
		sub, ok := target.SubImage(r).(*image.RGBA)
		if !ok || sub.Bounds().Empty() {
			continue
		}
		if scale == 1 {
			sp := tex.bounds.Min.Add(r.Min.Sub(dst))
			draw.DrawMask(sub, r, tex.img, sp, mask, image.Point{}, op)
			continue
		}
		interp.Scale(sub, dr, tex.img, tex.bounds, op, &draw.Options{SrcMask: mask})
	}
}

func interpolator(f gfx.Filter) draw.Interpolator {
	switch f {
	case gfx.FilterFast:
		return draw.NearestNeighbor
	case gfx.FilterBest:
		return draw.CatmullRom
	default:
		return draw.ApproxBiLinear
	}
}

func (d *Device) SwapBuffers() error {
	d.counters.Swaps++
	if d.double {
		draw.Draw(d.front.Image(), d.front.Image().Bounds(), d.back.Image(), image.Point{}, draw.Src)
	}
	return nil
}

func (d *Device) CopySubBuffer(rects []image.Rectangle) error {
	d.counters.SubBufferCopies++
	d.copyRects(rects)
	return nil
}

func (d *Device) CopyPixels(rects []image.Rectangle) error {
	d.counters.PixelCopies++
	d.copyRects(rects)
	return nil
}

func (d *Device) copyRects(rects []image.Rectangle) {
	d.counters.CopiedRects += len(rects)
	if !d.double {
		return
	}
	front, back := d.front.Image(), d.back.Image()
	for _, r := range rects {
		draw.Draw(front, r, back, r.Min, draw.Src)
	}
}

func (d *Device) WaitVideoSync() error {
	d.counters.VSyncWaits++
	return nil
}

func (d *Device) SetSwapInterval(n int) error {
	d.counters.SwapInterval = n
	return nil
}

// Texture samples a region of an RGBA image.
type Texture struct {
	img    *image.RGBA
	bounds image.Rectangle
	opaque bool
}

// NewTexture wraps img as a texture, for callers that already hold pixels.
func NewTexture(img *image.RGBA, opaque bool) *Texture {
	return &Texture{img: img, bounds: img.Bounds(), opaque: opaque}
}

func (t *Texture) Size() image.Point { return t.bounds.Size() }

// Format is the texel format of the texture.
func (t *Texture) Format() gputypes.TextureFormat { return gputypes.TextureFormatRGBA8Unorm }

func (t *Texture) Release() { t.img = nil }

type framebuffer struct {
	target *render.PixmapTarget
}

func (f *framebuffer) Size() image.Point {
	if f.target == nil {
		return image.Point{}
	}
	return image.Pt(f.target.Width(), f.target.Height())
}

func (f *framebuffer) Texture() gfx.Texture {
	if f.target == nil {
		return nil
	}
	return NewTexture(f.target.Image(), true)
}

func (f *framebuffer) Release() { f.target = nil }

type program struct {
	name   string
	interp draw.Interpolator
}

func (p *program) Release() { p.interp = nil }

// Package gfx defines the rendering vocabulary shared by the compositing
// pipeline and its devices.
package gfx

import (
	"errors"
	"image"
	"image/color"

	"github.com/1broseidon/paintd/internal/region"
)

// ErrUnsupported is returned by devices for operations their backend lacks.
var ErrUnsupported = errors.New("operation not supported by device")

// WindowID identifies a top-level window on the display server.
type WindowID uint32

// NativePixmap is a server-side off-screen drawable holding a window's
// current contents.
type NativePixmap uint32

// Output is one logical display region within the virtual desktop.
type Output struct {
	ID   int
	Name string
	Rect image.Rectangle
}

// Size returns the output's pixel dimensions.
func (o Output) Size() image.Point { return o.Rect.Size() }

// Filter selects texture sampling quality.
type Filter uint8

const (
	FilterFast Filter = iota
	FilterGood
	FilterBest
)

func (f Filter) String() string {
	switch f {
	case FilterFast:
		return "fast"
	case FilterGood:
		return "good"
	case FilterBest:
		return "best"
	default:
		return "unknown"
	}
}

// ParseFilter converts a config value into a Filter.
func ParseFilter(s string) (Filter, bool) {
	switch s {
	case "fast":
		return FilterFast, true
	case "good", "":
		return FilterGood, true
	case "best":
		return FilterBest, true
	default:
		return FilterGood, false
	}
}

// Matrix is a column-major 4x4 projection matrix.
type Matrix [16]float32

// Identity returns the identity matrix.
func Identity() Matrix {
	return Matrix{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Ortho returns an orthographic projection mapping the rectangle to clip
// space with y pointing down.
func Ortho(r image.Rectangle) Matrix {
	w, h := float32(r.Dx()), float32(r.Dy())
	if w == 0 || h == 0 {
		return Identity()
	}
	l, t := float32(r.Min.X), float32(r.Min.Y)
	return Matrix{
		2 / w, 0, 0, 0,
		0, -2 / h, 0, 0,
		0, 0, -1, 0,
		-(2*l + w) / w, (2*t + h) / h, 0, 1,
	}
}

// Texture is a sampled image bound from a native pixmap or produced by a
// framebuffer.
type Texture interface {
	Size() image.Point
	Release()
}

// Framebuffer is an off-screen render target.
type Framebuffer interface {
	Size() image.Point
	Texture() Texture
	Release()
}

// Program is a compiled shader-like program held in the ProgramCache.
type Program interface {
	Release()
}

// DrawOptions tune a single texture draw.
type DrawOptions struct {
	// Opacity in [0,1]; zero means fully opaque.
	Opacity float32
	// Scale applied to the texture around Dst; zero means 1.
	Scale float64
	// Opaque lets the device skip blending.
	Opaque  bool
	Filter  Filter
	Program Program
}

// Device is a rendering context: drawing into the current target plus the
// presentation primitives the capability check chooses between.
type Device interface {
	// Extensions lists capability strings, read once at start-up.
	Extensions() []string
	// DoubleBuffered is false when front and back buffer are shared.
	DoubleBuffered() bool
	Size() image.Point

	Viewport() image.Rectangle
	SetViewport(r image.Rectangle)
	Projection() Matrix
	SetProjection(m Matrix)

	// BindTarget directs drawing into fb, or into the back buffer when fb
	// is nil.
	BindTarget(fb Framebuffer)
	NewFramebuffer(size image.Point) (Framebuffer, error)
	BindPixmap(p NativePixmap, size image.Point, depth int) (Texture, error)
	CompileProgram(name, source string) (Program, error)

	Clear(clip region.Region, c color.Color)
	DrawTexture(t Texture, dst image.Point, clip region.Region, opts DrawOptions)

	// SwapBuffers presents the whole back buffer.
	SwapBuffers() error
	// CopySubBuffer pushes only rects from back to front.
	CopySubBuffer(rects []image.Rectangle) error
	// CopyPixels is the explicit pixel copy fallback for rects.
	CopyPixels(rects []image.Rectangle) error
	// WaitVideoSync blocks until the next vertical retrace.
	WaitVideoSync() error
	SetSwapInterval(n int) error
}

// Package pixmap turns a window's native backing pixmap into a bound texture.
//
// A Binder is a small state machine owned by the window it binds:
//
//	Unbound --Bind ok-->   Bound
//	Unbound --Bind fail--> Failed
//	Bound   --Bind-->      Bound   (no native work)
//	Failed  --Bind-->      Failed  (returns false, no retry)
//	Bound|Failed --Release--> Unbound   unless the freeze predicate holds
//	Failed  --AllowFurtherRebindAttempts--> Unbound
//
// Failed is sticky so a window that cannot be bound does not cost a server
// round trip every frame. The owner clears it when the window is remapped.
package pixmap

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/1broseidon/paintd/internal/gfx"
)

var (
	ErrNotViewable   = errors.New("window is not viewable")
	ErrEmptyGeometry = errors.New("window has zero content area")
	ErrNoPixmap      = errors.New("server returned no pixmap")
	ErrNoTexture     = errors.New("device returned no texture")
)

// State is the binding state of a window's pixmap.
type State uint8

const (
	Unbound State = iota
	Bound
	Failed
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Geometry is what the server reports about a window.
type Geometry struct {
	Width    int
	Height   int
	Border   int
	Depth    int
	Viewable bool
}

// Display is the display-server side of binding.
type Display interface {
	// GrabServer takes the exclusive server lock. The returned func
	// releases it and must be called on every path.
	GrabServer() (release func(), err error)
	WindowGeometry(w gfx.WindowID) (Geometry, error)
	// NamePixmap asks the server for a fresh handle to the window's
	// current backing pixmap.
	NamePixmap(w gfx.WindowID) (gfx.NativePixmap, error)
	FreePixmap(p gfx.NativePixmap)
}

// TextureBinder creates textures from native pixmaps. gfx.Device satisfies it.
type TextureBinder interface {
	BindPixmap(p gfx.NativePixmap, size image.Point, depth int) (gfx.Texture, error)
}

// Binder binds one window's pixmap.
type Binder struct {
	window   gfx.WindowID
	display  Display
	textures TextureBinder
	frozen   func() bool
	logger   *slog.Logger

	state   State
	handle  *Handle
	size    image.Point
	lastErr error
}

// Option configures a Binder.
type Option func(*Binder)

// WithFreeze installs a predicate that, while true, keeps Release from
// dropping the current texture. An exit animation uses it to keep painting
// a window whose pixmap the server already discarded.
func WithFreeze(frozen func() bool) Option {
	return func(b *Binder) { b.frozen = frozen }
}

// WithLogger sets the binder's logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Binder) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBinder creates an unbound binder for window w.
func NewBinder(w gfx.WindowID, display Display, textures TextureBinder, opts ...Option) *Binder {
	b := &Binder{
		window:   w,
		display:  display,
		textures: textures,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Binder) State() State { return b.state }

// Size is the bound size including borders; zero unless Bound.
func (b *Binder) Size() image.Point { return b.size }

// Err returns the error that moved the binder to Failed.
func (b *Binder) Err() error { return b.lastErr }

// Texture returns the bound texture, or nil unless Bound.
func (b *Binder) Texture() gfx.Texture {
	if b.state != Bound || b.handle == nil {
		return nil
	}
	return b.handle.texture
}

// Pixmap returns the bound native pixmap, or 0 unless Bound.
func (b *Binder) Pixmap() gfx.NativePixmap {
	if b.state != Bound || b.handle == nil {
		return 0
	}
	return b.handle.pixmap
}

// Bind makes sure the window's pixmap is bound to a texture and reports
// whether it is. Failure is never fatal: the window is skipped.
func (b *Binder) Bind() bool {
	switch b.state {
	case Bound:
		return true
	case Failed:
		return false
	}

	h, size, err := b.bind()
	if err != nil {
		b.state = Failed
		b.lastErr = err
		b.logger.Debug("pixmap bind failed", "window", uint32(b.window), "error", err)
		return false
	}
	b.handle, b.size, b.state, b.lastErr = h, size, Bound, nil
	return true
}

func (b *Binder) bind() (*Handle, image.Point, error) {
	pix, geom, err := b.namePixmap()
	if err != nil {
		return nil, image.Point{}, err
	}

	h := &Handle{display: b.display, pixmap: pix}
	size := image.Pt(2*geom.Border+geom.Width, 2*geom.Border+geom.Height)

	tex, err := b.textures.BindPixmap(pix, size, geom.Depth)
	if err == nil && tex == nil {
		err = ErrNoTexture
	}
	if err != nil {
		h.Close()
		return nil, image.Point{}, fmt.Errorf("bind texture: %w", err)
	}
	h.texture = tex
	return h, size, nil
}

// namePixmap holds the server grab only while reading geometry and naming
// the pixmap, so a concurrent resize or unmap cannot slip in between.
func (b *Binder) namePixmap() (gfx.NativePixmap, Geometry, error) {
	release, err := b.display.GrabServer()
	if err != nil {
		return 0, Geometry{}, fmt.Errorf("grab server: %w", err)
	}
	defer release()

	geom, err := b.display.WindowGeometry(b.window)
	if err != nil {
		return 0, Geometry{}, fmt.Errorf("query geometry: %w", err)
	}
	if !geom.Viewable {
		return 0, geom, ErrNotViewable
	}
	if geom.Width <= 0 || geom.Height <= 0 {
		return 0, geom, ErrEmptyGeometry
	}

	pix, err := b.display.NamePixmap(b.window)
	if err != nil {
		return 0, geom, fmt.Errorf("name window pixmap: %w", err)
	}
	if pix == 0 {
		return 0, geom, ErrNoPixmap
	}
	return pix, geom, nil
}

// Release drops the binding unless the freeze predicate holds.
func (b *Binder) Release() {
	if b.state == Unbound {
		return
	}
	if b.frozen != nil && b.frozen() {
		return
	}
	b.drop()
}

// AllowFurtherRebindAttempts clears a sticky failure.
func (b *Binder) AllowFurtherRebindAttempts() {
	if b.state == Failed {
		b.state = Unbound
		b.lastErr = nil
	}
}

// Close releases everything regardless of freeze; the window is going away.
func (b *Binder) Close() {
	b.drop()
}

func (b *Binder) drop() {
	b.handle.Close()
	b.handle = nil
	b.size = image.Point{}
	b.state = Unbound
	b.lastErr = nil
}

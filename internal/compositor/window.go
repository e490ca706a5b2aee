package compositor

import (
	"image"

	"github.com/1broseidon/paintd/internal/damage"
	"github.com/1broseidon/paintd/internal/gfx"
	"github.com/1broseidon/paintd/internal/pixmap"
	"github.com/1broseidon/paintd/internal/platform"
)

// Window is a managed top-level window.
type Window struct {
	screen *Screen
	info   platform.WindowInfo
	binder *pixmap.Binder

	// damaged is set once the first damage after a map was seen.
	damaged bool
	frozen  bool
	// stale is set when the server replaced the pixmap while frozen.
	stale bool
}

func newWindow(s *Screen, info platform.WindowInfo) *Window {
	w := &Window{screen: s, info: info}
	w.binder = pixmap.NewBinder(info.ID, s.backend, s.dev,
		pixmap.WithFreeze(func() bool { return w.frozen }),
		pixmap.WithLogger(s.logger))
	return w
}

func (w *Window) ID() gfx.WindowID          { return w.info.ID }
func (w *Window) Rect() image.Rectangle     { return w.info.Rect }
func (w *Window) Opaque() bool              { return w.info.Opaque() }
func (w *Window) Mapped() bool              { return w.info.Mapped }
func (w *Window) Info() platform.WindowInfo { return w.info }

// Binding returns the window's pixmap binding state.
func (w *Window) Binding() pixmap.State { return w.binder.State() }

// Visible reports whether the window takes part in painting. A frozen
// window keeps painting its last contents after unmap.
func (w *Window) Visible() bool {
	if w.screen.unredirected == w {
		return false
	}
	return w.info.Mapped || w.frozen && w.binder.State() == pixmap.Bound
}

// Texture binds the window's pixmap on first use. A window that cannot be
// bound returns nil and is skipped for the frame.
func (w *Window) Texture() gfx.Texture {
	if !w.binder.Bind() {
		return nil
	}
	return w.binder.Texture()
}

// SetFrozen keeps the current texture alive across unmap, remap and
// resize while set, so an effect can keep painting the last contents.
// Thawing drops whatever the freeze held back and repaints the window.
func (w *Window) SetFrozen(frozen bool) {
	wasFrozen := w.frozen
	w.frozen = frozen
	if frozen || !wasFrozen {
		return
	}
	if w.info.Mapped && !w.stale {
		return
	}
	s := w.screen
	if w.binder.State() == pixmap.Bound {
		s.damageWindow(w)
	}
	w.stale = false
	w.binder.Release()
	if w.info.Mapped {
		s.damageWindow(w)
	}
	s.sched.Schedule()
}

// releasePixmap drops the binding after the server replaced the window's
// pixmap. While frozen the old texture stays and is marked stale.
func (w *Window) releasePixmap() {
	if w.frozen {
		if w.binder.State() == pixmap.Bound {
			w.stale = true
		}
		return
	}
	w.binder.Release()
}

func (w *Window) drawable() damage.Drawable { return damage.Drawable(w.info.ID) }

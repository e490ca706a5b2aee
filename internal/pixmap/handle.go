package pixmap

import "github.com/1broseidon/paintd/internal/gfx"

// Handle owns a named pixmap and the texture bound from it. Close releases
// both exactly once; it is safe on a nil or already closed handle.
type Handle struct {
	display Display
	pixmap  gfx.NativePixmap
	texture gfx.Texture
	closed  bool
}

// Close releases the texture before the pixmap it was bound from.
func (h *Handle) Close() {
	if h == nil || h.closed {
		return
	}
	h.closed = true
	if h.texture != nil {
		h.texture.Release()
		h.texture = nil
	}
	if h.pixmap != 0 {
		h.display.FreePixmap(h.pixmap)
		h.pixmap = 0
	}
}

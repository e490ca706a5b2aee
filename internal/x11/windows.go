package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
)

// WindowAttributes is what the compositor needs to know about a top-level
// window.
type WindowAttributes struct {
	ID               xproto.Window
	X                int
	Y                int
	Width            int
	Height           int
	Border           int
	Depth            int
	Viewable         bool
	InputOnly        bool
	OverrideRedirect bool
}

// TopLevelWindows returns the root's children in stacking order, bottom
// first.
func (c *Connection) TopLevelWindows() ([]xproto.Window, error) {
	tree, err := xproto.QueryTree(c.Conn(), c.Root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to query window tree: %w", err)
	}
	children := make([]xproto.Window, 0, len(tree.Children))
	for _, w := range tree.Children {
		if w == c.Overlay || w == c.selectionOwner {
			continue
		}
		children = append(children, w)
	}
	return children, nil
}

// GetWindowAttributes reads a window's geometry and map state.
func (c *Connection) GetWindowAttributes(w xproto.Window) (WindowAttributes, error) {
	conn := c.Conn()
	attrCookie := xproto.GetWindowAttributes(conn, w)
	geomCookie := xproto.GetGeometry(conn, xproto.Drawable(w))

	attrs, err := attrCookie.Reply()
	if err != nil {
		return WindowAttributes{}, fmt.Errorf("get window attributes: %w", err)
	}
	geom, err := geomCookie.Reply()
	if err != nil {
		return WindowAttributes{}, fmt.Errorf("get geometry: %w", err)
	}
	return WindowAttributes{
		ID:               w,
		X:                int(geom.X),
		Y:                int(geom.Y),
		Width:            int(geom.Width),
		Height:           int(geom.Height),
		Border:           int(geom.BorderWidth),
		Depth:            int(geom.Depth),
		Viewable:         attrs.MapState == xproto.MapStateViewable,
		InputOnly:        attrs.Class == xproto.WindowClassInputOnly,
		OverrideRedirect: attrs.OverrideRedirect,
	}, nil
}

// GrabServer takes the server grab. The returned func releases it.
func (c *Connection) GrabServer() (func(), error) {
	conn := c.Conn()
	if err := xproto.GrabServerChecked(conn).Check(); err != nil {
		return nil, fmt.Errorf("grab server: %w", err)
	}
	return func() {
		xproto.UngrabServer(conn)
		conn.Sync()
	}, nil
}

// NamePixmap names the window's current backing pixmap.
func (c *Connection) NamePixmap(w xproto.Window) (xproto.Pixmap, error) {
	conn := c.Conn()
	pix, err := xproto.NewPixmapId(conn)
	if err != nil {
		return 0, err
	}
	if err := composite.NameWindowPixmapChecked(conn, w, pix).Check(); err != nil {
		return 0, err
	}
	return pix, nil
}

// FreePixmap releases a named pixmap.
func (c *Connection) FreePixmap(p xproto.Pixmap) {
	xproto.FreePixmap(c.Conn(), p)
}

// IsFullscreen reports whether the window or its client child is in
// _NET_WM_STATE_FULLSCREEN. Reparenting window managers set the state on
// the client, not the frame.
func (c *Connection) IsFullscreen(w xproto.Window) bool {
	if hasState(c, w, "_NET_WM_STATE_FULLSCREEN") {
		return true
	}
	tree, err := xproto.QueryTree(c.Conn(), w).Reply()
	if err != nil {
		return false
	}
	for _, child := range tree.Children {
		if hasState(c, child, "_NET_WM_STATE_FULLSCREEN") {
			return true
		}
	}
	return false
}

func hasState(c *Connection, w xproto.Window, want string) bool {
	states, err := ewmh.WmStateGet(c.XUtil, w)
	if err != nil {
		return false
	}
	for _, state := range states {
		if state == want {
			return true
		}
	}
	return false
}

// ScreenSize returns the root window size.
func (c *Connection) ScreenSize() (int, int, error) {
	geom, err := xproto.GetGeometry(c.Conn(), xproto.Drawable(c.Root)).Reply()
	if err != nil {
		return 0, 0, err
	}
	return int(geom.Width), int(geom.Height), nil
}

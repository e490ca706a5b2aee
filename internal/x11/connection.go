package x11

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	xdamage "github.com/BurntSushi/xgb/damage"
	"github.com/BurntSushi/xgb/randr"
	xrender "github.com/BurntSushi/xgb/render"
	"github.com/BurntSushi/xgb/shape"
	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
)

// ErrCompositorRunning is returned when another compositor owns the
// screen's compositing manager selection.
var ErrCompositorRunning = errors.New("another compositing manager is running")

// Connection manages the X11 connection and core X resources
type Connection struct {
	XUtil *xgbutil.XUtil
	Root  xproto.Window
	// Overlay is the composite overlay window everything is presented on.
	Overlay xproto.Window

	selectionOwner xproto.Window
}

// NewConnection connects to display (empty for $DISPLAY) and initializes
// the extensions compositing needs.
func NewConnection(display string) (*Connection, error) {
	xu, err := xgbutil.NewConnDisplay(display)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		XUtil: xu,
		Root:  xu.RootWin(),
	}
	if err := c.initExtensions(); err != nil {
		xu.Conn().Close()
		return nil, err
	}
	return c, nil
}

// Conn returns the raw xgb connection.
func (c *Connection) Conn() *xgb.Conn { return c.XUtil.Conn() }

func (c *Connection) initExtensions() error {
	conn := c.Conn()

	// Damage is defined in terms of XFixes regions, so XFixes goes first.
	if err := xfixes.Init(conn); err != nil {
		return fmt.Errorf("xfixes extension: %w", err)
	}
	if _, err := xfixes.QueryVersion(conn, 2, 0).Reply(); err != nil {
		return fmt.Errorf("xfixes version: %w", err)
	}
	if err := xdamage.Init(conn); err != nil {
		return fmt.Errorf("damage extension: %w", err)
	}
	if _, err := xdamage.QueryVersion(conn, 1, 1).Reply(); err != nil {
		return fmt.Errorf("damage version: %w", err)
	}
	if err := composite.Init(conn); err != nil {
		return fmt.Errorf("composite extension: %w", err)
	}
	reply, err := composite.QueryVersion(conn, 0, 4).Reply()
	if err != nil {
		return fmt.Errorf("composite version: %w", err)
	}
	if reply.MajorVersion == 0 && reply.MinorVersion < 3 {
		return fmt.Errorf("composite %d.%d has no overlay window", reply.MajorVersion, reply.MinorVersion)
	}
	if err := xrender.Init(conn); err != nil {
		return fmt.Errorf("render extension: %w", err)
	}
	if _, err := xrender.QueryVersion(conn, 0, 11).Reply(); err != nil {
		return fmt.Errorf("render version: %w", err)
	}
	if err := shape.Init(conn); err != nil {
		return fmt.Errorf("shape extension: %w", err)
	}
	if err := randr.Init(conn); err != nil {
		return fmt.Errorf("randr init failed: %w", err)
	}
	return nil
}

// ClaimCompositor takes the _NET_WM_CM_Sn selection so other compositors
// and clients know the screen is composited.
func (c *Connection) ClaimCompositor() error {
	conn := c.Conn()
	name := fmt.Sprintf("_NET_WM_CM_S%d", conn.DefaultScreen)
	atom, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return fmt.Errorf("failed to intern %s: %w", name, err)
	}
	owner, err := xproto.GetSelectionOwner(conn, atom.Atom).Reply()
	if err != nil {
		return fmt.Errorf("query %s owner: %w", name, err)
	}
	if owner.Owner != xproto.WindowNone {
		return ErrCompositorRunning
	}

	win, err := xproto.NewWindowId(conn)
	if err != nil {
		return err
	}
	if err := xproto.CreateWindowChecked(conn, 0, win, c.Root, -1, -1, 1, 1, 0,
		xproto.WindowClassInputOnly, 0, 0, nil).Check(); err != nil {
		return fmt.Errorf("create selection window: %w", err)
	}
	if err := xproto.SetSelectionOwnerChecked(conn, win, atom.Atom, xproto.TimeCurrentTime).Check(); err != nil {
		return fmt.Errorf("own %s: %w", name, err)
	}
	c.selectionOwner = win
	return nil
}

// RedirectSubwindows redirects every top-level window off-screen with
// manual updates, and listens for stacking changes on the root.
func (c *Connection) RedirectSubwindows() error {
	conn := c.Conn()
	mask := uint32(xproto.EventMaskSubstructureNotify | xproto.EventMaskStructureNotify | xproto.EventMaskExposure)
	if err := xproto.ChangeWindowAttributesChecked(conn, c.Root, xproto.CwEventMask, []uint32{mask}).Check(); err != nil {
		return fmt.Errorf("select root events: %w", err)
	}
	if err := composite.RedirectSubwindowsChecked(conn, c.Root, composite.RedirectManual).Check(); err != nil {
		return fmt.Errorf("redirect subwindows: %w", err)
	}
	randr.SelectInput(conn, c.Root, randr.NotifyMaskScreenChange|randr.NotifyMaskCrtcChange)
	return nil
}

// RedirectWindow sends one window's rendering back off-screen.
func (c *Connection) RedirectWindow(w xproto.Window) error {
	return composite.RedirectWindowChecked(c.Conn(), w, composite.RedirectManual).Check()
}

// UnredirectWindow lets one window draw straight to the screen.
func (c *Connection) UnredirectWindow(w xproto.Window) error {
	return composite.UnredirectWindowChecked(c.Conn(), w, composite.RedirectManual).Check()
}

// AcquireOverlay maps the composite overlay window and clears its input
// shape so pointer events fall through to the windows below.
func (c *Connection) AcquireOverlay() (xproto.Window, error) {
	conn := c.Conn()
	reply, err := composite.GetOverlayWindow(conn, c.Root).Reply()
	if err != nil {
		return 0, fmt.Errorf("get overlay window: %w", err)
	}
	c.Overlay = reply.OverlayWin

	region, err := xfixes.NewRegionId(conn)
	if err != nil {
		return 0, err
	}
	if err := xfixes.CreateRegionChecked(conn, region, nil).Check(); err != nil {
		return 0, fmt.Errorf("create empty region: %w", err)
	}
	defer xfixes.DestroyRegion(conn, region)
	if err := xfixes.SetWindowShapeRegionChecked(conn, c.Overlay, shape.SkInput, 0, 0, region).Check(); err != nil {
		return 0, fmt.Errorf("clear overlay input shape: %w", err)
	}
	return c.Overlay, nil
}

// Close gives the screen back to the server and disconnects.
func (c *Connection) Close() {
	conn := c.Conn()
	if c.Overlay != 0 {
		composite.ReleaseOverlayWindow(conn, c.Root)
	}
	composite.UnredirectSubwindows(conn, c.Root, composite.RedirectManual)
	if c.selectionOwner != 0 {
		xproto.DestroyWindow(conn, c.selectionOwner)
	}
	conn.Sync()
	conn.Close()
}

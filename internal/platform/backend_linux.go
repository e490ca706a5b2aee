//go:build linux

package platform

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	xdamage "github.com/BurntSushi/xgb/damage"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/1broseidon/paintd/internal/damage"
	"github.com/1broseidon/paintd/internal/gfx"
	"github.com/1broseidon/paintd/internal/pixmap"
	"github.com/1broseidon/paintd/internal/x11"
)

// LinuxBackend composites an X11 display.
type LinuxBackend struct {
	conn   *x11.Connection
	device *x11.RenderDevice
	logger *slog.Logger

	mu      sync.Mutex
	screen  image.Rectangle
	borders map[xproto.Window]int

	protocolErrors atomic.Uint64

	closeOnce sync.Once
}

var _ Backend = (*LinuxBackend)(nil)

// OpenDisplay connects to display (empty for $DISPLAY) and takes over
// compositing of its default screen.
func OpenDisplay(display string, logger *slog.Logger) (Backend, error) {
	b, err := NewLinuxBackendFromDisplay(display, logger)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// NewLinuxBackendFromDisplay opens a fresh X11 connection, claims the
// compositing manager selection and redirects all top-level windows.
func NewLinuxBackendFromDisplay(display string, logger *slog.Logger) (*LinuxBackend, error) {
	conn, err := x11.NewConnection(display)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X11: %w", err)
	}
	b, err := NewLinuxBackend(conn, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

// NewLinuxBackend sets up compositing on an existing connection.
func NewLinuxBackend(conn *x11.Connection, logger *slog.Logger) (*LinuxBackend, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := conn.ClaimCompositor(); err != nil {
		return nil, err
	}
	if err := conn.RedirectSubwindows(); err != nil {
		return nil, err
	}
	if _, err := conn.AcquireOverlay(); err != nil {
		return nil, err
	}
	device, err := x11.NewRenderDevice(conn)
	if err != nil {
		return nil, err
	}
	w, h, err := conn.ScreenSize()
	if err != nil {
		return nil, err
	}
	return &LinuxBackend{
		conn:    conn,
		device:  device,
		logger:  logger,
		screen:  image.Rect(0, 0, w, h),
		borders: make(map[xproto.Window]int),
	}, nil
}

func (b *LinuxBackend) Device() gfx.Device { return b.device }

func (b *LinuxBackend) Screen() image.Rectangle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.screen
}

// SyncScreen re-reads the root size and resizes the back buffer to match.
func (b *LinuxBackend) SyncScreen() (image.Rectangle, error) {
	w, h, err := b.conn.ScreenSize()
	if err != nil {
		return b.Screen(), err
	}
	screen := image.Rect(0, 0, w, h)
	if screen.Size() != b.device.Size() {
		if err := b.device.Resize(screen.Size()); err != nil {
			return b.Screen(), err
		}
	}
	b.mu.Lock()
	b.screen = screen
	b.mu.Unlock()
	return screen, nil
}

func (b *LinuxBackend) Outputs() ([]gfx.Output, error) {
	monitors, err := b.conn.GetMonitors()
	if err != nil {
		return nil, err
	}
	outputs := make([]gfx.Output, 0, len(monitors))
	for _, m := range monitors {
		outputs = append(outputs, gfx.Output{
			ID:   m.ID,
			Name: m.Name,
			Rect: image.Rect(m.X, m.Y, m.X+m.Width, m.Y+m.Height),
		})
	}
	return outputs, nil
}

func (b *LinuxBackend) RefreshRate() (float64, error) {
	return b.conn.PrimaryRefreshRate()
}

func (b *LinuxBackend) Windows() ([]WindowInfo, error) {
	ids, err := b.conn.TopLevelWindows()
	if err != nil {
		return nil, err
	}
	windows := make([]WindowInfo, 0, len(ids))
	for _, id := range ids {
		info, err := b.window(id)
		if err != nil {
			// Destroyed between the tree query and now.
			continue
		}
		if info.ID == 0 {
			continue
		}
		windows = append(windows, info)
	}
	return windows, nil
}

func (b *LinuxBackend) Window(w gfx.WindowID) (WindowInfo, error) {
	info, err := b.window(xproto.Window(w))
	if err != nil {
		return WindowInfo{}, err
	}
	if info.ID == 0 {
		return WindowInfo{}, fmt.Errorf("window %#x is input-only", uint32(w))
	}
	return info, nil
}

// window returns a zero WindowInfo for input-only windows.
func (b *LinuxBackend) window(id xproto.Window) (WindowInfo, error) {
	attrs, err := b.conn.GetWindowAttributes(id)
	if err != nil {
		return WindowInfo{}, err
	}
	if attrs.InputOnly {
		return WindowInfo{}, nil
	}
	b.mu.Lock()
	b.borders[id] = attrs.Border
	b.mu.Unlock()
	return WindowInfo{
		ID:               gfx.WindowID(id),
		Rect:             outerRect(attrs.X, attrs.Y, attrs.Width, attrs.Height, attrs.Border),
		Border:           attrs.Border,
		Depth:            attrs.Depth,
		Mapped:           attrs.Viewable,
		Fullscreen:       attrs.Viewable && b.conn.IsFullscreen(id),
		OverrideRedirect: attrs.OverrideRedirect,
	}, nil
}

func (b *LinuxBackend) Redirect(w gfx.WindowID) error {
	return b.conn.RedirectWindow(xproto.Window(w))
}

func (b *LinuxBackend) Unredirect(w gfx.WindowID) error {
	return b.conn.UnredirectWindow(xproto.Window(w))
}

// GrabServer implements pixmap.Display.
func (b *LinuxBackend) GrabServer() (func(), error) {
	return b.conn.GrabServer()
}

func (b *LinuxBackend) WindowGeometry(w gfx.WindowID) (pixmap.Geometry, error) {
	attrs, err := b.conn.GetWindowAttributes(xproto.Window(w))
	if err != nil {
		return pixmap.Geometry{}, err
	}
	return pixmap.Geometry{
		Width:    attrs.Width,
		Height:   attrs.Height,
		Border:   attrs.Border,
		Depth:    attrs.Depth,
		Viewable: attrs.Viewable,
	}, nil
}

func (b *LinuxBackend) NamePixmap(w gfx.WindowID) (gfx.NativePixmap, error) {
	p, err := b.conn.NamePixmap(xproto.Window(w))
	if err != nil {
		return 0, err
	}
	return gfx.NativePixmap(p), nil
}

func (b *LinuxBackend) FreePixmap(p gfx.NativePixmap) {
	b.conn.FreePixmap(xproto.Pixmap(p))
}

func (b *LinuxBackend) CreateDamage(d damage.Drawable) (damage.Handle, error) {
	h, err := b.conn.CreateDamage(xproto.Drawable(d))
	if err != nil {
		return 0, err
	}
	return damage.Handle(h), nil
}

func (b *LinuxBackend) SubtractDamage(h damage.Handle) error {
	return b.conn.SubtractDamage(xdamage.Damage(h))
}

func (b *LinuxBackend) DestroyDamage(h damage.Handle) error {
	return b.conn.DestroyDamage(xdamage.Damage(h))
}

// Run reads X events until ctx is done or the connection drops.
func (b *LinuxBackend) Run(ctx context.Context, handle func(Event)) error {
	stop := context.AfterFunc(ctx, func() { b.Close() })
	defer stop()

	conn := b.conn.Conn()
	for {
		ev, xerr := conn.WaitForEvent()
		if ev == nil && xerr == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.New("X connection closed")
		}
		if xerr != nil {
			b.noteProtocolError(xerr)
			continue
		}
		for _, out := range b.translate(ev) {
			handle(out)
		}
	}
}

// noteProtocolError counts an asynchronous X error. Requests on windows
// that vanished are routine, so they only log at debug.
func (b *LinuxBackend) noteProtocolError(err error) {
	n := b.protocolErrors.Add(1)
	b.logger.Debug("X error", "error", err, "total", n)
}

// ProtocolErrors implements Backend.
func (b *LinuxBackend) ProtocolErrors() uint64 { return b.protocolErrors.Load() }

func (b *LinuxBackend) translate(ev any) []Event {
	root := b.conn.Root
	switch e := ev.(type) {
	case xdamage.NotifyEvent:
		b.mu.Lock()
		border := b.borders[xproto.Window(e.Drawable)]
		b.mu.Unlock()
		r := image.Rect(int(e.Area.X), int(e.Area.Y),
			int(e.Area.X)+int(e.Area.Width), int(e.Area.Y)+int(e.Area.Height))
		return []Event{{Kind: EventDamage, Window: gfx.WindowID(e.Drawable), Rect: r.Add(image.Pt(border, border))}}

	case xproto.CreateNotifyEvent:
		if e.Parent != root || e.Window == b.conn.Overlay {
			return nil
		}
		b.setBorder(e.Window, int(e.BorderWidth))
		return []Event{{
			Kind:             EventCreate,
			Window:           gfx.WindowID(e.Window),
			Rect:             outerRect(int(e.X), int(e.Y), int(e.Width), int(e.Height), int(e.BorderWidth)),
			OverrideRedirect: e.OverrideRedirect,
		}}

	case xproto.DestroyNotifyEvent:
		b.forgetBorder(e.Window)
		return []Event{{Kind: EventDestroy, Window: gfx.WindowID(e.Window)}}

	case xproto.MapNotifyEvent:
		if e.Event != root {
			return nil
		}
		return []Event{{Kind: EventMap, Window: gfx.WindowID(e.Window), OverrideRedirect: e.OverrideRedirect}}

	case xproto.UnmapNotifyEvent:
		if e.Event != root {
			return nil
		}
		return []Event{{Kind: EventUnmap, Window: gfx.WindowID(e.Window)}}

	case xproto.ConfigureNotifyEvent:
		if e.Window == root {
			return []Event{{Kind: EventOutputsChanged}}
		}
		if e.Event != root {
			return nil
		}
		b.setBorder(e.Window, int(e.BorderWidth))
		return []Event{{
			Kind:             EventConfigure,
			Window:           gfx.WindowID(e.Window),
			Rect:             outerRect(int(e.X), int(e.Y), int(e.Width), int(e.Height), int(e.BorderWidth)),
			Above:            gfx.WindowID(e.AboveSibling),
			OverrideRedirect: e.OverrideRedirect,
		}}

	case xproto.ReparentNotifyEvent:
		if e.Parent != root {
			// Reparented into a frame: no longer top-level.
			b.forgetBorder(e.Window)
			return []Event{{Kind: EventDestroy, Window: gfx.WindowID(e.Window)}}
		}
		info, err := b.window(e.Window)
		if err != nil || info.ID == 0 {
			return nil
		}
		out := []Event{{Kind: EventCreate, Window: info.ID, Rect: info.Rect, OverrideRedirect: info.OverrideRedirect}}
		if info.Mapped {
			out = append(out, Event{Kind: EventMap, Window: info.ID})
		}
		return out

	case xproto.CirculateNotifyEvent:
		if e.Place == xproto.PlaceOnTop {
			return []Event{{Kind: EventRestack, Window: gfx.WindowID(e.Window), Top: true}}
		}
		return []Event{{Kind: EventRestack, Window: gfx.WindowID(e.Window)}}

	case randr.ScreenChangeNotifyEvent, randr.NotifyEvent:
		return []Event{{Kind: EventOutputsChanged}}

	case xproto.ExposeEvent:
		if e.Window == b.conn.Overlay {
			return []Event{{Kind: EventDamage, Rect: image.Rect(int(e.X), int(e.Y),
				int(e.X)+int(e.Width), int(e.Y)+int(e.Height))}}
		}
	}
	return nil
}

func (b *LinuxBackend) setBorder(w xproto.Window, border int) {
	b.mu.Lock()
	b.borders[w] = border
	b.mu.Unlock()
}

func (b *LinuxBackend) forgetBorder(w xproto.Window) {
	b.mu.Lock()
	delete(b.borders, w)
	b.mu.Unlock()
}

// Close releases the overlay and disconnects. It is safe to call twice.
func (b *LinuxBackend) Close() error {
	b.closeOnce.Do(func() {
		b.device.Close()
		b.conn.Close()
	})
	return nil
}

func outerRect(x, y, w, h, border int) image.Rectangle {
	return image.Rect(x, y, x+w+2*border, y+h+2*border)
}

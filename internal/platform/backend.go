package platform

import (
	"context"
	"fmt"
	"image"

	"github.com/1broseidon/paintd/internal/damage"
	"github.com/1broseidon/paintd/internal/gfx"
	"github.com/1broseidon/paintd/internal/pixmap"
)

// EventKind classifies a display-server event.
type EventKind uint8

const (
	EventDamage EventKind = iota + 1
	EventCreate
	EventDestroy
	EventMap
	EventUnmap
	EventConfigure
	EventRestack
	EventOutputsChanged
)

func (k EventKind) String() string {
	switch k {
	case EventDamage:
		return "damage"
	case EventCreate:
		return "create"
	case EventDestroy:
		return "destroy"
	case EventMap:
		return "map"
	case EventUnmap:
		return "unmap"
	case EventConfigure:
		return "configure"
	case EventRestack:
		return "restack"
	case EventOutputsChanged:
		return "outputs-changed"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is a display-server event translated for the compositor.
type Event struct {
	Kind   EventKind
	Window gfx.WindowID
	// Rect is the damaged area relative to the window's outer origin for
	// EventDamage, and the new outer geometry in screen coordinates for
	// EventCreate and EventConfigure. A damage event with no window is in
	// screen coordinates.
	Rect image.Rectangle
	// Above is the sibling the window now sits directly above, 0 for the
	// bottom of the stack. Set for EventConfigure and EventRestack.
	Above gfx.WindowID
	// Top is set for EventRestack when the window was raised to the top.
	Top              bool
	OverrideRedirect bool
}

// WindowInfo describes a top-level window.
type WindowInfo struct {
	ID gfx.WindowID
	// Rect is the outer geometry including borders, in screen coordinates.
	Rect   image.Rectangle
	Border int
	Depth  int
	Mapped bool
	// Fullscreen is set when the window manager put the window in
	// fullscreen state.
	Fullscreen       bool
	OverrideRedirect bool
}

// Opaque reports whether the window's visual carries no alpha.
func (w WindowInfo) Opaque() bool { return w.Depth != 32 }

// Backend abstracts the display server the compositor runs on.
type Backend interface {
	pixmap.Display
	damage.Server

	// Device is the rendering device presenting to the screen.
	Device() gfx.Device
	Screen() image.Rectangle
	// SyncScreen re-reads the screen size after EventOutputsChanged and
	// resizes the device to match.
	SyncScreen() (image.Rectangle, error)
	Outputs() ([]gfx.Output, error)
	// RefreshRate is the refresh rate of the primary output in Hz.
	RefreshRate() (float64, error)
	// Windows lists top-level windows in stacking order, bottom first.
	Windows() ([]WindowInfo, error)
	Window(w gfx.WindowID) (WindowInfo, error)

	// Redirect sends the window's rendering back off-screen after an
	// Unredirect.
	Redirect(w gfx.WindowID) error
	// Unredirect lets the window draw straight to the screen.
	Unredirect(w gfx.WindowID) error

	// Run reads events until ctx is done or the connection fails, handing
	// each to handle from the reading goroutine.
	Run(ctx context.Context, handle func(Event)) error
	// ProtocolErrors counts errors the server reported for compositor
	// requests. It is safe to call from any goroutine.
	ProtocolErrors() uint64
	Close() error
}

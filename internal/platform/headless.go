package platform

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"slices"
	"sync"

	"github.com/1broseidon/paintd/internal/damage"
	"github.com/1broseidon/paintd/internal/gfx"
	"github.com/1broseidon/paintd/internal/pixmap"
	"github.com/1broseidon/paintd/internal/software"
)

// ErrBadWindow is returned for requests naming a window the server does
// not know.
var ErrBadWindow = errors.New("bad window")

// HeadlessOptions configure a Headless backend.
type HeadlessOptions struct {
	Size        image.Point
	Outputs     []gfx.Output
	RefreshRate float64
	Device      software.Options
}

// HeadlessStats counts the server requests the compositor made.
type HeadlessStats struct {
	Grabs          int
	Ungrabs        int
	NamedPixmaps   int
	FreedPixmaps   int
	DamageCreated  int
	DamageCleared  int
	DamageDestroys int
	Unredirects    int
	// ProtocolErrors counts compositor requests naming a window the
	// server does not know, the headless BadWindow.
	ProtocolErrors int
}

type headlessWindow struct {
	info       WindowInfo
	contents   *image.RGBA
	redirected bool
	damage     damage.Handle
}

// Headless is an in-memory display server. Tests and `paintd daemon
// --headless` drive it through its window methods; it renders with the
// software device.
type Headless struct {
	mu      sync.Mutex
	opts    HeadlessOptions
	screen  image.Rectangle
	outputs []gfx.Output
	stack   []gfx.WindowID
	windows map[gfx.WindowID]*headlessWindow
	pixmaps map[gfx.NativePixmap]*image.RGBA
	damages map[damage.Handle]gfx.WindowID
	nextID  uint32
	grabbed bool
	stats   HeadlessStats

	device *software.Device
	events chan Event
	done   chan struct{}
	closed bool
}

var _ Backend = (*Headless)(nil)

// NewHeadless creates an empty headless server.
func NewHeadless(opts HeadlessOptions) *Headless {
	if opts.Size == (image.Point{}) {
		opts.Size = image.Pt(1024, 768)
	}
	if opts.RefreshRate == 0 {
		opts.RefreshRate = 60
	}
	h := &Headless{
		opts:    opts,
		screen:  image.Rectangle{Max: opts.Size},
		outputs: append([]gfx.Output(nil), opts.Outputs...),
		windows: make(map[gfx.WindowID]*headlessWindow),
		pixmaps: make(map[gfx.NativePixmap]*image.RGBA),
		damages: make(map[damage.Handle]gfx.WindowID),
		nextID:  0x200000,
		events:  make(chan Event, 1024),
		done:    make(chan struct{}),
	}
	if len(h.outputs) == 0 {
		h.outputs = []gfx.Output{{ID: 0, Name: "HEADLESS-1", Rect: h.screen}}
	}
	devOpts := opts.Device
	devOpts.Size = opts.Size
	h.device = software.New(h, devOpts)
	return h
}

func (h *Headless) Device() gfx.Device { return h.device }

// SoftwareDevice returns the device with its pixel buffers.
func (h *Headless) SoftwareDevice() *software.Device { return h.device }

func (h *Headless) Screen() image.Rectangle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.screen
}

func (h *Headless) Outputs() ([]gfx.Output, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]gfx.Output(nil), h.outputs...), nil
}

func (h *Headless) RefreshRate() (float64, error) { return h.opts.RefreshRate, nil }

// SetOutputs replaces the output layout and reports it.
func (h *Headless) SetOutputs(outputs []gfx.Output) {
	h.mu.Lock()
	h.outputs = append([]gfx.Output(nil), outputs...)
	h.mu.Unlock()
	h.emit(Event{Kind: EventOutputsChanged})
}

// SetScreenSize resizes the screen to a single output, as a mode change
// would, and reports it. The device follows on the next SyncScreen.
func (h *Headless) SetScreenSize(size image.Point) {
	h.mu.Lock()
	h.screen = image.Rectangle{Max: size}
	h.outputs = []gfx.Output{{ID: 0, Name: "HEADLESS-1", Rect: h.screen}}
	h.mu.Unlock()
	h.emit(Event{Kind: EventOutputsChanged})
}

func (h *Headless) SyncScreen() (image.Rectangle, error) {
	h.mu.Lock()
	screen := h.screen
	h.mu.Unlock()
	if h.device.Size() != screen.Size() {
		h.device.Resize(screen.Size())
	}
	return screen, nil
}

func (h *Headless) Stats() HeadlessStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// CreateWindow creates an unmapped window with outer geometry rect filled
// with fill. depth 32 gives it an alpha channel.
func (h *Headless) CreateWindow(rect image.Rectangle, border, depth int, fill color.Color) gfx.WindowID {
	h.mu.Lock()
	h.nextID++
	id := gfx.WindowID(h.nextID)
	w := &headlessWindow{
		info:       WindowInfo{ID: id, Rect: rect, Border: border, Depth: depth},
		contents:   image.NewRGBA(image.Rectangle{Max: rect.Size()}),
		redirected: true,
	}
	draw.Draw(w.contents, w.contents.Bounds(), image.NewUniform(fill), image.Point{}, draw.Src)
	h.windows[id] = w
	h.stack = append(h.stack, id)
	h.mu.Unlock()

	h.emit(Event{Kind: EventCreate, Window: id, Rect: rect})
	return id
}

// MapWindow maps the window and damages all of it.
func (h *Headless) MapWindow(id gfx.WindowID) error {
	h.mu.Lock()
	w, ok := h.windows[id]
	if !ok {
		h.mu.Unlock()
		return ErrBadWindow
	}
	w.info.Mapped = true
	size := w.info.Rect.Size()
	h.mu.Unlock()

	h.emit(Event{Kind: EventMap, Window: id})
	h.emit(Event{Kind: EventDamage, Window: id, Rect: image.Rectangle{Max: size}})
	return nil
}

func (h *Headless) UnmapWindow(id gfx.WindowID) error {
	h.mu.Lock()
	w, ok := h.windows[id]
	if !ok {
		h.mu.Unlock()
		return ErrBadWindow
	}
	w.info.Mapped = false
	h.mu.Unlock()

	h.emit(Event{Kind: EventUnmap, Window: id})
	return nil
}

func (h *Headless) DestroyWindow(id gfx.WindowID) error {
	h.mu.Lock()
	if _, ok := h.windows[id]; !ok {
		h.mu.Unlock()
		return ErrBadWindow
	}
	delete(h.windows, id)
	h.stack = slices.DeleteFunc(h.stack, func(s gfx.WindowID) bool { return s == id })
	h.mu.Unlock()

	h.emit(Event{Kind: EventDestroy, Window: id})
	return nil
}

// ConfigureWindow moves or resizes a window. A resize gives it a new
// backing image, so previously named pixmaps keep the old contents.
func (h *Headless) ConfigureWindow(id gfx.WindowID, rect image.Rectangle, fill color.Color) error {
	h.mu.Lock()
	w, ok := h.windows[id]
	if !ok {
		h.mu.Unlock()
		return ErrBadWindow
	}
	if rect.Size() != w.info.Rect.Size() {
		w.contents = image.NewRGBA(image.Rectangle{Max: rect.Size()})
		draw.Draw(w.contents, w.contents.Bounds(), image.NewUniform(fill), image.Point{}, draw.Src)
	}
	w.info.Rect = rect
	above := h.below(id)
	h.mu.Unlock()

	h.emit(Event{Kind: EventConfigure, Window: id, Rect: rect, Above: above})
	return nil
}

// below returns the window directly under id, 0 at the bottom.
func (h *Headless) below(id gfx.WindowID) gfx.WindowID {
	i := slices.Index(h.stack, id)
	if i <= 0 {
		return 0
	}
	return h.stack[i-1]
}

// RaiseWindow moves the window to the top of the stack.
func (h *Headless) RaiseWindow(id gfx.WindowID) error {
	h.mu.Lock()
	if _, ok := h.windows[id]; !ok {
		h.mu.Unlock()
		return ErrBadWindow
	}
	h.stack = slices.DeleteFunc(h.stack, func(s gfx.WindowID) bool { return s == id })
	above := gfx.WindowID(0)
	if n := len(h.stack); n > 0 {
		above = h.stack[n-1]
	}
	h.stack = append(h.stack, id)
	h.mu.Unlock()

	h.emit(Event{Kind: EventRestack, Window: id, Above: above, Top: true})
	return nil
}

// SetFullscreen flags the window as fullscreen, as a window manager would.
func (h *Headless) SetFullscreen(id gfx.WindowID, fullscreen bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.windows[id]
	if !ok {
		return ErrBadWindow
	}
	w.info.Fullscreen = fullscreen
	return nil
}

// Fill paints rect (window coordinates) and reports the damage.
func (h *Headless) Fill(id gfx.WindowID, rect image.Rectangle, c color.Color) error {
	h.mu.Lock()
	w, ok := h.windows[id]
	if !ok {
		h.mu.Unlock()
		return ErrBadWindow
	}
	rect = rect.Intersect(w.contents.Bounds())
	draw.Draw(w.contents, rect, image.NewUniform(c), image.Point{}, draw.Src)
	h.mu.Unlock()

	if !rect.Empty() {
		h.emit(Event{Kind: EventDamage, Window: id, Rect: rect})
	}
	return nil
}

// Redirected reports whether the window currently renders off-screen.
func (h *Headless) Redirected(id gfx.WindowID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.windows[id]
	return ok && w.redirected
}

func (h *Headless) emit(ev Event) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

func (h *Headless) Run(ctx context.Context, handle func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.done:
			return nil
		case ev := <-h.events:
			handle(ev)
		}
	}
}

// Drain hands every queued event to handle without blocking.
func (h *Headless) Drain(handle func(Event)) int {
	n := 0
	for {
		select {
		case ev := <-h.events:
			handle(ev)
			n++
		default:
			return n
		}
	}
}

func (h *Headless) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	close(h.done)
	return nil
}

func (h *Headless) Windows() ([]WindowInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]WindowInfo, 0, len(h.stack))
	for _, id := range h.stack {
		out = append(out, h.windows[id].info)
	}
	return out, nil
}

func (h *Headless) Window(id gfx.WindowID) (WindowInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, err := h.lookup(id)
	if err != nil {
		return WindowInfo{}, err
	}
	return w.info, nil
}

// lookup resolves a window named in a compositor request. h.mu is held.
func (h *Headless) lookup(id gfx.WindowID) (*headlessWindow, error) {
	w, ok := h.windows[id]
	if !ok {
		h.stats.ProtocolErrors++
		return nil, ErrBadWindow
	}
	return w, nil
}

// ProtocolErrors implements Backend.
func (h *Headless) ProtocolErrors() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return uint64(h.stats.ProtocolErrors)
}

func (h *Headless) Redirect(id gfx.WindowID) error   { return h.setRedirected(id, true) }
func (h *Headless) Unredirect(id gfx.WindowID) error { return h.setRedirected(id, false) }

func (h *Headless) setRedirected(id gfx.WindowID, on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, err := h.lookup(id)
	if err != nil {
		return err
	}
	if !on {
		h.stats.Unredirects++
	}
	w.redirected = on
	return nil
}

// GrabServer implements pixmap.Display.
func (h *Headless) GrabServer() (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.grabbed {
		return nil, errors.New("server already grabbed")
	}
	h.grabbed = true
	h.stats.Grabs++
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.grabbed = false
		h.stats.Ungrabs++
	}, nil
}

func (h *Headless) WindowGeometry(id gfx.WindowID) (pixmap.Geometry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, err := h.lookup(id)
	if err != nil {
		return pixmap.Geometry{}, err
	}
	b := w.info.Border
	size := w.info.Rect.Size()
	return pixmap.Geometry{
		Width:    size.X - 2*b,
		Height:   size.Y - 2*b,
		Border:   b,
		Depth:    w.info.Depth,
		Viewable: w.info.Mapped,
	}, nil
}

func (h *Headless) NamePixmap(id gfx.WindowID) (gfx.NativePixmap, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, err := h.lookup(id)
	if err != nil {
		return 0, err
	}
	if !w.redirected {
		return 0, fmt.Errorf("window %#x is not redirected", uint32(id))
	}
	h.nextID++
	p := gfx.NativePixmap(h.nextID)
	h.pixmaps[p] = w.contents
	h.stats.NamedPixmaps++
	return p, nil
}

func (h *Headless) FreePixmap(p gfx.NativePixmap) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.pixmaps[p]; ok {
		delete(h.pixmaps, p)
		h.stats.FreedPixmaps++
	}
}

// PixmapImage implements software.PixmapSource.
func (h *Headless) PixmapImage(p gfx.NativePixmap) (*image.RGBA, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	img, ok := h.pixmaps[p]
	return img, ok
}

// LivePixmaps is the number of named pixmaps not yet freed.
func (h *Headless) LivePixmaps() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pixmaps)
}

func (h *Headless) CreateDamage(d damage.Drawable) (damage.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, err := h.lookup(gfx.WindowID(d))
	if err != nil {
		return 0, err
	}
	h.nextID++
	handle := damage.Handle(h.nextID)
	h.damages[handle] = gfx.WindowID(d)
	w.damage = handle
	h.stats.DamageCreated++
	return handle, nil
}

func (h *Headless) SubtractDamage(handle damage.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.damages[handle]; !ok {
		return fmt.Errorf("bad damage %#x", uint32(handle))
	}
	h.stats.DamageCleared++
	return nil
}

func (h *Headless) DestroyDamage(handle damage.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.damages[handle]; !ok {
		return fmt.Errorf("bad damage %#x", uint32(handle))
	}
	delete(h.damages, handle)
	h.stats.DamageDestroys++
	return nil
}

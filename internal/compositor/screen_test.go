package compositor

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/paintd/internal/damage"
	"github.com/1broseidon/paintd/internal/gfx"
	"github.com/1broseidon/paintd/internal/paint"
	"github.com/1broseidon/paintd/internal/pixmap"
	"github.com/1broseidon/paintd/internal/platform"
	"github.com/1broseidon/paintd/internal/present"
	"github.com/1broseidon/paintd/internal/schedule"
	"github.com/1broseidon/paintd/internal/software"
)

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	black = color.RGBA{A: 255}
)

type manualTimer struct {
	fn    func()
	armed bool
}

func (t *manualTimer) Arm(_ time.Duration, fn func()) {
	t.fn = fn
	t.armed = true
}

func (t *manualTimer) Stop() { t.armed = false }

type harness struct {
	t      *testing.T
	server *platform.Headless
	timer  *manualTimer
	screen *Screen
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	server := platform.NewHeadless(platform.HeadlessOptions{Size: image.Pt(200, 100)})
	timer := &manualTimer{}
	screen, err := NewScreen(server, timer, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		screen.Close()
		server.Close()
	})
	h := &harness{t: t, server: server, timer: timer, screen: screen}
	h.frame()
	return h
}

// pump delivers queued server events to the screen.
func (h *harness) pump() {
	h.server.Drain(h.screen.HandleEvent)
}

// frame delivers events and runs the armed frame, if any. It reports
// whether a frame ran.
func (h *harness) frame() bool {
	h.pump()
	if !h.timer.armed {
		return false
	}
	h.timer.armed = false
	h.timer.fn()
	return true
}

func (h *harness) pixel(x, y int) color.RGBA {
	return h.server.SoftwareDevice().Front().RGBAAt(x, y)
}

func (h *harness) counters() softwareCounters {
	c := h.server.SoftwareDevice().Counters()
	return softwareCounters{swaps: c.Swaps, subBuffer: c.SubBufferCopies, pixels: c.PixelCopies}
}

type softwareCounters struct {
	swaps, subBuffer, pixels int
}

func (h *harness) mapWindow(rect image.Rectangle, depth int, fill color.Color) gfx.WindowID {
	id := h.server.CreateWindow(rect, 0, depth, fill)
	require.NoError(h.t, h.server.MapWindow(id))
	return id
}

func TestFirstFrameSwapsWholeScreen(t *testing.T) {
	h := newHarness(t, Options{})

	assert.Equal(t, uint64(1), h.screen.Scheduler().Frames())
	assert.Equal(t, 1, h.counters().swaps)
	assert.Equal(t, "full-damage", h.screen.LastPlan().Reason)
	assert.Equal(t, black, h.pixel(0, 0))
	assert.False(t, h.timer.armed, "no damage left, nothing scheduled")
}

func TestVSyncWithoutRetraceWaitKeepsFrameInterval(t *testing.T) {
	h := newHarness(t, Options{SyncToVBlank: true})

	assert.False(t, h.screen.Status().VSync, "device cannot pace to the retrace")
	sched := h.screen.Scheduler()
	last := sched.State().LastPaint
	optimal := sched.State().OptimalInterval
	require.Greater(t, optimal, schedule.MinTick)

	assert.Equal(t, optimal, sched.Delay(last))
	assert.Equal(t, optimal-5*time.Millisecond, sched.Delay(last.Add(5*time.Millisecond)))
	assert.Equal(t, schedule.MinTick, sched.Delay(last.Add(time.Second)))
	assert.Zero(t, h.server.SoftwareDevice().Counters().SwapInterval)
}

func TestVSyncWithRetraceWaitUsesMinimalTick(t *testing.T) {
	server := platform.NewHeadless(platform.HeadlessOptions{
		Size: image.Pt(200, 100),
		Device: software.Options{
			Extensions: []string{gfx.ExtCopySubBuffer, gfx.ExtVideoSync},
		},
	})
	timer := &manualTimer{}
	screen, err := NewScreen(server, timer, Options{SyncToVBlank: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		screen.Close()
		server.Close()
	})
	require.True(t, timer.armed)
	timer.armed = false
	timer.fn()

	assert.True(t, screen.Status().VSync)
	assert.Equal(t, schedule.MinTick, screen.Scheduler().Delay(screen.Scheduler().State().LastPaint))
	assert.Equal(t, 1, server.SoftwareDevice().Counters().VSyncWaits)
}

func TestMappedWindowIsPainted(t *testing.T) {
	h := newHarness(t, Options{})

	id := h.mapWindow(image.Rect(10, 10, 50, 50), 24, red)
	require.True(t, h.frame())

	assert.Equal(t, red, h.pixel(20, 20))
	assert.Equal(t, black, h.pixel(5, 5))

	w, ok := h.screen.Window(id)
	require.True(t, ok)
	assert.Equal(t, pixmap.Bound, w.Binding())
	assert.Equal(t, 1, h.server.Stats().NamedPixmaps)
	assert.GreaterOrEqual(t, h.server.Stats().DamageCleared, 1, "server damage cleared after the frame")

	h.screen.DamageScreen()
	require.True(t, h.frame())
	assert.Equal(t, 1, h.server.SoftwareDevice().Counters().Programs, "sampling program compiled once")
}

func TestSmallDamageUsesPartialBlit(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.mapWindow(image.Rect(10, 10, 50, 50), 24, red)
	h.frame()
	before := h.counters()

	require.NoError(t, h.server.Fill(id, image.Rect(0, 0, 5, 5), green))
	require.True(t, h.frame())

	plan := h.screen.LastPlan()
	assert.Equal(t, present.PartialBlit, plan.Path)
	assert.Equal(t, before.subBuffer+1, h.counters().subBuffer)
	assert.Equal(t, before.swaps, h.counters().swaps)
	assert.Equal(t, green, h.pixel(12, 12))
	assert.Equal(t, red, h.pixel(20, 20))
}

func TestPersistentBackBufferAvoidsPartialBlit(t *testing.T) {
	h := newHarness(t, Options{PersistentBackBuffer: true})
	id := h.mapWindow(image.Rect(10, 10, 50, 50), 24, red)
	h.frame()
	before := h.counters()

	require.NoError(t, h.server.Fill(id, image.Rect(0, 0, 5, 5), green))
	require.True(t, h.frame())

	assert.Equal(t, present.FallbackBlit, h.screen.LastPlan().Path)
	assert.Equal(t, present.FallbackBlit, h.screen.Status().Method)
	assert.Equal(t, before.subBuffer, h.counters().subBuffer)
	assert.Equal(t, before.pixels+1, h.counters().pixels)
	assert.Equal(t, green, h.pixel(12, 12))

	h.screen.SetOptions(Options{})
	h.frame()
	assert.Equal(t, present.PartialBlit, h.screen.Status().Method, "reload lifts the requirement")
}

func TestLargeDamageSwapsWholeBuffer(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.mapWindow(image.Rect(0, 0, 180, 90), 24, red)
	h.frame()
	before := h.counters()

	require.NoError(t, h.server.Fill(id, image.Rect(0, 0, 180, 90), green))
	require.True(t, h.frame())

	assert.Equal(t, "large-damage", h.screen.LastPlan().Reason)
	assert.Equal(t, before.swaps+1, h.counters().swaps)
	assert.Equal(t, green, h.pixel(100, 50))
}

func TestManyRectanglesEscalateToFullDamage(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.mapWindow(image.Rect(0, 0, 200, 100), 32, red)
	h.frame()

	for i := 0; i <= damage.MaxRects; i++ {
		x := (i % 50) * 4
		y := (i / 50) * 4
		require.NoError(t, h.server.Fill(id, image.Rect(x, y, x+1, y+1), green))
	}
	h.pump()
	assert.True(t, h.screen.Damage().Mask().Has(damage.MaskFull))

	require.True(t, h.frame())
	assert.Equal(t, "full-damage", h.screen.LastPlan().Reason)
}

func TestUnmapRepaintsBackground(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.mapWindow(image.Rect(10, 10, 50, 50), 24, red)
	h.frame()

	require.NoError(t, h.server.UnmapWindow(id))
	require.True(t, h.frame())

	assert.Equal(t, black, h.pixel(20, 20))
	w, _ := h.screen.Window(id)
	assert.Equal(t, pixmap.Unbound, w.Binding())
	assert.Zero(t, h.server.LivePixmaps())
}

func TestResizeRebindsPixmap(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.mapWindow(image.Rect(10, 10, 50, 50), 24, red)
	h.frame()

	require.NoError(t, h.server.ConfigureWindow(id, image.Rect(10, 10, 90, 60), green))
	require.True(t, h.frame())

	assert.Equal(t, green, h.pixel(80, 55))
	assert.Equal(t, 2, h.server.Stats().NamedPixmaps)
	assert.Equal(t, 1, h.server.Stats().FreedPixmaps)
}

func TestMoveDamagesOldAndNewPosition(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.mapWindow(image.Rect(0, 0, 20, 20), 24, red)
	h.frame()

	require.NoError(t, h.server.ConfigureWindow(id, image.Rect(100, 50, 120, 70), red))
	h.pump()
	pending := h.screen.Damage().Pending()
	assert.True(t, pending.Covers(image.Rect(0, 0, 20, 20)))
	assert.True(t, pending.Covers(image.Rect(100, 50, 120, 70)))

	require.True(t, h.frame())
	assert.Equal(t, black, h.pixel(5, 5))
	assert.Equal(t, red, h.pixel(105, 55))
	assert.Equal(t, 1, h.server.Stats().NamedPixmaps, "a move keeps the binding")
}

func TestRaiseChangesPaintOrder(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.mapWindow(image.Rect(0, 0, 40, 40), 24, red)
	h.mapWindow(image.Rect(20, 20, 60, 60), 24, green)
	h.frame()
	assert.Equal(t, green, h.pixel(30, 30))

	require.NoError(t, h.server.RaiseWindow(a))
	require.True(t, h.frame())
	assert.Equal(t, red, h.pixel(30, 30))

	stack := h.screen.Stack()
	assert.Equal(t, a, stack[len(stack)-1].ID())
}

func TestDestroyReleasesEverything(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.mapWindow(image.Rect(10, 10, 50, 50), 24, red)
	h.frame()

	require.NoError(t, h.server.DestroyWindow(id))
	require.True(t, h.frame())

	_, ok := h.screen.Window(id)
	assert.False(t, ok)
	assert.Zero(t, h.server.LivePixmaps())
	assert.Equal(t, 1, h.server.Stats().DamageDestroys)
	assert.Equal(t, black, h.pixel(20, 20))
}

func TestUnbindableWindowIsSkippedUntilRemap(t *testing.T) {
	h := newHarness(t, Options{})
	// All border: zero content area.
	id := h.server.CreateWindow(image.Rect(10, 10, 20, 20), 5, 24, red)
	require.NoError(t, h.server.MapWindow(id))
	require.True(t, h.frame())

	w, _ := h.screen.Window(id)
	assert.Equal(t, pixmap.Failed, w.Binding())
	assert.Equal(t, 1, h.screen.Status().Failed)
	grabs := h.server.Stats().Grabs

	h.screen.DamageScreen()
	h.frame()
	assert.Equal(t, grabs, h.server.Stats().Grabs, "failed binding is not retried")

	require.NoError(t, h.server.UnmapWindow(id))
	require.NoError(t, h.server.MapWindow(id))
	h.pump()
	assert.Equal(t, pixmap.Unbound, w.Binding(), "remap allows another attempt")
}

func TestFrozenWindowPaintsAfterUnmapUntilThawed(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.mapWindow(image.Rect(10, 10, 50, 50), 24, red)
	require.True(t, h.frame())
	w, _ := h.screen.Window(id)

	w.SetFrozen(true)
	require.NoError(t, h.server.UnmapWindow(id))
	require.True(t, h.frame())
	assert.Equal(t, red, h.pixel(20, 20), "frozen window keeps its last contents")
	assert.Equal(t, pixmap.Bound, w.Binding())
	assert.True(t, w.Visible())

	w.SetFrozen(false)
	require.True(t, h.frame(), "thawing schedules a repaint")
	assert.Equal(t, black, h.pixel(20, 20))
	assert.Equal(t, pixmap.Unbound, w.Binding())
	assert.False(t, w.Visible())
	assert.Zero(t, h.server.LivePixmaps())
}

func TestThawingMappedWindowIsQuiet(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.mapWindow(image.Rect(10, 10, 50, 50), 24, red)
	require.True(t, h.frame())
	w, _ := h.screen.Window(id)

	w.SetFrozen(true)
	w.SetFrozen(false)
	assert.False(t, h.frame())
	assert.Equal(t, pixmap.Bound, w.Binding())
	assert.Equal(t, 1, h.server.Stats().NamedPixmaps)
}

func TestRemapNamesNewPixmap(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.mapWindow(image.Rect(10, 10, 50, 50), 24, red)
	require.True(t, h.frame())
	w, _ := h.screen.Window(id)

	w.SetFrozen(true)
	require.NoError(t, h.server.UnmapWindow(id))
	h.frame()
	require.NoError(t, h.server.MapWindow(id))
	h.frame()
	assert.Equal(t, 1, h.server.Stats().NamedPixmaps, "frozen window keeps the old pixmap")
	assert.Equal(t, pixmap.Bound, w.Binding())

	w.SetFrozen(false)
	require.True(t, h.frame())
	assert.Equal(t, 2, h.server.Stats().NamedPixmaps)
	assert.Equal(t, pixmap.Bound, w.Binding())
	assert.Equal(t, 1, h.server.LivePixmaps())
	assert.Equal(t, red, h.pixel(20, 20))
}

func TestFrozenResizeRebindsOnThaw(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.mapWindow(image.Rect(10, 10, 50, 50), 24, red)
	require.True(t, h.frame())
	w, _ := h.screen.Window(id)

	w.SetFrozen(true)
	require.NoError(t, h.server.ConfigureWindow(id, image.Rect(10, 10, 80, 60), green))
	h.frame()
	assert.Equal(t, 1, h.server.Stats().NamedPixmaps)

	w.SetFrozen(false)
	require.True(t, h.frame())
	assert.Equal(t, 2, h.server.Stats().NamedPixmaps)
	assert.Equal(t, green, h.pixel(70, 55))
}

func TestFullscreenWindowIsUnredirected(t *testing.T) {
	h := newHarness(t, Options{UnredirectFullscreen: true})
	id := h.mapWindow(image.Rect(0, 0, 200, 100), 24, red)
	h.frame()

	assert.False(t, h.server.Redirected(id))
	assert.Equal(t, id, h.screen.Status().Unredirected)
	assert.Zero(t, h.server.LivePixmaps(), "unredirected window is not bound")

	require.NoError(t, h.server.UnmapWindow(id))
	h.frame()
	assert.True(t, h.server.Redirected(id))
	assert.Zero(t, h.screen.Status().Unredirected)
}

func TestTranslucentFullscreenWindowStaysRedirected(t *testing.T) {
	h := newHarness(t, Options{UnredirectFullscreen: true})
	id := h.mapWindow(image.Rect(0, 0, 200, 100), 32, red)
	h.frame()

	assert.True(t, h.server.Redirected(id))
	assert.Zero(t, h.screen.Status().Unredirected)
}

func TestScreenResizeFollowsServer(t *testing.T) {
	h := newHarness(t, Options{})

	h.server.SetScreenSize(image.Pt(320, 240))
	require.True(t, h.frame())

	assert.Equal(t, image.Rect(0, 0, 320, 240), h.screen.Status().Screen)
	assert.Equal(t, image.Pt(320, 240), h.server.SoftwareDevice().Front().Bounds().Size())
	assert.Equal(t, "full-damage", h.screen.LastPlan().Reason)
}

func TestEqualOutputsCollapse(t *testing.T) {
	h := newHarness(t, Options{})
	h.server.SetOutputs([]gfx.Output{
		{ID: 0, Name: "A", Rect: image.Rect(0, 0, 100, 100)},
		{ID: 1, Name: "B", Rect: image.Rect(100, 0, 200, 100)},
	})
	h.frame()

	targets := h.screen.PaintTargets()
	require.Len(t, targets, 1)
	assert.Equal(t, -1, targets[0].ID)

	h.screen.SetOptions(Options{IndependentOutputs: true})
	assert.Len(t, h.screen.PaintTargets(), 2)
}

type pulse struct {
	screen *Screen
	left   int
	done   int
}

func (p *pulse) Name() string { return "pulse" }

func (p *pulse) DonePaint(next paint.DoneFunc) {
	p.done++
	if p.left > 0 {
		p.left--
		p.screen.Damage().DamagePending()
	}
	next()
}

func TestDonePaintCanRequestAnotherFrame(t *testing.T) {
	h := newHarness(t, Options{})
	p := &pulse{screen: h.screen, left: 2}
	h.screen.Chain().Load(p)

	h.screen.DamageScreen()
	assert.True(t, h.frame())
	assert.True(t, h.frame())
	assert.True(t, h.frame())
	assert.False(t, h.frame())
	assert.Equal(t, 3, p.done)
}

type damageFilter struct{ claimed int }

func (d *damageFilter) Name() string { return "filter" }

func (d *damageFilter) DamageWindowRect(w paint.Window, initial bool, rect image.Rectangle, next paint.DamageRectFunc) bool {
	if !initial {
		d.claimed++
		return true
	}
	return next(w, initial, rect)
}

func TestPluginCanClaimWindowDamage(t *testing.T) {
	h := newHarness(t, Options{})
	f := &damageFilter{}
	h.screen.Chain().Load(f)
	id := h.mapWindow(image.Rect(10, 10, 50, 50), 24, red)
	h.frame()

	require.NoError(t, h.server.Fill(id, image.Rect(0, 0, 5, 5), green))
	assert.False(t, h.frame(), "claimed damage schedules nothing")
	assert.Equal(t, 1, f.claimed)
}

func TestReconcileDropsAndAdopts(t *testing.T) {
	h := newHarness(t, Options{})
	gone := h.mapWindow(image.Rect(0, 0, 10, 10), 24, red)
	h.frame()

	// Events lost: the screen never hears about these.
	require.NoError(t, h.server.DestroyWindow(gone))
	fresh := h.server.CreateWindow(image.Rect(20, 20, 40, 40), 0, 24, green)
	require.NoError(t, h.server.MapWindow(fresh))
	h.server.Drain(func(platform.Event) {})

	listed, err := h.server.Windows()
	require.NoError(t, err)
	dropped, adopted := h.screen.Reconcile(listed)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, adopted)

	require.True(t, h.frame())
	assert.Equal(t, green, h.pixel(30, 30))
	_, ok := h.screen.Window(gone)
	assert.False(t, ok)
}

func TestSetOptionsRepaints(t *testing.T) {
	h := newHarness(t, Options{})

	h.screen.SetOptions(Options{TextureFilter: gfx.FilterBest, RefreshRate: 120})
	assert.True(t, h.timer.armed)
	assert.Equal(t, gfx.FilterBest, h.screen.Status().TextureFilter)
	assert.Equal(t, 120.0, h.screen.Status().RefreshRate)
	assert.Equal(t, time.Second/120, h.screen.Scheduler().State().OptimalInterval)
}

func TestCloseReleasesBindings(t *testing.T) {
	server := platform.NewHeadless(platform.HeadlessOptions{Size: image.Pt(50, 50)})
	defer server.Close()
	timer := &manualTimer{}
	s, err := NewScreen(server, timer, Options{})
	require.NoError(t, err)

	id := server.CreateWindow(image.Rect(0, 0, 10, 10), 0, 24, red)
	require.NoError(t, server.MapWindow(id))
	server.Drain(s.HandleEvent)
	timer.fn()
	require.Equal(t, 1, server.LivePixmaps())

	s.Close()
	assert.Zero(t, server.LivePixmaps())
	assert.Equal(t, 1, server.Stats().DamageDestroys)
	assert.False(t, timer.armed)
}

package compositor

import (
	"slices"

	"github.com/1broseidon/paintd/internal/damage"
	"github.com/1broseidon/paintd/internal/gfx"
	"github.com/1broseidon/paintd/internal/platform"
)

// HandleEvent applies one display-server event and schedules a frame when
// it left damage behind.
func (s *Screen) HandleEvent(ev platform.Event) {
	switch ev.Kind {
	case platform.EventDamage:
		s.handleDamage(ev)
	case platform.EventCreate:
		s.handleCreate(ev)
	case platform.EventDestroy:
		s.handleDestroy(ev)
	case platform.EventMap:
		s.handleMap(ev)
	case platform.EventUnmap:
		s.handleUnmap(ev)
	case platform.EventConfigure:
		s.handleConfigure(ev)
	case platform.EventRestack:
		s.handleRestack(ev)
	case platform.EventOutputsChanged:
		s.handleOutputsChanged()
	default:
		s.logger.Debug("ignoring event", "kind", ev.Kind.String())
	}

	if s.damage.Mask() != damage.MaskNone {
		s.sched.Schedule()
	}
}

func (s *Screen) handleDamage(ev platform.Event) {
	if ev.Window == 0 {
		s.damage.AddRect(ev.Rect.Intersect(s.damage.Screen()))
		return
	}
	w, ok := s.windows[ev.Window]
	if !ok {
		return
	}
	if _, err := s.tracker.Notify(w.drawable(), ev.Rect); err != nil {
		s.logger.Debug("damage record unavailable", "window", uint32(ev.Window), "error", err)
	}
	if !w.Visible() {
		return
	}
	initial := !w.damaged
	w.damaged = true
	if s.chain.DamageWindowRect(w, initial, ev.Rect) {
		return
	}
	// ev.Rect is relative to the window's outer origin.
	wr := w.Rect()
	s.damage.AddRect(ev.Rect.Add(wr.Min).Intersect(wr).Intersect(s.damage.Screen()))
}

func (s *Screen) handleCreate(ev platform.Event) {
	if _, ok := s.windows[ev.Window]; ok {
		return
	}
	info := platform.WindowInfo{ID: ev.Window, Rect: ev.Rect, OverrideRedirect: ev.OverrideRedirect}
	if full, err := s.backend.Window(ev.Window); err == nil {
		info = full
	}
	s.addWindow(info)
}

// addWindow puts a window on top of the stack and starts damage tracking.
func (s *Screen) addWindow(info platform.WindowInfo) *Window {
	w := newWindow(s, info)
	s.windows[info.ID] = w
	s.stack = append(s.stack, w)
	if _, err := s.tracker.Track(w.drawable()); err != nil {
		s.logger.Debug("damage tracking failed", "window", uint32(info.ID), "error", err)
	}
	if info.Mapped {
		s.damageWindow(w)
	}
	return w
}

func (s *Screen) handleDestroy(ev platform.Event) {
	w, ok := s.windows[ev.Window]
	if !ok {
		return
	}
	s.removeWindow(w)
	s.updateUnredirect()
}

func (s *Screen) removeWindow(w *Window) {
	if w.Visible() || s.unredirected == w {
		s.damageWindow(w)
	}
	if s.unredirected == w {
		s.unredirected = nil
	}
	w.binder.Close()
	s.tracker.Forget(w.drawable())
	delete(s.windows, w.ID())
	s.stack = slices.DeleteFunc(s.stack, func(o *Window) bool { return o == w })
}

func (s *Screen) handleMap(ev platform.Event) {
	w, ok := s.windows[ev.Window]
	if !ok {
		return
	}
	if info, err := s.backend.Window(ev.Window); err == nil {
		w.info = info
	}
	w.info.Mapped = true
	w.damaged = false
	// The server hands a remapped window a fresh pixmap.
	w.releasePixmap()
	w.binder.AllowFurtherRebindAttempts()
	s.updateUnredirect()
}

func (s *Screen) handleUnmap(ev platform.Event) {
	w, ok := s.windows[ev.Window]
	if !ok {
		return
	}
	s.damageWindow(w)
	w.info.Mapped = false
	w.damaged = false
	w.releasePixmap()
	s.updateUnredirect()
}

func (s *Screen) handleConfigure(ev platform.Event) {
	w, ok := s.windows[ev.Window]
	if !ok {
		return
	}
	visible := w.Visible()
	if visible {
		s.damageWindow(w)
	}
	if ev.Rect.Size() != w.info.Rect.Size() {
		// The server allocates a new pixmap on resize.
		w.releasePixmap()
	}
	w.info.Rect = ev.Rect
	w.info.OverrideRedirect = ev.OverrideRedirect
	s.restackAbove(w, ev.Above)
	if visible {
		s.damageWindow(w)
	}
	s.updateUnredirect()
}

func (s *Screen) handleRestack(ev platform.Event) {
	w, ok := s.windows[ev.Window]
	if !ok {
		return
	}
	if ev.Top {
		s.stack = slices.DeleteFunc(s.stack, func(o *Window) bool { return o == w })
		s.stack = append(s.stack, w)
	} else {
		s.restackAbove(w, ev.Above)
	}
	if w.Visible() {
		s.damageWindow(w)
	}
	s.updateUnredirect()
}

// restackAbove places w directly above the window above, or at the bottom
// when above is 0. Unknown siblings leave the stack alone.
func (s *Screen) restackAbove(w *Window, above gfx.WindowID) {
	if above != 0 {
		if _, ok := s.windows[above]; !ok {
			return
		}
	}
	s.stack = slices.DeleteFunc(s.stack, func(o *Window) bool { return o == w })
	at := 0
	if above != 0 {
		at = slices.IndexFunc(s.stack, func(o *Window) bool { return o.ID() == above }) + 1
	}
	s.stack = slices.Insert(s.stack, at, w)
}

func (s *Screen) handleOutputsChanged() {
	screen, err := s.backend.SyncScreen()
	if err != nil {
		s.logger.Warn("screen size query failed", "error", err)
	}
	if screen != s.damage.Screen() {
		s.logger.Info("screen resized", "size", screen.Size().String())
		s.damage.Resize(screen)
		s.Renderer.Resize(screen)
	}
	outputs, err := s.backend.Outputs()
	if err != nil {
		s.logger.Warn("output query failed", "error", err)
	}
	s.SetOutputs(outputs)
	if s.opts.RefreshRate == 0 {
		s.refresh = s.refreshRate()
		s.sched.SetRefreshRate(s.refresh)
	}
	s.updateUnredirect()
	s.damage.DamageScreen()
}

func (s *Screen) damageWindow(w *Window) {
	s.damage.AddRect(w.Rect().Intersect(s.damage.Screen()))
}

// updateUnredirect lets an opaque fullscreen window at the top of the
// stack draw straight to the screen, and takes that back when it stops
// qualifying.
func (s *Screen) updateUnredirect() {
	var candidate *Window
	if s.opts.UnredirectFullscreen {
		for i := len(s.stack) - 1; i >= 0; i-- {
			w := s.stack[i]
			if !w.info.Mapped {
				continue
			}
			if s.coversScreen(w) {
				candidate = w
			}
			break
		}
	}
	if candidate == s.unredirected {
		return
	}

	if old := s.unredirected; old != nil {
		s.unredirected = nil
		if err := s.backend.Redirect(old.ID()); err != nil {
			s.logger.Debug("redirect failed", "window", uint32(old.ID()), "error", err)
		}
		old.binder.Release()
		old.damaged = false
		s.logger.Debug("window redirected", "window", uint32(old.ID()))
		s.damage.DamageScreen()
	}
	if candidate == nil {
		return
	}
	if err := s.backend.Unredirect(candidate.ID()); err != nil {
		s.logger.Debug("unredirect failed", "window", uint32(candidate.ID()), "error", err)
		return
	}
	candidate.binder.Release()
	s.unredirected = candidate
	s.logger.Debug("window unredirected", "window", uint32(candidate.ID()))
}

func (s *Screen) coversScreen(w *Window) bool {
	if !w.Opaque() {
		return false
	}
	screen := s.damage.Screen()
	return w.info.Fullscreen || screen.In(w.Rect())
}

// Reconcile compares the managed windows with a fresh listing from the
// server, dropping windows whose destruction was missed and adopting ones
// whose creation was. It returns how many of each it found.
func (s *Screen) Reconcile(listed []platform.WindowInfo) (dropped, adopted int) {
	seen := make(map[gfx.WindowID]platform.WindowInfo, len(listed))
	for _, info := range listed {
		seen[info.ID] = info
	}
	for _, w := range slices.Clone(s.stack) {
		if _, ok := seen[w.ID()]; !ok {
			s.removeWindow(w)
			dropped++
		}
	}
	for _, info := range listed {
		if _, ok := s.windows[info.ID]; ok {
			continue
		}
		w := s.addWindow(info)
		s.restackToListing(w, listed)
		adopted++
	}
	if dropped+adopted > 0 {
		s.updateUnredirect()
		s.sched.Schedule()
	}
	return dropped, adopted
}

// restackToListing places an adopted window above its listed neighbour.
func (s *Screen) restackToListing(w *Window, listed []platform.WindowInfo) {
	i := slices.IndexFunc(listed, func(info platform.WindowInfo) bool { return info.ID == w.ID() })
	for j := i - 1; j >= 0; j-- {
		if _, ok := s.windows[listed[j].ID]; ok {
			s.restackAbove(w, listed[j].ID)
			return
		}
	}
	s.restackAbove(w, 0)
}

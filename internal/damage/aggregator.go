// Package damage accumulates changed-pixel notifications for a screen and
// tracks the server-side damage records they came from.
package damage

import (
	"image"
	"strings"

	"github.com/1broseidon/paintd/internal/region"
)

// Mask describes what a frame has to repaint.
type Mask uint8

const (
	// MaskPending requests a frame without new pixel damage, e.g. for an
	// animation step driven from DonePaint.
	MaskPending Mask = 1 << iota
	// MaskRegion means the accompanying region is valid.
	MaskRegion
	// MaskFull means the whole screen must be repainted.
	MaskFull

	MaskNone Mask = 0
)

// MaxRects is the number of disjoint rectangles pending damage may hold
// before it escalates to full-screen damage.
const MaxRects = 100

func (m Mask) Has(bits Mask) bool { return m&bits == bits }

func (m Mask) String() string {
	if m == MaskNone {
		return "none"
	}
	var parts []string
	if m&MaskPending != 0 {
		parts = append(parts, "pending")
	}
	if m&MaskRegion != 0 {
		parts = append(parts, "region")
	}
	if m&MaskFull != 0 {
		parts = append(parts, "full")
	}
	return strings.Join(parts, "|")
}

// Aggregator collects damage for one screen between two frames.
type Aggregator struct {
	screen  image.Rectangle
	mask    Mask
	pending region.Region
}

// NewAggregator creates an aggregator for a screen of the given bounds.
func NewAggregator(screen image.Rectangle) *Aggregator {
	return &Aggregator{screen: screen}
}

// Screen returns the screen bounds.
func (a *Aggregator) Screen() image.Rectangle { return a.screen }

// Mask returns the accumulated mask without consuming it.
func (a *Aggregator) Mask() Mask { return a.mask }

// Pending returns the accumulated region without consuming it.
func (a *Aggregator) Pending() region.Region { return a.pending }

// AddRegion unions r into the pending damage. Once the screen is fully
// damaged further additions are no-ops.
func (a *Aggregator) AddRegion(r region.Region) {
	if a.mask&MaskFull != 0 || r.Empty() {
		return
	}
	a.pending = a.pending.Union(r)
	a.mask |= MaskRegion
	if a.pending.NumRects() > MaxRects {
		a.DamageScreen()
	}
}

// AddRect is AddRegion for a single rectangle.
func (a *Aggregator) AddRect(r image.Rectangle) {
	a.AddRegion(region.FromRect(r))
}

// DamageScreen escalates to full-screen damage.
func (a *Aggregator) DamageScreen() {
	a.mask |= MaskFull
	a.mask &^= MaskRegion
	a.pending = region.Region{}
}

// DamagePending requests a frame even though no pixels changed.
func (a *Aggregator) DamagePending() {
	a.mask |= MaskPending
}

// Resize changes the screen bounds and damages the whole new screen.
func (a *Aggregator) Resize(screen image.Rectangle) {
	a.screen = screen
	a.DamageScreen()
}

// Consume returns the accumulated mask and region and resets the
// aggregator. A full-screen mask comes with the screen rectangle as region.
func (a *Aggregator) Consume() (Mask, region.Region) {
	mask, pending := a.mask, a.pending
	if mask&MaskFull != 0 {
		pending = region.FromRect(a.screen)
	}
	a.mask = MaskNone
	a.pending = region.Region{}
	return mask, pending
}

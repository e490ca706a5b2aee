// Package region implements the rectangle-set algebra used for damage and
// clip computation.
//
// A Region is a y-x banded list of pairwise disjoint rectangles. Every
// operation returns a region in canonical form: rectangles are sorted by
// top edge then left edge, every band spans the same vertical extent, spans
// inside a band never touch, and vertically adjacent bands with identical
// spans are merged. Two regions covering the same pixels therefore hold the
// same rectangle list, which makes Equal a plain list comparison.
package region

import (
	"fmt"
	"image"
	"sort"
	"strings"
)

// Region is an immutable-by-convention set of disjoint rectangles.
// The zero value is the empty region.
type Region struct {
	rects []image.Rectangle
}

// New builds a normalized region covering the union of rects.
// Empty rectangles are ignored.
func New(rects ...image.Rectangle) Region {
	return combine(rects, nil, opUnion)
}

// FromRect returns a region made of a single rectangle.
func FromRect(r image.Rectangle) Region {
	r = r.Canon()
	if r.Empty() {
		return Region{}
	}
	return Region{rects: []image.Rectangle{r}}
}

// Empty reports whether the region covers no pixels.
func (r Region) Empty() bool { return len(r.rects) == 0 }

// NumRects returns the number of disjoint rectangles in the region.
func (r Region) NumRects() int { return len(r.rects) }

// Rects returns a copy of the region's rectangles in canonical order.
func (r Region) Rects() []image.Rectangle {
	out := make([]image.Rectangle, len(r.rects))
	copy(out, r.rects)
	return out
}

// Bounds returns the smallest rectangle containing the region.
func (r Region) Bounds() image.Rectangle {
	if len(r.rects) == 0 {
		return image.Rectangle{}
	}
	b := r.rects[0]
	for _, rect := range r.rects[1:] {
		b = b.Union(rect)
	}
	return b
}

// Area returns the number of pixels covered.
func (r Region) Area() int {
	total := 0
	for _, rect := range r.rects {
		total += rect.Dx() * rect.Dy()
	}
	return total
}

// Contains reports whether the point lies inside the region.
func (r Region) Contains(p image.Point) bool {
	for _, rect := range r.rects {
		if p.In(rect) {
			return true
		}
	}
	return false
}

// Covers reports whether every pixel of rect lies inside the region.
func (r Region) Covers(rect image.Rectangle) bool {
	return FromRect(rect).Subtract(r).Empty()
}

// Overlaps reports whether the region and rect share at least one pixel.
func (r Region) Overlaps(rect image.Rectangle) bool {
	for _, own := range r.rects {
		if own.Overlaps(rect) {
			return true
		}
	}
	return false
}

// Equal reports whether both regions cover exactly the same pixels.
func (r Region) Equal(o Region) bool {
	if len(r.rects) != len(o.rects) {
		return false
	}
	for i := range r.rects {
		if r.rects[i] != o.rects[i] {
			return false
		}
	}
	return true
}

// Union returns the pixels in r or o.
func (r Region) Union(o Region) Region {
	if o.Empty() {
		return r
	}
	if r.Empty() {
		return o
	}
	return combine(r.rects, o.rects, opUnion)
}

// UnionRect returns the pixels in r or rect.
func (r Region) UnionRect(rect image.Rectangle) Region {
	return r.Union(FromRect(rect))
}

// Intersect returns the pixels in both r and o.
func (r Region) Intersect(o Region) Region {
	if r.Empty() || o.Empty() {
		return Region{}
	}
	return combine(r.rects, o.rects, opIntersect)
}

// IntersectRect returns the pixels of r inside rect.
func (r Region) IntersectRect(rect image.Rectangle) Region {
	return r.Intersect(FromRect(rect))
}

// Subtract returns the pixels in r that are not in o.
func (r Region) Subtract(o Region) Region {
	if r.Empty() || o.Empty() {
		return r
	}
	return combine(r.rects, o.rects, opSubtract)
}

// SubtractRect returns the pixels in r outside rect.
func (r Region) SubtractRect(rect image.Rectangle) Region {
	return r.Subtract(FromRect(rect))
}

// Translate shifts every rectangle by (dx, dy).
func (r Region) Translate(dx, dy int) Region {
	if len(r.rects) == 0 || (dx == 0 && dy == 0) {
		return r
	}
	d := image.Pt(dx, dy)
	out := make([]image.Rectangle, len(r.rects))
	for i, rect := range r.rects {
		out[i] = rect.Add(d)
	}
	return Region{rects: out}
}

func (r Region) String() string {
	if len(r.rects) == 0 {
		return "region{}"
	}
	parts := make([]string, len(r.rects))
	for i, rect := range r.rects {
		parts[i] = rect.String()
	}
	return fmt.Sprintf("region{%s}", strings.Join(parts, " "))
}

type op uint8

const (
	opUnion op = iota
	opIntersect
	opSubtract
)

func (o op) keep(inA, inB bool) bool {
	switch o {
	case opUnion:
		return inA || inB
	case opIntersect:
		return inA && inB
	default:
		return inA && !inB
	}
}

// span is a half-open horizontal interval [x0, x1).
type span struct{ x0, x1 int }

// combine sweeps both rectangle lists band by band. Inputs need not be
// normalized; the output always is.
func combine(a, b []image.Rectangle, o op) Region {
	ys := make([]int, 0, 2*(len(a)+len(b)))
	for _, list := range [][]image.Rectangle{a, b} {
		for _, rect := range list {
			if rect.Empty() {
				continue
			}
			ys = append(ys, rect.Min.Y, rect.Max.Y)
		}
	}
	if len(ys) == 0 {
		return Region{}
	}
	sort.Ints(ys)
	ys = dedupe(ys)

	var (
		out      []image.Rectangle
		prev     []span
		prevTop  int
		prevBot  int
		havePrev bool
	)
	flush := func() {
		if !havePrev {
			return
		}
		for _, s := range prev {
			out = append(out, image.Rect(s.x0, prevTop, s.x1, prevBot))
		}
	}

	for i := 0; i+1 < len(ys); i++ {
		y0, y1 := ys[i], ys[i+1]
		spans := combineSpans(spansIn(a, y0, y1), spansIn(b, y0, y1), o)
		if len(spans) == 0 {
			flush()
			havePrev = false
			prev = nil
			continue
		}
		if havePrev && prevBot == y0 && sameSpans(prev, spans) {
			prevBot = y1
			continue
		}
		flush()
		prev, prevTop, prevBot, havePrev = spans, y0, y1, true
	}
	flush()
	return Region{rects: out}
}

// spansIn returns the normalized horizontal coverage of rects over the band
// [y0, y1). Band edges come from every rectangle, so a rectangle either
// fully covers the band or misses it.
func spansIn(rects []image.Rectangle, y0, y1 int) []span {
	var spans []span
	for _, rect := range rects {
		if rect.Empty() || rect.Min.Y > y0 || rect.Max.Y < y1 {
			continue
		}
		spans = append(spans, span{rect.Min.X, rect.Max.X})
	}
	if len(spans) < 2 {
		return spans
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].x0 < spans[j].x0 })
	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.x0 <= last.x1 {
			if s.x1 > last.x1 {
				last.x1 = s.x1
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

func combineSpans(a, b []span, o op) []span {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	xs := make([]int, 0, 2*(len(a)+len(b)))
	for _, s := range a {
		xs = append(xs, s.x0, s.x1)
	}
	for _, s := range b {
		xs = append(xs, s.x0, s.x1)
	}
	sort.Ints(xs)
	xs = dedupe(xs)

	var out []span
	for i := 0; i+1 < len(xs); i++ {
		x0, x1 := xs[i], xs[i+1]
		if !o.keep(covered(a, x0), covered(b, x0)) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].x1 == x0 {
			out[n-1].x1 = x1
			continue
		}
		out = append(out, span{x0, x1})
	}
	return out
}

func covered(spans []span, x int) bool {
	for _, s := range spans {
		if x >= s.x0 && x < s.x1 {
			return true
		}
	}
	return false
}

func sameSpans(a, b []span) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func dedupe(sorted []int) []int {
	if len(sorted) == 0 {
		return sorted
	}
	out := sorted[:1]
	for _, v := range sorted[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

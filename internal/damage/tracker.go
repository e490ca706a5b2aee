package damage

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/1broseidon/paintd/internal/region"
)

// Drawable identifies a server-side drawable (window or pixmap).
type Drawable uint32

// Handle identifies a server-side damage object.
type Handle uint32

// Server is the display-server side of damage tracking.
type Server interface {
	CreateDamage(d Drawable) (Handle, error)
	// SubtractDamage clears everything the server accumulated for h.
	SubtractDamage(h Handle) error
	DestroyDamage(h Handle) error
}

// Record maps a drawable to its server damage object and the rectangles
// reported for it since the last flush.
type Record struct {
	Drawable Drawable
	Handle   Handle
	reported region.Region
}

// Reported returns the damage reported since the last flush.
func (r *Record) Reported() region.Region { return r.reported }

// Tracker owns the damage records of one screen.
type Tracker struct {
	server  Server
	records map[Drawable]*Record
	logger  *slog.Logger
}

// NewTracker creates a tracker. A nil logger discards output.
func NewTracker(server Server, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{
		server:  server,
		records: make(map[Drawable]*Record),
		logger:  logger,
	}
}

// Track makes sure a record exists for d.
func (t *Tracker) Track(d Drawable) (*Record, error) {
	if rec, ok := t.records[d]; ok {
		return rec, nil
	}
	h, err := t.server.CreateDamage(d)
	if err != nil {
		return nil, fmt.Errorf("create damage for drawable %#x: %w", uint32(d), err)
	}
	rec := &Record{Drawable: d, Handle: h}
	t.records[d] = rec
	return rec, nil
}

// Notify records a server damage notification, creating the record on
// first use.
func (t *Tracker) Notify(d Drawable, rect image.Rectangle) (*Record, error) {
	rec, err := t.Track(d)
	if err != nil {
		return nil, err
	}
	rec.reported = rec.reported.UnionRect(rect)
	return rec, nil
}

// Lookup returns the record for d if one exists.
func (t *Tracker) Lookup(d Drawable) (*Record, bool) {
	rec, ok := t.records[d]
	return rec, ok
}

// Len returns the number of tracked drawables.
func (t *Tracker) Len() int { return len(t.records) }

// Flush clears the server-side damage of every record that reported
// something this frame. It must run before the next frame consumes damage.
func (t *Tracker) Flush() {
	for d, rec := range t.records {
		if rec.reported.Empty() {
			continue
		}
		if err := t.server.SubtractDamage(rec.Handle); err != nil {
			t.logger.Debug("damage subtract failed", "drawable", uint32(d), "error", err)
		}
		rec.reported = region.Region{}
	}
}

// Forget destroys the record for d.
func (t *Tracker) Forget(d Drawable) {
	rec, ok := t.records[d]
	if !ok {
		return
	}
	delete(t.records, d)
	if err := t.server.DestroyDamage(rec.Handle); err != nil {
		t.logger.Debug("damage destroy failed", "drawable", uint32(d), "error", err)
	}
}

// Close destroys every record.
func (t *Tracker) Close() {
	for d := range t.records {
		t.Forget(d)
	}
}

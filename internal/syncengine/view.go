package syncengine

import (
	"sort"
	"time"

	"github.com/iliyamo/temple-portals/internal/changefeed"
	"github.com/iliyamo/temple-portals/internal/store"
)

// Outcome describes what applying an event did to a view.
type Outcome int

const (
	Unchanged Outcome = iota
	Added
	Replaced
	Removed
)

type entry struct {
	row store.Row
	ts  time.Time
}

// View is the materialized copy of one resource collection. It is not safe
// for concurrent use; the owning Session serializes access.
//
// Merge rules: rows are keyed by id and carry a timestamp. A row is only
// replaced by an event with a later timestamp, so duplicate and
// out-of-order deliveries converge to the same state.
type View struct {
	res     Resource
	entries map[uint64]entry
	seeded  bool
}

// NewView returns an empty view for res.
func NewView(res Resource) *View {
	return &View{res: res, entries: make(map[uint64]entry)}
}

// Len returns the number of rows held.
func (v *View) Len() int { return len(v.entries) }

// Seeded reports whether the view has been filled by a full read.
func (v *View) Seeded() bool { return v.seeded }

func (v *View) timestamp(row store.Row, fallback time.Time) time.Time {
	if !fallback.IsZero() {
		return fallback.UTC()
	}
	ts, _ := row.Time(store.TimestampColumn(v.res.Name))
	return ts
}

func (v *View) keeps(row store.Row) bool {
	return v.res.Keep == nil || v.res.Keep(row)
}

// Apply merges one change event.
func (v *View) Apply(ev changefeed.Event) Outcome {
	cur, present := v.entries[ev.ID]
	switch ev.Kind {
	case store.OpInsert:
		ts := v.timestamp(ev.Row, ev.Timestamp)
		if !v.keeps(ev.Row) {
			return v.remove(ev.ID, present)
		}
		if present {
			if !ts.After(cur.ts) {
				return Unchanged
			}
			v.entries[ev.ID] = entry{row: ev.Row.Clone(), ts: ts}
			return Replaced
		}
		v.entries[ev.ID] = entry{row: ev.Row.Clone(), ts: ts}
		if v.evict() == ev.ID {
			return Unchanged
		}
		return Added
	case store.OpUpdate:
		// An update for an unknown id is ignored; the next re-list heals it.
		if !present {
			return Unchanged
		}
		ts := v.timestamp(ev.Row, ev.Timestamp)
		if ts.Before(cur.ts) {
			return Unchanged
		}
		if !v.keeps(ev.Row) {
			return v.remove(ev.ID, true)
		}
		if ts.Equal(cur.ts) && cur.row.Equal(ev.Row) {
			return Unchanged
		}
		v.entries[ev.ID] = entry{row: ev.Row.Clone(), ts: ts}
		return Replaced
	case store.OpDelete:
		return v.remove(ev.ID, present)
	}
	return Unchanged
}

func (v *View) remove(id uint64, present bool) Outcome {
	if !present {
		return Unchanged
	}
	delete(v.entries, id)
	return Removed
}

// evict drops the lowest ranked row when the view is over capacity and
// returns its id, or 0 when nothing was evicted.
func (v *View) evict() uint64 {
	if v.res.Cap <= 0 || len(v.entries) <= v.res.Cap {
		return 0
	}
	rows := v.Rows()
	last := rows[len(rows)-1].ID()
	delete(v.entries, last)
	return last
}

// Change is a difference found while reconciling a view with a fresh read.
type Change struct {
	Outcome Outcome
	ID      uint64
	Row     store.Row
	TS      time.Time
}

// Reconcile replaces the view's content with rows from a fresh read. The
// first call seeds the view silently; later calls return the differences
// so that changes missed while the feed was down are still announced.
func (v *View) Reconcile(rows []store.Row) []Change {
	next := make(map[uint64]entry, len(rows))
	for _, r := range rows {
		if !v.keeps(r) {
			continue
		}
		next[r.ID()] = entry{row: r.Clone(), ts: v.timestamp(r, time.Time{})}
	}
	old := v.entries
	v.entries = next
	for v.evict() != 0 {
	}
	if !v.seeded {
		v.seeded = true
		return nil
	}

	var diff []Change
	for id, e := range v.entries {
		prev, ok := old[id]
		switch {
		case !ok:
			diff = append(diff, Change{Outcome: Added, ID: id, Row: e.row, TS: e.ts})
		case e.ts.After(prev.ts) || !prev.row.Equal(e.row):
			diff = append(diff, Change{Outcome: Replaced, ID: id, Row: e.row, TS: e.ts})
		}
	}
	for id, e := range old {
		if _, ok := v.entries[id]; !ok {
			diff = append(diff, Change{Outcome: Removed, ID: id, Row: e.row, TS: e.ts})
		}
	}
	sort.Slice(diff, func(i, j int) bool {
		if !diff[i].TS.Equal(diff[j].TS) {
			return diff[i].TS.Before(diff[j].TS)
		}
		return diff[i].ID < diff[j].ID
	})
	return diff
}

// Rows returns a copy of the held rows in the resource's display order.
func (v *View) Rows() []store.Row {
	out := make([]store.Row, 0, len(v.entries))
	for _, e := range v.entries {
		out = append(out, e.row.Clone())
	}
	less := v.res.Less
	if less == nil {
		less = byID
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

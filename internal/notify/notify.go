// Package notify aggregates a portal's normalized sync events into a
// bounded notification log with an unread counter.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/syncengine"
)

// DefaultCapacity is the log size used when none is configured.
const DefaultCapacity = 50

// Entry is one logged notification.
type Entry struct {
	ID           string    `json:"id"`
	ResourceName string    `json:"resource_name"`
	EventKind    string    `json:"event_kind"`
	SummaryText  string    `json:"summary_text"`
	Timestamp    time.Time `json:"timestamp"`
}

// Surface is what a portal's notification bell renders.
type Surface struct {
	UnreadCount  int     `json:"unread_count"`
	RecentEvents []Entry `json:"recent_events"`
}

// Aggregator keeps the notification log of one portal type. It is safe for
// concurrent use.
type Aggregator struct {
	portal   model.PortalType
	capacity int
	log      *logrus.Entry

	mu          sync.Mutex
	entries     []Entry // newest first
	unread      int
	watchers    map[int]func(Entry)
	nextWatcher int
}

// New returns an empty aggregator for portal p. A capacity below one uses
// DefaultCapacity.
func New(p model.PortalType, capacity int, logger *logrus.Logger) *Aggregator {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Aggregator{
		portal:   p,
		capacity: capacity,
		log:      logger.WithFields(logrus.Fields{"component": "notify", "portal": string(p)}),
		watchers: make(map[int]func(Entry)),
	}
}

// Portal returns the aggregator's portal type.
func (a *Aggregator) Portal() model.PortalType { return a.portal }

// Attach feeds the aggregator from a session's event stream.
func (a *Aggregator) Attach(s *syncengine.Session) (detach func()) {
	return s.Subscribe(func(ev syncengine.Event) { a.Handle(ev) })
}

// Handle logs ev when it is in the aggregator's scope and reports whether
// it did. Out of scope events never reach the log.
func (a *Aggregator) Handle(ev syncengine.Event) bool {
	if !InScope(a.portal, ev) {
		return false
	}
	summary, ok := Summarize(ev)
	if !ok {
		return false
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	e := Entry{
		ID:           uuid.NewString(),
		ResourceName: ev.Resource,
		EventKind:    string(ev.Kind),
		SummaryText:  summary,
		Timestamp:    ts,
	}

	a.mu.Lock()
	a.entries = append([]Entry{e}, a.entries...)
	if len(a.entries) > a.capacity {
		a.entries = a.entries[:a.capacity]
	}
	a.unread++
	watchers := make([]func(Entry), 0, len(a.watchers))
	for _, fn := range a.watchers {
		watchers = append(watchers, fn)
	}
	a.mu.Unlock()

	a.log.WithFields(logrus.Fields{"resource": ev.Resource, "kind": ev.Kind}).Debug("notification logged")
	for _, fn := range watchers {
		fn(e)
	}
	return true
}

// MarkAllRead resets the unread counter.
func (a *Aggregator) MarkAllRead() {
	a.mu.Lock()
	a.unread = 0
	a.mu.Unlock()
}

// UnreadCount returns the number of entries logged since the last
// MarkAllRead.
func (a *Aggregator) UnreadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unread
}

// RecentEvents returns up to limit entries, newest first. A limit below one
// returns the whole log.
func (a *Aggregator) RecentEvents(limit int) []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	copy(out, a.entries[:n])
	return out
}

// Surface returns the unread count and the whole log.
func (a *Aggregator) Surface() Surface {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return Surface{UnreadCount: a.unread, RecentEvents: out}
}

// Open returns the surface as the user sees it and marks everything read.
func (a *Aggregator) Open() Surface {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	s := Surface{UnreadCount: a.unread, RecentEvents: out}
	a.unread = 0
	return s
}

// Watch calls fn for every entry logged from now on. fn runs on the feed
// goroutine and must not block.
func (a *Aggregator) Watch(fn func(Entry)) (cancel func()) {
	a.mu.Lock()
	id := a.nextWatcher
	a.nextWatcher++
	a.watchers[id] = fn
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.watchers, id)
			a.mu.Unlock()
		})
	}
}

package syncengine

import (
	"sync"
	"time"

	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/store"
)

// Event is a normalized view change handed to local subscribers. Kind is
// the effect on the view: a row leaving a filtered view is a delete even
// when the store saw an update.
type Event struct {
	Portal    model.PortalType
	Resource  string
	Kind      store.Op
	ID        uint64
	Row       store.Row
	Timestamp time.Time
}

func kindOf(o Outcome) store.Op {
	switch o {
	case Added:
		return store.OpInsert
	case Removed:
		return store.OpDelete
	}
	return store.OpUpdate
}

// bus fans events out to in-process listeners. Listeners run on the
// publishing goroutine and must not block.
type bus struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]func(Event)
}

func newBus() *bus {
	return &bus{listeners: make(map[int]func(Event))}
}

func (b *bus) subscribe(fn func(Event)) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

func (b *bus) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

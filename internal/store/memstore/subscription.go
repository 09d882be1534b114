package memstore

import (
	"sync"

	"github.com/iliyamo/temple-portals/internal/store"
)

// subscription owns an unbounded queue drained by one goroutine, so a slow
// handler never blocks writers and never sees changes out of order.
type subscription struct {
	table string
	mask  store.EventMask
	h     store.Handler

	mu     sync.Mutex
	queue  []store.Change
	wake   chan struct{}
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func newSubscription(table string, mask store.EventMask, h store.Handler) *subscription {
	return &subscription{
		table:  table,
		mask:   mask,
		h:      h,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (s *subscription) enqueue(c store.Change) {
	s.mu.Lock()
	s.queue = append(s.queue, c)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			batch := s.queue
			s.queue = nil
			s.mu.Unlock()
			for _, c := range batch {
				select {
				case <-s.done:
					return
				default:
				}
				s.h(c)
			}
		}
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
	<-s.exited
}

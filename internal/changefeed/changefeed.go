// Package changefeed wraps the store's subscribe/unsubscribe primitive into
// per-resource subscriptions with event masks, row predicates, a setup
// timeout and reconnect (resync) signalling.
//
// The feed is a liveness signal, not a durable log: missed events are never
// replayed. After a resync signal the subscriber must re-read the resource.
package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/temple-portals/internal/store"
)

// ErrFeedUnavailable is returned when a subscription cannot be established
// within the setup timeout. Callers fall back to polling or to their last
// known view; they never treat it as fatal.
var ErrFeedUnavailable = errors.New("change feed unavailable")

// DefaultSetupTimeout bounds Subscribe when no timeout is configured.
const DefaultSetupTimeout = 5 * time.Second

// Event is one change delivered to a subscriber.
type Event struct {
	Resource  string
	Kind      store.Op
	ID        uint64
	Row       store.Row
	Timestamp time.Time
}

// Predicate filters rows; nil accepts everything.
type Predicate func(store.Row) bool

// Handlers receives a subscription's traffic. OnResync and OnLost may be
// nil. OnLost reports that the transport dropped and changes may be missing
// until the next OnResync.
type Handlers struct {
	OnChange func(Event)
	OnResync func()
	OnLost   func()
}

// Source is the subscribe half of store.Store.
type Source interface {
	Subscribe(ctx context.Context, table string, mask store.EventMask, h store.Handler) (store.Handle, error)
	Unsubscribe(h store.Handle) error
}

// Client opens subscriptions against a Source.
type Client struct {
	src     Source
	timeout time.Duration
	log     *logrus.Entry
}

// Option configures a Client.
type Option func(*Client)

// WithSetupTimeout overrides DefaultSetupTimeout.
func WithSetupTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient returns a Client over src.
func NewClient(src Source, logger *logrus.Logger, opts ...Option) *Client {
	c := &Client{
		src:     src,
		timeout: DefaultSetupTimeout,
		log:     logger.WithField("component", "changefeed"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscription is an active feed subscription. Close releases it.
type Subscription struct {
	resource string
	pred     Predicate
	hs       Handlers
	client   *Client

	handle    store.Handle
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Resource returns the subscribed resource name.
func (s *Subscription) Resource() string { return s.resource }

// Subscribe attaches to resource. mask selects operations (zero means all)
// and pred filters rows. Setup failures and setups slower than the client's
// timeout return an error wrapping ErrFeedUnavailable.
func (c *Client) Subscribe(ctx context.Context, resource string, mask store.EventMask, pred Predicate, hs Handlers) (*Subscription, error) {
	if hs.OnChange == nil {
		return nil, errors.New("changefeed: OnChange handler is required")
	}
	sub := &Subscription{resource: resource, pred: pred, hs: hs, client: c}

	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		h   store.Handle
		err error
	}
	done := make(chan result, 1)
	go func() {
		h, err := c.src.Subscribe(sctx, resource, mask, sub.dispatch)
		done <- result{h, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrFeedUnavailable, resource, r.err)
		}
		sub.handle = r.h
		c.log.WithField("resource", resource).Debug("subscribed")
		return sub, nil
	case <-sctx.Done():
		sub.closed.Store(true)
		// A setup that completes after we gave up must not leak.
		go func() {
			if r := <-done; r.err == nil {
				_ = c.src.Unsubscribe(r.h)
			}
		}()
		return nil, fmt.Errorf("%w: %s: setup: %w", ErrFeedUnavailable, resource, sctx.Err())
	}
}

func (s *Subscription) dispatch(ch store.Change) {
	if s.closed.Load() {
		return
	}
	switch ch.Op {
	case store.OpResync:
		s.client.log.WithField("resource", s.resource).Info("feed reconnected, resync required")
		if s.hs.OnResync != nil {
			s.hs.OnResync()
		}
		return
	case store.OpLost:
		s.client.log.WithField("resource", s.resource).Warn("feed connection lost")
		if s.hs.OnLost != nil {
			s.hs.OnLost()
		}
		return
	}
	if s.pred != nil && !s.pred(ch.Row) {
		return
	}
	s.hs.OnChange(Event{
		Resource:  ch.Table,
		Kind:      ch.Op,
		ID:        ch.ID,
		Row:       ch.Row,
		Timestamp: ch.Timestamp,
	})
}

// Close releases the subscription. It is idempotent; no handler runs after
// it returns. It must not be called from inside the subscription's own
// handlers.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.client.src.Unsubscribe(s.handle)
		s.client.log.WithField("resource", s.resource).Debug("unsubscribed")
	})
	return s.closeErr
}

// Package redisfeed carries store changes over Redis Pub/Sub. Each table has
// its own channel; a subscription is one PubSub connection. Pub/Sub is
// fire-and-forget, so a reconnect is reported to the handler as a resync
// signal and the subscriber re-reads the table. The connection dropping is
// reported first as a lost signal, so subscribers can flag their data.
package redisfeed

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/temple-portals/internal/store"
)

const channelPrefix = "temple:changes:"

// Channel returns the Pub/Sub channel of a table.
func Channel(table string) string { return channelPrefix + table }

// Broker publishes and subscribes to table channels.
type Broker struct {
	rdb *redis.Client
	log *logrus.Entry

	mu   sync.Mutex
	subs map[store.Handle]*subscription
}

// New returns a Broker over rdb.
func New(rdb *redis.Client, logger *logrus.Logger) *Broker {
	return &Broker{
		rdb:  rdb,
		log:  logger.WithField("component", "redisfeed"),
		subs: make(map[store.Handle]*subscription),
	}
}

// Publish sends c on its table's channel.
func (b *Broker) Publish(ctx context.Context, c store.Change) error {
	body, err := store.EncodeChange(c)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, Channel(c.Table), body).Err()
}

// Subscribe opens a PubSub on the table's channel and waits for the server
// to confirm it before returning.
func (b *Broker) Subscribe(ctx context.Context, table string, mask store.EventMask, h store.Handler) (store.Handle, error) {
	if _, err := store.Columns(table); err != nil {
		return "", err
	}
	ps := b.rdb.Subscribe(ctx, Channel(table))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return "", err
	}

	handle := store.Handle(uuid.NewString())
	sub := newSubscription(table, mask, h, ps.Receive, ps.Close,
		b.log.WithFields(logrus.Fields{"table": table, "handle": string(handle)}))
	b.mu.Lock()
	b.subs[handle] = sub
	b.mu.Unlock()
	go sub.run()
	return handle, nil
}

// Unsubscribe closes the PubSub and waits for its reader to exit. It must
// not be called from the subscription's own handler.
func (b *Broker) Unsubscribe(h store.Handle) error {
	b.mu.Lock()
	sub, ok := b.subs[h]
	delete(b.subs, h)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.stop()
}

// Close releases every open subscription.
func (b *Broker) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[store.Handle]*subscription)
	b.mu.Unlock()
	for _, sub := range subs {
		_ = sub.stop()
	}
	return nil
}

type subscription struct {
	table   string
	mask    store.EventMask
	h       store.Handler
	receive func(ctx context.Context) (interface{}, error)
	closeFn func() error
	log     *logrus.Entry

	retryMin time.Duration
	retryMax time.Duration

	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
	closeErr error
}

func newSubscription(table string, mask store.EventMask, h store.Handler,
	receive func(ctx context.Context) (interface{}, error), closeFn func() error, log *logrus.Entry) *subscription {
	return &subscription{
		table:    table,
		mask:     mask,
		h:        h,
		receive:  receive,
		closeFn:  closeFn,
		log:      log,
		retryMin: time.Second,
		retryMax: 30 * time.Second,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

func (s *subscription) run() {
	defer close(s.exited)
	backoff := s.retryMin
	down := false
	for {
		msg, err := s.receive(context.Background())
		if s.stopped() {
			return
		}
		if err != nil {
			if !down {
				down = true
				s.log.WithError(err).Warn("pubsub connection lost")
				s.h(store.Change{Table: s.table, Op: store.OpLost, Timestamp: time.Now().UTC()})
			}
			// The next Receive redials; the server's re-subscribe
			// confirmation then triggers the resync.
			s.log.WithError(err).Debugf("pubsub receive failed, retrying in %s", backoff)
			select {
			case <-s.done:
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, s.retryMax)
			continue
		}
		backoff = s.retryMin
		down = false
		s.deliver(msg)
	}
}

// deliver hands one Pub/Sub message to the handler and reports whether the
// handler was called.
func (s *subscription) deliver(msg interface{}) bool {
	switch m := msg.(type) {
	case *redis.Message:
		c, err := store.DecodeChange([]byte(m.Payload))
		if err != nil {
			s.log.WithError(err).Warn("dropping undecodable change")
			return false
		}
		if c.Table != s.table || !s.mask.Has(c.Op) {
			return false
		}
		s.h(c)
		return true
	case *redis.Subscription:
		// The initial confirmation was consumed by Subscribe, so any later
		// one follows a reconnect.
		if m.Kind != "subscribe" {
			return false
		}
		s.log.Info("pubsub resubscribed, requesting resync")
		s.h(store.Change{Table: s.table, Op: store.OpResync, Timestamp: time.Now().UTC()})
		return true
	}
	return false
}

func (s *subscription) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *subscription) stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		s.closeErr = s.closeFn()
	})
	<-s.exited
	return s.closeErr
}

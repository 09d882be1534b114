package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/temple-portals/internal/store"
)

// Broker publishes changes to ExchangeName and serves subscriptions from it.
// The publishing connection is opened lazily and reopened after a failure.
type Broker struct {
	url string
	log *logrus.Entry

	pubMu   sync.Mutex
	pubConn *amqp.Connection
	pubCh   *amqp.Channel

	mu   sync.Mutex
	subs map[store.Handle]*consumer
}

// New returns a Broker for the AMQP url.
func New(url string, logger *logrus.Logger) *Broker {
	return &Broker{
		url:  url,
		log:  logger.WithField("component", "queue"),
		subs: make(map[store.Handle]*consumer),
	}
}

func declareExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		ExchangeName, // name
		"topic",      // kind
		true,         // durable
		false,        // autoDelete
		false,        // internal
		false,        // noWait
		nil,          // args
	)
}

// publishChannel returns the shared publishing channel, dialing if needed.
// The caller holds pubMu.
func (b *Broker) publishChannel() (*amqp.Channel, error) {
	if b.pubCh != nil && !b.pubCh.IsClosed() {
		return b.pubCh, nil
	}
	b.resetPublisher()
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if err := declareExchange(ch); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("exchange declare: %w", err)
	}
	b.pubConn, b.pubCh = conn, ch
	return ch, nil
}

func (b *Broker) resetPublisher() {
	if b.pubConn != nil {
		_ = b.pubConn.Close()
	}
	b.pubConn, b.pubCh = nil, nil
}

// Publish sends c to the exchange.
func (b *Broker) Publish(ctx context.Context, c store.Change) error {
	msg, err := publishing(c)
	if err != nil {
		return err
	}
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	ch, err := b.publishChannel()
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx,
		ExchangeName,              // exchange
		RoutingKey(c.Table, c.Op), // routing key
		false,                     // mandatory
		false,                     // immediate
		msg,
	); err != nil {
		b.resetPublisher()
		return fmt.Errorf("publish %s: %w", RoutingKey(c.Table, c.Op), err)
	}
	return nil
}

// Subscribe declares a private queue bound to table's routing keys and
// starts consuming it. The first connection is made before returning so
// setup failures reach the caller.
func (b *Broker) Subscribe(ctx context.Context, table string, mask store.EventMask, h store.Handler) (store.Handle, error) {
	if _, err := store.Columns(table); err != nil {
		return "", err
	}
	handle := store.Handle(uuid.NewString())
	c := newConsumer(b.url, table, mask, h, b.log.WithFields(logrus.Fields{"table": table, "handle": string(handle)}))
	if err := c.connect(ctx); err != nil {
		return "", err
	}
	b.mu.Lock()
	b.subs[handle] = c
	b.mu.Unlock()
	go c.run()
	return handle, nil
}

// Unsubscribe stops the consumer and waits for it to exit. It must not be
// called from the subscription's own handler.
func (b *Broker) Unsubscribe(h store.Handle) error {
	b.mu.Lock()
	c, ok := b.subs[h]
	delete(b.subs, h)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	c.stop()
	return nil
}

// Close stops every consumer and the publishing connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[store.Handle]*consumer)
	b.mu.Unlock()
	for _, c := range subs {
		c.stop()
	}
	b.pubMu.Lock()
	b.resetPublisher()
	b.pubMu.Unlock()
	return nil
}

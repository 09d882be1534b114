package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/temple-portals/internal/store"
)

// consumer owns one private queue and its connection. When the connection
// drops it signals the loss, redials with backoff and signals a resync once
// the queue is bound again, since anything published in between was lost
// with the old queue.
type consumer struct {
	url   string
	table string
	mask  store.EventMask
	h     store.Handler
	log   *logrus.Entry

	mu   sync.Mutex
	conn *amqp.Connection
	msgs <-chan amqp.Delivery

	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

func newConsumer(url, table string, mask store.EventMask, h store.Handler, log *logrus.Entry) *consumer {
	return &consumer{
		url:    url,
		table:  table,
		mask:   mask,
		h:      h,
		log:    log,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// connect dials the broker and binds a fresh exclusive queue.
func (c *consumer) connect(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	msgs, err := c.bind(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := ctx.Err(); err != nil {
		_ = conn.Close()
		return err
	}
	c.mu.Lock()
	c.conn, c.msgs = conn, msgs
	c.mu.Unlock()
	return nil
}

func (c *consumer) bind(conn *amqp.Connection) (<-chan amqp.Delivery, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if err := ch.Qos(50, 0, false); err != nil {
		c.log.WithError(err).Warn("set QoS failed")
	}
	if err := declareExchange(ch); err != nil {
		return nil, fmt.Errorf("exchange declare: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	for _, key := range bindingKeys(c.table, c.mask) {
		if err := ch.QueueBind(q.Name, key, ExchangeName, false, nil); err != nil {
			return nil, fmt.Errorf("queue bind %s: %w", key, err)
		}
	}
	msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("queue consume: %w", err)
	}
	return msgs, nil
}

func (c *consumer) run() {
	defer close(c.exited)
	for {
		c.mu.Lock()
		msgs := c.msgs
		c.mu.Unlock()
		err := c.consumeLoop(msgs)
		if c.stopped() {
			return
		}
		c.log.WithError(err).Warn("consume loop ended, reconnecting")
		c.h(store.Change{Table: c.table, Op: store.OpLost, Timestamp: time.Now().UTC()})
		if !c.reconnect() {
			return
		}
		c.log.Info("queue rebound, requesting resync")
		c.h(store.Change{Table: c.table, Op: store.OpResync, Timestamp: time.Now().UTC()})
	}
}

func (c *consumer) consumeLoop(msgs <-chan amqp.Delivery) error {
	for d := range msgs {
		if c.stopped() {
			_ = d.Nack(false, false)
			continue
		}
		if err := c.handleMessage(d.Body); err != nil {
			c.log.WithError(err).Warn("handle message failed")
			_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

// reconnect redials until it succeeds or the consumer is stopped.
func (c *consumer) reconnect() bool {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()

	backoff := time.Second
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(backoff):
		}
		if err := c.connect(context.Background()); err != nil {
			c.log.WithError(err).Warnf("reconnect failed, retrying in %s", backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		if c.stopped() {
			c.closeConn()
			return false
		}
		return true
	}
}

// handleMessage decodes one delivery and passes it to the handler when it
// belongs to this subscription.
func (c *consumer) handleMessage(body []byte) error {
	ch, err := store.DecodeChange(body)
	if err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ch.Table != c.table || !c.mask.Has(ch.Op) {
		return nil
	}
	c.h(ch)
	return nil
}

func (c *consumer) stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *consumer) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *consumer) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.closeConn()
	})
	<-c.exited
}

// Package queue carries store changes over a RabbitMQ topic exchange. Every
// committed change is published with routing key "<table>.<op>"; each
// subscription owns an exclusive, auto-deleted queue bound to the keys its
// event mask selects.
package queue

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/temple-portals/internal/store"
)

// ExchangeName is the topic exchange all changes go through.
const ExchangeName = "temple.changes"

// RoutingKey returns the routing key of a change.
func RoutingKey(table string, op store.Op) string {
	return fmt.Sprintf("%s.%s", table, op)
}

// bindingKeys returns the routing keys a subscription on table with mask
// must bind.
func bindingKeys(table string, mask store.EventMask) []string {
	var keys []string
	for _, op := range []store.Op{store.OpInsert, store.OpUpdate, store.OpDelete} {
		if mask.Has(op) {
			keys = append(keys, RoutingKey(table, op))
		}
	}
	return keys
}

// publishing wraps a change into an AMQP message. Changes are transient:
// the feed is a liveness signal and subscribers re-read after a reconnect.
func publishing(c store.Change) (amqp.Publishing, error) {
	body, err := store.EncodeChange(c)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now().UTC(),
		Type:         string(c.Op),
		Body:         body,
	}, nil
}

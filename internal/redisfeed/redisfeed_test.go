package redisfeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/temple-portals/internal/store"
)

func testSub(mask store.EventMask, got *[]store.Change) *subscription {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return &subscription{
		table: store.TableTicketPrices,
		mask:  mask,
		h:     func(c store.Change) { *got = append(*got, c) },
		log:   logrus.NewEntry(logger),
	}
}

func payload(t *testing.T, c store.Change) *redis.Message {
	t.Helper()
	body, err := store.EncodeChange(c)
	require.NoError(t, err)
	return &redis.Message{Channel: Channel(c.Table), Payload: string(body)}
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "temple:changes:announcements", Channel(store.TableAnnouncements))
}

func TestDeliverDecodesAndFilters(t *testing.T) {
	var got []store.Change
	sub := testSub(store.EventUpdate, &got)
	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	update := store.Change{
		Table:     store.TableTicketPrices,
		Op:        store.OpUpdate,
		ID:        3,
		Row:       store.Row{"id": 3, "ticket_type": "VIP", "price": "650.00", "version": 2},
		Timestamp: ts,
	}
	assert.True(t, sub.deliver(payload(t, update)))
	assert.False(t, sub.deliver(payload(t, store.Change{Table: store.TableTicketPrices, Op: store.OpInsert, ID: 4})), "masked out")
	assert.False(t, sub.deliver(payload(t, store.Change{Table: store.TableGallery, Op: store.OpUpdate, ID: 1})), "other table")
	assert.False(t, sub.deliver(&redis.Message{Payload: "{not json"}))

	require.Len(t, got, 1)
	assert.Equal(t, uint64(3), got[0].ID)
	assert.True(t, ts.Equal(got[0].Timestamp))
	v, err := got[0].Row.Uint64("version")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
}

func TestResubscribeConfirmationIsResync(t *testing.T) {
	var got []store.Change
	sub := testSub(0, &got)

	assert.True(t, sub.deliver(&redis.Subscription{Kind: "subscribe", Channel: Channel(store.TableTicketPrices), Count: 1}))
	assert.False(t, sub.deliver(&redis.Subscription{Kind: "unsubscribe"}))
	assert.False(t, sub.deliver(&redis.Pong{}))

	require.Len(t, got, 1)
	assert.Equal(t, store.OpResync, got[0].Op)
	assert.Equal(t, store.TableTicketPrices, got[0].Table)
}

type receiveResult struct {
	msg interface{}
	err error
}

func TestRunReportsLostOnceThenResync(t *testing.T) {
	results := make(chan receiveResult, 8)
	changes := make(chan store.Change, 8)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	var sub *subscription
	receive := func(context.Context) (interface{}, error) {
		select {
		case r := <-results:
			return r.msg, r.err
		case <-sub.done:
			return nil, redis.ErrClosed
		}
	}
	sub = newSubscription(store.TableTicketPrices, 0, func(c store.Change) { changes <- c },
		receive, func() error { return nil }, logrus.NewEntry(logger))
	sub.retryMin, sub.retryMax = time.Millisecond, 2*time.Millisecond
	go sub.run()

	down := errors.New("connection reset by peer")
	results <- receiveResult{err: down}
	results <- receiveResult{err: down}
	results <- receiveResult{err: down}
	results <- receiveResult{msg: &redis.Subscription{Kind: "subscribe", Channel: Channel(store.TableTicketPrices), Count: 1}}

	next := func() store.Change {
		select {
		case c := <-changes:
			return c
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for a change")
			return store.Change{}
		}
	}
	assert.Equal(t, store.OpLost, next().Op)
	assert.Equal(t, store.OpResync, next().Op, "one lost signal per outage")

	require.NoError(t, sub.stop())
	assert.Empty(t, changes)
}

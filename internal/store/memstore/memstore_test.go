package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iliyamo/temple-portals/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func clock() func() time.Time {
	base := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Minute)
	}
}

func TestSelectOrdersFiltersAndLimits(t *testing.T) {
	ctx := context.Background()
	s := New(WithClock(clock()))
	for _, title := range []string{"first", "second", "third"} {
		_, err := s.Insert(ctx, store.TableGallery, store.Row{"title": title, "image_url": "https://img/" + title})
		require.NoError(t, err)
	}

	rows, err := s.Select(ctx, store.TableGallery, store.Filter{OrderBy: "created_at", Desc: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "third", rows[0].String("title"))
	assert.Equal(t, "second", rows[1].String("title"))

	rows, err = s.Select(ctx, store.TableGallery, store.Filter{Eq: map[string]any{"title": "first"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(1), rows[0].ID())

	rows[0]["title"] = "mutated"
	again, err := s.Select(ctx, store.TableGallery, store.Filter{Eq: map[string]any{"id": 1}})
	require.NoError(t, err)
	assert.Equal(t, "first", again[0].String("title"), "select returns copies")

	_, err = s.Select(ctx, store.TableGallery, store.Filter{Eq: map[string]any{"price": 1}})
	assert.ErrorIs(t, err, store.ErrUnknownColumn)
}

func TestUniqueAndConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.Insert(ctx, store.TableTicketPrices, store.Row{"ticket_type": "VIP", "price": "500.00"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, store.TableTicketPrices, store.Row{"ticket_type": "VIP", "price": "1.00"})
	assert.ErrorIs(t, err, store.ErrUniqueViolation)

	gen, err := s.Insert(ctx, store.TableTicketPrices, store.Row{"ticket_type": "General", "price": "0.00"})
	require.NoError(t, err)
	err = s.Update(ctx, store.TableTicketPrices, gen, store.Row{"ticket_type": "VIP"}, nil)
	assert.ErrorIs(t, err, store.ErrUniqueViolation)

	rows, err := s.Select(ctx, store.TableTicketPrices, store.Filter{Eq: map[string]any{"id": id}})
	require.NoError(t, err)
	v, err := rows[0].Uint64("version")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	err = s.Update(ctx, store.TableTicketPrices, id, store.Row{"price": "650.00", "version": uint64(2)}, store.Row{"version": uint64(3)})
	assert.ErrorIs(t, err, store.ErrConditionFailed)
	require.NoError(t, s.Update(ctx, store.TableTicketPrices, id, store.Row{"price": "650.00", "version": uint64(2)}, store.Row{"version": uint64(1)}))
	assert.ErrorIs(t, s.Update(ctx, store.TableTicketPrices, 99, store.Row{"price": "1.00"}, nil), store.ErrNoRow)
}

func TestSubscriptionDeliversInCommitOrder(t *testing.T) {
	ctx := context.Background()
	s := New()

	var mu sync.Mutex
	var got []store.Change
	h, err := s.Subscribe(ctx, store.TableRouteMaps, store.EventInsert|store.EventDelete, func(c store.Change) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Subscribers(store.TableRouteMaps))

	for i := 0; i < 20; i++ {
		_, err := s.Insert(ctx, store.TableRouteMaps, store.Row{"title": "r", "description": "d", "map_data": "m"})
		require.NoError(t, err)
	}
	require.NoError(t, s.Update(ctx, store.TableRouteMaps, 1, store.Row{"title": "masked"}, nil))
	require.NoError(t, s.Delete(ctx, store.TableRouteMaps, 2))
	s.Interrupt(store.TableRouteMaps)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 22
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	for i := 0; i < 20; i++ {
		assert.Equal(t, store.OpInsert, got[i].Op)
		assert.Equal(t, uint64(i+1), got[i].ID)
	}
	assert.Equal(t, store.OpDelete, got[20].Op)
	assert.Equal(t, store.OpResync, got[21].Op)
	mu.Unlock()

	require.NoError(t, s.Unsubscribe(h))
	require.NoError(t, s.Unsubscribe(h), "unsubscribe is idempotent")
	assert.Zero(t, s.Subscribers(store.TableRouteMaps))
}

func TestHooks(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("feed down")
	s.SetSubscribeHook(func(table string) error {
		if table == store.TableWeatherReports {
			return boom
		}
		return nil
	})
	_, err := s.Subscribe(ctx, store.TableWeatherReports, 0, func(store.Change) {})
	assert.ErrorIs(t, err, boom)

	s.SetSelectHook(func(context.Context, string) error { return boom })
	_, err = s.Select(ctx, store.TableGallery, store.Filter{})
	assert.ErrorIs(t, err, boom)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Insert(cctx, store.TableGallery, store.Row{"title": "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

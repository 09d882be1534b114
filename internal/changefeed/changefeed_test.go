package changefeed_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iliyamo/temple-portals/internal/changefeed"
	"github.com/iliyamo/temple-portals/internal/store"
	"github.com/iliyamo/temple-portals/internal/store/memstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu      sync.Mutex
	events  []changefeed.Event
	resyncs int
	losses  int
	ch      chan struct{}
}

func newRecorder() *recorder { return &recorder{ch: make(chan struct{}, 64)} }

func (r *recorder) handlers() changefeed.Handlers {
	return changefeed.Handlers{
		OnChange: func(e changefeed.Event) {
			r.mu.Lock()
			r.events = append(r.events, e)
			r.mu.Unlock()
			r.ch <- struct{}{}
		},
		OnResync: func() {
			r.mu.Lock()
			r.resyncs++
			r.mu.Unlock()
			r.ch <- struct{}{}
		},
		OnLost: func() {
			r.mu.Lock()
			r.losses++
			r.mu.Unlock()
			r.ch <- struct{}{}
		},
	}
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.ch:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for delivery %d of %d", i+1, n)
		}
	}
}

func (r *recorder) snapshot() ([]changefeed.Event, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]changefeed.Event(nil), r.events...), r.resyncs
}

func newClient(st changefeed.Source, opts ...changefeed.Option) *changefeed.Client {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return changefeed.NewClient(st, logger, opts...)
}

func TestSubscribeDeliversInCommitOrder(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	rec := newRecorder()
	sub, err := newClient(st).Subscribe(ctx, store.TableWeatherReports, 0, nil, rec.handlers())
	require.NoError(t, err)
	defer sub.Close()

	for _, text := range []string{"a", "b", "c"} {
		_, err := st.Insert(ctx, store.TableWeatherReports, store.Row{"report": text})
		require.NoError(t, err)
	}
	rec.wait(t, 3)

	events, _ := rec.snapshot()
	require.Len(t, events, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, store.OpInsert, events[i].Kind)
		assert.Equal(t, want, events[i].Row.String("report"))
		assert.Equal(t, uint64(i+1), events[i].ID)
	}
}

func TestSubscribeMaskAndPredicate(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	rec := newRecorder()
	onlySeva := func(r store.Row) bool { return r.String("portal_type") == "seva" }
	sub, err := newClient(st).Subscribe(ctx, store.TableAnnouncements, store.EventInsert, onlySeva, rec.handlers())
	require.NoError(t, err)
	defer sub.Close()

	_, err = st.Insert(ctx, store.TableAnnouncements, store.Row{"portal_type": "devotee", "title": "d", "content": "x"})
	require.NoError(t, err)
	id, err := st.Insert(ctx, store.TableAnnouncements, store.Row{"portal_type": "seva", "title": "s", "content": "x"})
	require.NoError(t, err)
	require.NoError(t, st.Delete(ctx, store.TableAnnouncements, id))
	_, err = st.Insert(ctx, store.TableAnnouncements, store.Row{"portal_type": "seva", "title": "s2", "content": "x"})
	require.NoError(t, err)

	rec.wait(t, 2)
	events, _ := rec.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "s", events[0].Row.String("title"))
	assert.Equal(t, "s2", events[1].Row.String("title"))
}

func TestResyncSignal(t *testing.T) {
	st := memstore.New()
	rec := newRecorder()
	sub, err := newClient(st).Subscribe(context.Background(), store.TableGallery, 0, nil, rec.handlers())
	require.NoError(t, err)
	defer sub.Close()

	st.Interrupt(store.TableGallery)
	rec.wait(t, 1)
	events, resyncs := rec.snapshot()
	assert.Empty(t, events)
	assert.Equal(t, 1, resyncs)
}

func TestLostThenResyncSignals(t *testing.T) {
	st := memstore.New()
	rec := newRecorder()
	sub, err := newClient(st).Subscribe(context.Background(), store.TableGallery, store.EventInsert,
		func(store.Row) bool { return false }, rec.handlers())
	require.NoError(t, err)
	defer sub.Close()

	st.Disconnect(store.TableGallery)
	st.Interrupt(store.TableGallery)
	rec.wait(t, 2)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.events, "control signals bypass mask and predicate")
	assert.Equal(t, 1, rec.losses)
	assert.Equal(t, 1, rec.resyncs)
}

func TestSubscribeFailureIsFeedUnavailable(t *testing.T) {
	st := memstore.New()
	st.SetSubscribeHook(func(string) error { return errors.New("broker down") })
	_, err := newClient(st).Subscribe(context.Background(), store.TableGallery, 0, nil, newRecorder().handlers())
	require.ErrorIs(t, err, changefeed.ErrFeedUnavailable)
	assert.Equal(t, 0, st.Subscribers(store.TableGallery))
}

func TestSubscribeTimeoutReleasesLateSubscription(t *testing.T) {
	st := memstore.New()
	st.SetSubscribeHook(func(string) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	client := newClient(st, changefeed.WithSetupTimeout(10*time.Millisecond))
	_, err := client.Subscribe(context.Background(), store.TableRouteMaps, 0, nil, newRecorder().handlers())
	require.ErrorIs(t, err, changefeed.ErrFeedUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		return st.Subscribers(store.TableRouteMaps) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	rec := newRecorder()
	sub, err := newClient(st).Subscribe(ctx, store.TableWeatherReports, 0, nil, rec.handlers())
	require.NoError(t, err)
	require.Equal(t, 1, st.Subscribers(store.TableWeatherReports))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, st.Subscribers(store.TableWeatherReports))

	_, err = st.Insert(ctx, store.TableWeatherReports, store.Row{"report": "late"})
	require.NoError(t, err)
	events, _ := rec.snapshot()
	assert.Empty(t, events)
}

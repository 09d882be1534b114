package syncengine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iliyamo/temple-portals/internal/changefeed"
	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/repository"
	"github.com/iliyamo/temple-portals/internal/store"
	"github.com/iliyamo/temple-portals/internal/store/memstore"
	"github.com/iliyamo/temple-portals/internal/syncengine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

var fastRetry = syncengine.Options{RetryMin: 10 * time.Millisecond, RetryMax: 40 * time.Millisecond}

func newSession(st *memstore.Store, p model.PortalType) *syncengine.Session {
	logger := quietLogger()
	feed := changefeed.NewClient(st, logger, changefeed.WithSetupTimeout(time.Second))
	metrics := syncengine.NewMetrics(prometheus.NewRegistry())
	return syncengine.NewSession(p, st, feed, logger, metrics, fastRetry)
}

func TestWeatherLatestInEveryLiveSession(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	logger := quietLogger()
	mgr := syncengine.NewManager(st, changefeed.NewClient(st, logger), logger, nil, fastRetry)
	require.NoError(t, mgr.Start(ctx))
	defer mgr.Stop()

	weather := repository.NewWeatherRepo(st)
	require.NoError(t, weather.Insert(ctx, &model.WeatherReport{ReportText: "Sunny, 28°C"}))
	require.NoError(t, weather.Insert(ctx, &model.WeatherReport{ReportText: "Rain expected"}))

	latest, err := weather.GetLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Rain expected", latest.ReportText)

	for _, p := range model.Portals {
		s, ok := mgr.Session(p)
		require.True(t, ok)
		require.Eventually(t, func() bool {
			w, ok := s.CurrentWeather()
			return ok && w.ReportText == "Rain expected"
		}, waitFor, tick, "portal %s", p)
		assert.Equal(t, syncengine.Live, s.State())
	}
}

func TestStopReleasesEverySubscription(t *testing.T) {
	st := memstore.New()
	s := newSession(st, model.PortalManagement)
	require.NoError(t, s.Start(context.Background()))
	for _, res := range syncengine.Profile(model.PortalManagement) {
		assert.Equal(t, 1, st.Subscribers(res.Name), res.Name)
	}

	s.Stop()
	s.Stop()
	for _, table := range store.Tables {
		assert.Zero(t, st.Subscribers(table), table)
	}
	assert.Equal(t, syncengine.Disconnected, s.State())

	require.NoError(t, s.Start(context.Background()), "a stopped session can start again")
	s.Stop()
}

func TestStartTwiceFails(t *testing.T) {
	s := newSession(memstore.New(), model.PortalSeva)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.ErrorIs(t, s.Start(context.Background()), syncengine.ErrAlreadyStarted)
}

func TestLateInitialListIsDiscarded(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	_, err := st.Insert(ctx, store.TableRouteMaps, store.Row{"title": "Main road"})
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	st.SetSelectHook(func(_ context.Context, table string) error {
		if table == store.TableRouteMaps {
			once.Do(func() { close(entered) })
			<-release
		}
		return nil
	})

	s := newSession(st, model.PortalPilgrimage)
	startErr := make(chan error, 1)
	go func() { startErr <- s.Start(ctx) }()

	<-entered
	s.Stop()
	close(release)

	require.Error(t, <-startErr)
	assert.Equal(t, syncengine.Disconnected, s.State())
	assert.Empty(t, s.RouteMaps())
	for _, table := range store.Tables {
		assert.Zero(t, st.Subscribers(table), table)
	}
}

func TestStartCancelledReleasesSubscriptions(t *testing.T) {
	st := memstore.New()
	ctx, cancel := context.WithCancel(context.Background())
	st.SetSelectHook(func(c context.Context, table string) error {
		if table == store.TableTicketPrices {
			cancel()
			<-c.Done()
			return c.Err()
		}
		return nil
	})

	s := newSession(st, model.PortalSeva)
	err := s.Start(ctx)
	require.ErrorIs(t, err, context.Canceled)
	for _, table := range store.Tables {
		assert.Zero(t, st.Subscribers(table), table)
	}
}

func TestFeedUnavailableMarksStaleThenRecovers(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	prices := repository.NewTicketPriceRepo(st)
	vip := &model.TicketPrice{TicketType: "VIP", Price: decimal.NewFromInt(500)}
	require.NoError(t, prices.Insert(ctx, vip))

	var down atomic.Bool
	down.Store(true)
	st.SetSubscribeHook(func(table string) error {
		if table == store.TableTicketPrices && down.Load() {
			return errors.New("broker unreachable")
		}
		return nil
	})

	s := newSession(st, model.PortalSeva)
	require.NoError(t, s.Start(ctx), "feed outages degrade the session instead of failing it")
	defer s.Stop()

	assert.True(t, s.Stale(store.TableTicketPrices))
	assert.Equal(t, syncengine.Reconnecting, s.State())
	assert.Contains(t, s.Status().Stale, store.TableTicketPrices)
	require.Len(t, s.TicketPrices(), 1, "the view is still seeded by a read")

	down.Store(false)
	require.Eventually(t, func() bool {
		return s.State() == syncengine.Live && st.Subscribers(store.TableTicketPrices) == 1
	}, waitFor, tick)
	assert.False(t, s.Stale(store.TableTicketPrices))

	_, err := prices.UpdateByID(ctx, vip.ID, model.TicketPricePatch{Price: decimal.NewFromInt(650)})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		list := s.TicketPrices()
		return len(list) == 1 && list[0].Price.Equal(decimal.NewFromInt(650))
	}, waitFor, tick)
}

func TestResyncRereadsResource(t *testing.T) {
	st := memstore.New()
	var reads atomic.Int32
	st.SetSelectHook(func(_ context.Context, table string) error {
		if table == store.TableRouteMaps {
			reads.Add(1)
		}
		return nil
	})

	s := newSession(st, model.PortalDevotee)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Equal(t, int32(1), reads.Load())

	st.Interrupt(store.TableRouteMaps)
	require.Eventually(t, func() bool {
		return reads.Load() >= 2 && s.State() == syncengine.Live
	}, waitFor, tick)
	assert.False(t, s.Stale(store.TableRouteMaps))
}

func TestPendingAccountLeavesEveryManagementView(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	accounts := repository.NewPendingAccountRepo(st)
	first := &model.PendingAccount{Name: "Ramesh Kumar", Email: "ramesh@example.com", AssignedID: "SEVA001"}
	second := &model.PendingAccount{Name: "Lakshmi Devi", Email: "lakshmi@example.com", AssignedID: "SEVA002"}
	require.NoError(t, accounts.Insert(ctx, first))
	require.NoError(t, accounts.Insert(ctx, second))

	a := newSession(st, model.PortalManagement)
	b := newSession(st, model.PortalManagement)
	require.NoError(t, a.Start(ctx))
	defer a.Stop()
	require.NoError(t, b.Start(ctx))
	defer b.Stop()

	removed := make(chan syncengine.Event, 4)
	cancel := b.Subscribe(func(ev syncengine.Event) {
		if ev.Resource == store.TablePendingAccounts {
			removed <- ev
		}
	})
	defer cancel()

	require.Len(t, a.PendingAccounts(), 2)
	require.NoError(t, accounts.UpdateStatus(ctx, second.ID, model.AccountPending, model.AccountRejected))

	for _, s := range []*syncengine.Session{a, b} {
		require.Eventually(t, func() bool {
			list := s.PendingAccounts()
			return len(list) == 1 && list[0].ID == first.ID
		}, waitFor, tick)
	}

	select {
	case ev := <-removed:
		assert.Equal(t, store.OpDelete, ev.Kind)
		assert.Equal(t, second.ID, ev.ID)
		assert.Equal(t, model.PortalManagement, ev.Portal)
	case <-time.After(waitFor):
		t.Fatal("no removal event published")
	}
}

func TestAnnouncementsAreScopedPerSession(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	devotee := newSession(st, model.PortalDevotee)
	seva := newSession(st, model.PortalSeva)
	require.NoError(t, devotee.Start(ctx))
	defer devotee.Stop()
	require.NoError(t, seva.Start(ctx))
	defer seva.Stop()

	repo := repository.NewAnnouncementRepo(st)
	require.NoError(t, repo.Insert(ctx, &model.Announcement{PortalType: model.PortalDevotee, Title: "Darshan timing changed", Body: "From 5am"}))
	require.NoError(t, repo.Insert(ctx, &model.Announcement{PortalType: model.PortalSeva, Title: "Staff briefing", Body: "Hall B"}))

	require.Eventually(t, func() bool {
		return len(devotee.Announcements()) == 1 && len(seva.Announcements()) == 1
	}, waitFor, tick)
	assert.Equal(t, "Darshan timing changed", devotee.Announcements()[0].Title)
	assert.Equal(t, "Staff briefing", seva.Announcements()[0].Title)
}

func TestLostFeedStaysStaleUntilResync(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	s := newSession(st, model.PortalDevotee)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	st.Disconnect(store.TableRouteMaps)
	require.Eventually(t, func() bool {
		return s.Stale(store.TableRouteMaps) && s.State() == syncengine.Reconnecting
	}, waitFor, tick)

	routes := repository.NewRouteMapRepo(st)
	require.NoError(t, routes.Insert(ctx, &model.RouteMap{Title: "East gate", Description: "Via the tank", MapData: "geo:13.08,80.27"}))
	require.Eventually(t, func() bool { return len(s.RouteMaps()) == 1 }, waitFor, tick)
	assert.True(t, s.Stale(store.TableRouteMaps), "deliveries do not prove the feed is whole")

	st.Interrupt(store.TableRouteMaps)
	require.Eventually(t, func() bool {
		return !s.Stale(store.TableRouteMaps) && s.State() == syncengine.Live
	}, waitFor, tick)
}

func TestDroppedNotificationHealsOnRefresh(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	prices := repository.NewTicketPriceRepo(st)
	vip := &model.TicketPrice{TicketType: "VIP", Price: decimal.NewFromInt(500)}
	require.NoError(t, prices.Insert(ctx, vip))

	logger := quietLogger()
	opts := fastRetry
	opts.Refresh = 20 * time.Millisecond
	s := syncengine.NewSession(model.PortalSeva, st, changefeed.NewClient(st, logger), logger, nil, opts)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	var dropped atomic.Int32
	st.SetPublishHook(func(c store.Change) bool {
		if c.Table == store.TableTicketPrices {
			dropped.Add(1)
			return false
		}
		return true
	})
	_, err := prices.UpdateByID(ctx, vip.ID, model.TicketPricePatch{Price: decimal.NewFromInt(650)})
	require.NoError(t, err)
	require.Equal(t, int32(1), dropped.Load())

	require.Eventually(t, func() bool {
		list := s.TicketPrices()
		return len(list) == 1 && list[0].Price.Equal(decimal.NewFromInt(650))
	}, waitFor, tick)
	assert.Equal(t, syncengine.Live, s.State())
	assert.False(t, s.Stale(store.TableTicketPrices))
}

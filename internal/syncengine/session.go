// Package syncengine keeps one materialized view per resource for each
// portal session and republishes normalized change events to in-process
// subscribers such as the notification aggregator and websocket clients.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/temple-portals/internal/changefeed"
	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/store"
)

// State is the lifecycle state of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Live
	// Reconnecting means at least one resource lost its feed or its last
	// read failed. Views keep their last known content meanwhile.
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Reconnecting:
		return "reconnecting"
	}
	return "disconnected"
}

var (
	// ErrAlreadyStarted is returned by Start on a session that is not
	// disconnected.
	ErrAlreadyStarted = errors.New("session already started")

	errTornDown = errors.New("session torn down")
)

// Reader is the read half of store.Store.
type Reader interface {
	Select(ctx context.Context, table string, f store.Filter) ([]store.Row, error)
}

// Options tunes a Session's retry behaviour.
type Options struct {
	// RetryMin is the first delay after a failed attach. Default 1s.
	RetryMin time.Duration
	// RetryMax caps the doubling backoff. Default 30s.
	RetryMax time.Duration
	// Refresh is the interval of the background re-read of every resource.
	// Default 5m; a negative value disables it.
	Refresh time.Duration
}

func (o Options) withDefaults() Options {
	if o.RetryMin <= 0 {
		o.RetryMin = time.Second
	}
	if o.RetryMax < o.RetryMin {
		o.RetryMax = 30 * time.Second
		if o.RetryMax < o.RetryMin {
			o.RetryMax = o.RetryMin
		}
	}
	if o.Refresh == 0 {
		o.Refresh = 5 * time.Minute
	}
	return o
}

// Session mirrors a portal's resources. All view mutation happens under mu;
// events are published under pubMu, which is taken before mu is released so
// listeners observe changes in the order they were applied.
type Session struct {
	portal    model.PortalType
	reader    Reader
	feed      *changefeed.Client
	resources []Resource
	opts      Options
	log       *logrus.Entry
	metrics   *Metrics
	bus       *bus

	mu      sync.Mutex
	pubMu   sync.Mutex
	state   State
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	views   map[string]*View
	subs    map[string]*changefeed.Subscription
	seeding map[string][]changefeed.Event
	stale   map[string]bool
	lost    map[string]bool
	busy    map[string]bool
	dirty   map[string]bool
	wg      sync.WaitGroup
}

// NewSession builds a disconnected session for portal p.
func NewSession(p model.PortalType, reader Reader, feed *changefeed.Client, logger *logrus.Logger, metrics *Metrics, opts Options) *Session {
	return &Session{
		portal:    p,
		reader:    reader,
		feed:      feed,
		resources: Profile(p),
		opts:      opts.withDefaults(),
		log:       logger.WithFields(logrus.Fields{"component": "syncengine", "portal": string(p)}),
		metrics:   metrics,
		bus:       newBus(),
	}
}

// Portal returns the session's portal type.
func (s *Session) Portal() model.PortalType { return s.portal }

// Start seeds every view and attaches its feed subscription. A resource
// whose feed or read fails does not fail Start: it is marked stale and a
// background loop keeps retrying. Start only fails when ctx ends or Stop is
// called before it completes; in that case everything acquired so far has
// been released.
//
// ctx bounds the whole session, not just Start.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(ctx)
	s.ctx, s.cancel = ctx, cancel
	s.views = make(map[string]*View, len(s.resources))
	for _, res := range s.resources {
		s.views[res.Name] = NewView(res)
	}
	s.subs = make(map[string]*changefeed.Subscription)
	s.seeding = make(map[string][]changefeed.Event)
	s.stale = make(map[string]bool)
	s.lost = make(map[string]bool)
	s.busy = make(map[string]bool)
	s.dirty = make(map[string]bool)
	s.setStateLocked(Connecting)
	s.mu.Unlock()

	for _, res := range s.resources {
		s.mu.Lock()
		s.busy[res.Name] = true
		s.mu.Unlock()

		err := s.attach(ctx, gen, res)
		if errors.Is(err, errTornDown) || ctx.Err() != nil {
			s.teardown(gen)
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, errTornDown) {
				err = ctxErr
			}
			return fmt.Errorf("start %s session: %w", s.portal, err)
		}

		s.mu.Lock()
		s.finishAttemptLocked(gen, res, err)
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return fmt.Errorf("start %s session: %w", s.portal, errTornDown)
	}
	s.setStateLocked(Live)
	s.settleLocked()
	if s.opts.Refresh > 0 {
		s.wg.Add(1)
		go s.refresh(ctx, gen)
	}
	return nil
}

// Stop releases every subscription, cancels in-flight reads and waits for
// retry loops to exit. It is idempotent. It must not be called from a
// Subscribe listener.
func (s *Session) Stop() {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.teardown(gen)
}

func (s *Session) teardown(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state == Disconnected {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.cancel()
	subs := s.subs
	s.subs = make(map[string]*changefeed.Subscription)
	s.seeding = make(map[string][]changefeed.Event)
	s.views = nil
	s.setStateLocked(Disconnected)
	s.mu.Unlock()

	for name, sub := range subs {
		if err := sub.Close(); err != nil {
			s.log.WithError(err).WithField("resource", name).Warn("unsubscribe failed")
		}
	}
	s.wg.Wait()
	s.log.Info("session stopped")
}

// attach makes sure res has a subscription and reconciles its view with a
// fresh read. Events arriving during the read are buffered and applied
// afterwards, so nothing committed after the read began is lost.
func (s *Session) attach(ctx context.Context, gen uint64, res Resource) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return errTornDown
	}
	needSub := s.subs[res.Name] == nil
	if _, ok := s.seeding[res.Name]; !ok {
		s.seeding[res.Name] = nil
	}
	delete(s.dirty, res.Name)
	s.mu.Unlock()

	var (
		sub    *changefeed.Subscription
		subErr error
	)
	if needSub {
		sub, subErr = s.feed.Subscribe(ctx, res.Name, res.Mask, res.FeedFilter, s.handlers(gen, res))
		if subErr != nil {
			s.metrics.feedFailed(s.portal, res.Name)
			s.log.WithError(subErr).WithField("resource", res.Name).Warn("feed unavailable, serving last known view")
		}
	}

	rows, listErr := s.reader.Select(ctx, res.Name, res.Filter)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		if sub != nil {
			_ = sub.Close()
		}
		return errTornDown
	}
	if sub != nil {
		s.subs[res.Name] = sub
	}

	var out []Event
	if listErr == nil {
		out = s.reconcileLocked(res, rows)
	} else {
		s.metrics.listFailed(s.portal, res.Name)
		s.log.WithError(listErr).WithField("resource", res.Name).Warn("list failed")
	}
	buffered := s.seeding[res.Name]
	delete(s.seeding, res.Name)
	for _, ev := range buffered {
		out = append(out, s.applyLocked(res, ev)...)
	}

	if listErr == nil && s.subs[res.Name] != nil && !s.lost[res.Name] {
		delete(s.stale, res.Name)
	} else {
		s.stale[res.Name] = true
	}
	s.settleLocked()
	s.publishAndUnlock(out)

	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Join(subErr, listErr)
}

func (s *Session) handlers(gen uint64, res Resource) changefeed.Handlers {
	return changefeed.Handlers{
		OnChange: func(ev changefeed.Event) { s.onChange(gen, res, ev) },
		OnResync: func() { s.onResync(gen, res) },
		OnLost:   func() { s.onLost(gen, res) },
	}
}

func (s *Session) onChange(gen uint64, res Resource, ev changefeed.Event) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if buf, seeding := s.seeding[res.Name]; seeding {
		s.seeding[res.Name] = append(buf, ev)
		s.mu.Unlock()
		return
	}
	s.publishAndUnlock(s.applyLocked(res, ev))
}

// onResync runs on the subscription's dispatcher, so the re-read is handed
// to a retry loop instead of being done inline.
func (s *Session) onResync(gen uint64, res Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.metrics.resync(s.portal, res.Name)
	delete(s.lost, res.Name)
	s.stale[res.Name] = true
	s.dirty[res.Name] = true
	if s.state == Live {
		s.setStateLocked(Reconnecting)
	}
	if !s.busy[res.Name] {
		s.busy[res.Name] = true
		s.spawnRetryLocked(gen, res, 0)
	}
}

// onLost marks res stale until the transport reconnects and sends a resync.
// Reads keep working meanwhile but cannot clear the flag.
func (s *Session) onLost(gen uint64, res Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.lost[res.Name] = true
	s.stale[res.Name] = true
	s.settleLocked()
}

// refresh re-reads every idle resource on a fixed interval, so a change
// whose notification was dropped still reaches the view.
func (s *Session) refresh(ctx context.Context, gen uint64) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.Refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		for _, res := range s.resources {
			if s.busy[res.Name] {
				continue
			}
			s.busy[res.Name] = true
			s.spawnRetryLocked(gen, res, 0)
		}
		s.mu.Unlock()
	}
}

// finishAttemptLocked decides whether res needs another attempt after an
// attach returned err.
func (s *Session) finishAttemptLocked(gen uint64, res Resource, err error) {
	if s.gen != gen {
		return
	}
	switch {
	case err != nil:
		s.spawnRetryLocked(gen, res, s.opts.RetryMin)
	case s.dirty[res.Name]:
		s.spawnRetryLocked(gen, res, 0)
	default:
		delete(s.busy, res.Name)
	}
}

// spawnRetryLocked starts the retry loop for res. The caller holds mu and
// has checked gen, so the WaitGroup is never grown after teardown.
func (s *Session) spawnRetryLocked(gen uint64, res Resource, delay time.Duration) {
	s.wg.Add(1)
	go s.retry(s.ctx, gen, res, delay)
}

func (s *Session) retry(ctx context.Context, gen uint64, res Resource, delay time.Duration) {
	defer s.wg.Done()
	backoff := s.opts.RetryMin
	for {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		err := s.attach(ctx, gen, res)
		if errors.Is(err, errTornDown) || ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		switch {
		case err != nil:
			delay = backoff
			backoff = min(backoff*2, s.opts.RetryMax)
		case s.dirty[res.Name]:
			delay = 0
		default:
			delete(s.busy, res.Name)
			s.mu.Unlock()
			s.log.WithField("resource", res.Name).Info("resource resynchronized")
			return
		}
		s.mu.Unlock()
	}
}

func (s *Session) applyLocked(res Resource, ev changefeed.Event) []Event {
	v := s.views[res.Name]
	o := v.Apply(ev)
	s.metrics.outcome(s.portal, res.Name, o)
	if o == Unchanged {
		return nil
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts, _ = ev.Row.Time(store.TimestampColumn(res.Name))
	}
	return []Event{{
		Portal:    s.portal,
		Resource:  res.Name,
		Kind:      kindOf(o),
		ID:        ev.ID,
		Row:       ev.Row.Clone(),
		Timestamp: ts,
	}}
}

func (s *Session) reconcileLocked(res Resource, rows []store.Row) []Event {
	diff := s.views[res.Name].Reconcile(rows)
	out := make([]Event, 0, len(diff))
	for _, d := range diff {
		s.metrics.outcome(s.portal, res.Name, d.Outcome)
		out = append(out, Event{
			Portal:    s.portal,
			Resource:  res.Name,
			Kind:      kindOf(d.Outcome),
			ID:        d.ID,
			Row:       d.Row.Clone(),
			Timestamp: d.TS,
		})
	}
	return out
}

// publishAndUnlock releases mu and hands events to listeners while holding
// pubMu, so publication order matches application order.
func (s *Session) publishAndUnlock(events []Event) {
	if len(events) == 0 {
		s.mu.Unlock()
		return
	}
	s.pubMu.Lock()
	s.mu.Unlock()
	defer s.pubMu.Unlock()
	s.bus.publish(events)
}

// settleLocked moves a running session between Live and Reconnecting
// according to the stale set.
func (s *Session) settleLocked() {
	if s.state != Live && s.state != Reconnecting {
		return
	}
	if len(s.stale) > 0 {
		s.setStateLocked(Reconnecting)
	} else {
		s.setStateLocked(Live)
	}
}

func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.log.WithFields(logrus.Fields{"from": s.state.String(), "to": next.String()}).Info("session state")
	s.state = next
	s.metrics.setState(s.portal, next)
}

// Subscribe registers fn for every normalized event of this session. fn
// runs on a feed goroutine; it must not block and must not call back into
// the session.
func (s *Session) Subscribe(fn func(Event)) (cancel func()) {
	return s.bus.subscribe(fn)
}

// Status is a snapshot of a session for staleness indicators.
type Status struct {
	Portal    model.PortalType `json:"portal"`
	State     string           `json:"state"`
	Stale     []string         `json:"stale"`
	Resources map[string]int   `json:"resources"`
}

// Status returns the current state, the stale resources and view sizes.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Portal:    s.portal,
		State:     s.state.String(),
		Stale:     make([]string, 0, len(s.stale)),
		Resources: make(map[string]int, len(s.views)),
	}
	for name := range s.stale {
		st.Stale = append(st.Stale, name)
	}
	sort.Strings(st.Stale)
	for name, v := range s.views {
		st.Resources[name] = v.Len()
	}
	return st
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stale reports whether the named resource's view may be behind the store.
func (s *Session) Stale(resource string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale[resource]
}

// Rows returns the current view of resource in display order, and false
// when the portal does not mirror it.
func (s *Session) Rows(resource string) ([]store.Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[resource]
	if !ok {
		return nil, false
	}
	return v.Rows(), true
}

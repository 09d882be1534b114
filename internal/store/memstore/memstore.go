// Package memstore is an in-process implementation of store.Store. It backs
// FEED_BACKEND=memory deployments and the package tests. Changes are
// delivered to each subscription by a dedicated goroutine in commit order.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/temple-portals/internal/store"
)

type table struct {
	nextID uint64
	rows   map[uint64]store.Row
}

// Store keeps every table in memory.
type Store struct {
	mu     sync.Mutex
	tables map[string]*table
	subs   map[store.Handle]*subscription
	now    func() time.Time

	subscribeHook func(table string) error
	selectHook    func(ctx context.Context, table string) error
	publishHook   func(c store.Change) bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for generated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store with every known table created.
func New(opts ...Option) *Store {
	s := &Store{
		tables: make(map[string]*table, len(store.Tables)),
		subs:   make(map[store.Handle]*subscription),
		now:    time.Now,
	}
	for _, name := range store.Tables {
		s.tables[name] = &table{rows: make(map[uint64]store.Row)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetSubscribeHook installs a function consulted before each Subscribe. A
// non-nil error fails the subscription. Used to simulate feed outages.
func (s *Store) SetSubscribeHook(fn func(table string) error) {
	s.mu.Lock()
	s.subscribeHook = fn
	s.mu.Unlock()
}

// SetSelectHook installs a function run before each Select, outside the
// store lock. Used to simulate slow or failing reads.
func (s *Store) SetSelectHook(fn func(ctx context.Context, table string) error) {
	s.mu.Lock()
	s.selectHook = fn
	s.mu.Unlock()
}

// SetPublishHook installs a function consulted before a committed change is
// delivered. Returning false drops the change for every subscriber, as a
// failed broker publish would.
func (s *Store) SetPublishHook(fn func(c store.Change) bool) {
	s.mu.Lock()
	s.publishHook = fn
	s.mu.Unlock()
}

func (s *Store) table(name string) (*table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, name)
	}
	return t, nil
}

// Select implements store.Store.
func (s *Store) Select(ctx context.Context, name string, f store.Filter) ([]store.Row, error) {
	s.mu.Lock()
	hook := s.selectHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, name); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.CheckColumns(name, f.Eq); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(name)
	if err != nil {
		return nil, err
	}
	out := make([]store.Row, 0, len(t.rows))
	for _, r := range t.rows {
		if r.Matches(f.Eq) {
			out = append(out, r.Clone())
		}
	}
	sortRows(out, f.OrderBy, f.Desc)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Insert implements store.Store.
func (s *Store) Insert(ctx context.Context, name string, row store.Row) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := store.CheckColumns(name, row); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(name)
	if err != nil {
		return 0, err
	}
	if err := t.checkUnique(name, 0, row); err != nil {
		return 0, err
	}
	t.nextID++
	id := t.nextID
	stored := row.Clone()
	stored["id"] = id
	cols, _ := store.Columns(name)
	now := s.now().UTC()
	for _, col := range []string{"created_at", "updated_at"} {
		if _, ok := stored[col]; !ok && slices.Contains(cols, col) {
			stored[col] = now
		}
	}
	if name == store.TableTicketPrices {
		if _, ok := stored["version"]; !ok {
			stored["version"] = uint64(1)
		}
	}
	t.rows[id] = stored
	s.publishLocked(name, store.OpInsert, id, stored)
	return id, nil
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, name string, id uint64, patch store.Row, expect store.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.CheckColumns(name, patch); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(name)
	if err != nil {
		return err
	}
	cur, ok := t.rows[id]
	if !ok {
		return store.ErrNoRow
	}
	if !cur.Matches(expect) {
		return store.ErrConditionFailed
	}
	if err := t.checkUnique(name, id, patch); err != nil {
		return err
	}
	next := cur.Clone()
	for k, v := range patch {
		if k == "id" {
			continue
		}
		next[k] = v
	}
	t.rows[id] = next
	s.publishLocked(name, store.OpUpdate, id, next)
	return nil
}

// Delete removes a row. It is not part of the core contract; it exists so
// that delete notifications can be produced.
func (s *Store) Delete(ctx context.Context, name string, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(name)
	if err != nil {
		return err
	}
	cur, ok := t.rows[id]
	if !ok {
		return store.ErrNoRow
	}
	delete(t.rows, id)
	s.publishLocked(name, store.OpDelete, id, cur)
	return nil
}

func (t *table) checkUnique(name string, selfID uint64, row store.Row) error {
	for _, col := range store.UniqueColumns(name) {
		v, ok := row[col]
		if !ok {
			continue
		}
		for id, existing := range t.rows {
			if id != selfID && existing.Matches(map[string]any{col: v}) {
				return fmt.Errorf("%w: %s.%s", store.ErrUniqueViolation, name, col)
			}
		}
	}
	return nil
}

// publishLocked enqueues the change on every matching subscription. It runs
// under s.mu so queue order equals commit order.
func (s *Store) publishLocked(name string, op store.Op, id uint64, row store.Row) {
	ts, _ := row.Time(store.TimestampColumn(name))
	if ts.IsZero() {
		ts = s.now().UTC()
	}
	ch := store.Change{Table: name, Op: op, ID: id, Row: row.Clone(), Timestamp: ts}
	if s.publishHook != nil && !s.publishHook(ch) {
		return
	}
	for _, sub := range s.subs {
		if sub.table == name && sub.mask.Has(op) {
			sub.enqueue(ch)
		}
	}
}

// Subscribe implements store.Store.
func (s *Store) Subscribe(ctx context.Context, name string, mask store.EventMask, h store.Handler) (store.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.table(name); err != nil {
		return "", err
	}
	if s.subscribeHook != nil {
		if err := s.subscribeHook(name); err != nil {
			return "", err
		}
	}
	handle := store.Handle(uuid.NewString())
	sub := newSubscription(name, mask, h)
	s.subs[handle] = sub
	go sub.run()
	return handle, nil
}

// Unsubscribe implements store.Store. It waits for the subscription's
// dispatcher to exit, so it must not be called from inside that
// subscription's handler.
func (s *Store) Unsubscribe(h store.Handle) error {
	s.mu.Lock()
	sub, ok := s.subs[h]
	delete(s.subs, h)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	sub.stop()
	return nil
}

// Interrupt simulates a transport reconnect: every subscriber of the table
// receives a resync signal.
func (s *Store) Interrupt(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.table == name {
			sub.enqueue(store.Change{Table: name, Op: store.OpResync, Timestamp: s.now().UTC()})
		}
	}
}

// Disconnect simulates a transport outage: every subscriber of the table
// receives a lost signal. Interrupt ends the outage.
func (s *Store) Disconnect(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.table == name {
			sub.enqueue(store.Change{Table: name, Op: store.OpLost, Timestamp: s.now().UTC()})
		}
	}
}

// Subscribers reports the number of active subscriptions on a table.
func (s *Store) Subscribers(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sub := range s.subs {
		if sub.table == name {
			n++
		}
	}
	return n
}

func sortRows(rows []store.Row, col string, desc bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		c := compare(rows[i], rows[j], col)
		if c == 0 {
			c = compareUint(rows[i].ID(), rows[j].ID())
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compare(a, b store.Row, col string) int {
	if col == "" {
		return 0
	}
	if ta, err := a.Time(col); err == nil && !ta.IsZero() {
		if tb, err := b.Time(col); err == nil {
			return ta.Compare(tb)
		}
	}
	if ua, err := a.Uint64(col); err == nil {
		if ub, err := b.Uint64(col); err == nil {
			return compareUint(ua, ub)
		}
	}
	sa, sb := a.String(col), b.String(col)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

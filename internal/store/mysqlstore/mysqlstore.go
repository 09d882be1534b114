// Package mysqlstore implements store.Store on MySQL. Committed changes are
// published to a Broker (Redis Pub/Sub or RabbitMQ) which also serves the
// subscriptions, so every server process observes every other process's
// writes.
package mysqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/temple-portals/internal/store"
)

// mysqlDuplicateEntry is the server error number for a unique key collision.
const mysqlDuplicateEntry = 1062

// postCommitTimeout bounds the read-back and publish that follow a write.
const postCommitTimeout = 5 * time.Second

// Broker carries change notifications between processes.
type Broker interface {
	Publish(ctx context.Context, c store.Change) error
	Subscribe(ctx context.Context, table string, mask store.EventMask, h store.Handler) (store.Handle, error)
	Unsubscribe(h store.Handle) error
}

// Store is a MySQL-backed store.Store.
type Store struct {
	db     *sql.DB
	broker Broker
	log    *logrus.Entry
}

// New wires a database handle and a broker. Neither may be nil.
func New(db *sql.DB, broker Broker, logger *logrus.Logger) *Store {
	if db == nil || broker == nil {
		panic("nil dependency passed to mysqlstore.New")
	}
	return &Store{db: db, broker: broker, log: logger.WithField("component", "mysqlstore")}
}

// Select implements store.Store.
func (s *Store) Select(ctx context.Context, table string, f store.Filter) ([]store.Row, error) {
	if err := store.CheckColumns(table, f.Eq); err != nil {
		return nil, err
	}
	q, args, err := buildSelect(table, f)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func buildSelect(table string, f store.Filter) (string, []any, error) {
	cols, err := store.Columns(table)
	if err != nil {
		return "", nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(cols, ", "), table)
	keys := sortedKeys(f.Eq)
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(k + " = ?")
		args = append(args, f.Eq[k])
	}
	if f.OrderBy != "" {
		if err := store.CheckColumns(table, map[string]any{f.OrderBy: nil}); err != nil {
			return "", nil, err
		}
		dir := "ASC"
		if f.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s, id %s", f.OrderBy, dir, dir)
	}
	if f.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", f.Limit)
	}
	return b.String(), args, nil
}

func scanRows(rows *sql.Rows) ([]store.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []store.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(store.Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				r[c] = string(b)
				continue
			}
			r[c] = vals[i]
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) selectByID(ctx context.Context, table string, id uint64) (store.Row, error) {
	rows, err := s.Select(ctx, table, store.Filter{Eq: map[string]any{"id": id}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNoRow
	}
	return rows[0], nil
}

// Insert implements store.Store. The inserted row is read back so that the
// published change carries database defaults such as created_at.
func (s *Store) Insert(ctx context.Context, table string, row store.Row) (uint64, error) {
	if err := store.CheckColumns(table, row); err != nil {
		return 0, err
	}
	keys := sortedKeys(row)
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		args = append(args, row[k])
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(keys, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", "))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, translate(err)
	}
	id64, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	id := uint64(id64)
	s.afterCommit(ctx, table, store.OpInsert, id)
	return id, nil
}

// Update implements store.Store. The DSN must enable clientFoundRows so that
// an update writing identical values still counts as matched.
func (s *Store) Update(ctx context.Context, table string, id uint64, patch store.Row, expect store.Row) error {
	if err := store.CheckColumns(table, patch); err != nil {
		return err
	}
	if err := store.CheckColumns(table, expect); err != nil {
		return err
	}
	patch = patch.Clone()
	delete(patch, "id")
	if len(patch) == 0 {
		return fmt.Errorf("%w: empty patch", store.ErrUnknownColumn)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "UPDATE %s SET ", table)
	args := make([]any, 0, len(patch)+len(expect)+1)
	for i, k := range sortedKeys(patch) {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k + " = ?")
		args = append(args, patch[k])
	}
	b.WriteString(" WHERE id = ?")
	args = append(args, id)
	for _, k := range sortedKeys(expect) {
		b.WriteString(" AND " + k + " = ?")
		args = append(args, expect[k])
	}

	res, err := s.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var one int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNoRow
		}
		if err != nil {
			return err
		}
		return store.ErrConditionFailed
	}

	s.afterCommit(ctx, table, store.OpUpdate, id)
	return nil
}

// afterCommit reads the committed row back and publishes it. It outlives a
// cancelled caller, since the write has already happened, and it never fails
// the write: a lost notification is healed by the subscribers' periodic
// re-read.
func (s *Store) afterCommit(ctx context.Context, table string, op store.Op, id uint64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postCommitTimeout)
	defer cancel()
	fresh, err := s.selectByID(ctx, table, id)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"table": table, "op": op, "id": id}).Warn("read-back after commit failed")
		return
	}
	s.publish(ctx, table, op, id, fresh)
}

func (s *Store) publish(ctx context.Context, table string, op store.Op, id uint64, row store.Row) {
	ts, err := row.Time(store.TimestampColumn(table))
	if err != nil {
		s.log.WithError(err).WithField("table", table).Warn("change without timestamp")
	}
	c := store.Change{Table: table, Op: op, ID: id, Row: row, Timestamp: ts}
	if err := s.broker.Publish(ctx, c); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"table": table,
			"op":    op,
			"id":    id,
		}).Error("publish change failed")
	}
}

// Subscribe implements store.Store by delegating to the broker.
func (s *Store) Subscribe(ctx context.Context, table string, mask store.EventMask, h store.Handler) (store.Handle, error) {
	if _, err := store.Columns(table); err != nil {
		return "", err
	}
	return s.broker.Subscribe(ctx, table, mask, h)
}

// Unsubscribe implements store.Store.
func (s *Store) Unsubscribe(h store.Handle) error {
	return s.broker.Unsubscribe(h)
}

func translate(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
		return fmt.Errorf("%w: %s", store.ErrUniqueViolation, me.Message)
	}
	return err
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

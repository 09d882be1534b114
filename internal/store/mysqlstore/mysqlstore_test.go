package mysqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/temple-portals/internal/store"
)

func TestBuildSelect(t *testing.T) {
	cases := []struct {
		name  string
		table string
		f     store.Filter
		query string
		args  []any
	}{
		{
			name:  "plain",
			table: store.TableRouteMaps,
			query: "SELECT id, title, description, map_data, created_at FROM route_maps",
		},
		{
			name:  "latest weather",
			table: store.TableWeatherReports,
			f:     store.Filter{OrderBy: "created_at", Desc: true, Limit: 1},
			query: "SELECT id, report, created_at FROM weather_reports ORDER BY created_at DESC, id DESC LIMIT 1",
		},
		{
			name:  "scoped announcements",
			table: store.TableAnnouncements,
			f:     store.Filter{Eq: map[string]any{"portal_type": "seva", "id": 3}, OrderBy: "created_at"},
			query: "SELECT id, portal_type, title, content, created_at FROM announcements WHERE id = ? AND portal_type = ? ORDER BY created_at ASC, id ASC",
			args:  []any{3, "seva"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, args, err := buildSelect(tc.table, tc.f)
			require.NoError(t, err)
			assert.Equal(t, tc.query, q)
			if tc.args == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tc.args, args)
			}
		})
	}
}

func TestBuildSelectRejectsUnknownNames(t *testing.T) {
	_, _, err := buildSelect("seats", store.Filter{})
	assert.ErrorIs(t, err, store.ErrUnknownTable)
	_, _, err = buildSelect(store.TableGallery, store.Filter{OrderBy: "created_at; DROP TABLE gallery"})
	assert.ErrorIs(t, err, store.ErrUnknownColumn)
}

func TestTranslateDuplicateEntry(t *testing.T) {
	err := translate(&mysql.MySQLError{Number: mysqlDuplicateEntry, Message: "Duplicate entry 'VIP'"})
	assert.ErrorIs(t, err, store.ErrUniqueViolation)

	other := errors.New("connection refused")
	assert.Equal(t, other, translate(other))
}

type recordingBroker struct {
	mu      sync.Mutex
	changes []store.Change
	ctxErrs []error
	fail    error
}

func (b *recordingBroker) Publish(ctx context.Context, c store.Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changes = append(b.changes, c)
	b.ctxErrs = append(b.ctxErrs, ctx.Err())
	return b.fail
}

func (b *recordingBroker) Subscribe(context.Context, string, store.EventMask, store.Handler) (store.Handle, error) {
	return "", nil
}

func (b *recordingBroker) Unsubscribe(store.Handle) error { return nil }

func TestAfterCommitOutlivesCancelledCaller(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	broker := &recordingBroker{}
	s := New(db, broker, logger)

	updated := time.Date(2026, 10, 19, 5, 30, 0, 123456000, time.UTC)
	mock.ExpectQuery("SELECT id, ticket_type, price, version, updated_at FROM ticket_prices WHERE id = ? LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "ticket_type", "price", "version", "updated_at"}).
			AddRow(int64(7), []byte("VIP"), []byte("650.00"), int64(2), updated))

	// The client disconnected after the UPDATE committed.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.afterCommit(ctx, store.TableTicketPrices, store.OpUpdate, 7)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, broker.changes, 1)
	c := broker.changes[0]
	assert.Equal(t, store.OpUpdate, c.Op)
	assert.Equal(t, uint64(7), c.ID)
	assert.Equal(t, "650.00", c.Row.String("price"))
	assert.True(t, updated.Equal(c.Timestamp))
	assert.NoError(t, broker.ctxErrs[0], "publish ran on a live context")
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	broker := &recordingBroker{fail: errors.New("broker down")}
	s := New(db, broker, logger)

	created := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO weather_reports (report) VALUES (?)").
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectQuery("SELECT id, report, created_at FROM weather_reports WHERE id = ? LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "report", "created_at"}).
			AddRow(int64(5), []byte("Clear skies"), created))

	id, err := s.Insert(context.Background(), store.TableWeatherReports, store.Row{"report": "Clear skies"})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), id)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, broker.changes, 1)
	assert.Equal(t, store.OpInsert, broker.changes[0].Op)
}

package repository

import (
	"context"
	"time"

	"github.com/iliyamo/temple-portals/internal/store"
)

// Order selects the direction of a time-ordered listing.
type Order int

const (
	NewestFirst Order = iota
	OldestFirst
)

// ListOptions controls ordering and size of a List call. A zero Limit
// returns every row.
type ListOptions struct {
	Order Order
	Limit int
}

func (o ListOptions) filter(orderBy string, eq map[string]any) store.Filter {
	return store.Filter{Eq: eq, OrderBy: orderBy, Desc: o.Order == NewestFirst, Limit: o.Limit}
}

// getByID reads a single row or returns ErrNotFound.
func getByID(ctx context.Context, st store.Store, table string, id uint64) (store.Row, error) {
	rows, err := st.Select(ctx, table, store.Filter{Eq: map[string]any{"id": id}, Limit: 1})
	if err != nil {
		return nil, storeErr("select "+table, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// now is the write timestamp source. MySQL DATETIME(6) keeps microseconds,
// so stored and published values compare equal after a round trip.
var now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

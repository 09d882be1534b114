// Package store defines the boundary between the portal core and the durable
// store. Tables are addressed by name and rows are flat maps of column name to
// scalar value. Implementations live in the memstore and mysqlstore
// subpackages.
package store

import (
	"context"
	"errors"
	"time"
)

// Table names shared by every implementation.
const (
	TableWeatherReports  = "weather_reports"
	TableAnnouncements   = "announcements"
	TableTicketPrices    = "ticket_prices"
	TableRouteMaps       = "route_maps"
	TableGallery         = "gallery"
	TablePendingAccounts = "pending_accounts"
)

// Tables lists every table known to the core.
var Tables = []string{
	TableWeatherReports,
	TableAnnouncements,
	TableTicketPrices,
	TableRouteMaps,
	TableGallery,
	TablePendingAccounts,
}

var (
	// ErrNoRow is returned by Update when no row has the given id.
	ErrNoRow = errors.New("store: no such row")
	// ErrConditionFailed is returned by Update when the row exists but does
	// not match the expected column values.
	ErrConditionFailed = errors.New("store: condition failed")
	// ErrUniqueViolation is returned when an insert or update collides with a
	// unique column.
	ErrUniqueViolation = errors.New("store: unique violation")
	// ErrUnknownTable is returned for table names outside Tables.
	ErrUnknownTable = errors.New("store: unknown table")
	// ErrUnknownColumn is returned for columns the table does not define.
	ErrUnknownColumn = errors.New("store: unknown column")
)

// Op is the kind of a committed change.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	// OpResync is a control signal sent after a transport reconnect. It
	// carries no row; subscribers must reconcile with a fresh read.
	OpResync Op = "resync"
	// OpLost is a control signal sent when a transport connection drops.
	// Changes may be missed until the OpResync that follows the reconnect.
	OpLost Op = "lost"
)

// EventMask selects which operations a subscription receives.
type EventMask uint8

const (
	EventInsert EventMask = 1 << iota
	EventUpdate
	EventDelete

	EventAll = EventInsert | EventUpdate | EventDelete
)

// Has reports whether op passes the mask. The zero mask means all events and
// control signals always pass.
func (m EventMask) Has(op Op) bool {
	if m == 0 {
		m = EventAll
	}
	switch op {
	case OpInsert:
		return m&EventInsert != 0
	case OpUpdate:
		return m&EventUpdate != 0
	case OpDelete:
		return m&EventDelete != 0
	case OpResync, OpLost:
		return true
	}
	return false
}

// Change is a single committed modification of a row.
type Change struct {
	Table     string    `json:"table"`
	Op        Op        `json:"op"`
	ID        uint64    `json:"id"`
	Row       Row       `json:"row,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Filter narrows a Select. Eq columns are ANDed together.
type Filter struct {
	Eq      map[string]any
	OrderBy string
	Desc    bool
	Limit   int
}

// Handle identifies an active subscription.
type Handle string

// Handler receives changes for a subscription. Calls for one subscription are
// serialized and follow the store's commit order.
type Handler func(Change)

// Store is the contract the core requires from the durable store: point
// reads, inserts, per-row compare-and-set updates and change subscriptions.
type Store interface {
	Select(ctx context.Context, table string, f Filter) ([]Row, error)
	// Insert stores row and returns the generated id.
	Insert(ctx context.Context, table string, row Row) (uint64, error)
	// Update applies patch to the row with the given id. When expect is not
	// empty, every listed column must currently hold the given value or
	// ErrConditionFailed is returned and nothing changes.
	Update(ctx context.Context, table string, id uint64, patch Row, expect Row) error
	Subscribe(ctx context.Context, table string, mask EventMask, h Handler) (Handle, error)
	Unsubscribe(h Handle) error
}

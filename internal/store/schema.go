package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// columns is the per-table column whitelist. Implementations that build SQL
// from Row keys validate against it.
var columns = map[string][]string{
	TableWeatherReports:  {"id", "report", "created_at"},
	TableAnnouncements:   {"id", "portal_type", "title", "content", "created_at"},
	TableTicketPrices:    {"id", "ticket_type", "price", "version", "updated_at"},
	TableRouteMaps:       {"id", "title", "description", "map_data", "created_at"},
	TableGallery:         {"id", "title", "description", "image_url", "created_at"},
	TablePendingAccounts: {"id", "name", "email", "assigned_id", "status", "created_at", "updated_at"},
}

// uniqueColumns lists columns that must be unique across a table besides id.
var uniqueColumns = map[string][]string{
	TableTicketPrices: {"ticket_type"},
}

// TimestampColumn is the column used to order and dedupe changes for a table.
func TimestampColumn(table string) string {
	switch table {
	case TableTicketPrices, TablePendingAccounts:
		return "updated_at"
	}
	return "created_at"
}

// Columns returns the column whitelist for a table.
func Columns(table string) ([]string, error) {
	cols, ok := columns[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return cols, nil
}

// UniqueColumns returns the unique business keys of a table.
func UniqueColumns(table string) []string {
	return uniqueColumns[table]
}

// CheckColumns verifies that every key of row is a column of table.
func CheckColumns(table string, row map[string]any) error {
	cols, err := Columns(table)
	if err != nil {
		return err
	}
	for k := range row {
		if !slices.Contains(cols, k) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, k)
		}
	}
	return nil
}

// timeColumns lists the columns that hold timestamps in every table.
var timeColumns = []string{"created_at", "updated_at"}

// EncodeChange serializes a change for a message broker.
func EncodeChange(c Change) ([]byte, error) {
	return json.Marshal(c)
}

// DecodeChange parses a change produced by EncodeChange. Row values come
// back in the types a SQL read produces: timestamps as UTC time.Time and
// integers as int64.
func DecodeChange(body []byte) (Change, error) {
	var c Change
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&c); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	for k, v := range c.Row {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			c.Row[k] = i
		} else if f, err := n.Float64(); err == nil {
			c.Row[k] = f
		}
	}
	for _, col := range timeColumns {
		if _, ok := c.Row[col].(string); !ok {
			continue
		}
		t, err := c.Row.Time(col)
		if err != nil {
			return Change{}, fmt.Errorf("decode change: %w", err)
		}
		c.Row[col] = t
	}
	return c, nil
}

package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Row is a flat mapping of column name to scalar value.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the column as a string. Byte slices from SQL drivers are
// converted; nil yields "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Uint64 returns the column as an unsigned integer. JSON numbers decode as
// float64 and MySQL may hand back []byte, both are accepted.
func (r Row) Uint64(col string) (uint64, error) {
	switch v := r[col].(type) {
	case uint64:
		return v, nil
	case int64:
		return uint64(v), nil
	case int:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case int32:
		return uint64(v), nil
	case float64:
		return uint64(v), nil
	case string:
		return strconv.ParseUint(v, 10, 64)
	case []byte:
		return strconv.ParseUint(string(v), 10, 64)
	case nil:
		return 0, fmt.Errorf("column %s is null", col)
	default:
		return 0, fmt.Errorf("column %s: unsupported type %T", col, v)
	}
}

// ID is shorthand for Uint64("id") that swallows the error.
func (r Row) ID() uint64 {
	id, _ := r.Uint64("id")
	return id
}

// timeLayouts are tried in order when a timestamp arrives as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// Time returns the column as a UTC time. Missing columns yield the zero time.
func (r Row) Time(col string) (time.Time, error) {
	var s string
	switch v := r[col].(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v.UTC(), nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return time.Time{}, fmt.Errorf("column %s: unsupported type %T", col, v)
	}
	if t, ok := parseTime(s); ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("column %s: unparseable time %q", col, s)
}

// Matches reports whether every column in eq holds an equal value in r.
// Values are compared in canonical form so that rows decoded from different
// transports compare equal.
func (r Row) Matches(eq map[string]any) bool {
	for k, want := range eq {
		if canonical(r[k]) != canonical(want) {
			return false
		}
	}
	return true
}

// Equal reports whether r and o hold the same columns with equal values.
// A timestamp read from SQL equals its JSON text, and an integer equals
// the float64 a JSON decoder produced for it.
func (r Row) Equal(o Row) bool {
	if len(r) != len(o) {
		return false
	}
	for k, v := range r {
		w, ok := o[k]
		if !ok || canonical(v) != canonical(w) {
			return false
		}
	}
	return true
}

func canonical(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		if t, ok := parseTime(v); ok {
			return t.Format(time.RFC3339Nano)
		}
		return v
	case []byte:
		return canonical(string(v))
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// parseTime accepts only the layouts in timeLayouts, so free text such as a
// title is never mistaken for a timestamp.
func parseTime(s string) (time.Time, bool) {
	if len(s) < len("2006-01-02 15:04:05") || s[4] != '-' {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

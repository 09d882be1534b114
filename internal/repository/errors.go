// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios. Every
// failed write maps to exactly one of them so that callers can decide
// whether a retry is safe.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/temple-portals/internal/store"
)

// ErrValidation matches every *ValidationError via errors.Is. The write was
// not attempted.
var ErrValidation = errors.New("validation failed")

// ErrNotFound is returned when the target id does not exist. Handlers
// should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a write collides with a unique business
// key such as ticket_prices.ticket_type.
var ErrDuplicate = errors.New("duplicate")

// ErrVersionConflict is returned when an update carried an expected
// version that no longer matches the stored row.
var ErrVersionConflict = errors.New("version conflict")

// ErrStatusMismatch is returned when a compare-and-set on a status column
// finds a different status than expected.
var ErrStatusMismatch = errors.New("status mismatch")

// ErrStoreUnavailable is returned when the round trip to the durable store
// failed. Writes are not retried: an insert may or may not have landed.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrReadBack is returned when a write committed but the row could not be
// read back afterwards. The record carries at least its id; it must not be
// retried as a new write.
var ErrReadBack = errors.New("written but not read back")

// FieldError describes one rejected input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError reports malformed write input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Reason: reason}}}
}

func readBack(table string, id uint64, err error) error {
	return fmt.Errorf("read back %s %d: %w: %w", table, id, ErrReadBack, err)
}

// storeErr converts store-level failures into the repository taxonomy.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNoRow):
		return ErrNotFound
	case errors.Is(err, store.ErrUniqueViolation):
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	case errors.Is(err, store.ErrUnknownTable), errors.Is(err, store.ErrUnknownColumn):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, context.Canceled):
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// internal/model/errors.go
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is matched by every NotFoundError via errors.Is.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError builds a NotFoundError.
func NewNotFoundError(entity, key string) error {
	return &NotFoundError{Entity: entity, Key: key}
}

// RateWarning is a non-fatal rate resolution miss. The affected charge is
// treated as zero and the warning travels with the result.
type RateWarning struct {
	Kind     string     `json:"kind"`
	Category string     `json:"category,omitempty"`
	TypeID   int64      `json:"surcharge_type_id,omitempty"`
	Units    string     `json:"units"`
	Date     *time.Time `json:"date,omitempty"`
}

// NewRateWarning builds a warning for a lookup of the given kind.
func NewRateWarning(kind string, units decimal.Decimal) *RateWarning {
	return &RateWarning{Kind: kind, Units: units.String()}
}

func (w *RateWarning) Error() string {
	switch {
	case w.TypeID != 0 && w.Date != nil:
		return fmt.Sprintf("no rate found for type %d at units %s, date %s", w.TypeID, w.Units, w.Date.Format(DateLayout))
	case w.TypeID != 0:
		return fmt.Sprintf("no rate found for type %d at units %s", w.TypeID, w.Units)
	case w.Category != "":
		return fmt.Sprintf("no %s rate found for category %s at units %s", w.Kind, w.Category, w.Units)
	default:
		return fmt.Sprintf("no %s rate found", w.Kind)
	}
}

// PersistenceError wraps a storage failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

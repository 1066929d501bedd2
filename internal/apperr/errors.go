package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when input violates an API contract.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrIO is returned when a filesystem operation fails.
	ErrIO = errors.New("io error")
	// ErrConflict is returned when an operation would clobber an existing path.
	ErrConflict = errors.New("conflict")
	// ErrTransaction is returned when a transactional operation fails and was rolled back.
	ErrTransaction = errors.New("storage transaction failed")

	// ErrUnderSpecifiedOrder is returned when an ordered id list omits members of its sibling group.
	ErrUnderSpecifiedOrder = errors.New("under-specified order")
	// ErrUnsupportedFormat is returned when a bundle manifest carries an unknown format tag.
	ErrUnsupportedFormat = errors.New("unsupported bundle format")
	// ErrReadOnly is returned when editing a soft-deleted page.
	ErrReadOnly = errors.New("read-only")
)

// ValidationError represents a validation error with a field name.
// Err optionally carries a more specific sentinel (e.g. ErrUnderSpecifiedOrder).
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidation builds a ValidationError without a specific cause.
func NewValidation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing record of the given kind.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound is shorthand for &NotFoundError{Kind: kind, ID: id}.
func NotFound(kind string, id int64) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// IOError wraps a filesystem failure with the operation and path involved.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Is(target error) bool { return target == ErrIO }

func (e *IOError) Unwrap() error { return e.Err }

// ConflictError reports a path the operation refused to overwrite.
type ConflictError struct {
	Path string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("refusing to overwrite existing path %s", e.Path)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// TxError wraps any failure during a transaction. The transaction has been rolled back.
type TxError struct {
	Op  string
	Err error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("transaction %s rolled back: %v", e.Op, e.Err)
}

func (e *TxError) Is(target error) bool { return target == ErrTransaction }

func (e *TxError) Unwrap() error { return e.Err }

// IsTyped reports whether err already belongs to the caller-facing taxonomy
// (validation, not found, conflict) and should not be re-wrapped as a transaction failure.
func IsTyped(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict)
}

// WrapError wraps an error with additional context.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

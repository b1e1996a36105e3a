package lifecycle

import (
	"errors"
	"fmt"

	"todocal/internal/calendar"
)

// ErrClosed is returned by operations submitted after Close.
var ErrClosed = errors.New("lifecycle manager closed")

// ValidationError rejects a draft before any persistence call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports that the referenced template is no longer in the store.
type NotFoundError struct {
	DateKey calendar.DateKey
	ID      string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("no task at that position on %s", e.DateKey)
	}
	return fmt.Sprintf("task %s not found on %s", e.ID, e.DateKey)
}

// InvalidOperationError reports an operation that is not allowed on the
// referenced occurrence.
type InvalidOperationError struct {
	Op     string
	Reason string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("cannot %s: %s", e.Op, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsInvalidOperation reports whether err is an InvalidOperationError.
func IsInvalidOperation(err error) bool {
	var io *InvalidOperationError
	return errors.As(err, &io)
}

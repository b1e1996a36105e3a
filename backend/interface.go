package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"todocal/internal/calendar"
)

// TaskStore is the persistence collaborator. Positions are indices into the
// ordered template list of a date key, exactly as the store holds them.
type TaskStore interface {
	// FetchAll returns the full store including the completion overlay.
	FetchAll(ctx context.Context) (*calendar.Store, error)
	// Create appends a template to dateKey's list.
	Create(ctx context.Context, dateKey calendar.DateKey, t calendar.Template) error
	// Update replaces the template at index in dateKey's list.
	Update(ctx context.Context, dateKey calendar.DateKey, index int, t calendar.Template) error
	// Remove deletes the template at index in dateKey's list.
	Remove(ctx context.Context, dateKey calendar.DateKey, index int) error
	// SetCompletions replaces the whole completion overlay.
	SetCompletions(ctx context.Context, overlay calendar.Overlay) error

	// Connection management
	Close() error
}

// ErrAuthExpired is matched by every AuthExpiredError via errors.Is.
var ErrAuthExpired = errors.New("credentials rejected")

// AuthExpiredError reports that the store rejected the bearer credential.
type AuthExpiredError struct {
	Op     string
	Status int
}

func (e *AuthExpiredError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: credentials rejected (status %d)", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: credentials rejected", e.Op)
}

// Is makes errors.Is(err, ErrAuthExpired) hold.
func (e *AuthExpiredError) Is(target error) bool {
	return target == ErrAuthExpired
}

// TransportError reports that a persistence call failed or returned a
// non-success status.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsAuthExpired reports whether err is an AuthExpiredError.
func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

// ErrIndexOutOfRange is returned by stores when a position does not exist.
var ErrIndexOutOfRange = errors.New("task index out of range")

// GenerateID generates a unique identifier using UUID v4.
// This is used when creating templates locally.
func GenerateID() string {
	return uuid.New().String()
}

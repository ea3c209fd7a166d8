package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the application.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("resource not found")
	ErrValidation      = errors.New("invalid input")
	ErrConflict        = errors.New("resource already exists")
)

// Forbidden refinements. errors.Is(err, ErrForbidden) holds for all of them.
var (
	ErrRoomLocked     = fmt.Errorf("%w: room is locked", ErrForbidden)
	ErrThreadLocked   = fmt.Errorf("%w: thread is locked", ErrForbidden)
	ErrNotParticipant = fmt.Errorf("%w: not a participant of this room", ErrForbidden)
)

// Invalid returns a validation error carrying a client-facing reason.
func Invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}

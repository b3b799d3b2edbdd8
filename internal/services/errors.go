package services

import (
	"errors"
	"fmt"

	"blocmark/server/internal/models"
)

// ErrInvalidWindow is returned when a requested time window does not end
// after it starts.
var ErrInvalidWindow = errors.New("booking window end must be after start")

// ErrCalendarBusy is returned when the per-location create lock could not
// be taken. The request is safe to retry.
var ErrCalendarBusy = errors.New("location calendar busy, retry")

// InvalidDurationError is returned when a requested window is not a whole
// number of hours or is shorter than the location's minimum.
type InvalidDurationError struct {
	Hours    int
	MinHours int
}

func (e *InvalidDurationError) Error() string {
	return fmt.Sprintf("booking duration of %d hour(s) is below the %d hour minimum", e.Hours, e.MinHours)
}

// SlotUnavailableError is returned when the requested window conflicts
// with existing bookings on the location's calendar.
type SlotUnavailableError struct {
	Conflicts []Conflict
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("requested slot conflicts with %d existing booking(s)", len(e.Conflicts))
}

// InvalidStateTransitionError is returned when a status change is not
// permitted from the entity's current state. The entity is left untouched.
type InvalidStateTransitionError struct {
	From models.BookingStatus
	To   models.BookingStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("illegal booking transition %s -> %s", e.From, e.To)
}

// OfferNotPendingError is returned when accept/refuse/cancel is attempted
// against an offer that has already been resolved or expired.
type OfferNotPendingError struct {
	Status models.OfferStatus
}

func (e *OfferNotPendingError) Error() string {
	return fmt.Sprintf("offer is %s, not pending", e.Status)
}

// UnauthorizedActorError is returned when the wrong party attempts a
// transition (e.g. a renter approving their own booking).
type UnauthorizedActorError struct {
	Action string
}

func (e *UnauthorizedActorError) Error() string {
	return fmt.Sprintf("actor is not authorized to %s", e.Action)
}

package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when (from, to) is not an edge of the table
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a status label is not recognised
	ErrInvalidState = errors.New("invalid state")

	// ErrUnauthorized is returned when the actor lacks the capability for an edge
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPreconditionFailed is returned when an edge precondition is not met
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrStaleState is returned when the item changed since it was read
	ErrStaleState = fmt.Errorf("%w: stale state", ErrPreconditionFailed)

	// ErrReasonRequired is returned when an edge needs a reason and none was given
	ErrReasonRequired = fmt.Errorf("%w: reason required", ErrPreconditionFailed)

	// ErrCapacityExceeded is returned when an owner has no room left
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrItemClosed is returned for any transition attempted on a closed item
	ErrItemClosed = errors.New("item closed")

	// ErrNotFound is returned when a work item, agent or team does not exist
	ErrNotFound = errors.New("not found")
)

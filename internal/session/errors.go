package session

import "errors"

var (
	// ErrCapacity is returned when adding a file would exceed the queue's
	// capacity.
	ErrCapacity = errors.New("upload queue is full")
	// ErrDuplicate is returned when a file with the same name is already
	// queued.
	ErrDuplicate = errors.New("a file with this name is already queued")
	// ErrNotFound is returned for operations on unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrNoSelection is returned when a redact action is attempted with an
	// empty selection set.
	ErrNoSelection = errors.New("no entities selected for redaction")
	// ErrMissingOriginal is returned when a redact action is attempted on a
	// session whose original image bytes are unavailable.
	ErrMissingOriginal = errors.New("original image data is missing")
	// ErrConflict is returned when an operation is not legal in the
	// session's current state. The session state is left unchanged.
	ErrConflict = errors.New("operation not allowed in current session state")
	// ErrUnknownEntity is returned when a selection change names an entity
	// the session does not hold.
	ErrUnknownEntity = errors.New("unknown entity id")
)

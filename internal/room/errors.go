package room

import "errors"

// Domain errors for the room package.
var (
	// ErrNotFound is returned when a room ID does not exist.
	ErrNotFound = errors.New("room: not found")

	// ErrInvalidName is returned when a room name is empty or too long.
	ErrInvalidName = errors.New("room: invalid name")
)

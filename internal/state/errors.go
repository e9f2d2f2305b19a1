package state

import "errors"

// Domain errors for the state package.
var (
	// ErrNoState is returned when a device has no recorded state yet.
	ErrNoState = errors.New("state: no state recorded for device")

	// ErrStaleTimestamp is returned when an appended state does not advance
	// the device's timeline. Per-device timestamps must strictly increase.
	ErrStaleTimestamp = errors.New("state: timestamp not after current state")

	// ErrInvalidState is returned when a state report fails validation.
	ErrInvalidState = errors.New("state: invalid state report")
)

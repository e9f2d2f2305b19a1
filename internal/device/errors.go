package device

import "errors"

// Domain errors for the device package.
var (
	// ErrNotFound is returned when a device ID does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrValidation is returned when device data fails validation.
	ErrValidation = errors.New("device: validation failed")

	// ErrRetired is returned when a command targets a retired device.
	ErrRetired = errors.New("device: retired")

	// ErrCommandNotSupported is returned when a device lacks the capability
	// required by a command.
	ErrCommandNotSupported = errors.New("device: command not supported")
)

package device

import (
	"fmt"
	"strings"
)

// Validation constants.
const (
	maxNameLength   = 100
	maxCapabilities = 20
)

// Pre-computed validation sets for O(1) lookups instead of O(n) linear search.
var (
	validDeviceTypes  map[DeviceType]struct{}
	validCapabilities map[Capability]struct{}
)

func init() {
	validDeviceTypes = make(map[DeviceType]struct{}, len(AllDeviceTypes()))
	for _, t := range AllDeviceTypes() {
		validDeviceTypes[t] = struct{}{}
	}

	validCapabilities = make(map[Capability]struct{}, len(AllCapabilities()))
	for _, c := range AllCapabilities() {
		validCapabilities[c] = struct{}{}
	}
}

// ValidateDevice performs comprehensive validation on a device.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: device is nil", ErrValidation)
	}

	if err := ValidateName(d.Name); err != nil {
		return err
	}

	if err := ValidateDeviceType(d.Type); err != nil {
		return err
	}

	if len(d.Capabilities) == 0 {
		return fmt.Errorf("%w: at least one capability is required", ErrValidation)
	}
	if err := ValidateCapabilities(d.Capabilities); err != nil {
		return err
	}

	return nil
}

// ValidateName checks if a device name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrValidation)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrValidation, maxNameLength)
	}
	return nil
}

// ValidateDeviceType checks if a device type is valid.
func ValidateDeviceType(deviceType DeviceType) error {
	if _, ok := validDeviceTypes[deviceType]; ok {
		return nil
	}
	return fmt.Errorf("%w: unknown device type %q", ErrValidation, deviceType)
}

// ValidateCapabilities checks if all capabilities are valid and deduplicated.
func ValidateCapabilities(caps []Capability) error {
	if len(caps) > maxCapabilities {
		return fmt.Errorf("%w: too many capabilities (max %d)", ErrValidation, maxCapabilities)
	}
	seen := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		if _, ok := validCapabilities[c]; !ok {
			return fmt.Errorf("%w: unknown capability %q", ErrValidation, c)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: duplicate capability %q", ErrValidation, c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

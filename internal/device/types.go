package device

import "time"

// Device represents a controllable or monitorable entity in the system.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Location (nullable; a device may be unassigned)
	RoomID *string `json:"room_id,omitempty"`

	// Classification
	Type DeviceType `json:"type"`

	// Capabilities determine which commands the device accepts.
	Capabilities []Capability `json:"capabilities"`

	// Retired devices are kept for execution history but never dispatched to.
	Retired bool `json:"retired"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates a complete independent copy of the Device.
// Slice fields are cloned so modifications to the copy do not affect the
// original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	if d.RoomID != nil {
		v := *d.RoomID
		cpy.RoomID = &v
	}

	if d.Capabilities != nil {
		cpy.Capabilities = make([]Capability, len(d.Capabilities))
		copy(cpy.Capabilities, d.Capabilities)
	}

	return &cpy
}

// DeviceType represents the specific kind of device.
type DeviceType string //nolint:revive // device.DeviceType is clearer than device.Type in calling code

// DeviceType constants.
const (
	DeviceTypeLightSwitch DeviceType = "light_switch"
	DeviceTypeLightDimmer DeviceType = "light_dimmer"
	DeviceTypeLightRGB    DeviceType = "light_rgb"
	DeviceTypeThermostat  DeviceType = "thermostat"
	DeviceTypeBlind       DeviceType = "blind"
	DeviceTypeDoorLock    DeviceType = "door_lock"
	DeviceTypeSpeaker     DeviceType = "speaker"
	DeviceTypeTV          DeviceType = "tv"
	DeviceTypeFan         DeviceType = "fan"
	DeviceTypeOutlet      DeviceType = "outlet"

	DeviceTypeMotionSensor      DeviceType = "motion_sensor"
	DeviceTypeDoorSensor        DeviceType = "door_sensor"
	DeviceTypeWindowSensor      DeviceType = "window_sensor"
	DeviceTypeTemperatureSensor DeviceType = "temperature_sensor"
	DeviceTypeHumiditySensor    DeviceType = "humidity_sensor"
)

// AllDeviceTypes returns all valid device type values.
func AllDeviceTypes() []DeviceType {
	return []DeviceType{
		DeviceTypeLightSwitch, DeviceTypeLightDimmer, DeviceTypeLightRGB,
		DeviceTypeThermostat, DeviceTypeBlind, DeviceTypeDoorLock,
		DeviceTypeSpeaker, DeviceTypeTV, DeviceTypeFan, DeviceTypeOutlet,
		DeviceTypeMotionSensor, DeviceTypeDoorSensor, DeviceTypeWindowSensor,
		DeviceTypeTemperatureSensor, DeviceTypeHumiditySensor,
	}
}

// Capability represents what a device can do.
type Capability string

// Capability constants.
const (
	CapOnOff     Capability = "on_off"
	CapDim       Capability = "dim"
	CapColorRGB  Capability = "color_rgb" //nolint:misspell // industry standard uses American "color"
	CapColorTemp Capability = "color_temp"
	CapPosition  Capability = "position"
	CapSpeed     Capability = "speed"
	CapVolume    Capability = "volume"
	CapPlayback  Capability = "playback"

	CapTemperatureSet  Capability = "temperature_set"
	CapTemperatureRead Capability = "temperature_read"
	CapHumidityRead    Capability = "humidity_read"
	CapPowerRead       Capability = "power_read"

	CapMotionDetect Capability = "motion_detect"
	CapContactState Capability = "contact_state"
	CapLockUnlock   Capability = "lock_unlock"
)

// AllCapabilities returns all valid capability values.
func AllCapabilities() []Capability {
	return []Capability{
		CapOnOff, CapDim, CapColorRGB, CapColorTemp, CapPosition,
		CapSpeed, CapVolume, CapPlayback,
		CapTemperatureSet, CapTemperatureRead, CapHumidityRead, CapPowerRead,
		CapMotionDetect, CapContactState, CapLockUnlock,
	}
}

// commandCapabilities maps command names to the capability a device must
// carry to accept them. Commands absent from this map are rejected.
var commandCapabilities = map[string]Capability{
	"on":        CapOnOff,
	"off":       CapOnOff,
	"toggle":    CapOnOff,
	"power_on":  CapOnOff,
	"power_off": CapOnOff,

	"dim":        CapDim,
	"brightness": CapDim,

	"color":      CapColorRGB, //nolint:misspell // command vocabulary matches wire format
	"color_temp": CapColorTemp,

	"open":     CapPosition,
	"close":    CapPosition,
	"position": CapPosition,

	"speed":  CapSpeed,
	"volume": CapVolume,
	"play":   CapPlayback,
	"pause":  CapPlayback,

	"set_temperature": CapTemperatureSet,
	"heat":            CapTemperatureSet,
	"cool":            CapTemperatureSet,

	"lock":   CapLockUnlock,
	"unlock": CapLockUnlock,
}

// AcceptsCommand reports whether the device's capability set includes the
// capability required by the named command. Unknown commands are rejected.
func (d *Device) AcceptsCommand(command string) bool {
	required, ok := commandCapabilities[command]
	if !ok {
		return false
	}
	for _, c := range d.Capabilities {
		if c == required {
			return true
		}
	}
	return false
}

// KnownCommand reports whether the command name is in the command vocabulary.
func KnownCommand(command string) bool {
	_, ok := commandCapabilities[command]
	return ok
}

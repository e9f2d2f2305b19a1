package state

import "time"

// DeviceState is an immutable, timestamped snapshot of a device's observed
// attributes. States are append-only; the latest by timestamp is the device's
// current state.
type DeviceState struct {
	ID         string         `json:"id"`
	DeviceID   string         `json:"device_id"`
	Attributes map[string]any `json:"attributes"`
	ObservedAt time.Time      `json:"observed_at"`
}

// DeepCopy creates a complete independent copy of the DeviceState.
// The attributes map is cloned so callers can never mutate stored state.
func (s *DeviceState) DeepCopy() *DeviceState {
	if s == nil {
		return nil
	}
	cpy := *s
	cpy.Attributes = copyAttributes(s.Attributes)
	return &cpy
}

// ChangeEvent describes one state transition for a device.
// Old is nil for the device's first observed state.
type ChangeEvent struct {
	DeviceID string
	Old      *DeviceState
	New      *DeviceState
}

// copyAttributes clones an attribute map one level deep. Attribute values are
// scalars or small JSON values; nested containers are cloned recursively.
func copyAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyAttributes(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = copyValue(e)
		}
		return out
	default:
		return val
	}
}

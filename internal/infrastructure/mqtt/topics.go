package mqtt

import "fmt"

// Topic prefixes for the Hearth MQTT namespace.
//
// Device traffic uses the flat scheme: hearth/{category}/{device_or_command_id}
const (
	// TopicPrefix is the base for all Hearth topics.
	TopicPrefix = "hearth"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "hearth/system"
)

// Topics provides builders for Hearth MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("thermostat-1")
//	// Returns: "hearth/state/thermostat-1"
type Topics struct{}

// DeviceState returns the topic on which a device (or its protocol bridge)
// reports observed state snapshots.
//
// Example: hearth/state/thermostat-1
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// AllDeviceStates returns the wildcard subscription for all device state reports.
func (Topics) AllDeviceStates() string {
	return TopicPrefix + "/state/+"
}

// DeviceCommand returns the topic for commands addressed to a device.
//
// Example: hearth/command/thermostat-1
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// CommandAck returns the topic on which a device acknowledges a command.
// Acks are keyed by command ID so retried sends can be deduplicated.
//
// Example: hearth/ack/cmd-1a2b3c4d
func (Topics) CommandAck(commandID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, commandID)
}

// AllCommandAcks returns the wildcard subscription for all command acks.
func (Topics) AllCommandAcks() string {
	return TopicPrefix + "/ack/+"
}

// ExecutionEvent returns the topic for automation execution lifecycle events.
//
// Example: hearth/execution/exe-9f8e7d6c
func (Topics) ExecutionEvent(executionID string) string {
	return fmt.Sprintf("%s/execution/%s", TopicPrefix, executionID)
}

// SystemStatus returns the topic for Core online/offline status.
// Used for the Last Will and Testament and graceful shutdown messages.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// DeviceIDFromStateTopic extracts the device ID from a state topic.
// Returns empty string if the topic does not match the state scheme.
func DeviceIDFromStateTopic(topic string) string {
	return lastSegmentAfter(topic, TopicPrefix+"/state/")
}

// CommandIDFromAckTopic extracts the command ID from an ack topic.
// Returns empty string if the topic does not match the ack scheme.
func CommandIDFromAckTopic(topic string) string {
	return lastSegmentAfter(topic, TopicPrefix+"/ack/")
}

// lastSegmentAfter returns the remainder of topic after prefix, provided the
// remainder is a single topic segment (no further slashes).
func lastSegmentAfter(topic, prefix string) string {
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return ""
	}
	rest := topic[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return ""
		}
	}
	return rest
}

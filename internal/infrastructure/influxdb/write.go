package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteStateChange writes a device state change to InfluxDB.
//
// Each scalar attribute of the snapshot becomes a field on a single point
// tagged by device. Nested structures are skipped. The write is
// non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Unique identifier for the device (e.g., "thermostat-1")
//   - attributes: The observed state snapshot (e.g., {"temperature": 21.5})
//   - observedAt: Timestamp of the observation
//
// Example:
//
//	client.WriteStateChange("thermostat-1", map[string]any{"temperature": 21.5}, ts)
func (c *Client) WriteStateChange(deviceID string, attributes map[string]any, observedAt time.Time) {
	if !c.IsConnected() || len(attributes) == 0 {
		return
	}

	fields := make(map[string]interface{}, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case float64, int, int64, bool, string:
			fields[k] = val
		}
	}
	if len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"device_id": deviceID,
		},
		fields,
		observedAt,
	)

	c.writeAPI.WritePoint(point)
}

// WriteExecutionOutcome writes an automation execution result.
//
// Used for dashboards tracking rule firing rates, failure rates, and
// dispatch latency.
//
// Parameters:
//   - ruleID: The rule that fired (or scene id for direct activations)
//   - status: Final execution status (succeeded, partially_failed, failed, aborted)
//   - durationMS: Wall-clock execution time in milliseconds
//   - commandsTotal: Number of device commands issued
//   - commandsFailed: Number of commands that exhausted retries
func (c *Client) WriteExecutionOutcome(ruleID, status string, durationMS int64, commandsTotal, commandsFailed int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"automation_execution",
		map[string]string{
			"rule_id": ruleID,
			"status":  status,
		},
		map[string]interface{}{
			"duration_ms":     durationMS,
			"commands_total":  commandsTotal,
			"commands_failed": commandsFailed,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCommandAttempt writes a single gateway send attempt.
//
// Attempt numbers above 1 indicate retries; dashboards alert on sustained
// retry rates as an early sign of gateway degradation.
func (c *Client) WriteCommandAttempt(deviceID, commandID string, attempt int, success bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"command_attempt",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"command_id": commandID,
			"attempt":    attempt,
			"success":    success,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}

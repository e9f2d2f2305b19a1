// Package state implements the device state store for Hearth (Core).
//
// Devices report observed attribute snapshots; the store keeps an append-only
// history in SQLite plus an in-memory index of each device's current state.
// Per device, snapshot timestamps strictly increase; late or duplicate
// reports are rejected, never reordered.
//
// The current-state index has exactly one writer: the MQTT Ingestor feeding
// Store.Append. Everything else reads. Interested components call Subscribe
// for a stream of change events; the rule engine's trigger matcher is the
// main consumer.
package state

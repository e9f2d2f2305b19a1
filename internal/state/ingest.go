package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hearthd/hearth-core/internal/infrastructure/mqtt"
)

// Broker is the subset of the MQTT client the ingestor needs.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// stateReport is the wire format devices publish on hearth/state/{device}.
// observed_at is optional; absent means "now".
type stateReport struct {
	Attributes map[string]any `json:"attributes"`
	ObservedAt *time.Time     `json:"observed_at,omitempty"`
}

// Ingestor feeds device state reports from MQTT into the Store.
// It is the sole writer of the current-state index at runtime.
type Ingestor struct {
	store  *Store
	logger Logger
}

// NewIngestor creates an ingestor for the given store.
func NewIngestor(store *Store) *Ingestor {
	return &Ingestor{store: store, logger: noopLogger{}}
}

// SetLogger sets the logger for the ingestor.
func (i *Ingestor) SetLogger(logger Logger) {
	i.logger = logger
}

// Start subscribes to all device state topics.
func (i *Ingestor) Start(broker Broker) error {
	topics := mqtt.Topics{}
	if err := broker.Subscribe(topics.AllDeviceStates(), 1, i.handleMessage); err != nil {
		return fmt.Errorf("subscribing to device states: %w", err)
	}
	i.logger.Info("state ingest started", "topic", topics.AllDeviceStates())
	return nil
}

// handleMessage parses one state report and appends it to the store.
// Stale and malformed reports are logged and dropped; they never propagate
// as subscription errors.
func (i *Ingestor) handleMessage(topic string, payload []byte) error {
	deviceID := mqtt.DeviceIDFromStateTopic(topic)
	if deviceID == "" {
		i.logger.Warn("state report on unexpected topic", "topic", topic)
		return nil
	}

	var report stateReport
	if err := json.Unmarshal(payload, &report); err != nil {
		i.logger.Warn("malformed state report", "device_id", deviceID, "error", err)
		return nil
	}

	observedAt := time.Now().UTC()
	if report.ObservedAt != nil {
		observedAt = *report.ObservedAt
	}

	_, err := i.store.Append(context.Background(), deviceID, report.Attributes, observedAt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStaleTimestamp):
		// Out-of-order delivery; the newer state already won.
		i.logger.Debug("stale state report dropped", "device_id", deviceID)
		return nil
	case errors.Is(err, ErrInvalidState):
		i.logger.Warn("invalid state report dropped", "device_id", deviceID, "error", err)
		return nil
	default:
		i.logger.Error("state append failed", "device_id", deviceID, "error", err)
		return err
	}
}

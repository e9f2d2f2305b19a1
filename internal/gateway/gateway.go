// Package gateway bridges the automation engine to physical devices over
// MQTT. Commands are published to the device's command topic and considered
// acknowledged when the device (or its protocol bridge) replies on the
// per-command ack topic.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hearthd/hearth-core/internal/automation"
	"github.com/hearthd/hearth-core/internal/infrastructure/mqtt"
)

// Broker is the MQTT surface the gateway depends on.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Logger is the minimal logging interface used by the gateway.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// commandEnvelope is the wire format published to a device's command topic.
// CommandID is stable across retries so bridges can deduplicate redeliveries.
type commandEnvelope struct {
	CommandID  string         `json:"command_id"`
	DeviceID   string         `json:"device_id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Attempt    int            `json:"attempt"`
	IssuedAt   time.Time      `json:"issued_at"`
}

// ackMessage is the reply a device publishes on hearth/ack/{command_id}.
type ackMessage struct {
	Status string `json:"status"` // "ok" or "error"
	Error  string `json:"error,omitempty"`
}

// MQTTGateway implements the engine's Gateway over an MQTT broker.
//
// Send blocks until the matching ack arrives or the context expires. Acks
// are correlated by command ID; an ack with no registered waiter is a late
// or duplicate reply and is dropped.
type MQTTGateway struct {
	broker Broker
	logger Logger

	mu      sync.Mutex
	waiters map[string]chan error
}

// New creates a gateway over the given broker.
func New(broker Broker) *MQTTGateway {
	return &MQTTGateway{
		broker:  broker,
		logger:  noopLogger{},
		waiters: make(map[string]chan error),
	}
}

// SetLogger sets the logger for the gateway.
func (g *MQTTGateway) SetLogger(logger Logger) {
	g.logger = logger
}

// Start subscribes to the command ack namespace. Must be called once before
// any Send.
func (g *MQTTGateway) Start() error {
	return g.broker.Subscribe(mqtt.Topics{}.AllCommandAcks(), 1, g.handleAck)
}

// Send publishes the command and waits for its ack. A device-reported error
// and an expired context both fail the attempt; the caller's retry policy
// decides what happens next.
func (g *MQTTGateway) Send(ctx context.Context, cmd *automation.DeviceCommand) error {
	ch := make(chan error, 1)
	g.mu.Lock()
	g.waiters[cmd.ID] = ch
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.waiters, cmd.ID)
		g.mu.Unlock()
	}()

	payload, err := json.Marshal(commandEnvelope{
		CommandID:  cmd.ID,
		DeviceID:   cmd.DeviceID,
		Name:       cmd.Name,
		Parameters: cmd.Parameters,
		Attempt:    cmd.Attempts,
		IssuedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshaling command %s: %w", cmd.ID, err)
	}

	topic := mqtt.Topics{}.DeviceCommand(cmd.DeviceID)
	if err := g.broker.Publish(topic, payload, 1, false); err != nil {
		return fmt.Errorf("publishing command %s: %w", cmd.ID, err)
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return fmt.Errorf("awaiting ack for command %s: %w", cmd.ID, ctx.Err())
	}
}

// handleAck resolves the waiter registered for the acked command, if any.
func (g *MQTTGateway) handleAck(topic string, payload []byte) error {
	commandID := mqtt.CommandIDFromAckTopic(topic)
	if commandID == "" {
		g.logger.Debug("ack on unrecognized topic dropped", "topic", topic)
		return nil
	}

	var ack ackMessage
	if err := json.Unmarshal(payload, &ack); err != nil {
		g.logger.Warn("malformed ack dropped", "command_id", commandID, "error", err)
		return nil
	}

	g.mu.Lock()
	ch, ok := g.waiters[commandID]
	g.mu.Unlock()
	if !ok {
		// Late or duplicate ack: the attempt already resolved.
		g.logger.Debug("ack without waiter dropped", "command_id", commandID)
		return nil
	}

	var result error
	if ack.Status != "ok" {
		result = fmt.Errorf("device reported failure: %s", ack.Error)
	}
	select {
	case ch <- result:
	default: // A previous ack already resolved this attempt
	}
	return nil
}

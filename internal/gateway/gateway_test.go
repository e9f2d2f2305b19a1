package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hearthd/hearth-core/internal/automation"
	"github.com/hearthd/hearth-core/internal/infrastructure/mqtt"
)

// fakeBroker captures publishes and hands subscription handlers back to the
// test so acks can be injected directly.
type fakeBroker struct {
	mu        sync.Mutex
	published []publishedMessage
	handlers  map[string]mqtt.MessageHandler
}

type publishedMessage struct {
	topic   string
	payload []byte
	qos     byte
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedMessage{topic, payload, qos})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) lastPublished(t *testing.T) publishedMessage {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.published) == 0 {
		t.Fatal("nothing published")
	}
	return b.published[len(b.published)-1]
}

func (b *fakeBroker) ack(t *testing.T, commandID string, payload string) {
	t.Helper()
	b.mu.Lock()
	handler := b.handlers[mqtt.Topics{}.AllCommandAcks()]
	b.mu.Unlock()
	if handler == nil {
		t.Fatal("gateway never subscribed to acks")
	}
	if err := handler(mqtt.Topics{}.CommandAck(commandID), []byte(payload)); err != nil {
		t.Fatalf("ack handler error = %v", err)
	}
}

func startGateway(t *testing.T) (*MQTTGateway, *fakeBroker) {
	t.Helper()
	broker := newFakeBroker()
	gw := New(broker)
	if err := gw.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return gw, broker
}

func waitForPublish(t *testing.T, broker *fakeBroker) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		broker.mu.Lock()
		n := len(broker.published)
		broker.mu.Unlock()
		if n > 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("command never published")
		}
		time.Sleep(time.Millisecond)
	}
}

func testCommand() *automation.DeviceCommand {
	return &automation.DeviceCommand{
		ID:         "cmd-1a2b3c4d",
		DeviceID:   "lamp-1",
		Name:       "dim",
		Parameters: map[string]any{"level": 20.0},
		Attempts:   1,
	}
}

func TestSendAcknowledged(t *testing.T) {
	gw, broker := startGateway(t)
	cmd := testCommand()

	errc := make(chan error, 1)
	go func() {
		errc <- gw.Send(context.Background(), cmd)
	}()

	// Wait for the publish, then reply like a device bridge would.
	waitForPublish(t, broker)
	broker.ack(t, cmd.ID, `{"status":"ok"}`)

	if err := <-errc; err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	msg := broker.lastPublished(t)
	if want := "hearth/command/lamp-1"; msg.topic != want {
		t.Errorf("published to %q, want %q", msg.topic, want)
	}
	if msg.qos != 1 {
		t.Errorf("qos = %d, want 1", msg.qos)
	}

	var envelope commandEnvelope
	if err := json.Unmarshal(msg.payload, &envelope); err != nil {
		t.Fatalf("unmarshaling envelope: %v", err)
	}
	if envelope.CommandID != cmd.ID || envelope.Name != "dim" || envelope.Attempt != 1 {
		t.Errorf("envelope = %+v", envelope)
	}
}

func TestSendDeviceReportsError(t *testing.T) {
	gw, broker := startGateway(t)
	cmd := testCommand()

	errc := make(chan error, 1)
	go func() {
		errc <- gw.Send(context.Background(), cmd)
	}()

	waitForPublish(t, broker)
	broker.ack(t, cmd.ID, `{"status":"error","error":"ballast fault"}`)

	err := <-errc
	if err == nil {
		t.Fatal("Send() = nil, want device failure")
	}
	if !strings.Contains(err.Error(), "ballast fault") {
		t.Errorf("Send() error = %v", err)
	}
}

func TestSendContextExpires(t *testing.T) {
	gw, _ := startGateway(t)
	cmd := testCommand()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := gw.Send(ctx, cmd)
	if err == nil {
		t.Fatal("Send() = nil, want timeout")
	}
	if !strings.Contains(err.Error(), "deadline") {
		t.Errorf("Send() error = %v", err)
	}
}

func TestAckWithoutWaiterIgnored(t *testing.T) {
	_, broker := startGateway(t)

	// A late ack for a command nobody is waiting on must not panic or block.
	broker.ack(t, "cmd-gone", `{"status":"ok"}`)
}

func TestMalformedAckIgnored(t *testing.T) {
	gw, broker := startGateway(t)
	cmd := testCommand()

	errc := make(chan error, 1)
	go func() {
		errc <- gw.Send(context.Background(), cmd)
	}()

	waitForPublish(t, broker)

	// Garbage must not resolve the waiter; the real ack still lands.
	broker.ack(t, cmd.ID, `{not json`)
	broker.ack(t, cmd.ID, `{"status":"ok"}`)

	if err := <-errc; err != nil {
		t.Fatalf("Send() error = %v", err)
	}
}

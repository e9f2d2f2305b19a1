package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hearthd/hearth-core/internal/automation"
	"github.com/hearthd/hearth-core/internal/device"
)

// mockGateway records sends per device and can be scripted to fail.
type mockGateway struct {
	mu           sync.Mutex
	perDevice    map[string][]string      // Command names in arrival order
	attempts     map[string]int           // Attempts per command ID
	times        map[string][]time.Time   // Send arrival times per device
	failuresLeft map[string]int           // Failures to emit per device before succeeding
	failAlways   map[string]bool
	delay        time.Duration
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		perDevice:    make(map[string][]string),
		attempts:     make(map[string]int),
		times:        make(map[string][]time.Time),
		failuresLeft: make(map[string]int),
		failAlways:   make(map[string]bool),
	}
}

func (g *mockGateway) Send(ctx context.Context, cmd *automation.DeviceCommand) error {
	arrived := time.Now()
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.perDevice[cmd.DeviceID] = append(g.perDevice[cmd.DeviceID], cmd.Name)
	g.attempts[cmd.ID]++
	g.times[cmd.DeviceID] = append(g.times[cmd.DeviceID], arrived)

	if g.failAlways[cmd.DeviceID] {
		return errors.New("device unreachable")
	}
	if n := g.failuresLeft[cmd.DeviceID]; n > 0 {
		g.failuresLeft[cmd.DeviceID] = n - 1
		return errors.New("gateway timeout")
	}
	return nil
}

func (g *mockGateway) sends(deviceID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.perDevice[deviceID]...)
}

func (g *mockGateway) sendTimes(deviceID string) []time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]time.Time(nil), g.times[deviceID]...)
}

// memCommandStore keeps command rows in memory.
type memCommandStore struct {
	mu       sync.Mutex
	next     int
	commands map[string]automation.DeviceCommand
}

func newMemCommandStore() *memCommandStore {
	return &memCommandStore{commands: make(map[string]automation.DeviceCommand)}
}

func (s *memCommandStore) CreateCommand(_ context.Context, c *automation.DeviceCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	c.ID = fmt.Sprintf("cmd-%04d", s.next)
	s.commands[c.ID] = *c
	return nil
}

func (s *memCommandStore) UpdateCommand(_ context.Context, c *automation.DeviceCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[c.ID] = *c
	return nil
}

// allowAllDevices accepts every command.
type allowAllDevices struct{}

func (allowAllDevices) CheckDispatchable(context.Context, string, string) (*device.Device, error) {
	return &device.Device{}, nil
}

// rejectDevices rejects commands to the listed devices.
type rejectDevices struct {
	rejected map[string]bool
}

func (r rejectDevices) CheckDispatchable(_ context.Context, id, command string) (*device.Device, error) {
	if r.rejected[id] {
		return nil, fmt.Errorf("%w: device %s does not accept %q", device.ErrCommandNotSupported, id, command)
	}
	return &device.Device{}, nil
}

func testDispatcher(gw Gateway, checker DeviceChecker, store CommandStore) *Dispatcher {
	return NewDispatcher(gw, checker, store, DispatcherConfig{
		MaxRetries:     3,
		BackoffBase:    time.Millisecond,
		GatewayTimeout: time.Second,
	})
}

func TestDispatchPerDeviceOrdering(t *testing.T) {
	gw := newMockGateway()
	gw.delay = 5 * time.Millisecond
	d := testDispatcher(gw, allowAllDevices{}, newMemCommandStore())

	actions := []automation.ActionSpec{
		command("lamp-1", "dim"),
		command("blind-1", "close"),
		command("lamp-1", "off"),
	}

	commands := d.Dispatch(context.Background(), "exe-1", actions, nil)
	if len(commands) != 3 {
		t.Fatalf("dispatched %d commands, want 3", len(commands))
	}
	for i, c := range commands {
		if c.Status != automation.CommandAcknowledged {
			t.Errorf("commands[%d] status = %v, want acknowledged", i, c.Status)
		}
	}

	// Same-device commands reach the gateway in literal action order.
	if got := gw.sends("lamp-1"); len(got) != 2 || got[0] != "dim" || got[1] != "off" {
		t.Errorf("lamp-1 sends = %v, want [dim off]", got)
	}
}

func TestDispatchDistinctDevicesRunConcurrently(t *testing.T) {
	gw := newMockGateway()
	gw.delay = 100 * time.Millisecond
	d := testDispatcher(gw, allowAllDevices{}, newMemCommandStore())

	actions := []automation.ActionSpec{
		command("lamp-1", "dim"),
		command("blind-1", "close"),
		command("tv-1", "power_on"),
	}

	start := time.Now()
	commands := d.Dispatch(context.Background(), "exe-1", actions, nil)
	elapsed := time.Since(start)

	for i, c := range commands {
		if c.Status != automation.CommandAcknowledged {
			t.Errorf("commands[%d] status = %v, want acknowledged", i, c.Status)
		}
	}
	// Three sequential sends would take 300ms+.
	if elapsed > 250*time.Millisecond {
		t.Errorf("dispatch took %v, devices are not running concurrently", elapsed)
	}
}

func TestDispatchRetriesThenSucceeds(t *testing.T) {
	gw := newMockGateway()
	gw.failuresLeft["thermostat-1"] = 2 // Two timeouts, third attempt succeeds
	d := testDispatcher(gw, allowAllDevices{}, newMemCommandStore())

	commands := d.Dispatch(context.Background(), "exe-1",
		[]automation.ActionSpec{command("thermostat-1", "cool")}, nil)

	c := commands[0]
	if c.Status != automation.CommandAcknowledged {
		t.Errorf("status = %v, want acknowledged", c.Status)
	}
	if c.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", c.Attempts)
	}
	if got := gw.attempts[c.ID]; got != 3 {
		t.Errorf("gateway saw %d attempts, want 3", got)
	}
}

func TestDispatchBackoffDelaysGrow(t *testing.T) {
	gw := newMockGateway()
	gw.failuresLeft["thermostat-1"] = 2 // Force two retries
	d := NewDispatcher(gw, allowAllDevices{}, newMemCommandStore(), DispatcherConfig{
		MaxRetries:     3,
		BackoffBase:    50 * time.Millisecond,
		GatewayTimeout: time.Second,
	})

	commands := d.Dispatch(context.Background(), "exe-1",
		[]automation.ActionSpec{command("thermostat-1", "cool")}, nil)

	if commands[0].Status != automation.CommandAcknowledged {
		t.Fatalf("status = %v, want acknowledged", commands[0].Status)
	}

	times := gw.sendTimes("thermostat-1")
	if len(times) != 3 {
		t.Fatalf("gateway saw %d sends, want 3", len(times))
	}
	first := times[1].Sub(times[0])
	second := times[2].Sub(times[1])
	if first < 50*time.Millisecond {
		t.Errorf("first retry waited %v, want at least the backoff base", first)
	}
	// Exponential policy: each inter-attempt gap exceeds the previous one.
	if second <= first {
		t.Errorf("retry delays did not grow: %v then %v", first, second)
	}
}

func TestDispatchExhaustsRetries(t *testing.T) {
	gw := newMockGateway()
	gw.failAlways["thermostat-1"] = true
	d := testDispatcher(gw, allowAllDevices{}, newMemCommandStore())

	commands := d.Dispatch(context.Background(), "exe-1",
		[]automation.ActionSpec{command("thermostat-1", "cool")}, nil)

	c := commands[0]
	if c.Status != automation.CommandFailed {
		t.Errorf("status = %v, want failed", c.Status)
	}
	if c.Attempts != 3 {
		t.Errorf("attempts = %d, want exactly maxRetries (3)", c.Attempts)
	}
	if !strings.Contains(c.FailureReason, "exhausted") {
		t.Errorf("failure reason = %q", c.FailureReason)
	}
}

func TestDispatchCancelledBeforeSend(t *testing.T) {
	gw := newMockGateway()
	d := testDispatcher(gw, allowAllDevices{}, newMemCommandStore())

	commands := d.Dispatch(context.Background(), "exe-1",
		[]automation.ActionSpec{command("lamp-1", "on"), command("lamp-1", "off")},
		func() bool { return true })

	for i, c := range commands {
		if c.Status != automation.CommandFailed {
			t.Errorf("commands[%d] status = %v, want failed", i, c.Status)
		}
	}
	if len(gw.sends("lamp-1")) != 0 {
		t.Error("cancelled commands must never reach the gateway")
	}
}

func TestDispatchRejectsBeforeSend(t *testing.T) {
	gw := newMockGateway()
	checker := rejectDevices{rejected: map[string]bool{"lock-1": true}}
	d := testDispatcher(gw, checker, newMemCommandStore())

	actions := []automation.ActionSpec{
		command("lock-1", "frobnicate"),
		command("lock-1", "lock"), // Same device: chain aborted
		command("lamp-1", "on"),   // Other device: proceeds
	}
	commands := d.Dispatch(context.Background(), "exe-1", actions, nil)

	if commands[0].Status != automation.CommandFailed {
		t.Errorf("rejected command status = %v, want failed", commands[0].Status)
	}
	if commands[1].Status != automation.CommandFailed {
		t.Errorf("chained command status = %v, want failed", commands[1].Status)
	}
	if commands[2].Status != automation.CommandAcknowledged {
		t.Errorf("other device status = %v, want acknowledged", commands[2].Status)
	}
	if len(gw.sends("lock-1")) != 0 {
		t.Error("rejected commands must never reach the gateway")
	}
}

func TestDispatchFailureBreaksDeviceChainOnly(t *testing.T) {
	gw := newMockGateway()
	gw.failAlways["blind-1"] = true
	d := testDispatcher(gw, allowAllDevices{}, newMemCommandStore())

	actions := []automation.ActionSpec{
		command("blind-1", "open"),
		command("blind-1", "close"),
		command("lamp-1", "on"),
	}
	commands := d.Dispatch(context.Background(), "exe-1", actions, nil)

	if commands[0].Status != automation.CommandFailed {
		t.Errorf("failed command status = %v", commands[0].Status)
	}
	if commands[1].Status != automation.CommandFailed {
		t.Errorf("follow-up on failed device status = %v, want failed", commands[1].Status)
	}
	if commands[2].Status != automation.CommandAcknowledged {
		t.Errorf("unrelated device status = %v, want acknowledged", commands[2].Status)
	}
	// The follow-up never reached the gateway.
	if got := gw.sends("blind-1"); len(got) != 3 { // 3 attempts of "open" only
		t.Errorf("blind-1 sends = %v, want three open attempts", got)
	}
}

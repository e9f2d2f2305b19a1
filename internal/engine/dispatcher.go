package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hearthd/hearth-core/internal/automation"
	"github.com/hearthd/hearth-core/internal/device"
)

// DeviceChecker verifies a device may receive a command before dispatch.
type DeviceChecker interface {
	CheckDispatchable(ctx context.Context, id, command string) (*device.Device, error)
}

// CommandStore persists device command lifecycle changes.
type CommandStore interface {
	CreateCommand(ctx context.Context, c *automation.DeviceCommand) error
	UpdateCommand(ctx context.Context, c *automation.DeviceCommand) error
}

// CommandTelemetry receives per-attempt outcomes for time-series export.
type CommandTelemetry interface {
	WriteCommandAttempt(deviceID, commandID string, attempt int, success bool)
}

type noopCommandTelemetry struct{}

func (noopCommandTelemetry) WriteCommandAttempt(string, string, int, bool) {}

// DispatcherConfig carries the retry and timeout knobs.
type DispatcherConfig struct {
	// MaxRetries is the total attempt limit per command, including the first.
	MaxRetries int
	// BackoffBase is the initial delay between attempts; delays grow
	// exponentially from it.
	BackoffBase time.Duration
	// GatewayTimeout bounds each individual Send call.
	GatewayTimeout time.Duration
}

// Dispatcher resolves expanded command actions into DeviceCommands and
// drives them through the Gateway.
//
// Ordering: commands to the same device run strictly in action-list order,
// serialized against any other pending command to that device via a
// per-device lock. Commands to distinct devices run concurrently.
//
// Each command is attempted up to MaxRetries times with exponential backoff;
// a timed-out Send counts as a transient failure. A command's terminal
// failure aborts the remaining commands queued for the same device in this
// execution, leaving other devices' chains untouched.
type Dispatcher struct {
	gateway   Gateway
	devices   DeviceChecker
	commands  CommandStore
	cfg       DispatcherConfig
	logger    Logger
	telemetry CommandTelemetry

	mu    sync.Mutex
	locks map[string]*sync.Mutex // Per-device ordering locks
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(gateway Gateway, devices DeviceChecker, commands CommandStore, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		gateway:   gateway,
		devices:   devices,
		commands:  commands,
		cfg:       cfg,
		logger:    noopLogger{},
		telemetry: noopCommandTelemetry{},
		locks:     make(map[string]*sync.Mutex),
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetTelemetry sets the per-attempt telemetry sink.
func (d *Dispatcher) SetTelemetry(t CommandTelemetry) {
	d.telemetry = t
}

// Dispatch issues the expanded command actions for one execution and blocks
// until every command reaches a terminal state. cancelled is polled before
// each not-yet-dispatched command; already-submitted commands always run to
// their terminal state.
//
// The returned slice preserves action-list order. Persistence failures on
// command rows are logged, never allowed to block device actions.
func (d *Dispatcher) Dispatch(ctx context.Context, executionID string, actions []automation.ActionSpec, cancelled func() bool) []automation.DeviceCommand {
	commands := make([]automation.DeviceCommand, len(actions))
	byDevice := make(map[string][]int)

	for i, a := range actions {
		cmd := automation.DeviceCommand{
			DeviceID:    a.DeviceID,
			ExecutionID: executionID,
			Name:        a.Command,
			Parameters:  a.Parameters,
			Status:      automation.CommandPending,
		}
		if err := d.commands.CreateCommand(ctx, &cmd); err != nil {
			d.logger.Error("persisting command failed",
				"execution_id", executionID, "device_id", a.DeviceID, "error", err)
			if cmd.ID == "" {
				cmd.ID = fmt.Sprintf("cmd-mem-%s-%d", executionID, i)
			}
		}
		commands[i] = cmd
		byDevice[a.DeviceID] = append(byDevice[a.DeviceID], i)
	}

	var wg sync.WaitGroup
	for deviceID, indices := range byDevice {
		wg.Add(1)
		go func(deviceID string, indices []int) {
			defer wg.Done()
			d.runDeviceChain(ctx, deviceID, indices, commands, cancelled)
		}(deviceID, indices)
	}
	wg.Wait()

	return commands
}

// runDeviceChain executes one device's commands in order, holding the
// device's lock so no other execution can interleave commands to it.
func (d *Dispatcher) runDeviceChain(ctx context.Context, deviceID string, indices []int, commands []automation.DeviceCommand, cancelled func() bool) {
	lock := d.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	chainBroken := false
	for _, i := range indices {
		cmd := &commands[i]

		switch {
		case chainBroken:
			d.markFailed(ctx, cmd, "earlier command to device failed")
			continue
		case cancelled != nil && cancelled():
			d.markFailed(ctx, cmd, AbortRuleDisabled)
			continue
		}

		if _, err := d.devices.CheckDispatchable(ctx, cmd.DeviceID, cmd.Name); err != nil {
			d.markFailed(ctx, cmd, err.Error())
			chainBroken = true
			continue
		}

		if !d.sendWithRetries(ctx, cmd) {
			chainBroken = true
		}
	}
}

// sendWithRetries drives one command to a terminal state. Returns true on
// acknowledgement.
func (d *Dispatcher) sendWithRetries(ctx context.Context, cmd *automation.DeviceCommand) bool {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.BackoffBase
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // Attempt count, not elapsed time, bounds retries

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		cmd.Status = automation.CommandSent
		cmd.Attempts = attempt
		d.persist(ctx, cmd)

		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.GatewayTimeout)
		err := d.gateway.Send(sendCtx, cmd)
		cancel()

		d.telemetry.WriteCommandAttempt(cmd.DeviceID, cmd.ID, attempt, err == nil)

		if err == nil {
			cmd.Status = automation.CommandAcknowledged
			cmd.FailureReason = ""
			d.persist(ctx, cmd)
			d.logger.Debug("command acknowledged",
				"command_id", cmd.ID, "device_id", cmd.DeviceID, "attempts", attempt)
			return true
		}

		lastErr = err
		d.logger.Warn("command attempt failed",
			"command_id", cmd.ID, "device_id", cmd.DeviceID,
			"attempt", attempt, "error", err)

		if attempt < d.cfg.MaxRetries {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				d.markFailed(ctx, cmd, fmt.Sprintf("dispatch cancelled: %v", ctx.Err()))
				return false
			}
		}
	}

	d.markFailed(ctx, cmd, fmt.Sprintf("exhausted %d attempts: %v", d.cfg.MaxRetries, lastErr))
	return false
}

func (d *Dispatcher) markFailed(ctx context.Context, cmd *automation.DeviceCommand, reason string) {
	cmd.Status = automation.CommandFailed
	cmd.FailureReason = reason
	d.persist(ctx, cmd)
}

func (d *Dispatcher) persist(ctx context.Context, cmd *automation.DeviceCommand) {
	if err := d.commands.UpdateCommand(ctx, cmd); err != nil {
		d.logger.Error("persisting command state failed",
			"command_id", cmd.ID, "status", cmd.Status, "error", err)
	}
}

// deviceLock returns the ordering mutex for a device, creating it on first
// dispatch. Entries are never removed: the map is bounded by the number of
// distinct devices dispatched to over the process lifetime, a mutex each.
func (d *Dispatcher) deviceLock(deviceID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[deviceID] = lock
	}
	return lock
}

package engine

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/hearthd/hearth-core/internal/automation"
	"github.com/hearthd/hearth-core/internal/infrastructure/mqtt"
)

// ExecutionStore is the subset of the execution repository the recorder uses.
type ExecutionStore interface {
	CreatePending(ctx context.Context, e *automation.Execution) error
	Finalize(ctx context.Context, id string, outcome automation.Outcome) error
}

// Publisher announces execution events on the message bus.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// ExecutionTelemetry receives finalized execution outcomes for time-series
// export.
type ExecutionTelemetry interface {
	WriteExecutionOutcome(ruleID, status string, durationMS int64, commandsTotal, commandsFailed int)
}

// Notifier receives finalized executions for fan-out to UI clients.
type Notifier interface {
	ExecutionFinalized(e *automation.Execution)
}

type (
	noopPublisher          struct{}
	noopExecutionTelemetry struct{}
	noopNotifier           struct{}
)

func (noopPublisher) Publish(string, []byte, byte, bool) error { return nil }

func (noopExecutionTelemetry) WriteExecutionOutcome(string, string, int64, int, int) {}

func (noopNotifier) ExecutionFinalized(*automation.Execution) {}

// Recorder persists the execution audit trail.
//
// Records are created pending when a rule fires and finalized exactly once.
// Recorder write failures are logged and swallowed: the audit trail must
// never block or reverse device actions already taken.
type Recorder struct {
	store     ExecutionStore
	clock     Clock
	logger    Logger
	publisher Publisher
	telemetry ExecutionTelemetry
	notifier  Notifier
}

// NewRecorder creates an execution recorder.
func NewRecorder(store ExecutionStore, clock Clock) *Recorder {
	if clock == nil {
		clock = SystemClock()
	}
	return &Recorder{
		store:     store,
		clock:     clock,
		logger:    noopLogger{},
		publisher: noopPublisher{},
		telemetry: noopExecutionTelemetry{},
		notifier:  noopNotifier{},
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// SetPublisher sets the message-bus publisher for execution events.
func (r *Recorder) SetPublisher(p Publisher) {
	r.publisher = p
}

// SetTelemetry sets the time-series sink for execution outcomes.
func (r *Recorder) SetTelemetry(t ExecutionTelemetry) {
	r.telemetry = t
}

// SetNotifier sets the UI fan-out sink for finalized executions.
func (r *Recorder) SetNotifier(n Notifier) {
	r.notifier = n
}

// Begin creates a pending execution record. An ID is always assigned, even
// when persistence fails, so dispatch can proceed and commands stay
// correlated.
func (r *Recorder) Begin(ctx context.Context, e *automation.Execution) {
	if e.StartedAt.IsZero() {
		e.StartedAt = r.clock.Now()
	}
	e.Status = automation.ExecutionDispatching

	if err := r.store.CreatePending(ctx, e); err != nil {
		if e.ID == "" {
			e.ID = "exe-" + uuid.NewString()[:8]
		}
		r.logger.Error("persisting pending execution failed",
			"execution_id", e.ID, "rule_id", e.RuleID, "error", err)
	}
}

// Finish finalizes an execution with the given outcome and emits it to the
// bus, the telemetry sink and the UI notifier.
func (r *Recorder) Finish(ctx context.Context, e *automation.Execution, outcome automation.Outcome) {
	if outcome.FinishedAt.IsZero() {
		outcome.FinishedAt = r.clock.Now()
	}

	if err := r.store.Finalize(ctx, e.ID, outcome); err != nil {
		r.logger.Error("finalizing execution failed",
			"execution_id", e.ID, "status", outcome.Status, "error", err)
	}

	e.Status = outcome.Status
	e.AbortReason = outcome.AbortReason
	e.Conditions = outcome.Conditions
	e.Commands = outcome.Commands
	finished := outcome.FinishedAt
	e.FinishedAt = &finished
	e.Finalized = true

	r.emit(e)
}

func (r *Recorder) emit(e *automation.Execution) {
	failed := 0
	for _, c := range e.Commands {
		if c.Status != automation.CommandAcknowledged {
			failed++
		}
	}
	duration := int64(0)
	if e.FinishedAt != nil {
		duration = e.FinishedAt.Sub(e.StartedAt).Milliseconds()
	}
	r.telemetry.WriteExecutionOutcome(e.RuleID, string(e.Status), duration, len(e.Commands), failed)
	r.notifier.ExecutionFinalized(e)

	payload, err := json.Marshal(e)
	if err != nil {
		r.logger.Error("marshaling execution event failed", "execution_id", e.ID, "error", err)
		return
	}
	topic := mqtt.Topics{}.ExecutionEvent(e.ID)
	if err := r.publisher.Publish(topic, payload, 0, false); err != nil {
		r.logger.Warn("publishing execution event failed",
			"execution_id", e.ID, "topic", topic, "error", err)
	}

	r.logger.Info("execution finalized",
		"execution_id", e.ID, "rule_id", e.RuleID, "status", e.Status,
		"commands", len(e.Commands), "failed", failed,
		"duration_ms", duration)
}

package automation

import "time"

// ExecutionStatus is the lifecycle status of an execution record.
type ExecutionStatus string

// Execution statuses. Dispatching is the only non-terminal status; a record
// leaves it exactly once, at finalization.
const (
	ExecutionDispatching     ExecutionStatus = "dispatching"
	ExecutionSucceeded       ExecutionStatus = "succeeded"
	ExecutionPartiallyFailed ExecutionStatus = "partially_failed"
	ExecutionFailed          ExecutionStatus = "failed"
	ExecutionAborted         ExecutionStatus = "aborted"
)

// Terminal reports whether the status is an end state.
func (s ExecutionStatus) Terminal() bool {
	return s != ExecutionDispatching
}

// CommandStatus is the lifecycle status of a device command.
type CommandStatus string

// Command statuses. A command is terminal once acknowledged, or failed after
// exhausting retries.
const (
	CommandPending      CommandStatus = "pending"
	CommandSent         CommandStatus = "sent"
	CommandAcknowledged CommandStatus = "acknowledged"
	CommandFailed       CommandStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s CommandStatus) Terminal() bool {
	return s == CommandAcknowledged || s == CommandFailed
}

// TriggerEvent records what caused an execution: the matched state change,
// the schedule firing, or a manual scene activation.
type TriggerEvent struct {
	Kind      TriggerKind `json:"kind"`
	DeviceID  string      `json:"device_id,omitempty"`
	Attribute string      `json:"attribute,omitempty"`
	OldValue  any         `json:"old_value,omitempty"`
	NewValue  any         `json:"new_value,omitempty"`
	At        time.Time   `json:"at"`
}

// ConditionResult is the audited outcome of one evaluated condition.
type ConditionResult struct {
	Condition ConditionSpec `json:"condition"`
	Passed    bool          `json:"passed"`
	Detail    string        `json:"detail,omitempty"`
}

// DeviceCommand is a request to change a device's state. Created by the
// dispatcher, mutated only by the gateway adapter as it reports outcomes.
type DeviceCommand struct {
	ID          string         `json:"id"`
	DeviceID    string         `json:"device_id"`
	ExecutionID string         `json:"execution_id,omitempty"` // empty for manual commands
	Name        string         `json:"name"`
	Parameters  map[string]any `json:"parameters,omitempty"`

	Status        CommandStatus `json:"status"`
	Attempts      int           `json:"attempts"`
	FailureReason string        `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Execution is the immutable audit record of one rule firing or direct scene
// activation. Created at execution start with status dispatching, finalized
// exactly once with a terminal status, never mutated afterward.
type Execution struct {
	ID      string `json:"id"`
	RuleID  string `json:"rule_id,omitempty"`
	SceneID string `json:"scene_id,omitempty"` // set for direct scene activations

	// RuleSnapshot freezes the rule as of firing time. Later rule edits do
	// not retroactively alter past executions.
	RuleSnapshot *Rule `json:"rule_snapshot,omitempty"`

	Trigger    TriggerEvent      `json:"trigger"`
	Conditions []ConditionResult `json:"conditions,omitempty"`
	Commands   []DeviceCommand   `json:"commands,omitempty"`

	Status      ExecutionStatus `json:"status"`
	AbortReason string          `json:"abort_reason,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Finalized  bool       `json:"finalized"`
}

// Outcome is what finalization writes onto a pending execution.
type Outcome struct {
	Status      ExecutionStatus
	AbortReason string
	Conditions  []ConditionResult
	Commands    []DeviceCommand
	FinishedAt  time.Time
}

// AggregateStatus derives an execution's terminal status from its commands:
// succeeded when all acknowledged, failed when none were, partially failed
// otherwise.
func AggregateStatus(commands []DeviceCommand) ExecutionStatus {
	if len(commands) == 0 {
		return ExecutionSucceeded
	}
	acked := 0
	for _, c := range commands {
		if c.Status == CommandAcknowledged {
			acked++
		}
	}
	switch acked {
	case len(commands):
		return ExecutionSucceeded
	case 0:
		return ExecutionFailed
	default:
		return ExecutionPartiallyFailed
	}
}

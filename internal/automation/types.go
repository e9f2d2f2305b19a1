package automation

import "time"

// TriggerKind discriminates trigger specifications.
type TriggerKind string

// Trigger kinds.
const (
	// TriggerState fires on a device attribute crossing a predicate.
	TriggerState TriggerKind = "state"
	// TriggerSchedule fires on a cron-style schedule.
	TriggerSchedule TriggerKind = "schedule"
	// TriggerManual marks direct scene activations in execution records.
	TriggerManual TriggerKind = "manual"
)

// CompareOp is a comparison operator in trigger and condition predicates.
type CompareOp string

// Comparison operators. Numeric operators apply to numeric attribute values;
// eq/ne compare loosely across JSON scalar types; changed matches any
// transition of the attribute's value.
const (
	OpEqual        CompareOp = "eq"
	OpNotEqual     CompareOp = "ne"
	OpGreater      CompareOp = "gt"
	OpLess         CompareOp = "lt"
	OpGreaterEqual CompareOp = "gte"
	OpLessEqual    CompareOp = "lte"
	OpChanged      CompareOp = "changed"
)

// TriggerSpec is a tagged variant over trigger kinds.
//
// Kind "state" uses DeviceID, Attribute, Op and (except for changed) Value.
// Kind "schedule" uses Schedule, a cron expression or @every descriptor.
type TriggerSpec struct {
	Kind TriggerKind `json:"kind"`

	DeviceID  string    `json:"device_id,omitempty"`
	Attribute string    `json:"attribute,omitempty"`
	Op        CompareOp `json:"op,omitempty"`
	Value     any       `json:"value,omitempty"`

	Schedule string `json:"schedule,omitempty"`
}

// ConditionKind discriminates condition specifications.
type ConditionKind string

// Condition kinds.
const (
	// ConditionDeviceState checks the current state of any device.
	ConditionDeviceState ConditionKind = "device_state"
	// ConditionTimeWindow checks the current time against a daily window.
	ConditionTimeWindow ConditionKind = "time_window"
	// ConditionNotFiredWithin debounces: passes when the rule has not
	// completed an execution within the given duration.
	ConditionNotFiredWithin ConditionKind = "not_fired_within"
)

// ConditionSpec is a tagged variant over condition kinds.
//
// Kind "device_state" uses DeviceID, Attribute, Op, Value.
// Kind "time_window" uses After and Before as "HH:MM" local times; a window
// with Before earlier than After wraps past midnight.
// Kind "not_fired_within" uses Within.
type ConditionSpec struct {
	Kind ConditionKind `json:"kind"`

	DeviceID  string    `json:"device_id,omitempty"`
	Attribute string    `json:"attribute,omitempty"`
	Op        CompareOp `json:"op,omitempty"`
	Value     any       `json:"value,omitempty"`

	After  string `json:"after,omitempty"`
	Before string `json:"before,omitempty"`

	Within Duration `json:"within,omitempty"`
}

// ActionKind discriminates action specifications.
type ActionKind string

// Action kinds.
const (
	// ActionCommand sends a single device command.
	ActionCommand ActionKind = "command"
	// ActionScene expands a scene's action list in place.
	ActionScene ActionKind = "scene"
)

// ActionSpec is a tagged variant over action kinds.
//
// Kind "command" uses DeviceID, Command and optional Parameters.
// Kind "scene" uses SceneID.
type ActionSpec struct {
	Kind ActionKind `json:"kind"`

	DeviceID   string         `json:"device_id,omitempty"`
	Command    string         `json:"command,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`

	SceneID string `json:"scene_id,omitempty"`
}

// Rule is an automation rule: one trigger, ordered guard conditions, ordered
// actions. Rules are read-only to the engine during evaluation; edits take
// effect for subsequently matched triggers only.
type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`

	Trigger    TriggerSpec     `json:"trigger"`
	Conditions []ConditionSpec `json:"conditions,omitempty"`
	Actions    []ActionSpec    `json:"actions"`

	Enabled bool `json:"enabled"`
	// AllowOverlap permits concurrent executions of this rule. When false,
	// triggers matched during an in-flight execution are coalesced (dropped
	// with an aborted record).
	AllowOverlap bool `json:"allow_overlap"`

	// InvalidReason is set when the rule failed configuration validation at
	// load time. Invalid rules are never evaluated.
	InvalidReason string `json:"invalid_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates a complete independent copy of the Rule.
func (r *Rule) DeepCopy() *Rule {
	if r == nil {
		return nil
	}
	cpy := *r
	cpy.Trigger = r.Trigger // Value copy; Value field is treated as immutable
	if r.Conditions != nil {
		cpy.Conditions = make([]ConditionSpec, len(r.Conditions))
		copy(cpy.Conditions, r.Conditions)
	}
	cpy.Actions = copyActions(r.Actions)
	return &cpy
}

// Valid reports whether the rule passed configuration validation.
func (r *Rule) Valid() bool {
	return r.InvalidReason == ""
}

// Scene is a named, reusable ordered list of actions. Scenes are immutable
// during execution; an edit is a new version picked up by later firings.
type Scene struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Slug    string       `json:"slug"`
	Actions []ActionSpec `json:"actions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates a complete independent copy of the Scene.
func (s *Scene) DeepCopy() *Scene {
	if s == nil {
		return nil
	}
	cpy := *s
	cpy.Actions = copyActions(s.Actions)
	return &cpy
}

func copyActions(actions []ActionSpec) []ActionSpec {
	if actions == nil {
		return nil
	}
	out := make([]ActionSpec, len(actions))
	for i, a := range actions {
		out[i] = a
		if a.Parameters != nil {
			params := make(map[string]any, len(a.Parameters))
			for k, v := range a.Parameters {
				params[k] = v
			}
			out[i].Parameters = params
		}
	}
	return out
}

package engine

import (
	"github.com/hearthd/hearth-core/internal/automation"
	"github.com/hearthd/hearth-core/internal/state"
)

// MatchStateChange returns the rules whose state trigger matches the given
// change event. Matching is a pure function of the (old, new) state pair:
// the predicate must be false on the old state and true on the new one, so a
// rule fires on the crossing, not on every report above a threshold.
//
// The changed operator matches any transition of the attribute's value,
// including its first appearance.
//
// All matching rules are returned; ordering among them is the caller's
// concern. Rules flagged invalid or disabled are expected to be filtered out
// by the caller's rule source.
func MatchStateChange(rules []automation.Rule, event *state.ChangeEvent) []automation.Rule {
	var matched []automation.Rule
	for i := range rules {
		rule := &rules[i]
		if rule.Trigger.Kind != automation.TriggerState {
			continue
		}
		if rule.Trigger.DeviceID != event.DeviceID {
			continue
		}
		if stateTriggerMatches(&rule.Trigger, event.Old, event.New) {
			matched = append(matched, *rule)
		}
	}
	return matched
}

func stateTriggerMatches(t *automation.TriggerSpec, old, new *state.DeviceState) bool {
	newVal, newOK := attributeValue(new, t.Attribute)
	oldVal, oldOK := attributeValue(old, t.Attribute)

	if t.Op == automation.OpChanged {
		if !newOK {
			return false
		}
		return !oldOK || !looseEqual(oldVal, newVal)
	}

	if !newOK || !comparePredicate(t.Op, newVal, t.Value) {
		return false
	}
	// Edge semantics: the predicate must not already hold on the old state.
	if oldOK && comparePredicate(t.Op, oldVal, t.Value) {
		return false
	}
	return true
}

func attributeValue(s *state.DeviceState, attribute string) (any, bool) {
	if s == nil || s.Attributes == nil {
		return nil, false
	}
	v, ok := s.Attributes[attribute]
	return v, ok
}

// comparePredicate evaluates value <op> operand. Numeric operators require
// both sides numeric; eq/ne fall back to loose equality across JSON scalars.
func comparePredicate(op automation.CompareOp, value, operand any) bool {
	switch op {
	case automation.OpEqual:
		return looseEqual(value, operand)
	case automation.OpNotEqual:
		return !looseEqual(value, operand)
	case automation.OpGreater, automation.OpLess, automation.OpGreaterEqual, automation.OpLessEqual:
		a, aok := toFloat(value)
		b, bok := toFloat(operand)
		if !aok || !bok {
			return false
		}
		switch op {
		case automation.OpGreater:
			return a > b
		case automation.OpLess:
			return a < b
		case automation.OpGreaterEqual:
			return a >= b
		default:
			return a <= b
		}
	default:
		return false
	}
}

// looseEqual compares JSON scalar values, treating all numeric types as
// equivalent (JSON round-trips integers as float64).
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

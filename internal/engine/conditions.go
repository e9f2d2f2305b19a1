package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hearthd/hearth-core/internal/automation"
	"github.com/hearthd/hearth-core/internal/state"
)

// StateReader is the subset of the state store conditions read from.
type StateReader interface {
	Current(deviceID string) (*state.DeviceState, error)
}

// HistoryReader answers "when did this rule last actually fire".
type HistoryReader interface {
	LastFired(ctx context.Context, ruleID string) (*time.Time, error)
}

// Evaluator evaluates a rule's guard conditions.
//
// Conditions run short-circuit, left to right; the first failure stops
// evaluation. The returned results list covers exactly the conditions that
// were evaluated, for audit. A store read error fails closed: the rule is
// skipped and the error surfaces as ErrStateUnavailable.
type Evaluator struct {
	states  StateReader
	history HistoryReader
	clock   Clock
}

// NewEvaluator creates a condition evaluator.
func NewEvaluator(states StateReader, history HistoryReader, clock Clock) *Evaluator {
	if clock == nil {
		clock = SystemClock()
	}
	return &Evaluator{states: states, history: history, clock: clock}
}

// Evaluate runs the rule's condition list against current state and time.
func (e *Evaluator) Evaluate(ctx context.Context, rule *automation.Rule) (bool, []automation.ConditionResult, error) {
	var results []automation.ConditionResult

	for i := range rule.Conditions {
		cond := rule.Conditions[i]
		passed, detail, err := e.evaluateOne(ctx, rule, &cond)
		if err != nil {
			return false, results, err
		}
		results = append(results, automation.ConditionResult{
			Condition: cond,
			Passed:    passed,
			Detail:    detail,
		})
		if !passed {
			return false, results, nil
		}
	}
	return true, results, nil
}

func (e *Evaluator) evaluateOne(ctx context.Context, rule *automation.Rule, c *automation.ConditionSpec) (bool, string, error) {
	switch c.Kind {
	case automation.ConditionDeviceState:
		return e.evalDeviceState(c)
	case automation.ConditionTimeWindow:
		return evalTimeWindow(c, e.clock.Now())
	case automation.ConditionNotFiredWithin:
		return e.evalNotFiredWithin(ctx, rule.ID, c)
	default:
		// Unknown kinds are caught at validation; fail closed if one slips through.
		return false, fmt.Sprintf("unknown condition kind %q", c.Kind), nil
	}
}

func (e *Evaluator) evalDeviceState(c *automation.ConditionSpec) (bool, string, error) {
	current, err := e.states.Current(c.DeviceID)
	if err != nil {
		if errors.Is(err, state.ErrNoState) {
			return false, fmt.Sprintf("device %s has no recorded state", c.DeviceID), nil
		}
		return false, "", fmt.Errorf("%w: reading %s: %v", ErrStateUnavailable, c.DeviceID, err)
	}

	value, ok := current.Attributes[c.Attribute]
	if !ok {
		return false, fmt.Sprintf("attribute %q not present", c.Attribute), nil
	}
	if comparePredicate(c.Op, value, c.Value) {
		return true, "", nil
	}
	return false, fmt.Sprintf("%s.%s = %v, want %s %v", c.DeviceID, c.Attribute, value, c.Op, c.Value), nil
}

// evalTimeWindow checks now against a daily window. A window whose end is
// earlier than its start wraps past midnight (e.g. 22:00 to 06:00).
func evalTimeWindow(c *automation.ConditionSpec, now time.Time) (bool, string, error) {
	after, err := time.Parse("15:04", c.After)
	if err != nil {
		return false, fmt.Sprintf("bad window start %q", c.After), nil
	}
	before, err := time.Parse("15:04", c.Before)
	if err != nil {
		return false, fmt.Sprintf("bad window end %q", c.Before), nil
	}

	minutes := now.Hour()*60 + now.Minute()
	start := after.Hour()*60 + after.Minute()
	end := before.Hour()*60 + before.Minute()

	var inside bool
	if start <= end {
		inside = minutes >= start && minutes < end
	} else {
		inside = minutes >= start || minutes < end
	}
	if inside {
		return true, "", nil
	}
	return false, fmt.Sprintf("time %02d:%02d outside window %s-%s", now.Hour(), now.Minute(), c.After, c.Before), nil
}

func (e *Evaluator) evalNotFiredWithin(ctx context.Context, ruleID string, c *automation.ConditionSpec) (bool, string, error) {
	last, err := e.history.LastFired(ctx, ruleID)
	if err != nil {
		return false, "", fmt.Errorf("%w: execution history: %v", ErrStateUnavailable, err)
	}
	if last == nil {
		return true, "", nil
	}
	elapsed := e.clock.Now().Sub(*last)
	if elapsed >= c.Within.Std() {
		return true, "", nil
	}
	return false, fmt.Sprintf("fired %s ago, debounce %s", elapsed.Round(time.Second), c.Within), nil
}

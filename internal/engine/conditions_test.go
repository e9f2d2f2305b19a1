package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hearthd/hearth-core/internal/automation"
	"github.com/hearthd/hearth-core/internal/state"
)

// fakeClock is a settable Clock.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// fakeStates serves canned current states.
type fakeStates struct {
	states map[string]*state.DeviceState
	err    error
}

func (f *fakeStates) Current(deviceID string) (*state.DeviceState, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.states[deviceID]
	if !ok {
		return nil, state.ErrNoState
	}
	return s.DeepCopy(), nil
}

// fakeHistory serves a canned last-fired time.
type fakeHistory struct {
	last *time.Time
	err  error
}

func (f *fakeHistory) LastFired(context.Context, string) (*time.Time, error) {
	return f.last, f.err
}

func TestEvaluateDeviceStateCondition(t *testing.T) {
	states := &fakeStates{states: map[string]*state.DeviceState{
		"lamp-1": {DeviceID: "lamp-1", Attributes: map[string]any{"power": "on", "level": 80.0}},
	}}
	clock := &fakeClock{now: time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)}
	eval := NewEvaluator(states, &fakeHistory{}, clock)

	rule := &automation.Rule{
		ID: "rul-1",
		Conditions: []automation.ConditionSpec{
			{Kind: automation.ConditionDeviceState, DeviceID: "lamp-1", Attribute: "power", Op: automation.OpEqual, Value: "on"},
			{Kind: automation.ConditionDeviceState, DeviceID: "lamp-1", Attribute: "level", Op: automation.OpGreater, Value: 50.0},
		},
	}

	passed, results, err := eval.Evaluate(context.Background(), rule)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !passed {
		t.Error("Evaluate() = false, want pass")
	}
	if len(results) != 2 {
		t.Errorf("evaluated %d conditions, want 2", len(results))
	}
}

func TestEvaluateShortCircuit(t *testing.T) {
	states := &fakeStates{states: map[string]*state.DeviceState{
		"lamp-1": {DeviceID: "lamp-1", Attributes: map[string]any{"power": "off"}},
	}}
	eval := NewEvaluator(states, &fakeHistory{}, &fakeClock{now: time.Now()})

	rule := &automation.Rule{
		ID: "rul-1",
		Conditions: []automation.ConditionSpec{
			{Kind: automation.ConditionDeviceState, DeviceID: "lamp-1", Attribute: "power", Op: automation.OpEqual, Value: "on"},
			// Would error if reached: device unknown.
			{Kind: automation.ConditionDeviceState, DeviceID: "ghost", Attribute: "x", Op: automation.OpEqual, Value: 1.0},
		},
	}

	passed, results, err := eval.Evaluate(context.Background(), rule)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if passed {
		t.Error("Evaluate() = true, want fail")
	}
	// Audit list covers only the conditions actually evaluated.
	if len(results) != 1 {
		t.Fatalf("evaluated %d conditions, want 1 (short-circuit)", len(results))
	}
	if results[0].Passed || results[0].Detail == "" {
		t.Errorf("result = %+v, want failed with detail", results[0])
	}
}

func TestEvaluateFailsClosedOnStoreError(t *testing.T) {
	states := &fakeStates{err: fmt.Errorf("disk on fire")}
	eval := NewEvaluator(states, &fakeHistory{}, &fakeClock{now: time.Now()})

	rule := &automation.Rule{
		ID: "rul-1",
		Conditions: []automation.ConditionSpec{
			{Kind: automation.ConditionDeviceState, DeviceID: "lamp-1", Attribute: "power", Op: automation.OpEqual, Value: "on"},
		},
	}

	_, _, err := eval.Evaluate(context.Background(), rule)
	if !errors.Is(err, ErrStateUnavailable) {
		t.Errorf("Evaluate() error = %v, want ErrStateUnavailable", err)
	}
}

func TestEvaluateNoStateFailsCondition(t *testing.T) {
	eval := NewEvaluator(&fakeStates{}, &fakeHistory{}, &fakeClock{now: time.Now()})

	rule := &automation.Rule{
		ID: "rul-1",
		Conditions: []automation.ConditionSpec{
			{Kind: automation.ConditionDeviceState, DeviceID: "unseen", Attribute: "power", Op: automation.OpEqual, Value: "on"},
		},
	}

	passed, results, err := eval.Evaluate(context.Background(), rule)
	if err != nil {
		t.Fatalf("Evaluate() error = %v (no-state is a fail, not an error)", err)
	}
	if passed || len(results) != 1 {
		t.Errorf("passed = %v results = %d, want failed with one result", passed, len(results))
	}
}

func TestEvaluateTimeWindow(t *testing.T) {
	tests := []struct {
		name          string
		now           string // HH:MM
		after, before string
		want          bool
	}{
		{"inside plain window", "12:30", "08:00", "22:00", true},
		{"before plain window", "07:59", "08:00", "22:00", false},
		{"at window start", "08:00", "08:00", "22:00", true},
		{"at window end excluded", "22:00", "08:00", "22:00", false},
		{"wrapping window evening", "23:30", "22:00", "06:00", true},
		{"wrapping window morning", "05:00", "22:00", "06:00", true},
		{"wrapping window midday", "12:00", "22:00", "06:00", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nowT, _ := time.Parse("15:04", tt.now)
			clock := &fakeClock{now: time.Date(2026, 8, 15, nowT.Hour(), nowT.Minute(), 0, 0, time.UTC)}
			eval := NewEvaluator(&fakeStates{}, &fakeHistory{}, clock)

			rule := &automation.Rule{
				ID: "rul-1",
				Conditions: []automation.ConditionSpec{
					{Kind: automation.ConditionTimeWindow, After: tt.after, Before: tt.before},
				},
			}
			passed, _, err := eval.Evaluate(context.Background(), rule)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if passed != tt.want {
				t.Errorf("passed = %v, want %v", passed, tt.want)
			}
		})
	}
}

func TestEvaluateNotFiredWithin(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	rule := &automation.Rule{
		ID: "rul-1",
		Conditions: []automation.ConditionSpec{
			{Kind: automation.ConditionNotFiredWithin, Within: automation.Duration(10 * time.Minute)},
		},
	}

	tests := []struct {
		name string
		last *time.Time
		want bool
	}{
		{"never fired", nil, true},
		{"fired long ago", timePtr(now.Add(-time.Hour)), true},
		{"fired just now", timePtr(now.Add(-time.Minute)), false},
		{"fired exactly at boundary", timePtr(now.Add(-10 * time.Minute)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := NewEvaluator(&fakeStates{}, &fakeHistory{last: tt.last}, &fakeClock{now: now})
			passed, _, err := eval.Evaluate(context.Background(), rule)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if passed != tt.want {
				t.Errorf("passed = %v, want %v", passed, tt.want)
			}
		})
	}
}

func timePtr(t time.Time) *time.Time { return &t }

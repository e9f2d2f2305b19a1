package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hearthd/hearth-core/internal/automation"
	"github.com/hearthd/hearth-core/internal/state"
)

// RuleProvider is the engine's read-only view of automation definitions.
// Definitions are snapshots: edits never alter an in-flight execution.
type RuleProvider interface {
	RuleSource
	RuleEnabled(id string) bool
	LookupScene(id string) (*automation.Scene, bool)
}

// StateStream delivers device state change events.
type StateStream interface {
	Subscribe() (<-chan state.ChangeEvent, func())
}

// Config carries the engine's evaluation knobs.
type Config struct {
	// RecordConditionFailures controls whether a trigger whose conditions
	// fail leaves an aborted execution record or is dropped silently.
	// Coalesced-overlap drops are always recorded regardless.
	RecordConditionFailures bool
}

// overlapGate is a rule's mutual-exclusion flag for disallowed overlap.
type overlapGate struct {
	mu     sync.Mutex
	active bool
}

func (g *overlapGate) tryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active {
		return false
	}
	g.active = true
	return true
}

func (g *overlapGate) release() {
	g.mu.Lock()
	g.active = false
	g.mu.Unlock()
}

// Engine is the rule engine core. It consumes state change events and
// scheduler firings, matches triggers, evaluates conditions, dispatches
// actions and records executions.
//
// Each matched rule evaluates as an independent concurrent task; the event
// loop never blocks on rule evaluation. Cross-rule coordination happens only
// through the dispatcher's per-device ordering locks and the per-rule
// overlap gates.
type Engine struct {
	rules      RuleProvider
	states     StateStream
	evaluator  *Evaluator
	dispatcher *Dispatcher
	recorder   *Recorder
	cfg        Config
	clock      Clock
	logger     Logger

	gatesMu sync.Mutex
	gates   map[string]*overlapGate

	runMu   sync.Mutex
	running bool
	runCtx  context.Context
	wg      sync.WaitGroup
}

// New creates an engine.
func New(rules RuleProvider, states StateStream, evaluator *Evaluator, dispatcher *Dispatcher, recorder *Recorder, cfg Config, clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock()
	}
	return &Engine{
		rules:      rules,
		states:     states,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		recorder:   recorder,
		cfg:        cfg,
		clock:      clock,
		logger:     noopLogger{},
		gates:      make(map[string]*overlapGate),
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// Run consumes state change events until the context is cancelled, then
// waits for in-flight evaluations to reach their terminal states.
// Already-submitted commands are never cancelled mid-flight.
func (e *Engine) Run(ctx context.Context) {
	events, cancel := e.states.Subscribe()
	defer cancel()

	e.runMu.Lock()
	e.running = true
	e.runCtx = ctx
	e.runMu.Unlock()

	e.logger.Info("engine started")
	for {
		select {
		case <-ctx.Done():
			e.runMu.Lock()
			e.running = false
			e.runMu.Unlock()
			e.wg.Wait()
			e.logger.Info("engine stopped")
			return
		case event, ok := <-events:
			if !ok {
				e.runMu.Lock()
				e.running = false
				e.runMu.Unlock()
				e.wg.Wait()
				return
			}
			e.handleStateChange(ctx, &event)
		}
	}
}

// handleStateChange matches the event against all enabled rules and launches
// one evaluation task per match.
func (e *Engine) handleStateChange(ctx context.Context, event *state.ChangeEvent) {
	matched := MatchStateChange(e.rules.EnabledRules(), event)
	if len(matched) == 0 {
		return
	}

	for i := range matched {
		rule := matched[i]
		trig := automation.TriggerEvent{
			Kind:      automation.TriggerState,
			DeviceID:  event.DeviceID,
			Attribute: rule.Trigger.Attribute,
			At:        event.New.ObservedAt,
		}
		trig.OldValue, _ = attributeValue(event.Old, rule.Trigger.Attribute)
		trig.NewValue, _ = attributeValue(event.New, rule.Trigger.Attribute)
		e.launch(ctx, rule, trig)
	}
}

// ScheduleFired is the scheduler's submit callback.
func (e *Engine) ScheduleFired(rule automation.Rule, at time.Time) {
	e.runMu.Lock()
	ctx := e.runCtx
	running := e.running
	e.runMu.Unlock()
	if !running {
		return
	}

	e.launch(ctx, rule, automation.TriggerEvent{
		Kind: automation.TriggerSchedule,
		At:   at,
	})
}

// launch starts one rule evaluation as an independent task.
func (e *Engine) launch(ctx context.Context, rule automation.Rule, trigger automation.TriggerEvent) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.evaluate(ctx, rule, trigger)
	}()
}

// evaluate runs one rule end to end: overlap gate, conditions, dispatch,
// record. Errors here abort only this rule's evaluation.
func (e *Engine) evaluate(ctx context.Context, rule automation.Rule, trigger automation.TriggerEvent) {
	if !rule.AllowOverlap {
		gate := e.gate(rule.ID)
		if !gate.tryAcquire() {
			// Coalesced drops are always recorded, so trigger storms stay
			// visible in the execution history.
			e.recordAborted(ctx, &rule, trigger, nil, AbortCoalesced)
			e.logger.Debug("trigger coalesced", "rule_id", rule.ID)
			return
		}
		defer gate.release()
	}

	passed, results, err := e.evaluator.Evaluate(ctx, &rule)
	if err != nil {
		// Fail closed: a state read error skips the rule entirely.
		e.logger.Error("condition evaluation failed, rule skipped",
			"rule_id", rule.ID, "error", err)
		return
	}
	if !passed {
		if e.cfg.RecordConditionFailures {
			e.recordAborted(ctx, &rule, trigger, results, AbortConditionsFailed)
		}
		e.logger.Debug("conditions not met", "rule_id", rule.ID)
		return
	}

	exec := &automation.Execution{
		RuleID:       rule.ID,
		RuleSnapshot: rule.DeepCopy(),
		Trigger:      trigger,
	}
	e.recorder.Begin(ctx, exec)

	expanded, err := ExpandActions(rule.Actions, e.rules.LookupScene)
	if err != nil {
		// Policy violation: rejected before any command is sent.
		e.recorder.Finish(ctx, exec, automation.Outcome{
			Status:      automation.ExecutionFailed,
			AbortReason: fmt.Sprintf("action expansion: %v", err),
			Conditions:  results,
		})
		return
	}

	cancelled := func() bool { return !e.rules.RuleEnabled(rule.ID) }
	commands := e.dispatcher.Dispatch(ctx, exec.ID, expanded, cancelled)

	e.recorder.Finish(ctx, exec, automation.Outcome{
		Status:     automation.AggregateStatus(commands),
		Conditions: results,
		Commands:   commands,
	})
}

// ActivateScene runs a scene directly, outside any rule. The execution is
// recorded with a manual trigger and no rule reference.
func (e *Engine) ActivateScene(ctx context.Context, sceneID string) (*automation.Execution, error) {
	scene, ok := e.rules.LookupScene(sceneID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", automation.ErrSceneNotFound, sceneID)
	}

	exec := &automation.Execution{
		SceneID: scene.ID,
		Trigger: automation.TriggerEvent{
			Kind: automation.TriggerManual,
			At:   e.clock.Now(),
		},
	}
	e.recorder.Begin(ctx, exec)

	expanded, err := ExpandActions(scene.Actions, e.rules.LookupScene)
	if err != nil {
		e.recorder.Finish(ctx, exec, automation.Outcome{
			Status:      automation.ExecutionFailed,
			AbortReason: fmt.Sprintf("action expansion: %v", err),
		})
		return exec, err
	}

	commands := e.dispatcher.Dispatch(ctx, exec.ID, expanded, nil)
	e.recorder.Finish(ctx, exec, automation.Outcome{
		Status:   automation.AggregateStatus(commands),
		Commands: commands,
	})
	return exec, nil
}

// recordAborted writes a begin+finalize pair for a drop that never reached
// dispatch.
func (e *Engine) recordAborted(ctx context.Context, rule *automation.Rule, trigger automation.TriggerEvent, conditions []automation.ConditionResult, reason string) {
	exec := &automation.Execution{
		RuleID:       rule.ID,
		RuleSnapshot: rule.DeepCopy(),
		Trigger:      trigger,
	}
	e.recorder.Begin(ctx, exec)
	e.recorder.Finish(ctx, exec, automation.Outcome{
		Status:      automation.ExecutionAborted,
		AbortReason: reason,
		Conditions:  conditions,
	})
}

// gate returns the overlap gate for a rule, creating it on first trigger.
// Gates persist for the process lifetime, bounded by the number of distinct
// rule IDs ever triggered; deleted rules leave behind one idle gate each.
func (e *Engine) gate(ruleID string) *overlapGate {
	e.gatesMu.Lock()
	defer e.gatesMu.Unlock()
	g, ok := e.gates[ruleID]
	if !ok {
		g = &overlapGate{}
		e.gates[ruleID] = g
	}
	return g
}

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hearthd/hearth-core/internal/automation"
)

// RuleSource provides the current set of enabled, valid rules.
type RuleSource interface {
	EnabledRules() []automation.Rule
}

// scheduleEntry tracks one schedule-trigger rule between ticks.
type scheduleEntry struct {
	expression string
	schedule   cron.Schedule
	nextFire   time.Time
}

// Scheduler drives time-based triggers. On every tick it advances logical
// time and fires the rules whose next-fire boundary was crossed.
//
// A rule fires at most once per tick no matter how many intervals elapsed
// since the last one: downtime produces no backlog of stale firings. Each
// firing advances the rule's next-fire time from the current tick.
type Scheduler struct {
	rules        RuleSource
	submit       func(rule automation.Rule, at time.Time)
	clock        Clock
	tickInterval time.Duration
	logger       Logger

	mu      sync.Mutex
	entries map[string]*scheduleEntry
}

// NewScheduler creates a scheduler. submit is invoked once per due rule per
// tick, with the tick's logical time.
func NewScheduler(rules RuleSource, submit func(rule automation.Rule, at time.Time), clock Clock, tickInterval time.Duration) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	return &Scheduler{
		rules:        rules,
		submit:       submit,
		clock:        clock,
		tickInterval: tickInterval,
		logger:       noopLogger{},
		entries:      make(map[string]*scheduleEntry),
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "tick_interval", s.tickInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(s.clock.Now())
		}
	}
}

// Tick evaluates all schedule triggers against the given logical time.
// Exported so tests can drive time directly.
func (s *Scheduler) Tick(now time.Time) {
	var due []automation.Rule

	s.mu.Lock()
	seen := make(map[string]bool)
	for _, rule := range s.rules.EnabledRules() {
		if rule.Trigger.Kind != automation.TriggerSchedule {
			continue
		}
		seen[rule.ID] = true

		entry, ok := s.entries[rule.ID]
		if !ok || entry.expression != rule.Trigger.Schedule {
			sched, err := automation.ParseSchedule(rule.Trigger.Schedule)
			if err != nil {
				// Validation flags these at load; skip without blocking others.
				s.logger.Warn("unparseable schedule skipped", "rule_id", rule.ID, "error", err)
				continue
			}
			entry = &scheduleEntry{
				expression: rule.Trigger.Schedule,
				schedule:   sched,
				nextFire:   sched.Next(now),
			}
			s.entries[rule.ID] = entry
			continue // Newly tracked rules arm, they do not fire immediately
		}

		if !entry.nextFire.After(now) {
			due = append(due, rule)
			// Advance from now: missed intervals collapse into one firing.
			entry.nextFire = entry.schedule.Next(now)
		}
	}
	// Drop entries for rules that were disabled, deleted or re-triggered.
	for id := range s.entries {
		if !seen[id] {
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, rule := range due {
		s.logger.Debug("schedule fired", "rule_id", rule.ID, "at", now)
		s.submit(rule, now)
	}
}

// NextFire returns the tracked next-fire time for a rule, if any.
func (s *Scheduler) NextFire(ruleID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[ruleID]
	if !ok {
		return time.Time{}, false
	}
	return entry.nextFire, true
}

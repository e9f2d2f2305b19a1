package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/hearthd/hearth-core/internal/automation"
)

// stubRules is a swappable RuleSource.
type stubRules struct {
	mu    sync.Mutex
	rules []automation.Rule
}

func (s *stubRules) EnabledRules() []automation.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]automation.Rule(nil), s.rules...)
}

func (s *stubRules) set(rules ...automation.Rule) {
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
}

func scheduleRule(id, expression string) automation.Rule {
	return automation.Rule{
		ID:      id,
		Name:    id,
		Enabled: true,
		Trigger: automation.TriggerSpec{Kind: automation.TriggerSchedule, Schedule: expression},
	}
}

type firing struct {
	ruleID string
	at     time.Time
}

func newTestScheduler(rules RuleSource) (*Scheduler, *[]firing) {
	var (
		mu    sync.Mutex
		fired []firing
	)
	submit := func(rule automation.Rule, at time.Time) {
		mu.Lock()
		fired = append(fired, firing{rule.ID, at})
		mu.Unlock()
	}
	return NewScheduler(rules, submit, SystemClock(), time.Second), &fired
}

func TestSchedulerArmsWithoutFiring(t *testing.T) {
	rules := &stubRules{}
	rules.set(scheduleRule("rul-1", "*/5 * * * *"))
	s, fired := newTestScheduler(rules)

	t0 := time.Date(2026, 8, 15, 7, 2, 0, 0, time.UTC)
	s.Tick(t0)

	if len(*fired) != 0 {
		t.Fatalf("fired %d times on first sight, want 0", len(*fired))
	}
	next, ok := s.NextFire("rul-1")
	if !ok {
		t.Fatal("rule not tracked after first tick")
	}
	want := time.Date(2026, 8, 15, 7, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextFire = %v, want %v", next, want)
	}
}

func TestSchedulerFiresOnBoundary(t *testing.T) {
	rules := &stubRules{}
	rules.set(scheduleRule("rul-1", "*/5 * * * *"))
	s, fired := newTestScheduler(rules)

	t0 := time.Date(2026, 8, 15, 7, 2, 0, 0, time.UTC)
	s.Tick(t0)
	s.Tick(t0.Add(time.Minute)) // 07:03, before boundary
	if len(*fired) != 0 {
		t.Fatalf("fired before boundary")
	}

	s.Tick(t0.Add(3 * time.Minute)) // 07:05
	if len(*fired) != 1 {
		t.Fatalf("fired %d times at boundary, want 1", len(*fired))
	}
	if (*fired)[0].ruleID != "rul-1" {
		t.Errorf("fired rule = %s", (*fired)[0].ruleID)
	}

	// Same tick time again: next-fire already advanced, no double firing.
	s.Tick(t0.Add(3 * time.Minute))
	if len(*fired) != 1 {
		t.Errorf("refired at the same boundary")
	}
}

func TestSchedulerCollapsesMissedIntervals(t *testing.T) {
	rules := &stubRules{}
	rules.set(scheduleRule("rul-1", "*/5 * * * *"))
	s, fired := newTestScheduler(rules)

	t0 := time.Date(2026, 8, 15, 7, 2, 0, 0, time.UTC)
	s.Tick(t0)

	// Three hours of downtime: dozens of missed intervals, one firing.
	late := t0.Add(3 * time.Hour)
	s.Tick(late)
	if len(*fired) != 1 {
		t.Fatalf("fired %d times after downtime, want 1", len(*fired))
	}

	next, _ := s.NextFire("rul-1")
	if !next.After(late) {
		t.Errorf("NextFire = %v, want after %v (advanced from now, not from backlog)", next, late)
	}
}

func TestSchedulerFiresRepeatedly(t *testing.T) {
	rules := &stubRules{}
	rules.set(scheduleRule("rul-1", "0 * * * *")) // Top of every hour
	s, fired := newTestScheduler(rules)

	t0 := time.Date(2026, 8, 15, 6, 30, 0, 0, time.UTC)
	s.Tick(t0)
	s.Tick(time.Date(2026, 8, 15, 7, 0, 0, 0, time.UTC))
	s.Tick(time.Date(2026, 8, 15, 7, 30, 0, 0, time.UTC))
	s.Tick(time.Date(2026, 8, 15, 8, 0, 0, 0, time.UTC))

	if len(*fired) != 2 {
		t.Fatalf("fired %d times across two boundaries, want 2", len(*fired))
	}
}

func TestSchedulerDropsRemovedRules(t *testing.T) {
	rules := &stubRules{}
	rules.set(scheduleRule("rul-1", "*/5 * * * *"))
	s, _ := newTestScheduler(rules)

	t0 := time.Date(2026, 8, 15, 7, 2, 0, 0, time.UTC)
	s.Tick(t0)
	if _, ok := s.NextFire("rul-1"); !ok {
		t.Fatal("rule not tracked")
	}

	rules.set() // Rule disabled or deleted
	s.Tick(t0.Add(time.Minute))
	if _, ok := s.NextFire("rul-1"); ok {
		t.Error("entry survived rule removal")
	}
}

func TestSchedulerRearmsOnExpressionChange(t *testing.T) {
	rules := &stubRules{}
	rules.set(scheduleRule("rul-1", "*/5 * * * *"))
	s, fired := newTestScheduler(rules)

	t0 := time.Date(2026, 8, 15, 7, 2, 0, 0, time.UTC)
	s.Tick(t0)

	// Edit the schedule; the old boundary must not fire.
	rules.set(scheduleRule("rul-1", "0 9 * * *"))
	s.Tick(t0.Add(3 * time.Minute)) // Old 07:05 boundary
	if len(*fired) != 0 {
		t.Fatalf("fired on stale boundary after expression change")
	}

	next, _ := s.NextFire("rul-1")
	want := time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextFire = %v, want %v", next, want)
	}
}

func TestSchedulerIgnoresStateTriggers(t *testing.T) {
	rules := &stubRules{}
	rules.set(stateTriggerRule("rul-state", automation.OpGreater, 27.0))
	s, fired := newTestScheduler(rules)

	s.Tick(time.Date(2026, 8, 15, 7, 0, 0, 0, time.UTC))
	if len(*fired) != 0 {
		t.Error("state-trigger rule fired from the scheduler")
	}
	if _, ok := s.NextFire("rul-state"); ok {
		t.Error("state-trigger rule tracked by the scheduler")
	}
}

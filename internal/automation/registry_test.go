package automation

import (
	"context"
	"errors"
	"testing"
)

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(NewSQLiteRepository(setupTestDB(t)))
}

func TestRegistryEnabledRules(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	enabled := validRule()
	if err := reg.CreateRule(ctx, enabled); err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	disabled := validRule()
	disabled.Name = "Disabled Rule"
	disabled.Slug = "disabled-rule"
	disabled.Enabled = false
	if err := reg.CreateRule(ctx, disabled); err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	rules := reg.EnabledRules()
	if len(rules) != 1 || rules[0].ID != enabled.ID {
		t.Errorf("EnabledRules() = %v, want only %s", rules, enabled.ID)
	}

	// Returned copies must not alias the cache.
	rules[0].Name = "mutated"
	again := reg.EnabledRules()
	if again[0].Name == "mutated" {
		t.Error("cache was mutated through a returned copy")
	}
}

func TestRegistryFlagsDanglingSceneRef(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	rule := validRule()
	rule.Actions = []ActionSpec{{Kind: ActionScene, SceneID: "scn-missing"}}
	if err := reg.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	if rule.InvalidReason == "" {
		t.Error("rule referencing a missing scene should be flagged invalid")
	}
	if len(reg.EnabledRules()) != 0 {
		t.Error("invalid rule must be excluded from evaluation")
	}
}

func TestRegistryRefreshRevalidates(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	reg := NewRegistry(repo)
	ctx := context.Background()

	scene := &Scene{
		Name:    "Evening",
		Actions: []ActionSpec{{Kind: ActionCommand, DeviceID: "lamp-1", Command: "on"}},
	}
	if err := reg.CreateScene(ctx, scene); err != nil {
		t.Fatalf("CreateScene() error = %v", err)
	}

	rule := validRule()
	rule.Actions = []ActionSpec{{Kind: ActionScene, SceneID: scene.ID}}
	if err := reg.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}
	if rule.InvalidReason != "" {
		t.Fatalf("rule unexpectedly invalid: %s", rule.InvalidReason)
	}

	// Deleting the scene invalidates the rule on next refresh.
	if err := reg.DeleteScene(ctx, scene.ID); err != nil {
		t.Fatalf("DeleteScene() error = %v", err)
	}
	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	if len(reg.EnabledRules()) != 0 {
		t.Error("rule with dangling scene reference still enabled after refresh")
	}

	stored, err := repo.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetRule() error = %v", err)
	}
	if stored.InvalidReason == "" {
		t.Error("invalid flag was not persisted")
	}
}

func TestRegistryRejectsSceneCycle(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	a := &Scene{
		Name:    "Scene A",
		Actions: []ActionSpec{{Kind: ActionCommand, DeviceID: "lamp-1", Command: "on"}},
	}
	if err := reg.CreateScene(ctx, a); err != nil {
		t.Fatalf("CreateScene(a) error = %v", err)
	}

	b := &Scene{
		Name:    "Scene B",
		Actions: []ActionSpec{{Kind: ActionScene, SceneID: a.ID}},
	}
	if err := reg.CreateScene(ctx, b); err != nil {
		t.Fatalf("CreateScene(b) error = %v", err)
	}

	// Updating A to reference B closes the loop.
	a.Actions = []ActionSpec{{Kind: ActionScene, SceneID: b.ID}}
	if err := reg.UpdateScene(ctx, a); !errors.Is(err, ErrSceneCycle) {
		t.Errorf("UpdateScene(cycle) error = %v, want ErrSceneCycle", err)
	}

	// Creating a scene referencing a missing one is rejected too.
	c := &Scene{
		Name:    "Scene C",
		Actions: []ActionSpec{{Kind: ActionScene, SceneID: "scn-missing"}},
	}
	if err := reg.CreateScene(ctx, c); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("CreateScene(dangling) error = %v, want ErrSceneNotFound", err)
	}
}

func TestRegistryRuleEnabled(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	rule := validRule()
	if err := reg.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}

	if !reg.RuleEnabled(rule.ID) {
		t.Error("RuleEnabled() = false for enabled rule")
	}
	if err := reg.SetRuleEnabled(ctx, rule.ID, false); err != nil {
		t.Fatalf("SetRuleEnabled() error = %v", err)
	}
	if reg.RuleEnabled(rule.ID) {
		t.Error("RuleEnabled() = true after disable")
	}
	if reg.RuleEnabled("rul-missing") {
		t.Error("RuleEnabled(missing) = true")
	}
}

package automation

import (
	"context"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides cached, thread-safe access to rules and scenes.
//
// The engine reads rule definitions through the registry on every
// evaluation; definitions are returned as deep copies so an in-flight
// execution can never observe a concurrent edit. Edits take effect for
// subsequently matched triggers only.
//
// On load, each rule is re-validated against the current scene set; rules
// that fail (malformed specs, dangling or cyclic scene references) are
// flagged invalid and excluded from evaluation without blocking others.
type Registry struct {
	repo Repository

	mu     sync.RWMutex
	rules  map[string]*Rule
	scenes map[string]*Scene

	logger Logger
}

// NewRegistry creates a new automation registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		rules:  make(map[string]*Rule),
		scenes: make(map[string]*Scene),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all rules and scenes from the repository, re-running
// cross-reference validation. Should be called on startup and after bulk
// edits.
func (r *Registry) RefreshCache(ctx context.Context) error {
	scenes, err := r.repo.ListScenes(ctx)
	if err != nil {
		return fmt.Errorf("loading scenes: %w", err)
	}
	rules, err := r.repo.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	sceneMap := make(map[string]*Scene, len(scenes))
	for i := range scenes {
		s := scenes[i]
		sceneMap[s.ID] = s.DeepCopy()
	}

	ruleMap := make(map[string]*Rule, len(rules))
	invalid := 0
	for i := range rules {
		rule := rules[i].DeepCopy()
		if reason := r.crossValidate(rule, sceneMap); reason != "" {
			rule.InvalidReason = reason
			invalid++
			r.logger.Warn("rule flagged invalid", "rule_id", rule.ID, "reason", reason)
			if err := r.repo.SetRuleInvalid(ctx, rule.ID, reason); err != nil {
				r.logger.Error("persisting invalid flag failed", "rule_id", rule.ID, "error", err)
			}
		} else if rule.InvalidReason != "" {
			// Previously flagged rule is valid again.
			rule.InvalidReason = ""
			if err := r.repo.SetRuleInvalid(ctx, rule.ID, ""); err != nil {
				r.logger.Error("clearing invalid flag failed", "rule_id", rule.ID, "error", err)
			}
		}
		ruleMap[rule.ID] = rule
	}

	r.mu.Lock()
	r.rules = ruleMap
	r.scenes = sceneMap
	r.mu.Unlock()

	r.logger.Info("automation cache refreshed",
		"rules", len(rules), "scenes", len(scenes), "invalid", invalid)
	return nil
}

// crossValidate checks a rule against the loaded scene set.
// Returns an empty string when the rule is sound.
func (r *Registry) crossValidate(rule *Rule, scenes map[string]*Scene) string {
	if err := ValidateRule(rule); err != nil {
		return err.Error()
	}
	lookup := func(id string) (*Scene, bool) {
		s, ok := scenes[id]
		return s, ok
	}
	for _, a := range rule.Actions {
		if a.Kind != ActionScene {
			continue
		}
		if err := CheckSceneCycles(a.SceneID, lookup); err != nil {
			return err.Error()
		}
	}
	return ""
}

// EnabledRules returns deep copies of all enabled, valid rules.
// This is the engine's read path on every trigger evaluation.
func (r *Registry) EnabledRules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var rules []Rule
	for _, rule := range r.rules {
		if rule.Enabled && rule.Valid() {
			rules = append(rules, *rule.DeepCopy())
		}
	}
	return rules
}

// GetRule retrieves a rule by ID as a deep copy.
func (r *Registry) GetRule(ctx context.Context, id string) (*Rule, error) {
	r.mu.RLock()
	cached, ok := r.rules[id]
	r.mu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}
	return r.repo.GetRule(ctx, id)
}

// ListRules returns deep copies of all cached rules.
func (r *Registry) ListRules(ctx context.Context) ([]Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.rules) > 0 {
		rules := make([]Rule, 0, len(r.rules))
		for _, rule := range r.rules {
			rules = append(rules, *rule.DeepCopy())
		}
		return rules, nil
	}
	return r.repo.ListRules(ctx)
}

// CreateRule persists a new rule, cross-validates it and caches it.
func (r *Registry) CreateRule(ctx context.Context, rule *Rule) error {
	if err := r.repo.CreateRule(ctx, rule); err != nil {
		return err
	}

	r.mu.Lock()
	if reason := r.crossValidate(rule, r.scenes); reason != "" {
		rule.InvalidReason = reason
	}
	r.rules[rule.ID] = rule.DeepCopy()
	r.mu.Unlock()

	if rule.InvalidReason != "" {
		if err := r.repo.SetRuleInvalid(ctx, rule.ID, rule.InvalidReason); err != nil {
			r.logger.Error("persisting invalid flag failed", "rule_id", rule.ID, "error", err)
		}
	}
	r.logger.Info("rule created", "rule_id", rule.ID, "name", rule.Name)
	return nil
}

// UpdateRule persists changes to a rule. The updated definition applies to
// subsequently matched triggers; in-flight executions keep their snapshot.
func (r *Registry) UpdateRule(ctx context.Context, rule *Rule) error {
	r.mu.Lock()
	if reason := r.crossValidate(rule, r.scenes); reason != "" {
		rule.InvalidReason = reason
	} else {
		rule.InvalidReason = ""
	}
	r.mu.Unlock()

	if err := r.repo.UpdateRule(ctx, rule); err != nil {
		return err
	}

	r.mu.Lock()
	r.rules[rule.ID] = rule.DeepCopy()
	r.mu.Unlock()

	r.logger.Info("rule updated", "rule_id", rule.ID, "name", rule.Name)
	return nil
}

// SetRuleEnabled toggles a rule. Disabling does not cancel in-flight
// executions; the engine checks enablement before each not-yet-dispatched
// command.
func (r *Registry) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	if err := r.repo.SetRuleEnabled(ctx, id, enabled); err != nil {
		return err
	}

	r.mu.Lock()
	if cached, ok := r.rules[id]; ok {
		updated := cached.DeepCopy()
		updated.Enabled = enabled
		r.rules[id] = updated
	}
	r.mu.Unlock()

	r.logger.Info("rule toggled", "rule_id", id, "enabled", enabled)
	return nil
}

// RuleEnabled reports whether a rule is currently enabled.
// Used by in-flight executions as a cancellation check.
func (r *Registry) RuleEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	return ok && rule.Enabled
}

// DeleteRule removes a rule.
func (r *Registry) DeleteRule(ctx context.Context, id string) error {
	if err := r.repo.DeleteRule(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.rules, id)
	r.mu.Unlock()

	r.logger.Info("rule deleted", "rule_id", id)
	return nil
}

// GetScene retrieves a scene by ID as a deep copy.
func (r *Registry) GetScene(ctx context.Context, id string) (*Scene, error) {
	r.mu.RLock()
	cached, ok := r.scenes[id]
	r.mu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}
	return r.repo.GetScene(ctx, id)
}

// LookupScene resolves a scene from the cache only. Used during action
// expansion, where the scene set must be a consistent snapshot.
func (r *Registry) LookupScene(id string) (*Scene, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scenes[id]
	if !ok {
		return nil, false
	}
	return s.DeepCopy(), true
}

// ListScenes returns deep copies of all cached scenes.
func (r *Registry) ListScenes(ctx context.Context) ([]Scene, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.scenes) > 0 {
		scenes := make([]Scene, 0, len(r.scenes))
		for _, s := range r.scenes {
			scenes = append(scenes, *s.DeepCopy())
		}
		return scenes, nil
	}
	return r.repo.ListScenes(ctx)
}

// CreateScene persists a new scene after checking it introduces no cycles
// against the cached scene set.
func (r *Registry) CreateScene(ctx context.Context, scene *Scene) error {
	if err := ValidateScene(scene); err != nil {
		return err
	}
	if err := r.checkNewSceneCycles(scene); err != nil {
		return err
	}
	if err := r.repo.CreateScene(ctx, scene); err != nil {
		return err
	}

	r.mu.Lock()
	r.scenes[scene.ID] = scene.DeepCopy()
	r.mu.Unlock()

	r.logger.Info("scene created", "scene_id", scene.ID, "name", scene.Name)
	return nil
}

// UpdateScene persists changes to a scene. A new version is picked up by
// later firings only.
func (r *Registry) UpdateScene(ctx context.Context, scene *Scene) error {
	if err := ValidateScene(scene); err != nil {
		return err
	}
	if err := r.checkNewSceneCycles(scene); err != nil {
		return err
	}
	if err := r.repo.UpdateScene(ctx, scene); err != nil {
		return err
	}

	r.mu.Lock()
	r.scenes[scene.ID] = scene.DeepCopy()
	r.mu.Unlock()

	r.logger.Info("scene updated", "scene_id", scene.ID, "name", scene.Name)
	return nil
}

// DeleteScene removes a scene. Rules referencing it are flagged invalid on
// the next cache refresh.
func (r *Registry) DeleteScene(ctx context.Context, id string) error {
	if err := r.repo.DeleteScene(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.scenes, id)
	r.mu.Unlock()

	r.logger.Info("scene deleted", "scene_id", id)
	return nil
}

// checkNewSceneCycles validates a created or updated scene against the
// cached scene set with itself substituted in.
func (r *Registry) checkNewSceneCycles(scene *Scene) error {
	if scene.ID == "" {
		// Not yet persisted; it can only reference existing scenes.
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, a := range scene.Actions {
			if a.Kind != ActionScene {
				continue
			}
			if err := CheckSceneCycles(a.SceneID, r.lookupLocked); err != nil {
				return err
			}
		}
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	lookup := func(id string) (*Scene, bool) {
		if id == scene.ID {
			return scene, true
		}
		return r.lookupLocked(id)
	}
	return CheckSceneCycles(scene.ID, lookup)
}

// lookupLocked resolves a scene from the cache. Caller must hold mu.
func (r *Registry) lookupLocked(id string) (*Scene, bool) {
	s, ok := r.scenes[id]
	return s, ok
}

package automation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validation constants.
const (
	maxNameLength  = 100
	maxSlugLength  = 50
	maxConditions  = 20
	maxActions     = 50
	maxSceneDepth  = 8 // Max nesting of scene references during expansion
	timeWindowForm = "15:04"
)

var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// scheduleParser accepts standard 5-field cron expressions plus descriptors
// (@hourly, @every 5m, ...). Matches the dialect the scheduler runs.
var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a schedule-trigger expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %v", ErrValidation, expr, err)
	}
	return sched, nil
}

// ValidateRule performs configuration validation on a rule. A rule that
// fails validation is flagged invalid and never evaluated; it must not block
// other rules.
func ValidateRule(r *Rule) error {
	if r == nil {
		return fmt.Errorf("%w: rule is nil", ErrValidation)
	}
	if err := validateName(r.Name); err != nil {
		return err
	}
	if r.Slug != "" {
		if err := validateSlug(r.Slug); err != nil {
			return err
		}
	}
	if err := ValidateTrigger(&r.Trigger); err != nil {
		return err
	}
	if len(r.Conditions) > maxConditions {
		return fmt.Errorf("%w: too many conditions (max %d)", ErrValidation, maxConditions)
	}
	for i := range r.Conditions {
		if err := ValidateCondition(&r.Conditions[i]); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", ErrValidation)
	}
	if len(r.Actions) > maxActions {
		return fmt.Errorf("%w: too many actions (max %d)", ErrValidation, maxActions)
	}
	for i := range r.Actions {
		if err := ValidateAction(&r.Actions[i]); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

// ValidateTrigger checks a trigger specification.
func ValidateTrigger(t *TriggerSpec) error {
	switch t.Kind {
	case TriggerState:
		if t.DeviceID == "" {
			return fmt.Errorf("%w: state trigger requires device_id", ErrValidation)
		}
		if t.Attribute == "" {
			return fmt.Errorf("%w: state trigger requires attribute", ErrValidation)
		}
		return validateCompareOp(t.Op, t.Value)
	case TriggerSchedule:
		if t.Schedule == "" {
			return fmt.Errorf("%w: schedule trigger requires schedule", ErrValidation)
		}
		_, err := ParseSchedule(t.Schedule)
		return err
	case TriggerManual:
		return fmt.Errorf("%w: manual is not a configurable trigger kind", ErrValidation)
	default:
		return fmt.Errorf("%w: unknown trigger kind %q", ErrValidation, t.Kind)
	}
}

// ValidateCondition checks a condition specification.
func ValidateCondition(c *ConditionSpec) error {
	switch c.Kind {
	case ConditionDeviceState:
		if c.DeviceID == "" {
			return fmt.Errorf("%w: device_state condition requires device_id", ErrValidation)
		}
		if c.Attribute == "" {
			return fmt.Errorf("%w: device_state condition requires attribute", ErrValidation)
		}
		if c.Op == OpChanged {
			return fmt.Errorf("%w: changed is not valid in conditions", ErrValidation)
		}
		return validateCompareOp(c.Op, c.Value)
	case ConditionTimeWindow:
		for _, v := range []string{c.After, c.Before} {
			if _, err := time.Parse(timeWindowForm, v); err != nil {
				return fmt.Errorf("%w: time window bound %q must be HH:MM", ErrValidation, v)
			}
		}
		return nil
	case ConditionNotFiredWithin:
		if c.Within <= 0 {
			return fmt.Errorf("%w: not_fired_within requires a positive duration", ErrValidation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown condition kind %q", ErrValidation, c.Kind)
	}
}

// ValidateAction checks an action specification.
func ValidateAction(a *ActionSpec) error {
	switch a.Kind {
	case ActionCommand:
		if a.DeviceID == "" {
			return fmt.Errorf("%w: command action requires device_id", ErrValidation)
		}
		if a.Command == "" {
			return fmt.Errorf("%w: command action requires command", ErrValidation)
		}
		return nil
	case ActionScene:
		if a.SceneID == "" {
			return fmt.Errorf("%w: scene action requires scene_id", ErrValidation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown action kind %q", ErrValidation, a.Kind)
	}
}

// ValidateScene checks a scene definition in isolation (no cycle check;
// see CheckSceneCycles, which needs the full scene set).
func ValidateScene(s *Scene) error {
	if s == nil {
		return fmt.Errorf("%w: scene is nil", ErrValidation)
	}
	if err := validateName(s.Name); err != nil {
		return err
	}
	if s.Slug != "" {
		if err := validateSlug(s.Slug); err != nil {
			return err
		}
	}
	if len(s.Actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", ErrValidation)
	}
	if len(s.Actions) > maxActions {
		return fmt.Errorf("%w: too many actions (max %d)", ErrValidation, maxActions)
	}
	for i := range s.Actions {
		if err := ValidateAction(&s.Actions[i]); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

// CheckSceneCycles walks scene references from the given scene and returns
// ErrSceneCycle if any path revisits a scene or exceeds the nesting limit.
// lookup resolves a scene by ID; unknown references are reported too.
func CheckSceneCycles(sceneID string, lookup func(id string) (*Scene, bool)) error {
	return walkSceneRefs(sceneID, lookup, map[string]bool{}, 0)
}

func walkSceneRefs(sceneID string, lookup func(id string) (*Scene, bool), onPath map[string]bool, depth int) error {
	if depth > maxSceneDepth {
		return fmt.Errorf("%w: nesting exceeds depth %d", ErrSceneCycle, maxSceneDepth)
	}
	if onPath[sceneID] {
		return fmt.Errorf("%w: %s references itself", ErrSceneCycle, sceneID)
	}
	scene, ok := lookup(sceneID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSceneNotFound, sceneID)
	}

	onPath[sceneID] = true
	defer delete(onPath, sceneID)

	for _, a := range scene.Actions {
		if a.Kind != ActionScene {
			continue
		}
		if err := walkSceneRefs(a.SceneID, lookup, onPath, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// validateCompareOp checks an operator and its operand.
func validateCompareOp(op CompareOp, value any) error {
	switch op {
	case OpChanged:
		return nil
	case OpEqual, OpNotEqual:
		if value == nil {
			return fmt.Errorf("%w: operator %s requires a value", ErrValidation, op)
		}
		return nil
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
		switch value.(type) {
		case float64, int, int64:
			return nil
		default:
			return fmt.Errorf("%w: operator %s requires a numeric value", ErrValidation, op)
		}
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrValidation, op)
	}
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrValidation)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrValidation, maxNameLength)
	}
	return nil
}

func validateSlug(slug string) error {
	if len(slug) > maxSlugLength {
		return fmt.Errorf("%w: slug exceeds %d characters", ErrValidation, maxSlugLength)
	}
	if !slugRegex.MatchString(slug) {
		return fmt.Errorf("%w: slug must be lowercase alphanumeric with hyphens", ErrValidation)
	}
	return nil
}

// GenerateSlug creates a URL-safe slug from a name.
func GenerateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, "_", "-")

	var b strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	slug = strings.Trim(b.String(), "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	return slug
}

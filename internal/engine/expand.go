package engine

import (
	"fmt"

	"github.com/hearthd/hearth-core/internal/automation"
)

// maxExpansionDepth bounds scene nesting during expansion. Registry
// validation enforces the same limit at save time; this guards the dispatch
// path against definitions edited since.
const maxExpansionDepth = 8

// SceneLookup resolves a scene by ID from a consistent snapshot.
type SceneLookup func(id string) (*automation.Scene, bool)

// ExpandActions flattens an action list into command actions, expanding
// scene references in place depth-first so the literal action order is
// preserved. Cyclic or dangling scene references abort the whole expansion:
// policy violations are rejected before any command is sent.
func ExpandActions(actions []automation.ActionSpec, lookup SceneLookup) ([]automation.ActionSpec, error) {
	return expand(actions, lookup, map[string]bool{}, 0)
}

func expand(actions []automation.ActionSpec, lookup SceneLookup, onPath map[string]bool, depth int) ([]automation.ActionSpec, error) {
	if depth > maxExpansionDepth {
		return nil, fmt.Errorf("%w: expansion exceeds depth %d", automation.ErrSceneCycle, maxExpansionDepth)
	}

	var out []automation.ActionSpec
	for _, a := range actions {
		switch a.Kind {
		case automation.ActionCommand:
			out = append(out, a)
		case automation.ActionScene:
			if onPath[a.SceneID] {
				return nil, fmt.Errorf("%w: %s", automation.ErrSceneCycle, a.SceneID)
			}
			scene, ok := lookup(a.SceneID)
			if !ok {
				return nil, fmt.Errorf("%w: %s", automation.ErrSceneNotFound, a.SceneID)
			}
			onPath[a.SceneID] = true
			nested, err := expand(scene.Actions, lookup, onPath, depth+1)
			delete(onPath, a.SceneID)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		default:
			return nil, fmt.Errorf("%w: unknown action kind %q", automation.ErrValidation, a.Kind)
		}
	}
	return out, nil
}

package automation

import "errors"

// Domain errors for the automation package.
var (
	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("automation: rule not found")

	// ErrSceneNotFound is returned when a scene ID does not exist.
	ErrSceneNotFound = errors.New("automation: scene not found")

	// ErrExecutionNotFound is returned when an execution ID does not exist.
	ErrExecutionNotFound = errors.New("automation: execution not found")

	// ErrCommandNotFound is returned when a command ID does not exist.
	ErrCommandNotFound = errors.New("automation: command not found")

	// ErrValidation is returned when a rule or scene fails validation.
	ErrValidation = errors.New("automation: validation failed")

	// ErrSceneCycle is returned when scene references form a cycle.
	ErrSceneCycle = errors.New("automation: cyclic scene reference")

	// ErrFinalized is returned on any attempt to mutate an execution record
	// after it has been finalized. Execution records are immutable once done.
	ErrFinalized = errors.New("automation: execution already finalized")

	// ErrCommandTerminal is returned on any attempt to move a device command
	// out of a terminal status (acknowledged or failed).
	ErrCommandTerminal = errors.New("automation: command already terminal")
)

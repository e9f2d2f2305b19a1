package engine

import "errors"

// Domain errors for the engine package.
var (
	// ErrNotRunning is returned when work is submitted to a stopped engine.
	ErrNotRunning = errors.New("engine: not running")

	// ErrStateUnavailable is returned when a condition read against the
	// state store fails. Evaluation fails closed: the rule is skipped.
	ErrStateUnavailable = errors.New("engine: state store unavailable")
)

// Abort reasons recorded on aborted executions.
const (
	AbortCoalesced        = "coalesced: previous execution still in flight"
	AbortConditionsFailed = "conditions not met"
	AbortRuleDisabled     = "rule disabled mid-flight"
)

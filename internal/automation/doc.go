// Package automation defines the configuration model of the rule engine:
// rules, scenes, execution records and device commands.
//
// Rules, conditions and actions are tagged variants over enumerated kinds
// rather than executable expressions; there is no dynamic evaluation of
// user-supplied code. Validation runs eagerly at save and load time, and a
// rule that fails (malformed trigger, unknown kinds, dangling or cyclic
// scene references) is flagged invalid and excluded from evaluation without
// affecting other rules.
//
// Execution records are the engine's audit trail. A record is created in
// dispatching state when a rule fires, carries a frozen snapshot of the rule
// as of firing time, and is finalized exactly once with a terminal status.
// Any later mutation attempt is rejected with ErrFinalized.
package automation

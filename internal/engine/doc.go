// Package engine implements the automation rule engine for Hearth (Core).
//
// The engine consumes two input streams, device state changes and scheduler
// ticks, and turns them into device commands:
//
//	state change / tick
//	    -> trigger matching     (matcher.go: edge semantics over old/new pairs)
//	    -> overlap gate         (engine.go: coalesce when overlap disallowed)
//	    -> condition evaluation (conditions.go: short-circuit guards, audited)
//	    -> action expansion     (expand.go: scenes flattened, cycles rejected)
//	    -> dispatch             (dispatcher.go: per-device order, retries)
//	    -> execution record     (recorder.go: immutable audit trail)
//
// Each matched rule runs as an independent task. The only cross-task
// coordination is the dispatcher's per-device ordering locks and the
// per-rule overlap gates; there is no global lock. Gateway calls carry a
// mandatory finite timeout and a timed-out command counts as a transient
// failure subject to the retry policy.
package engine
